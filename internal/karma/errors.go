package karma

import "errors"

var (
	ErrMalformedEvent       = errors.New("malformed event")
	ErrUnsupportedEventType = errors.New("unsupported event type")
	ErrUnsupportedSubtype   = errors.New("unsupported event subtype")
	ErrLedgerUnavailable    = errors.New("score ledger unavailable")
	ErrQuotaUnavailable     = errors.New("quota store unavailable")
	ErrUnknownOperation     = errors.New("unknown operation")
)

// IsRejection reports whether err is a dropped event rather than a failure.
// Rejected events are logged by the router and never answered.
func IsRejection(err error) bool {
	return errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, ErrUnsupportedEventType) ||
		errors.Is(err, ErrUnsupportedSubtype)
}
