package karma

import (
	"context"
	"fmt"
	"strings"
)

// Guard applies the anti-abuse policy: self-scoring and per-actor quota.
type Guard struct {
	quota QuotaStore
}

// NewGuard returns a guard backed by quota. A nil quota store never limits.
func NewGuard(quota QuotaStore) *Guard {
	return &Guard{quota: quota}
}

// CanAct records one mutating attempt for actorID and reports whether it
// is within quota.
func (g *Guard) CanAct(ctx context.Context, actorID string) (bool, error) {
	if g == nil || g.quota == nil {
		return true, nil
	}
	ok, err := g.quota.RecordAndCheck(ctx, actorID)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrQuotaUnavailable, err)
	}
	return ok, nil
}

// IsSelfTarget reports whether target names the actor, by id or handle.
// Both sides are reduced to a bare identifier before comparing.
func IsSelfTarget(actorID, actorName, target string) bool {
	t := bareID(target)
	if t == "" {
		return false
	}
	if id := bareID(actorID); id != "" && strings.EqualFold(id, t) {
		return true
	}
	if name := bareID(actorName); name != "" && strings.EqualFold(name, t) {
		return true
	}
	return false
}

// SelfBlocked reports whether op may never be applied to oneself.
func SelfBlocked(op Op) bool {
	return op == OpPlus || op == OpRandom
}
