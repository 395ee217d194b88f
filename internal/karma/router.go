package karma

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Action identifies a mention-triggered bot command.
type Action string

const (
	ActionHelp           Action = "help"
	ActionHelpAll        Action = "helpall"
	ActionThanks         Action = "thanks"
	ActionPlus           Action = "plus"
	ActionMinus          Action = "minus"
	ActionEqual          Action = "equal"
	ActionLeaderboard    Action = "leaderboard"
	ActionLeaderboardAll Action = "leaderboardall"
)

// Binding maps a mention keyword to an action.
type Binding struct {
	Keyword string
	Action  Action
}

// CannedReply answers any message matching Pattern. An empty Reply uses the quack reply.
type CannedReply struct {
	Pattern *regexp.Regexp
	Reply   string
}

// NewCannedReply compiles pattern.
func NewCannedReply(pattern, reply string) (CannedReply, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return CannedReply{}, fmt.Errorf("compile canned pattern %q: %w", pattern, err)
	}
	return CannedReply{Pattern: re, Reply: reply}, nil
}

// Options configures a Router.
type Options struct {
	// BotRef is used when an event does not carry its own bot mention token.
	BotRef          string
	Bindings        []Binding
	Canned          []CannedReply
	RetryAfter      time.Duration
	LeaderboardSize int
	Random          Range
	Extreme         Range
	Rand            Rand
	Now             func() time.Time
	Observer        Observer
}

type eventHandler func(ctx context.Context, ev Event) error

type appHandler func(ctx context.Context, ev Event, text, keyword string) error

// Router validates inbound events and dispatches them to their handler.
type Router struct {
	ledger   Ledger
	guard    *Guard
	resolver *Resolver
	composer *Composer
	sender   Sender
	opts     Options
	now      func() time.Time
	observer Observer

	keywords    []string
	bindings    map[string]Action
	handlers    map[string]eventHandler
	appHandlers map[Action]appHandler
}

// NewRouter wires the scoring pipeline. quota may be nil to disable limits.
func NewRouter(ledger Ledger, quota QuotaStore, sender Sender, opts Options) *Router {
	rng := opts.Rand
	if rng == nil {
		rng = NewRand()
	}
	r := &Router{
		ledger:   ledger,
		guard:    NewGuard(quota),
		resolver: NewResolver(rng, opts.Random, opts.Extreme),
		composer: NewComposer(rng),
		sender:   sender,
		opts:     opts,
		now:      opts.Now,
		observer: opts.Observer,
		bindings: make(map[string]Action, len(opts.Bindings)),
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	if r.opts.LeaderboardSize <= 0 {
		r.opts.LeaderboardSize = 10
	}
	for _, b := range opts.Bindings {
		if _, dup := r.bindings[b.Keyword]; dup {
			continue
		}
		r.bindings[b.Keyword] = b.Action
		r.keywords = append(r.keywords, b.Keyword)
	}

	r.handlers = map[string]eventHandler{
		"message":    r.handleMessage,
		"appMention": r.handleAppMention,
	}
	r.appHandlers = map[Action]appHandler{
		ActionHelp:           r.sendHelp,
		ActionHelpAll:        r.sendHelpAll,
		ActionThanks:         r.sayThanks,
		ActionPlus:           r.mentionScore(OpPlus),
		ActionMinus:          r.mentionScore(OpMinus),
		ActionEqual:          r.mentionScore(OpEqual),
		ActionLeaderboard:    r.sendLeaderboard,
		ActionLeaderboardAll: r.sendLeaderboardAll,
	}
	return r
}

// Handle processes one event to completion. Rejected events return an
// error satisfying IsRejection and produce no reply.
func (r *Router) Handle(ctx context.Context, ev Event) error {
	if strings.TrimSpace(ev.Type) == "" {
		log.Printf("[router] event data missing")
		r.observer.EventHandled("", "malformed")
		return fmt.Errorf("%w: missing event data", ErrMalformedEvent)
	}

	if ev.Subtype != "" {
		log.Printf("[router] unsupported event subtype: %s", ev.Subtype)
		r.observer.EventHandled(ev.Type, "unsupported_subtype")
		return fmt.Errorf("%w: %s", ErrUnsupportedSubtype, ev.Subtype)
	}

	if strings.TrimSpace(ev.Text) == "" {
		log.Printf("[router] event text missing")
		r.observer.EventHandled(ev.Type, "malformed")
		return fmt.Errorf("%w: missing text", ErrMalformedEvent)
	}

	handler, ok := r.handlers[camelKey(ev.Type)]
	if !ok {
		log.Printf("[router] invalid event received: %s", ev.Type)
		r.observer.EventHandled(ev.Type, "unsupported_type")
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, ev.Type)
	}
	return handler(ctx, ev)
}

// camelKey normalises an event type such as "app_mention" to "appMention".
func camelKey(eventType string) string {
	words := strings.FieldsFunc(eventType, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var sb strings.Builder
	for i, w := range words {
		w = strings.ToLower(w)
		if i > 0 {
			w = cases.Title(language.Und).String(w)
		}
		sb.WriteString(w)
	}
	return sb.String()
}

func (r *Router) handleMessage(ctx context.Context, ev Event) error {
	if ev.FromBot {
		log.Printf("[router] own message, ignoring")
		r.observer.EventHandled(ev.Type, "ignored")
		return nil
	}

	cmd, found := ExtractPlusMinus(ev.Text)

	var errs []error
	for _, canned := range r.opts.Canned {
		if canned.Pattern == nil || !canned.Pattern.MatchString(ev.Text) {
			continue
		}
		text := canned.Reply
		if text == "" {
			text = r.composer.Compose(KindQuack, ReplyContext{})
		}
		if err := r.reply(ctx, ev, text); err != nil {
			errs = append(errs, err)
		}
	}

	if !found {
		r.observer.EventHandled(ev.Type, "no_command")
		return errors.Join(errs...)
	}
	if err := r.applyCommand(ctx, ev, cmd); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Router) applyCommand(ctx context.Context, ev Event, cmd Command) error {
	log.Printf("[router] %s triggered %s on %s", ev.ActorID, cmd.Op, cmd.Target)

	if SelfBlocked(cmd.Op) && IsSelfTarget(ev.ActorID, ev.ActorName, cmd.Target) {
		log.Printf("[router] %s tried to alter their own score", ev.ActorID)
		r.observer.EventHandled(ev.Type, "self_blocked")
		return r.reply(ctx, ev, r.composer.Compose(KindSelfBlocked, ReplyContext{Actor: ev.Mention()}))
	}

	op, err := r.resolver.Resolve(cmd.Op)
	if err != nil {
		return err
	}

	var score int
	if op.Mutating() {
		ok, err := r.guard.CanAct(ctx, ev.ActorID)
		if err != nil {
			r.observer.EventHandled(ev.Type, "quota_error")
			return err
		}
		if !ok {
			log.Printf("[router] %s cannot update %s: quota exceeded", ev.ActorID, cmd.Target)
			r.observer.EventHandled(ev.Type, "quota_blocked")
			return r.reply(ctx, ev, r.composer.Compose(KindQuotaBlocked, ReplyContext{
				Actor:      ev.Mention(),
				RetryAfter: r.opts.RetryAfter,
			}))
		}
		score, err = r.ledger.Update(ctx, cmd.Target, func(current int) int {
			return op.Apply(cmd.Target, current)
		})
		if err != nil {
			r.observer.EventHandled(ev.Type, "ledger_error")
			return fmt.Errorf("%w: update %s: %w", ErrLedgerUnavailable, cmd.Target, err)
		}
		r.observer.ScoreChanged(op.Name)
		r.observer.EventHandled(ev.Type, "scored")
	} else {
		score, err = r.ledger.Get(ctx, cmd.Target)
		if err != nil {
			r.observer.EventHandled(ev.Type, "ledger_error")
			return fmt.Errorf("%w: get %s: %w", ErrLedgerUnavailable, cmd.Target, err)
		}
		r.observer.EventHandled(ev.Type, "queried")
	}

	return r.reply(ctx, ev, r.composer.Compose(KindScoreChanged, ReplyContext{
		Target:    cmd.Target,
		Operation: op.Name,
		Score:     score,
	}))
}

func (r *Router) handleAppMention(ctx context.Context, ev Event) error {
	if ev.FromBot {
		r.observer.EventHandled(ev.Type, "ignored")
		return nil
	}

	text := stripMention(ev.Text, r.botRef(ev))
	keyword := ExtractCommand(text, r.keywords)
	if keyword == "" {
		r.observer.EventHandled(ev.Type, "unrecognized")
		return r.reply(ctx, ev, r.composer.Compose(KindDefaultUnrecognized, ReplyContext{}))
	}

	handler, ok := r.appHandlers[r.bindings[keyword]]
	if !ok {
		log.Printf("[router] keyword %q bound to unknown action %q", keyword, r.bindings[keyword])
		r.observer.EventHandled(ev.Type, "unrecognized")
		return r.reply(ctx, ev, r.composer.Compose(KindDefaultUnrecognized, ReplyContext{}))
	}
	return handler(ctx, ev, text, keyword)
}

func (r *Router) botRef(ev Event) string {
	if ev.BotRef != "" {
		return ev.BotRef
	}
	return r.opts.BotRef
}

func (r *Router) sendHelp(ctx context.Context, ev Event, _, _ string) error {
	r.observer.EventHandled(ev.Type, "command")
	return r.replyDirect(ctx, ev, r.composer.Compose(KindHelp, ReplyContext{
		BotRef: r.botRef(ev),
		Secret: LeaderboardSecret(ev.ActorID, r.now()),
	}))
}

func (r *Router) sendHelpAll(ctx context.Context, ev Event, _, _ string) error {
	r.observer.EventHandled(ev.Type, "command")
	return r.reply(ctx, ev, r.composer.Compose(KindHelpAll, ReplyContext{BotRef: r.botRef(ev)}))
}

func (r *Router) sayThanks(ctx context.Context, ev Event, _, _ string) error {
	r.observer.EventHandled(ev.Type, "command")
	return r.reply(ctx, ev, r.composer.Compose(KindThanks, ReplyContext{Actor: ev.Mention()}))
}

// mentionScore handles "@bot <target>++". Without a target the bot itself is scored.
func (r *Router) mentionScore(op Op) appHandler {
	return func(ctx context.Context, ev Event, text, _ string) error {
		cmd, found := ExtractPlusMinus(text)
		if !found {
			target := CanonicalTarget(r.botRef(ev))
			if target == "" {
				r.observer.EventHandled(ev.Type, "no_command")
				return nil
			}
			cmd = Command{Target: target, Op: op}
		}
		return r.applyCommand(ctx, ev, cmd)
	}
}

func (r *Router) standings(ctx context.Context) ([]Standing, error) {
	board, ok := r.ledger.(Leaderboard)
	if !ok {
		return nil, fmt.Errorf("%w: ledger cannot rank entries", ErrLedgerUnavailable)
	}
	standings, err := board.Top(ctx, r.opts.LeaderboardSize)
	if err != nil {
		return nil, fmt.Errorf("%w: leaderboard: %w", ErrLedgerUnavailable, err)
	}
	return standings, nil
}

func (r *Router) sendLeaderboard(ctx context.Context, ev Event, _, _ string) error {
	standings, err := r.standings(ctx)
	if err != nil {
		r.observer.EventHandled(ev.Type, "ledger_error")
		return err
	}
	r.observer.EventHandled(ev.Type, "command")
	return r.replyDirect(ctx, ev, r.composer.Compose(KindLeaderboard, ReplyContext{Standings: standings}))
}

func (r *Router) sendLeaderboardAll(ctx context.Context, ev Event, text, keyword string) error {
	secret := argumentAfter(text, keyword)
	if !ValidLeaderboardSecret(ev.ActorID, secret, r.now()) {
		log.Printf("[router] %s sent an invalid leaderboard secret", ev.ActorID)
		r.observer.EventHandled(ev.Type, "invalid_secret")
		return r.replyDirect(ctx, ev, r.composer.Compose(KindInvalidSecret, ReplyContext{}))
	}
	standings, err := r.standings(ctx)
	if err != nil {
		r.observer.EventHandled(ev.Type, "ledger_error")
		return err
	}
	r.observer.EventHandled(ev.Type, "command")
	return r.reply(ctx, ev, r.composer.Compose(KindLeaderboard, ReplyContext{Standings: standings}))
}

// Leaderboard renders the current standings, for scheduled posts.
func (r *Router) Leaderboard(ctx context.Context) (string, error) {
	standings, err := r.standings(ctx)
	if err != nil {
		return "", err
	}
	return r.composer.Compose(KindLeaderboard, ReplyContext{Standings: standings}), nil
}

func (r *Router) reply(ctx context.Context, ev Event, text string) error {
	return r.send(ctx, Reply{Text: text, Transport: ev.Transport, ChannelID: ev.ChannelID})
}

func (r *Router) replyDirect(ctx context.Context, ev Event, text string) error {
	return r.send(ctx, Reply{
		Text:      text,
		Transport: ev.Transport,
		ChannelID: ev.ChannelID,
		UserID:    ev.ActorID,
		Direct:    true,
	})
}

func (r *Router) send(ctx context.Context, rep Reply) error {
	if r.sender == nil {
		return nil
	}
	if err := r.sender.Send(ctx, rep); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}
