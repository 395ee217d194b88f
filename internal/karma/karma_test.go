package karma

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fixedRand always returns the same index, clamped to n.
type fixedRand struct{ v int }

func (f fixedRand) IntN(n int) int {
	if f.v >= n {
		return n - 1
	}
	return f.v
}

type mapLedger struct {
	mu     sync.Mutex
	scores map[string]int
	err    error
}

func newMapLedger(seed map[string]int) *mapLedger {
	l := &mapLedger{scores: map[string]int{}}
	for k, v := range seed {
		l.scores[k] = v
	}
	return l
}

func (l *mapLedger) Get(_ context.Context, entity string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	return l.scores[entity], nil
}

func (l *mapLedger) Update(_ context.Context, entity string, fn func(int) int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	l.scores[entity] = fn(l.scores[entity])
	return l.scores[entity], nil
}

func (l *mapLedger) Top(_ context.Context, n int) ([]Standing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Standing
	for k, v := range l.scores {
		out = append(out, Standing{Entity: k, Score: v})
	}
	// small inputs only
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j].Score > out[i].Score {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (l *mapLedger) score(entity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scores[entity]
}

type countingQuota struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
	calls  int
}

func newCountingQuota(limit int) *countingQuota {
	return &countingQuota{limit: limit, counts: map[string]int{}}
}

func (q *countingQuota) RecordAndCheck(_ context.Context, actor string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.counts[actor]++
	return q.counts[actor] <= q.limit, nil
}

type captureSender struct {
	mu      sync.Mutex
	replies []Reply
	err     error
}

func (c *captureSender) Send(_ context.Context, r Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.replies = append(c.replies, r)
	return nil
}

func (c *captureSender) all() []Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Reply(nil), c.replies...)
}

func defaultBindings() []Binding {
	return []Binding{
		{"helpall", ActionHelpAll},
		{"help", ActionHelp},
		{"thx", ActionThanks},
		{"thanks", ActionThanks},
		{"thankyou", ActionThanks},
		{"leaderboardall", ActionLeaderboardAll},
		{"leaderboard", ActionLeaderboard},
		{"++", ActionPlus},
		{"--", ActionMinus},
		{"==", ActionEqual},
	}
}

var testNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func newTestRouter(t *testing.T, ledger Ledger, quota QuotaStore, sender Sender) *Router {
	t.Helper()
	quack, err := NewCannedReply(`(?i)quack`, "")
	require.NoError(t, err)
	xy, err := NewCannedReply(`!xy\b`, "Solutions start with the problem.")
	require.NoError(t, err)
	return NewRouter(ledger, quota, sender, Options{
		BotRef:     "<@BOT>",
		Bindings:   defaultBindings(),
		Canned:     []CannedReply{quack, xy},
		RetryAfter: time.Hour,
		Random:     Range{Min: -5, Max: 5},
		Extreme:    Range{Min: -50, Max: 50},
		Rand:       fixedRand{v: 0},
		Now:        func() time.Time { return testNow },
	})
}

func msgEvent(actor, text string) Event {
	return Event{Transport: "test", Type: EventMessage, Text: text, ActorID: actor, ChannelID: "C1"}
}

func mentionEvent(actor, text string) Event {
	return Event{Transport: "test", Type: EventAppMention, Text: text, ActorID: actor, ChannelID: "C1"}
}

func TestExtractPlusMinus(t *testing.T) {
	tests := []struct {
		text   string
		target string
		op     Op
		ok     bool
	}{
		{"<@U123>++", "<@U123>", OpPlus, true},
		{"<@!U123>--", "<@U123>", OpMinus, true},
		{"hey <@U123> ++ nice work", "<@U123>", OpPlus, true},
		{"Coffee==", "coffee", OpEqual, true},
		{"!coffee++", "coffee", OpPlus, true},
		{"@Alice##", "@alice", OpRandom, true},
		{"mondays!!", "mondays", OpExtreme, true},
		{"well done (bob++)", "bob", OpPlus, true},
		{"a-b--", "a-b", OpMinus, true},
		{"foo---", "foo", OpMinus, true},
		{"<@U123>++!", "<@U123>", OpPlus, true},
		{"thanks <@U123>++!!!", "<@U123>", OpPlus, true},
		{"nice,bob++", "bob", OpPlus, true},
		{"bob++?", "bob", OpPlus, true},
		{"<@U1>++, thanks", "<@U1>", OpPlus, true},
		{"tea--. meh", "tea", OpMinus, true},
		{"bob!!!", "bob", OpExtreme, true},
		{"x++!y", "", 0, false},
		{"just chatting", "", 0, false},
		{"++", "", 0, false},
		{"x+++y", "", 0, false},
		{"", "", 0, false},
	}
	for _, tt := range tests {
		cmd, ok := ExtractPlusMinus(tt.text)
		require.Equal(t, tt.ok, ok, "text %q", tt.text)
		if !tt.ok {
			continue
		}
		require.Equal(t, tt.target, cmd.Target, "text %q", tt.text)
		require.Equal(t, tt.op, cmd.Op, "text %q", tt.text)
	}
}

func TestExtractCommand(t *testing.T) {
	valid := []string{"helpall", "help", "thx", "thanks", "++", "--"}

	require.Equal(t, "help", ExtractCommand("help", valid))
	require.Equal(t, "helpall", ExtractCommand("helpall please", valid))
	require.Equal(t, "thanks", ExtractCommand("thanks!", valid))
	require.Equal(t, "++", ExtractCommand("<@U1>++", valid))
	require.Equal(t, "", ExtractCommand("HELP", valid), "matching is case-sensitive")
	require.Equal(t, "", ExtractCommand("helpful", valid), "word keywords need a whole token")
	require.Equal(t, "", ExtractCommand("what", valid))
	// first in whitelist order wins
	require.Equal(t, "help", ExtractCommand("thanks for the help", valid))
}

func TestCanonicalTargetAndSelf(t *testing.T) {
	require.Equal(t, "<@U1>", CanonicalTarget("<@!U1>"))
	require.Equal(t, "@bob", CanonicalTarget("@Bob"))
	require.Equal(t, "tea", CanonicalTarget("!Tea"))
	require.Equal(t, "", CanonicalTarget("@"))

	require.True(t, IsSelfTarget("U1", "", "<@U1>"))
	require.True(t, IsSelfTarget("U1", "", "<@!U1>"))
	require.True(t, IsSelfTarget("42", "bob", "@bob"))
	require.False(t, IsSelfTarget("U1", "", "<@U2>"))
	require.False(t, IsSelfTarget("U1", "", ""))

	require.True(t, SelfBlocked(OpPlus))
	require.True(t, SelfBlocked(OpRandom))
	require.False(t, SelfBlocked(OpMinus))
	require.False(t, SelfBlocked(OpEqual))
}

func TestResolver(t *testing.T) {
	r := NewResolver(fixedRand{v: 0}, Range{Min: -5, Max: 5}, Range{Min: -50, Max: 50})

	plus, err := r.Resolve(OpPlus)
	require.NoError(t, err)
	minus, err := r.Resolve(OpMinus)
	require.NoError(t, err)
	require.Equal(t, NameIncrement, plus.Name)
	require.Equal(t, NameDecrement, minus.Name)
	require.Equal(t, 6, plus.Apply("E", 5))
	require.Equal(t, 5, minus.Apply("E", 6))

	eq, err := r.Resolve(OpEqual)
	require.NoError(t, err)
	require.False(t, eq.Mutating())
	require.Equal(t, 7, eq.Apply("E", 7))

	random, err := r.Resolve(OpRandom)
	require.NoError(t, err)
	require.Equal(t, NameRandom, random.Name)
	require.Equal(t, 5, random.Apply("E", 10), "lowest draw is min")

	extreme, err := NewResolver(fixedRand{v: 1000}, Range{-5, 5}, Range{-50, 50}).Resolve(OpExtreme)
	require.NoError(t, err)
	require.Equal(t, NameExtremeRandom, extreme.Name)
	require.Equal(t, 60, extreme.Apply("E", 10), "highest draw is max")

	_, err = r.Resolve(Op('?'))
	require.ErrorIs(t, err, ErrUnknownOperation)
}

func TestRandomDeltaStaysInRange(t *testing.T) {
	r := NewResolver(NewSeededRand(1, 2), Range{Min: -3, Max: 3}, Range{Min: -50, Max: 50})
	op, err := r.Resolve(OpRandom)
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		delta := op.Apply("E", 0)
		require.GreaterOrEqual(t, delta, -3)
		require.LessOrEqual(t, delta, 3)
	}
}

func TestComposer(t *testing.T) {
	c := NewComposer(fixedRand{v: 1})

	msg := c.Compose(KindScoreChanged, ReplyContext{Target: "<@U1>", Operation: NameIncrement, Score: 4})
	require.Contains(t, msg, "<@U1>")
	require.Contains(t, msg, "increment")
	require.Contains(t, msg, "4 ducks")

	require.Equal(t, "<@U1> You're welcome.", c.Compose(KindThanks, ReplyContext{Actor: "<@U1>"}))
	require.Equal(t, "Nice try <@U1>. Ducks are earned, not self-served.",
		c.Compose(KindSelfBlocked, ReplyContext{Actor: "<@U1>"}))
	require.Contains(t, c.Compose(KindQuotaBlocked, ReplyContext{Actor: "<@U1>", RetryAfter: time.Hour}), "1 hour")
	require.Equal(t, "Quack, Quack!", c.Compose(KindQuack, ReplyContext{}))
	require.Equal(t, "Nobody has any ducks yet.", c.Compose(KindLeaderboard, ReplyContext{}))
	require.Equal(t, "Leaderboard:\n1. tea: 3 ducks\n2. <@U2>: 1 duck", c.Compose(KindLeaderboard, ReplyContext{
		Standings: []Standing{{"tea", 3}, {"<@U2>", 1}},
	}))

	help := c.Compose(KindHelp, ReplyContext{BotRef: "<@BOT>", Secret: "abc"})
	helpAll := c.Compose(KindHelpAll, ReplyContext{BotRef: "<@BOT>"})
	require.Contains(t, help, "`abc`")
	require.NotContains(t, helpAll, "abc")
	for _, grammar := range []string{"++", "--", "==", "leaderboard", "helpall"} {
		require.Contains(t, help, grammar)
		require.Contains(t, helpAll, grammar)
	}
}

func TestHumanDuration(t *testing.T) {
	require.Equal(t, "1 hour", humanDuration(time.Hour))
	require.Equal(t, "2 hours", humanDuration(2*time.Hour))
	require.Equal(t, "90 minutes", humanDuration(90*time.Minute))
	require.Equal(t, "2 seconds", humanDuration(1500*time.Millisecond))
	require.Equal(t, "a moment", humanDuration(0))
}

func TestLeaderboardSecret(t *testing.T) {
	secret := LeaderboardSecret("U1", testNow)
	require.Len(t, secret, 40)
	// sha1("U1" + "15" + "9" + "2026" + "2" + "14"), March being month 2
	require.Equal(t, "4090a9de91242cf99948721fcd8004172a3a86d5", secret)
	require.True(t, ValidLeaderboardSecret("U1", secret, testNow))
	require.True(t, ValidLeaderboardSecret("U1", secret, testNow.Add(time.Minute)))
	require.False(t, ValidLeaderboardSecret("U1", secret, testNow.Add(2*time.Minute)))
	require.False(t, ValidLeaderboardSecret("U2", secret, testNow))
	require.False(t, ValidLeaderboardSecret("U1", "", testNow))
}

func TestCamelKey(t *testing.T) {
	require.Equal(t, "message", camelKey("message"))
	require.Equal(t, "appMention", camelKey("app_mention"))
	require.Equal(t, "appMention", camelKey("APP_MENTION"))
	require.Equal(t, "appMention", camelKey("app-mention"))
}
