package karma

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects the reply family.
type Kind int

const (
	KindScoreChanged Kind = iota
	KindSelfBlocked
	KindQuotaBlocked
	KindHelp
	KindHelpAll
	KindThanks
	KindQuack
	KindDefaultUnrecognized
	KindLeaderboard
	KindInvalidSecret
)

// ReplyContext carries the values a reply may interpolate.
type ReplyContext struct {
	Target     string
	Actor      string
	Operation  string
	Score      int
	RetryAfter time.Duration
	BotRef     string
	Secret     string
	Standings  []Standing
}

var scoreChangedMessages = map[string][]string{
	NameIncrement: {
		"Quack! %[1]s got an %[2]s and now has %[3]s.",
		"%[1]s is on the rise: %[2]s applied, now at %[3]s.",
		"Congrats %[1]s! That %[2]s brings you to %[3]s.",
	},
	NameDecrement: {
		"Ouch, %[1]s took a %[2]s and drops to %[3]s.",
		"%[1]s loses a duck (%[2]s). Now at %[3]s.",
	},
	NameQuery: {
		"%[1]s has %[3]s.",
	},
	NameRandom: {
		"The duck pond rolled a %[2]s for %[1]s. Now at %[3]s.",
	},
	NameExtremeRandom: {
		"Chaos reigns! An %[2]s leaves %[1]s at %[3]s.",
	},
}

var selfBlockedMessages = []string{
	"Hey %s, you can't score yourself!",
	"Nice try %s. Ducks are earned, not self-served.",
	"%s, you tried to score yourself. That doesn't count.",
	"Hold your ducks %s, no self-scoring allowed.",
}

var thanksMessages = []string{
	"Don't mention it!",
	"You're welcome.",
	"Pleasure!",
	"No thank YOU!",
	"++ for taking the time to say thanks!\n...just kidding, I can't `++` you. But it's the thought that counts, right??",
}

const (
	quackMessage   = "Quack, Quack!"
	defaultMessage = "Sorry, I'm not quite sure what you're asking me. I'm not very smart - there's only a " +
		"few things I've been trained to do. Send me `help` for more details."
	invalidSecretMessage = "That secret key doesn't look right. Ask me for `help` to get a fresh one."
	emptyBoardMessage    = "Nobody has any ducks yet."
)

// Composer turns outcomes into user-facing text.
type Composer struct {
	rng Rand
}

func NewComposer(rng Rand) *Composer {
	if rng == nil {
		rng = NewRand()
	}
	return &Composer{rng: rng}
}

func (c *Composer) pick(options []string) string {
	if len(options) == 1 {
		return options[0]
	}
	return options[c.rng.IntN(len(options))]
}

// Compose renders the reply for kind.
func (c *Composer) Compose(kind Kind, rc ReplyContext) string {
	switch kind {
	case KindScoreChanged:
		options, ok := scoreChangedMessages[rc.Operation]
		if !ok {
			options = scoreChangedMessages[NameQuery]
		}
		return fmt.Sprintf(c.pick(options), rc.Target, rc.Operation, ducks(rc.Score))
	case KindSelfBlocked:
		return fmt.Sprintf(c.pick(selfBlockedMessages), rc.Actor)
	case KindQuotaBlocked:
		return fmt.Sprintf("No soup for %s! Sorry, but you exceeded your duck limit, check back in %s.",
			rc.Actor, humanDuration(rc.RetryAfter))
	case KindHelp:
		return helpText(rc.BotRef, "`"+rc.Secret+"`")
	case KindHelpAll:
		return helpText(rc.BotRef, "{your secret key from help}")
	case KindThanks:
		return rc.Actor + " " + c.pick(thanksMessages)
	case KindQuack:
		return quackMessage
	case KindLeaderboard:
		return leaderboardText(rc.Standings)
	case KindInvalidSecret:
		return invalidSecretMessage
	}
	return defaultMessage
}

func helpText(botRef, secret string) string {
	var sb strings.Builder
	sb.WriteString("Sure, here's what I can do:\n\n")
	sb.WriteString("• `@Someone++`: Add points to a user or a thing\n")
	sb.WriteString("• `@Someone--`: Subtract points from a user or a thing\n")
	sb.WriteString("• `@Someone==`: Gets current points from a user or a thing\n")
	sb.WriteString("• `@Someone##`: Randomly adds or removes a few points from a user or a thing\n")
	sb.WriteString("• `@Someone!!`: Randomly adds or removes a lot of points from a user or a thing\n")
	fmt.Fprintf(&sb, "• %s leaderboard: Display the leaderboard for just you\n", botRef)
	fmt.Fprintf(&sb, "• %s leaderboardall %s: Display the leaderboard for everyone (you need your secret key)\n", botRef, secret)
	fmt.Fprintf(&sb, "• %s help: Display this message just for you\n", botRef)
	fmt.Fprintf(&sb, "• %s helpall: Display this message for everyone\n", botRef)
	return sb.String()
}

func leaderboardText(standings []Standing) string {
	if len(standings) == 0 {
		return emptyBoardMessage
	}
	var sb strings.Builder
	sb.WriteString("Leaderboard:\n")
	for i, s := range standings {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, s.Entity, ducks(s.Score))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func ducks(n int) string {
	if n == 1 || n == -1 {
		return fmt.Sprintf("%d duck", n)
	}
	return fmt.Sprintf("%d ducks", n)
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a moment"
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	}
	return plural(int((d+time.Second-1)/time.Second), "second")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
