package karma

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Op is a score operation symbol.
type Op byte

const (
	OpPlus    Op = '+'
	OpMinus   Op = '-'
	OpEqual   Op = '='
	OpRandom  Op = '#'
	OpExtreme Op = '!'
)

func (o Op) String() string { return string(rune(o)) }

// Mutating reports whether the operation changes a score.
func (o Op) Mutating() bool { return o != OpEqual }

// Command is a scoring command found in message text.
type Command struct {
	// Target is the canonical entity key: <@ID> for platform mentions,
	// @handle for handle mentions, a lowercase word otherwise.
	Target string
	Op     Op
}

// The target is a mention token or a word, optionally prefixed with "!",
// followed by a doubled operator. After the operator comes the end of the
// text, a non-operator character, or a run of closing punctuation ("++!!",
// "--?.") that is not glued to a word.
var plusMinusPattern = regexp.MustCompile(
	`(?:^|[^\p{L}\p{N}_@<])!?(<@!?[A-Za-z0-9_]+>|@?[\p{L}\p{N}_][\p{L}\p{N}_.\-]*?)\s?(\+\+|--|==|##|!!)` +
		`(?:$|[^\p{L}\p{N}+\-=#!]|[!?.,]+(?:$|[^\p{L}\p{N}_+\-=#!?.,]))`,
)

var mentionToken = regexp.MustCompile(`^<@!?([A-Za-z0-9_]+)>$`)

// ExtractPlusMinus returns the first scoring command in text.
func ExtractPlusMinus(text string) (Command, bool) {
	m := plusMinusPattern.FindStringSubmatch(text)
	if m == nil {
		return Command{}, false
	}
	target := CanonicalTarget(m[1])
	if target == "" {
		return Command{}, false
	}
	return Command{Target: target, Op: Op(m[2][0])}, true
}

// CanonicalTarget normalises a mention token or word to its entity key.
func CanonicalTarget(token string) string {
	token = strings.TrimSpace(token)
	token = strings.TrimLeft(token, "!")
	if m := mentionToken.FindStringSubmatch(token); m != nil {
		return "<@" + m[1] + ">"
	}
	token = strings.TrimRight(token, ".-")
	if token == "" || token == "@" {
		return ""
	}
	return strings.ToLower(token)
}

// bareID strips mention decoration from an entity key or actor id.
func bareID(s string) string {
	s = strings.TrimSpace(s)
	if m := mentionToken.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.TrimPrefix(strings.TrimLeft(s, "!"), "@")
}

// ExtractCommand returns the first keyword of valid, in order, that appears
// in text. Word keywords must appear as a whole token; symbolic keywords
// such as "++" match anywhere. Matching is case-sensitive.
func ExtractCommand(text string, valid []string) string {
	tokens := strings.Fields(text)
	for _, kw := range valid {
		if kw == "" {
			continue
		}
		if !isWordKeyword(kw) {
			if strings.Contains(text, kw) {
				return kw
			}
			continue
		}
		for _, tok := range tokens {
			if strings.TrimFunc(tok, unicode.IsPunct) == kw {
				return kw
			}
		}
	}
	return ""
}

func isWordKeyword(kw string) bool {
	r, _ := utf8.DecodeRuneInString(kw)
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// stripMention removes every occurrence of the bot mention from text.
func stripMention(text, botRef string) string {
	if botRef == "" {
		return strings.TrimSpace(text)
	}
	if id := bareID(botRef); strings.HasPrefix(botRef, "<@") && id != "" {
		text = strings.ReplaceAll(text, "<@!"+id+">", "")
	}
	return strings.TrimSpace(strings.ReplaceAll(text, botRef, ""))
}

// argumentAfter returns the whitespace-separated token following kw.
func argumentAfter(text, kw string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		if strings.TrimFunc(f, unicode.IsPunct) == kw && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}
