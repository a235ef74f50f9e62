package capture

import "strings"

// MatchMode selects how a rule word is compared against an event body.
type MatchMode string

const (
	ModeContains      MatchMode = "contains"
	ModeContainsNot   MatchMode = "containsNot"
	ModeEquals        MatchMode = "equals"
	ModeEqualsNot     MatchMode = "equalsNot"
	ModeStartsWith    MatchMode = "startsWith"
	ModeStartsWithNot MatchMode = "startsWithNot"
	ModeEndsWith      MatchMode = "endsWith"
	ModeEndsWithNot   MatchMode = "endsWithNot"
)

// RuleDisabled is the literal configuration value that drops every event
// on a stream.
const RuleDisabled = "~DISABLED~"

// Rule is a single keep/drop predicate over an event body.
//
// The zero Rule accepts everything. Comparison is case-insensitive.
type Rule struct {
	Word string
	Mode MatchMode

	// Disabled drops every event regardless of Word/Mode.
	Disabled bool
}

// ParseRule parses a "word~mode" configuration string.
//
// Mode defaults to "contains" when omitted. Malformed input (unknown mode,
// empty word with a mode suffix) fails open: the returned rule accepts
// everything. The literal "~DISABLED~" yields a rule that drops everything.
// ParseRule never returns an error; filtering is configuration, not a
// failure path.
func ParseRule(raw string) Rule {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Rule{}
	}
	if s == RuleDisabled {
		return Rule{Disabled: true}
	}

	word, mode := s, ModeContains
	if i := strings.IndexByte(s, '~'); i >= 0 {
		word = strings.TrimSpace(s[:i])
		m := strings.TrimSpace(s[i+1:])
		switch MatchMode(m) {
		case ModeContains, ModeContainsNot, ModeEquals, ModeEqualsNot,
			ModeStartsWith, ModeStartsWithNot, ModeEndsWith, ModeEndsWithNot:
			mode = MatchMode(m)
		default:
			// fail open
			return Rule{}
		}
	}
	if word == "" {
		return Rule{}
	}
	return Rule{Word: word, Mode: mode}
}

// Matches reports whether body passes the rule.
func (r Rule) Matches(body string) bool {
	if r.Disabled {
		return false
	}
	if r.Word == "" {
		return true
	}

	b := strings.ToLower(body)
	w := strings.ToLower(r.Word)

	switch r.Mode {
	case ModeContains, "":
		return strings.Contains(b, w)
	case ModeContainsNot:
		return !strings.Contains(b, w)
	case ModeEquals:
		return b == w
	case ModeEqualsNot:
		return b != w
	case ModeStartsWith:
		return strings.HasPrefix(b, w)
	case ModeStartsWithNot:
		return !strings.HasPrefix(b, w)
	case ModeEndsWith:
		return strings.HasSuffix(b, w)
	case ModeEndsWithNot:
		return !strings.HasSuffix(b, w)
	default:
		// Unknown mode accepts everything (fail open).
		return true
	}
}
