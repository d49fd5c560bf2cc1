package channel

import (
	"errors"
	"strings"
	"unicode"
)

var (
	// ErrEmptyGroup is returned when a group expression contains no channels.
	ErrEmptyGroup = errors.New("channel group is empty")
	// ErrEmptyToken is returned for expressions such as "1001,,1002".
	ErrEmptyToken = errors.New("channel group contains an empty channel")
	// ErrDuplicateChannel is returned for a range expression that repeats a
	// channel, such as "1001:1004,1001". Its address cannot be rewritten
	// without the duplicate, and the response would not zip against IDs.
	ErrDuplicateChannel = errors.New("channel group repeats a channel")
)

// Group is a parsed channel-group expression.
type Group struct {
	// Expr is the expression with whitespace removed. A range expression
	// such as "1001:1004" is addressed verbatim; a plain list is addressed
	// by its IDs so repeated channels are sent once.
	Expr string
	// IDs are the channel tokens in left-to-right order. Responses to a
	// group query are zipped positionally against this slice.
	IDs []string
}

// Parse splits a channel-group expression such as "1001,1002" or "1:4" into
// channel identifiers. Whitespace is ignored, both ',' and ':' delimit
// tokens and repeated tokens keep their first position.
// An empty expression yields nil.
func Parse(expr string) []string {
	compact := stripSpace(expr)
	if compact == "" {
		return nil
	}

	// Empty tokens are kept so NewGroup can reject "1,,2".
	tokens := split(compact)
	seen := make(map[string]bool, len(tokens))
	ids := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		ids = append(ids, tok)
	}
	return ids
}

// NewGroup parses expr and rejects empty groups and empty tokens.
func NewGroup(expr string) (Group, error) {
	ids := Parse(expr)
	if len(ids) == 0 {
		return Group{}, ErrEmptyGroup
	}
	for _, id := range ids {
		if id == "" {
			return Group{}, ErrEmptyToken
		}
	}
	compact := stripSpace(expr)
	if strings.Contains(compact, ":") && len(split(compact)) != len(ids) {
		return Group{}, ErrDuplicateChannel
	}
	return Group{Expr: compact, IDs: ids}, nil
}

// Len returns the number of channels in the group.
func (g Group) Len() int { return len(g.IDs) }

// Address renders the SCPI channel list, e.g. "(@1001,1002)".
func (g Group) Address() string {
	if strings.Contains(g.Expr, ":") {
		return "(@" + g.Expr + ")"
	}
	return "(@" + strings.Join(g.IDs, ",") + ")"
}

func (g Group) String() string {
	return strings.Join(g.IDs, ",")
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func isDelimiter(r rune) bool {
	return r == ',' || r == ':'
}

func split(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if isDelimiter(r) {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}
