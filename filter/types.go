// Package filter compiles a FilterSpec — a dotted-path-to-criterion
// mapping — into a total Matcher predicate over decoded messages
// (spec.md §4.3).
package filter

import (
	"fmt"
	"regexp"
	"strings"

	kerrors "github.com/c360/kasocki/errors"
)

// Spec is a raw, JSON-decoded filter specification: dotted path -> criterion.
type Spec map[string]any

var regexLiteralPattern = regexp.MustCompile(`^/(.+)/([a-zA-Z]*)$`)

// leaf is one atomic comparison extracted from a criterion: either an
// equality test against a scalar, or a compiled regex test.
type leaf struct {
	isRegex bool
	scalar  any
	re      *regexp.Regexp
	// rendered is the value reported in the compiled filter view sent back
	// to the client: the scalar itself, or the "/pattern/flags" literal for
	// a regex leaf.
	rendered any
}

func (l leaf) matchScalar(value any) bool {
	if l.isRegex {
		return l.re.MatchString(toComparableString(value))
	}
	return scalarEqual(l.scalar, value)
}

// criterion is a compiled FilterSpec value: either a single leaf (scalar or
// regex) or a sequence of leaves.
type criterion struct {
	isSequence bool
	single     leaf
	sequence   []leaf
}

func toComparableString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func scalarEqual(a, b any) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}

// isRegexLiteral reports whether s has the /pattern/flags shape.
func isRegexLiteral(s string) bool {
	return regexLiteralPattern.MatchString(s)
}

// compileRegexLiteral parses and compiles a "/pattern/flags" string,
// translating supported flags into Go inline flag groups.
func compileRegexLiteral(literal string) (*regexp.Regexp, error) {
	match := regexLiteralPattern.FindStringSubmatch(literal)
	if match == nil {
		return nil, kerrors.New(kerrors.KindInvalidFilter, "malformed regex literal %q", literal)
	}
	body, flags := match[1], match[2]

	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i':
			inline.WriteByte('i')
		case 'm':
			inline.WriteByte('m')
		case 's':
			inline.WriteByte('s')
		default:
			return nil, kerrors.New(kerrors.KindInvalidFilter, "unsupported regex flag %q in %q", string(f), literal)
		}
	}

	pattern := body
	if inline.Len() > 0 {
		pattern = "(?" + inline.String() + ")" + body
	}

	return compileRegex(pattern)
}
