package filter

import (
	"sync"

	kerrors "github.com/c360/kasocki/errors"
)

// Matcher is a compiled, total predicate over decoded messages. It carries
// a back-reference to the FilterSpec it was compiled from and records
// non-fatal per-call errors in an internal buffer without ever panicking
// or returning an error from Match (spec.md §3, §4.3).
type Matcher struct {
	spec     Spec
	criteria map[string][]string // path -> segments
	compiled map[string]criterion

	mu   sync.Mutex
	errs []error
}

// Compile validates and compiles spec into a Matcher. A nil or empty spec
// is valid and compiles to nil: the session treats an absent matcher as
// match-all.
func Compile(spec Spec) (*Matcher, error) {
	if len(spec) == 0 {
		return nil, nil
	}

	m := &Matcher{
		spec:     spec,
		criteria: make(map[string][]string, len(spec)),
		compiled: make(map[string]criterion, len(spec)),
	}

	for path, rawCriterion := range spec {
		segments, ok := splitPath(path)
		if !ok {
			return nil, kerrors.New(kerrors.KindInvalidFilter, "filter path %q has an empty segment", path)
		}

		compiledCriterion, err := compileCriterion(rawCriterion)
		if err != nil {
			return nil, err
		}

		m.criteria[path] = segments
		m.compiled[path] = compiledCriterion
	}

	return m, nil
}

// compileCriterion compiles one FilterSpec value into a criterion,
// rejecting nested mappings and criteria whose sequence elements are
// themselves non-scalar.
func compileCriterion(value any) (criterion, error) {
	switch v := value.(type) {
	case map[string]any:
		return criterion{}, kerrors.New(kerrors.KindInvalidFilter, "nested mappings are not valid filter criteria")
	case []any:
		leaves := make([]leaf, len(v))
		for i, elem := range v {
			l, err := compileLeaf(elem)
			if err != nil {
				return criterion{}, err
			}
			leaves[i] = l
		}
		return criterion{isSequence: true, sequence: leaves}, nil
	default:
		l, err := compileLeaf(value)
		if err != nil {
			return criterion{}, err
		}
		return criterion{single: l}, nil
	}
}

func compileLeaf(value any) (leaf, error) {
	if s, ok := value.(string); ok && isRegexLiteral(s) {
		re, err := compileRegexLiteral(s)
		if err != nil {
			return leaf{}, err
		}
		return leaf{isRegex: true, re: re, rendered: s}, nil
	}

	switch value.(type) {
	case float64, string, bool, nil:
		return leaf{scalar: value, rendered: value}, nil
	default:
		return leaf{}, kerrors.New(kerrors.KindInvalidFilter,
			"filter criterion elements must be a scalar, a regex literal, or a sequence of those")
	}
}

// Match reports whether message satisfies every entry of the compiled
// spec. A nil Matcher (match-all) is handled by the caller; Match itself
// never panics and never returns an error — anomalies are recorded in the
// internal error buffer and the call is treated as non-matching.
func (m *Matcher) Match(message map[string]any) bool {
	defer func() {
		if r := recover(); r != nil {
			m.recordError(kerrors.New(kerrors.KindKasocki, "matcher recovered from panic: %v", r))
		}
	}()

	for path, segments := range m.criteria {
		value, found := resolvePath(message, segments)
		if !found {
			return false
		}
		if !m.satisfies(m.compiled[path], value) {
			return false
		}
	}
	return true
}

func (m *Matcher) satisfies(c criterion, value any) bool {
	sequenceValue, valueIsSequence := value.([]any)

	if !c.isSequence {
		if valueIsSequence {
			for _, elem := range sequenceValue {
				if c.single.matchScalar(elem) {
					return true
				}
			}
			return false
		}
		return c.single.matchScalar(value)
	}

	if !valueIsSequence {
		for _, l := range c.sequence {
			if l.matchScalar(value) {
				return true
			}
		}
		return false
	}

	for _, l := range c.sequence {
		matched := false
		for _, elem := range sequenceValue {
			if l.matchScalar(elem) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func (m *Matcher) recordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// Errors returns the non-fatal per-call anomalies recorded since
// compilation. The buffer is local to this Matcher and is discarded when a
// new filter replaces it.
func (m *Matcher) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]error, len(m.errs))
	copy(out, m.errs)
	return out
}

// Spec returns the FilterSpec this Matcher was compiled from.
func (m *Matcher) Spec() Spec {
	return m.spec
}

// Render produces the compiled-filter view returned on the `filter` ack:
// the same paths, with regex leaves rendered back as "/pattern/flags".
func (m *Matcher) Render() map[string]any {
	out := make(map[string]any, len(m.compiled))
	for path, c := range m.compiled {
		if !c.isSequence {
			out[path] = c.single.rendered
			continue
		}
		rendered := make([]any, len(c.sequence))
		for i, l := range c.sequence {
			rendered[i] = l.rendered
		}
		out[path] = rendered
	}
	return out
}
