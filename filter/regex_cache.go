package filter

import (
	"container/list"
	"fmt"
	"regexp"
	"strings"
	"sync"

	kerrors "github.com/c360/kasocki/errors"
)

// regexCacheCapacity bounds the number of distinct compiled patterns kept
// alive across all sessions in the process.
const regexCacheCapacity = 256

type regexCacheEntry struct {
	pattern string
	re      *regexp.Regexp
}

// regexCache is a small thread-safe LRU cache of compiled patterns, shared
// by every matcher in the process. It holds only compiled regexp.Regexp
// values keyed by pattern text — no session state — so sharing it across
// sessions does not violate the "no cross-session coordination" non-goal.
type regexCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
}

var globalRegexCache = newRegexCache(regexCacheCapacity)

// boundedOuterUnboundedInner catches the mirror image of the dangerousFragments
// list below: a group containing an unbounded quantifier (+ or *) immediately
// repeated a fixed number of times, e.g. (a+){10} or (\w*){5,20}. The outer
// bound is finite so it slips past a literal "(x+)+" style check, but it is
// the same ambiguous-partitioning shape that makes backtracking engines
// blow up on long input.
var boundedOuterUnboundedInner = regexp.MustCompile(`\([^()]*[+*][^()]*\)\{\d`)

func newRegexCache(maxSize int) *regexCache {
	return &regexCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *regexCache) get(pattern string) (*regexp.Regexp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[pattern]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*regexCacheEntry).re, true
}

func (c *regexCache) set(pattern string, re *regexp.Regexp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[pattern]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*regexCacheEntry).re = re
		return
	}

	elem := c.order.PushFront(&regexCacheEntry{pattern: pattern, re: re})
	c.items[pattern] = elem

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*regexCacheEntry).pattern)
	}
}

// compileRegex returns a cached compiled regex for pattern, compiling and
// safety-checking it only on first use.
func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := globalRegexCache.get(pattern); ok {
		return re, nil
	}

	if err := validateRegexComplexity(pattern); err != nil {
		return nil, err
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, kerrors.New(kerrors.KindInvalidFilter, "invalid regex pattern %q: %v", pattern, err)
	}

	globalRegexCache.set(pattern, re)
	return re, nil
}

// validateRegexComplexity rejects patterns prone to catastrophic
// backtracking before they are ever compiled or matched against a message,
// per spec.md §4.3 point 4.
func validateRegexComplexity(pattern string) error {
	if len(pattern) > 500 {
		return kerrors.New(kerrors.KindInvalidFilter, "regex pattern too long (max 500 chars): %d chars", len(pattern))
	}

	dangerousFragments := []string{
		`(\w+)*\w`,
		`(\w*)+`,
		`(a+)+`,
		`([a-zA-Z]+)*`,
		`(\d+)*\d`,
		`(.*)*`,
		`(.+)+`,
		`(\s+)*\s`,
		`([^,]+)*[^,]`,
	}
	for _, fragment := range dangerousFragments {
		if strings.Contains(pattern, fragment) {
			return kerrors.New(kerrors.KindInvalidFilter,
				"regex pattern contains a nested-quantifier construct prone to catastrophic backtracking")
		}
	}

	if boundedOuterUnboundedInner.MatchString(pattern) {
		return kerrors.New(kerrors.KindInvalidFilter,
			"regex pattern contains a bounded repeat of an unbounded-quantifier group prone to catastrophic backtracking")
	}

	if strings.Contains(pattern, "{") {
		for i := 1000; i <= 9999; i++ {
			if strings.Contains(pattern, fmt.Sprintf("{%d", i)) {
				return kerrors.New(kerrors.KindInvalidFilter, "regex pattern contains excessive repetition count (>= 1000)")
			}
		}
	}

	if strings.Count(pattern, "(") > 20 {
		return kerrors.New(kerrors.KindInvalidFilter, "regex pattern has too many capture groups (max 20)")
	}

	nestLevel, maxNest := 0, 0
	for _, ch := range pattern {
		switch ch {
		case '(':
			nestLevel++
			if nestLevel > maxNest {
				maxNest = nestLevel
			}
		case ')':
			nestLevel--
		}
	}
	if maxNest > 5 {
		return kerrors.New(kerrors.KindInvalidFilter, "regex pattern has excessive nesting depth (max 5 levels)")
	}

	return nil
}
