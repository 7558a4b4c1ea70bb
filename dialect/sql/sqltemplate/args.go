package sqltemplate

import (
	"regexp"
	"sort"
)

// Args is the value set of a template. It is either Positional or Named;
// a nil Args leaves every placeholder untouched.
type Args interface {
	// pending escapes every value and returns the substitutions to apply,
	// in order, before the template is modified.
	pending(esc escaper) ([]substitution, error)
}

// Positional values replace "?" placeholders from left to right.
type Positional []any

// Named values replace ":name" placeholders. Placeholders without a key
// are left in place.
type Named map[string]any

// escaper is the subset of sqlescape.Escaper used here.
type escaper interface {
	Escape(v any) (string, error)
}

// substitution is a pattern and the literal replacing its match.
type substitution struct {
	re      *regexp.Regexp
	global  bool
	literal string
}

var positionalRe = regexp.MustCompile(`\?`)

func (p Positional) pending(esc escaper) ([]substitution, error) {
	subs := make([]substitution, 0, len(p))
	for _, v := range p {
		lit, err := esc.Escape(v)
		if err != nil {
			return nil, err
		}
		subs = append(subs, substitution{re: positionalRe, literal: lit})
	}
	return subs, nil
}

func (n Named) pending(esc escaper) ([]substitution, error) {
	keys := n.Keys()
	subs := make([]substitution, 0, len(keys))
	for _, k := range keys {
		if !validName(k) {
			// Such a key can never match a placeholder.
			continue
		}
		lit, err := esc.Escape(n[k])
		if err != nil {
			return nil, err
		}
		subs = append(subs, substitution{re: namedPattern(k), global: true, literal: lit})
	}
	return subs, nil
}

// Keys returns the keys longest first, so that a key is always resolved
// before any key that is a prefix of it. Keys of equal length are sorted
// alphabetically.
func (n Named) Keys() []string {
	keys := make([]string, 0, len(n))
	for k := range n {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

var nameRe = regexp.MustCompile(`^\w+$`)

func validName(k string) bool {
	return nameRe.MatchString(k)
}

// namedPattern matches ":key" only when the name is not followed by
// another word character.
func namedPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`:` + regexp.QuoteMeta(key) + `\b`)
}
