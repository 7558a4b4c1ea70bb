package sqltemplate

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Replacer applies a batch of substitutions to a source string without
// letting one substitution interfere with another.
//
// Every Add swaps the matched text for an opaque token and records the
// final value. Produce swaps the tokens for their values in a single final
// pass, so a value is never scanned by a pattern added after it, whatever
// characters it contains.
type Replacer struct {
	source string
	tokens []replacement
}

type replacement struct {
	token string
	value string
}

// NewReplacer returns a Replacer working on a private copy of source.
func NewReplacer(source string) *Replacer {
	return &Replacer{source: source}
}

// Add replaces the first match of re, or every match if global is set,
// with value. A pattern without a match is a no-op.
func (r *Replacer) Add(re *regexp.Regexp, global bool, value string) {
	loc := re.FindStringIndex(r.source)
	if loc == nil {
		return
	}
	token := r.newToken(value)
	if global {
		r.source = re.ReplaceAllLiteralString(r.source, token)
	} else {
		r.source = r.source[:loc[0]] + token + r.source[loc[1]:]
	}
	r.tokens = append(r.tokens, replacement{token: token, value: value})
}

// AddString replaces the first occurrence of search with value.
func (r *Replacer) AddString(search, value string) {
	i := strings.Index(r.source, search)
	if i < 0 {
		return
	}
	token := r.newToken(value)
	r.source = r.source[:i] + token + r.source[i+len(search):]
	r.tokens = append(r.tokens, replacement{token: token, value: value})
}

// Rewrite applies fn to the working copy. Tokens contain no whitespace
// and no placeholder characters; fn must leave them intact.
func (r *Replacer) Rewrite(fn func(string) string) {
	r.source = fn(r.source)
}

// Produce returns the source with every recorded token replaced by its value.
func (r *Replacer) Produce() string {
	if len(r.tokens) == 0 {
		return r.source
	}
	pairs := make([]string, 0, 2*len(r.tokens))
	for _, t := range r.tokens {
		pairs = append(pairs, t.token, t.value)
	}
	return strings.NewReplacer(pairs...).Replace(r.source)
}

// newToken returns a token that occurs neither in the working copy nor in
// any value recorded so far, including the pending one.
func (r *Replacer) newToken(pending string) string {
	for {
		token := "\x00" + strings.ReplaceAll(uuid.NewString(), "-", "") + "\x00"
		if r.collides(token, pending) {
			continue
		}
		return token
	}
}

func (r *Replacer) collides(token, pending string) bool {
	if strings.Contains(r.source, token) || strings.Contains(pending, token) {
		return true
	}
	for _, t := range r.tokens {
		if t.token == token || strings.Contains(t.value, token) {
			return true
		}
	}
	return false
}
