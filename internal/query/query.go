package query

import (
	"regexp"
	"strings"
	"unicode"
)

// Token is one compiled query term. A token matches either through its
// regular expression (fuzzy expansion) or through a case-insensitive
// substring test on the folded form.
type Token struct {
	Raw  string
	re   *regexp.Regexp
	fold string
	bad  bool
}

func (t Token) matches(text, folded string) bool {
	if t.bad {
		return false
	}
	if t.re != nil {
		return t.re.MatchString(text)
	}
	return strings.Contains(folded, t.fold)
}

// PreparedQuery is a set of tokens combined with AND semantics.
type PreparedQuery struct {
	tokens   []Token
	matchAll bool
}

// Prepare compiles a raw query into a matchable predicate. Tokens are
// whitespace-delimited with backslash escaping (SplitTokens). With fuzzy
// enabled each token is run through the expander; a token whose expansion
// fails to compile matches nothing, but does not poison its siblings at
// preparation time: a multi-token query simply can never succeed once one
// token is bad, which callers observe as "no match" rather than an error.
func Prepare(q string, fuzzy bool) PreparedQuery {
	return PrepareWith(q, fuzzy, DefaultExpander)
}

// PrepareWith is Prepare with an explicit fuzzy expander.
func PrepareWith(q string, fuzzy bool, expand Expander) PreparedQuery {
	raw := SplitTokens(q)
	if len(raw) == 0 {
		return PreparedQuery{matchAll: true}
	}

	tokens := make([]Token, 0, len(raw))
	for _, r := range raw {
		tokens = append(tokens, prepareToken(r, fuzzy, expand))
	}
	return PreparedQuery{tokens: tokens}
}

func prepareToken(raw string, fuzzy bool, expand Expander) Token {
	token := Token{Raw: raw, fold: strings.ToLower(raw)}
	if !fuzzy || expand == nil {
		return token
	}

	pattern, err := expand(raw)
	if err != nil || pattern == "" {
		// Expansion declined or failed: fall back to literal matching.
		return token
	}
	re, compileErr := regexp.Compile("(?i)" + pattern)
	if compileErr != nil {
		token.bad = true
		return token
	}
	token.re = re
	return token
}

// IsMatch reports whether text satisfies every token. An empty query
// matches everything.
func (p PreparedQuery) IsMatch(text string) bool {
	if p.matchAll {
		return true
	}
	folded := strings.ToLower(text)
	for _, t := range p.tokens {
		if !t.matches(text, folded) {
			return false
		}
	}
	return true
}

// Empty reports whether the query has no tokens.
func (p PreparedQuery) Empty() bool {
	return p.matchAll
}

// FindMatches filters entries through a freshly prepared query and returns
// the indices of the matches in input order.
func FindMatches(entries []string, q string, fuzzy bool) []int {
	prepared := Prepare(q, fuzzy)
	var out []int
	for i, entry := range entries {
		if prepared.IsMatch(entry) {
			out = append(out, i)
		}
	}
	return out
}

// SplitTokens splits a query on whitespace. A backslash escapes the
// following character, so "\ " keeps a space inside a token and "\\" yields
// a literal backslash. A trailing lone backslash is kept as-is.
func SplitTokens(q string) []string {
	var tokens []string
	var current strings.Builder
	escaped := false

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range q {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if unicode.IsSpace(r) {
			flush()
			continue
		}
		current.WriteRune(r)
	}
	if escaped {
		current.WriteRune('\\')
	}
	flush()
	return tokens
}
