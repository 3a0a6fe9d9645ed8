// Package ident canonicalizes facility identifier tokens such as "FFR 2024-7"
// into a display form (FFR-2024-007) and a lookup key (FFR2024007).
package ident

import (
	"fmt"
	"regexp"
	"strings"
)

// Sequence numbers are written with one to three digits ("FFR 2024-7") and
// always padded to MaxSeqDigits.
const (
	Prefix       = "FFR"
	YearDigits   = 4
	MinSeqDigits = 1
	MaxSeqDigits = 3
)

// PrefixAliases are misspellings of Prefix seen in pasted reports.
var PrefixAliases = []string{"FRR"}

type Token struct {
	Canonical string
	Key       string
	Year      string
	Seq       string
}

// Grammar describes one facility code format. Build it with NewGrammar.
type Grammar struct {
	Prefix       string
	Aliases      []string
	YearDigits   int
	MinSeqDigits int
	MaxSeqDigits int

	strict  *regexp.Regexp
	lenient *regexp.Regexp
}

var Default = NewGrammar(Prefix, PrefixAliases, YearDigits, MinSeqDigits, MaxSeqDigits)

func NewGrammar(prefix string, aliases []string, yearDigits, minSeq, maxSeq int) *Grammar {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	g := &Grammar{
		Prefix:       prefix,
		Aliases:      aliases,
		YearDigits:   yearDigits,
		MinSeqDigits: minSeq,
		MaxSeqDigits: maxSeq,
	}

	forms := []string{regexp.QuoteMeta(prefix)}
	for _, a := range aliases {
		forms = append(forms, regexp.QuoteMeta(strings.ToUpper(strings.TrimSpace(a))))
	}
	digits := fmt.Sprintf(`(\d{%d})`, yearDigits)
	seq := fmt.Sprintf(`(\d{%d,%d})`, minSeq, maxSeq)

	g.strict = regexp.MustCompile(`(?i)(?:` + strings.Join(forms, "|") + `)[\s-]*` + digits + `[\s-]*` + seq)

	// OCR output splits the prefix letters. The split form stays upper case so
	// prose like "staff reported" is not a token, and the digit groups keep the
	// strict separators so a name like "Jeffrey" followed by a date is not one
	// either.
	spaced := make([]string, 0, len(prefix))
	for _, r := range prefix {
		spaced = append(spaced, regexp.QuoteMeta(string(r)))
	}
	g.lenient = regexp.MustCompile(`(?:(?i:` + strings.Join(forms, "|") + `)|` + strings.Join(spaced, `\s*`) + `)[\s-]*` + digits + `[\s-]*` + seq)

	return g
}

// Normalize returns the token found anywhere in raw.
func (g *Grammar) Normalize(raw string) (Token, bool) {
	tok, _, _, ok := g.Find(raw)
	return tok, ok
}

// Find is Normalize plus the byte span of the match within line.
func (g *Grammar) Find(line string) (Token, int, int, bool) {
	return g.find(g.strict, line)
}

// FindLenient also accepts an upper-case prefix split by whitespace, as in
// "F F R 2024-009". Separators between the groups are the strict ones.
func (g *Grammar) FindLenient(line string) (Token, bool) {
	tok, _, _, ok := g.find(g.lenient, line)
	return tok, ok
}

func (g *Grammar) find(re *regexp.Regexp, line string) (Token, int, int, bool) {
	m := re.FindStringSubmatchIndex(line)
	if m == nil {
		return Token{}, 0, 0, false
	}
	year := line[m[2]:m[3]]
	seq := line[m[4]:m[5]]
	if pad := g.MaxSeqDigits - len(seq); pad > 0 {
		seq = strings.Repeat("0", pad) + seq
	}
	return Token{
		Canonical: g.Prefix + "-" + year + "-" + seq,
		Key:       g.Prefix + year + seq,
		Year:      year,
		Seq:       seq,
	}, m[0], m[1], true
}

func Normalize(raw string) (Token, bool) {
	return Default.Normalize(raw)
}

// Key is the lookup key for raw, or "" when raw carries no token.
func Key(raw string) string {
	tok, ok := Default.Normalize(raw)
	if !ok {
		return ""
	}
	return tok.Key
}
