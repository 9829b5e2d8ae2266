// Package textproc normalizes report text and splits it into scoreable
// sentences.
package textproc

import (
	"strings"
	"unicode"
)

// SentenceEnd is the full stop that terminates a sentence.
const SentenceEnd = "。"

// DefaultRiskLeadIns mark the start of the trailing risk disclosure section.
var DefaultRiskLeadIns = []string{"风险提示"}

// DefaultBoilerplate lists sentence openings that carry no opinion.
var DefaultBoilerplate = []string{
	"数据来源",
	"相关资料",
	"本报告不构成投资建议",
	"免责声明",
	"资料来源",
	"数据来自",
}

// punctuation kept by Clean in addition to letters, digits, CJK and space.
const punctuation = ",.。，!？！:;()-+*/&^%$#@=_<>"

// Normalizer applies the cleaning, truncation, splitting and filtering rules.
type Normalizer struct {
	riskLeadIns []string
	boilerplate []string
}

// New returns a normalizer. Nil lists fall back to the defaults.
func New(riskLeadIns, boilerplate []string) *Normalizer {
	if riskLeadIns == nil {
		riskLeadIns = DefaultRiskLeadIns
	}
	if boilerplate == nil {
		boilerplate = DefaultBoilerplate
	}
	return &Normalizer{riskLeadIns: riskLeadIns, boilerplate: boilerplate}
}

// Normalize cleans text and strips its risk disclosure. It is idempotent.
func (n *Normalizer) Normalize(text string) string {
	return n.StripRiskDisclosure(Clean(text))
}

// Sentences splits text and drops boilerplate sentences.
func (n *Normalizer) Sentences(text string) []string {
	var out []string
	for _, s := range Split(text) {
		if !n.IsBoilerplate(s) {
			out = append(out, s)
		}
	}
	return out
}

// Filter removes boilerplate sentences from an existing list.
func (n *Normalizer) Filter(sentences []string) []string {
	var out []string
	for _, s := range sentences {
		if s = strings.TrimSpace(s); s != "" && !n.IsBoilerplate(s) {
			out = append(out, s)
		}
	}
	return out
}

// IsBoilerplate reports whether s starts with a known boilerplate phrase.
func (n *Normalizer) IsBoilerplate(s string) bool {
	for _, p := range n.boilerplate {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// StripRiskDisclosure truncates text at the first risk lead-in.
func (n *Normalizer) StripRiskDisclosure(text string) string {
	cut := -1
	for _, lead := range n.riskLeadIns {
		if lead == "" {
			continue
		}
		if i := strings.Index(text, lead); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut < 0 {
		return text
	}
	return text[:cut]
}

// Clean drops control characters and every rune outside the whitelist.
func Clean(text string) string {
	return strings.Map(func(r rune) rune {
		if Allowed(r) {
			return r
		}
		return -1
	}, text)
}

// Allowed reports whether r survives Clean. The ASCII space is the only
// whitespace kept; tabs, newlines and the ideographic space U+3000 are dropped.
func Allowed(r rune) bool {
	switch {
	case r == ' ':
		return true
	case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
		return true
	case r >= '一' && r <= '龥':
		return true
	default:
		return strings.ContainsRune(punctuation, r)
	}
}

// Split breaks text after every sentence end mark, trims the pieces and
// drops empties. The mark stays attached to its sentence.
func Split(text string) []string {
	var out []string
	for _, part := range strings.SplitAfter(text, SentenceEnd) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
