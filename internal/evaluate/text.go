package evaluate

import (
	"math"
	"regexp"
	"strings"
)

var (
	wordRe     = regexp.MustCompile(`\b[\w']+\b`)
	numberRe   = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	quotedRe   = regexp.MustCompile(`"([^"]*)"`)
	sentenceRe = regexp.MustCompile(`[.!?]+`)
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "have": {}, "has": {}, "had": {}, "do": {},
	"does": {}, "did": {}, "will": {}, "would": {}, "could": {}, "should": {},
}

func tokenize(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

func ngramCounts(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], " ")]++
	}
	return counts
}

// cosine computes cosine similarity between the term-frequency vectors
// of two token lists. Pure string math, so identical inputs always
// yield bit-identical scores.
func cosine(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	fa := ngramCounts(a, 1)
	fb := ngramCounts(b, 1)
	var dot, na, nb float64
	for term, ca := range fa {
		na += float64(ca) * float64(ca)
		if cb, ok := fb[term]; ok {
			dot += float64(ca) * float64(cb)
		}
	}
	for _, cb := range fb {
		nb += float64(cb) * float64(cb)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// lcsLength returns the longest-common-subsequence length of two token
// lists, the core of the ROUGE-L measure.
func lcsLength(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// splitChunks breaks text into sentence-packed chunks of at most
// maxSize characters for chunk-wise similarity scoring.
func splitChunks(text string, maxSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxSize {
		return []string{text}
	}
	sentences := splitSentences(text)
	var chunks []string
	var cur strings.Builder
	for _, s := range sentences {
		if cur.Len() > 0 && cur.Len()+len(s) > maxSize {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		cur.WriteString(s)
		cur.WriteString(". ")
	}
	if strings.TrimSpace(cur.String()) != "" {
		chunks = append(chunks, strings.TrimSpace(cur.String()))
	}
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

func splitSentences(text string) []string {
	parts := sentenceRe.Split(text, -1)
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// extractFacts pulls the checkable pieces out of a statement: numbers,
// quoted phrases, and non-stopword keywords longer than three runes.
func extractFacts(text string) map[string]struct{} {
	lower := strings.ToLower(text)
	facts := make(map[string]struct{})
	for _, n := range numberRe.FindAllString(lower, -1) {
		facts[n] = struct{}{}
	}
	for _, m := range quotedRe.FindAllStringSubmatch(lower, -1) {
		if m[1] != "" {
			facts[m[1]] = struct{}{}
		}
	}
	for _, w := range tokenize(lower) {
		if len(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		facts[w] = struct{}{}
	}
	return facts
}

func factPresent(fact string, actual map[string]struct{}) bool {
	if _, ok := actual[fact]; ok {
		return true
	}
	if len(fact) > 5 {
		for a := range actual {
			if strings.Contains(a, fact) || strings.Contains(fact, a) {
				return true
			}
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
