package evaluate

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxAgeDays = 365
	resultChunkSize   = 500
)

var urlRe = regexp.MustCompile(`https?://[^\s"',)]+`)

var highCredibilityTLDs = map[string]struct{}{
	"edu": {}, "gov": {}, "org": {},
}

var credibleDomains = map[string]struct{}{
	"wikipedia.org": {}, "britannica.com": {}, "nature.com": {},
	"science.org": {}, "pubmed.ncbi.nlm.nih.gov": {},
	"scholar.google.com": {}, "arxiv.org": {}, "reuters.com": {},
	"bbc.com": {}, "npr.org": {}, "pbs.org": {},
}

var lowCredibilityIndicators = []string{
	"blog", "forum", "social", "wiki", "user-generated",
}

var academicIndicators = []string{
	"university", "institute", "research", "study", "journal", "publication",
}

// SearchEvaluator scores web-search outputs: source credibility from
// domain reputation heuristics, information freshness from dates found
// in the results (relative to the injected query time), and relevance
// of the results to the query.
type SearchEvaluator struct{}

func (SearchEvaluator) Name() string { return "search" }

func (SearchEvaluator) Evaluate(expected, actual Sample, ectx Context) Result {
	res := newResult()
	res.Scores["source_credibility"] = sourceCredibility(actual, &res)
	res.Scores["information_freshness"] = freshness(actual.Text, ectx, &res)
	res.Scores["query_relevance"] = queryRelevance(ectx.Query, actual.Text, &res)
	return res
}

func sourceCredibility(actual Sample, res *Result) float64 {
	sources := actual.Sources
	if len(sources) == 0 {
		sources = urlRe.FindAllString(actual.Text, -1)
	}
	if len(sources) == 0 {
		res.diag("no sources provided")
		return 0
	}

	var weightedSum, weightTotal float64
	for _, src := range sources {
		score := credibilityOf(src)
		// Weight by score so stronger sources dominate the average.
		weightedSum += score * score
		weightTotal += score
	}
	if weightTotal == 0 {
		return 0
	}
	return clamp01(weightedSum / weightTotal)
}

func credibilityOf(source string) float64 {
	score := 0.5
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		u, err := url.Parse(source)
		if err != nil {
			return clamp01(score)
		}
		domain := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		parts := strings.Split(domain, ".")
		tld := parts[len(parts)-1]
		if _, ok := highCredibilityTLDs[tld]; ok {
			score += 0.3
		}
		if knownCredibleDomain(domain) {
			score += 0.4
		}
		for _, ind := range lowCredibilityIndicators {
			if strings.Contains(domain, ind) {
				score -= 0.2
			}
		}
		if strings.HasPrefix(source, "https://") {
			score += 0.1
		}
		return clamp01(score)
	}

	lower := strings.ToLower(source)
	for _, ind := range academicIndicators {
		if strings.Contains(lower, ind) {
			score += 0.2
			break
		}
	}
	for _, ind := range lowCredibilityIndicators {
		if strings.Contains(lower, ind) {
			score -= 0.2
		}
	}
	return clamp01(score)
}

// knownCredibleDomain matches the domain or any of its subdomains
// against the known-domain table.
func knownCredibleDomain(domain string) bool {
	if _, ok := credibleDomains[domain]; ok {
		return true
	}
	for cd := range credibleDomains {
		if strings.HasSuffix(domain, "."+cd) {
			return true
		}
	}
	return false
}

// freshness extracts dates from the result text and scores the most
// recent one with linear decay over the max-age window. The reference
// time comes from the evaluation context, never the wall clock.
func freshness(text string, ectx Context, res *Result) float64 {
	maxAge := ectx.MaxAgeDays
	if maxAge <= 0 {
		maxAge = defaultMaxAgeDays
	}
	queryTime := ectx.QueryTime
	if queryTime.IsZero() {
		res.diag("no query time in context; freshness skipped")
		return 0
	}
	dates := extractDates(text)
	if len(dates) == 0 {
		res.diag("no dates found in results")
		return 0
	}
	best := 0.0
	for _, d := range dates {
		ageDays := queryTime.Sub(d).Hours() / 24
		var score float64
		switch {
		case ageDays < 0:
			score = 1
		case ageDays <= float64(maxAge):
			score = 1 - ageDays/float64(maxAge)
		default:
			score = 0
		}
		if score > best {
			best = score
		}
	}
	return clamp01(best)
}

var (
	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	slashDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	wordDateRe  = regexp.MustCompile(`\b([A-Za-z]+)\s+(\d{1,2}),?\s+(\d{4})\b`)
)

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

func extractDates(text string) []time.Time {
	var dates []time.Time
	add := func(year, month, day int) {
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return
		}
		dates = append(dates, time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC))
	}
	for _, m := range isoDateRe.FindAllStringSubmatch(text, -1) {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		add(y, mo, d)
	}
	for _, m := range slashDateRe.FindAllStringSubmatch(text, -1) {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		add(y, mo, d)
	}
	for _, m := range wordDateRe.FindAllStringSubmatch(text, -1) {
		month, ok := monthNames[strings.ToLower(m[1])]
		if !ok {
			continue
		}
		d, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		add(y, int(month), d)
	}
	return dates
}

func queryRelevance(query, content string, res *Result) float64 {
	if strings.TrimSpace(query) == "" || strings.TrimSpace(content) == "" {
		res.diag("empty query or result content")
		return 0
	}
	queryTokens := tokenize(query)
	best := 0.0
	for _, chunk := range splitChunks(content, resultChunkSize) {
		if sim := cosine(queryTokens, tokenize(chunk)); sim > best {
			best = sim
		}
	}
	return clamp01(best)
}
