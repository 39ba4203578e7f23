package evaluate

import "math"

const bleuMaxN = 4

// QAEvaluator scores question-answering outputs with lexical-overlap
// measures: BLEU, ROUGE-L, term-frequency cosine similarity, and
// factual-accuracy (preservation of numbers, quoted phrases and
// keywords from the expected answer).
type QAEvaluator struct{}

func (QAEvaluator) Name() string { return "qa" }

func (QAEvaluator) Evaluate(expected, actual Sample, _ Context) Result {
	res := newResult()
	expTokens := tokenize(expected.Text)
	actTokens := tokenize(actual.Text)

	if len(actTokens) == 0 {
		res.diag("empty actual answer")
		res.Scores["bleu"] = 0
		res.Scores["rouge_l"] = 0
		res.Scores["lexical_similarity"] = 0
		res.Scores["factual_accuracy"] = 0
		return res
	}

	res.Scores["bleu"] = clamp01(bleu(expTokens, actTokens))
	res.Scores["rouge_l"] = clamp01(rougeL(expTokens, actTokens))
	res.Scores["lexical_similarity"] = clamp01(cosine(expTokens, actTokens))

	expFacts := extractFacts(expected.Text)
	if len(expFacts) == 0 {
		// Nothing checkable in the reference answer.
		res.Scores["factual_accuracy"] = 1
		res.diag("no facts found in expected answer")
		return res
	}
	actFacts := extractFacts(actual.Text)
	preserved := 0
	for fact := range expFacts {
		if factPresent(fact, actFacts) {
			preserved++
		}
	}
	res.Scores["factual_accuracy"] = clamp01(safeDiv(float64(preserved), float64(len(expFacts))))
	return res
}

// bleu computes the BLEU score with n-grams up to bleuMaxN and the
// standard brevity penalty.
func bleu(ref, cand []string) float64 {
	if len(cand) == 0 {
		return 0
	}
	var logSum float64
	for n := 1; n <= bleuMaxN; n++ {
		refGrams := ngramCounts(ref, n)
		candGrams := ngramCounts(cand, n)
		if len(candGrams) == 0 {
			return 0
		}
		matches := 0
		total := 0
		for gram, count := range candGrams {
			total += count
			if rc, ok := refGrams[gram]; ok {
				matches += min(count, rc)
			}
		}
		p := safeDiv(float64(matches), float64(total))
		if p == 0 {
			return 0
		}
		logSum += math.Log(p)
	}
	geoMean := math.Exp(logSum / bleuMaxN)
	return brevityPenalty(len(ref), len(cand)) * geoMean
}

func brevityPenalty(refLen, candLen int) float64 {
	if candLen >= refLen {
		return 1
	}
	return math.Exp(1 - float64(refLen)/float64(candLen))
}

// rougeL is the LCS-based F-measure between reference and candidate.
func rougeL(ref, cand []string) float64 {
	lcs := float64(lcsLength(ref, cand))
	if lcs == 0 {
		return 0
	}
	precision := lcs / float64(len(cand))
	recall := lcs / float64(len(ref))
	return safeDiv(2*precision*recall, precision+recall)
}
