package evaluate

const (
	contextChunkSize = 500
	claimChunkSize   = 300
	supportThreshold = 0.5
	minClaimLength   = 10
)

// RAGEvaluator scores retrieval-augmented generation: retrieval
// precision/recall/F1 over document identifiers, relevance of the
// retrieved context to the query, groundedness of the answer in that
// context, and citation accuracy.
type RAGEvaluator struct{}

func (RAGEvaluator) Name() string { return "rag" }

func (RAGEvaluator) Evaluate(expected, actual Sample, ectx Context) Result {
	res := newResult()

	precision, recall := retrievalScores(expected.Docs, actual.Docs, &res)
	res.Scores["retrieval_precision"] = precision
	res.Scores["retrieval_recall"] = recall
	res.Scores["retrieval_f1"] = clamp01(safeDiv(2*precision*recall, precision+recall))

	contextText := ectx.ContextText
	res.Scores["context_relevance"] = contextRelevance(ectx.Query, contextText, &res)
	res.Scores["answer_groundedness"] = groundedness(contextText, actual.Text, &res)
	res.Scores["citation_accuracy"] = citationAccuracy(expected.Docs, actual.Sources, &res)
	return res
}

func retrievalScores(relevant, retrieved []string, res *Result) (precision, recall float64) {
	relevantSet := make(map[string]struct{}, len(relevant))
	for _, d := range relevant {
		relevantSet[d] = struct{}{}
	}
	hits := 0
	seen := make(map[string]struct{}, len(retrieved))
	for _, d := range retrieved {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		if _, ok := relevantSet[d]; ok {
			hits++
		}
	}

	if len(retrieved) == 0 {
		res.diag("no documents retrieved")
		precision = 0
	} else {
		precision = clamp01(safeDiv(float64(hits), float64(len(seen))))
	}
	if len(relevantSet) == 0 {
		// No relevant documents to find.
		recall = 1
	} else {
		recall = clamp01(safeDiv(float64(hits), float64(len(relevantSet))))
	}
	return precision, recall
}

// contextRelevance is the best chunk-wise cosine similarity between the
// query and the retrieved context.
func contextRelevance(query, context string, res *Result) float64 {
	if query == "" || context == "" {
		res.diag("empty query or retrieved context")
		return 0
	}
	queryTokens := tokenize(query)
	best := 0.0
	for _, chunk := range splitChunks(context, contextChunkSize) {
		if sim := cosine(queryTokens, tokenize(chunk)); sim > best {
			best = sim
		}
	}
	return clamp01(best)
}

// groundedness is the fraction of answer claims supported by some
// context chunk above the support threshold.
func groundedness(context, answer string, res *Result) float64 {
	if context == "" || answer == "" {
		res.diag("empty context or answer")
		return 0
	}
	var claims []string
	for _, s := range splitSentences(answer) {
		if len(s) > minClaimLength {
			claims = append(claims, s)
		}
	}
	if len(claims) == 0 {
		res.diag("no claims found in answer")
		return 0
	}
	chunks := splitChunks(context, claimChunkSize)
	supported := 0
	for _, claim := range claims {
		claimTokens := tokenize(claim)
		best := 0.0
		for _, chunk := range chunks {
			if sim := cosine(claimTokens, tokenize(chunk)); sim > best {
				best = sim
			}
		}
		if best > supportThreshold {
			supported++
		}
	}
	return clamp01(safeDiv(float64(supported), float64(len(claims))))
}

// citationAccuracy is the fraction of cited sources that appear in the
// relevant-document set.
func citationAccuracy(relevant, cited []string, res *Result) float64 {
	if len(cited) == 0 {
		res.diag("no citations in answer")
		return 0
	}
	relevantSet := make(map[string]struct{}, len(relevant))
	for _, d := range relevant {
		relevantSet[d] = struct{}{}
	}
	correct := 0
	for _, c := range cited {
		if _, ok := relevantSet[c]; ok {
			correct++
		}
	}
	return clamp01(safeDiv(float64(correct), float64(len(cited))))
}
