// Package search provides deterministic lexical re-ranking for retrieval
// candidates. It is intentionally small and dependency-free:
//
//   - No logging in the library (callers decide how/what to log)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Deterministic scoring and sorting (stable order for ties)
//
// The vector index returns candidates by embedding similarity; Rerank
// re-orders them by combining that score with Jaccard overlap between the
// query token set and each candidate's token set, which rewards candidates
// that share the query's actual words, not just its neighborhood in
// embedding space.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Candidate is one retrieval hit to be re-ranked.
type Candidate struct {
	ID   string
	Text string

	// Similarity is the vector-index score in [0, 1].
	Similarity float64
}

// Result is a re-ranked candidate with its combined score.
type Result struct {
	Candidate Candidate
	Score     float64
}

// lexicalWeight balances vector similarity against token overlap. The
// vector score dominates; overlap is a tie-breaking nudge.
const lexicalWeight = 0.3

// Option configures a Reranker.
type Option func(*Reranker)

// WithStopwords excludes the given words from token overlap.
func WithStopwords(words []string) Option {
	return func(r *Reranker) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			r.stopwords = m
		}
	}
}

// Reranker re-orders retrieval candidates deterministically. Immutable
// after construction and safe for concurrent use.
type Reranker struct {
	stopwords map[string]struct{}
}

// NewReranker builds a Reranker.
func NewReranker(opts ...Option) *Reranker {
	r := &Reranker{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Rerank returns up to k candidates, best first. Scoring is
// similarity + lexicalWeight * jaccard(query, candidate); ties break by
// shorter text, then id, so equal inputs always produce equal output
// order.
func (r *Reranker) Rerank(query string, candidates []Candidate, k int) []Result {
	if len(candidates) == 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(query, r.stopwords)

	buf := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		score := c.Similarity
		if len(qTokens) > 0 {
			cTokens := tokenize(c.Text, r.stopwords)
			if over := overlap(qTokens, cTokens); over > 0 {
				union := float64(len(qTokens) + len(cTokens) - over)
				if union > 0 {
					score += lexicalWeight * float64(over) / union
				}
			}
		}
		buf = append(buf, Result{Candidate: c, Score: score})
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].Score != buf[b].Score {
			return buf[a].Score > buf[b].Score
		}
		la := utf8.RuneCountInString(buf[a].Candidate.Text)
		lb := utf8.RuneCountInString(buf[b].Candidate.Text)
		if la != lb {
			return la < lb
		}
		return buf[a].Candidate.ID < buf[b].Candidate.ID
	})

	if k > len(buf) {
		k = len(buf)
	}
	return buf[:k]
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
