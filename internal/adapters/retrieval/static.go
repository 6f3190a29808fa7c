// Package retrieval holds the knowledge search backends.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/PabloGalante/insurance-agent/internal/domain"
)

const knowledgeBaseSource = "knowledge_base"

// DefaultPassages is the overview corpus used in development and to seed an
// empty sqlite index.
func DefaultPassages() []domain.Passage {
	return []domain.Passage{
		{
			Title:  "Insurance Policy Overview",
			Text:   "Insurance policies cover a variety of risks including health, property, and vehicles.",
			Source: knowledgeBaseSource,
		},
		{
			Title:  "Claims Process",
			Text:   "Claims can be filed online or through your insurance agent. Required documents include proof of loss and identification.",
			Source: knowledgeBaseSource,
		},
		{
			Title:  "Understanding Deductibles",
			Text:   "Deductibles are the amount you pay out of pocket before your insurance coverage begins.",
			Source: knowledgeBaseSource,
		},
	}
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "what": true,
	"how": true, "does": true, "do": true, "my": true, "me": true, "i": true,
	"about": true, "tell": true, "of": true, "to": true, "and": true, "or": true,
	"in": true, "on": true, "for": true, "your": true, "you": true,
}

// StaticRetriever scores an in-memory passage list by term overlap.
type StaticRetriever struct {
	passages []domain.Passage
	terms    []map[string]bool
}

func NewStaticRetriever(passages []domain.Passage) *StaticRetriever {
	r := &StaticRetriever{passages: passages}
	for _, p := range passages {
		set := make(map[string]bool)
		for _, t := range terms(p.Title + " " + p.Text) {
			set[t] = true
		}
		r.terms = append(r.terms, set)
	}
	return r
}

// Search implements domain.Retriever. Passages sharing no term with the query
// are not returned.
func (r *StaticRetriever) Search(ctx context.Context, query string, topK int) ([]domain.Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qt := terms(query)
	if len(qt) == 0 {
		return nil, nil
	}

	var hits []domain.Passage
	for i, p := range r.passages {
		matched := 0
		for _, t := range qt {
			if r.terms[i][t] {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		p.Score = float64(matched) / float64(len(qt))
		hits = append(hits, p)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// terms lowercases, splits on non-alphanumerics, drops stop words and single
// letters, and folds plurals so "policies" meets "policy".
func terms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	default:
		return w
	}
}
