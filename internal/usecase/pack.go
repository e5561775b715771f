package usecase

import (
	"fmt"
	"sort"
	"strings"

	"mnemo/internal/domain"
	"mnemo/internal/port"
)

// dedupJaccard is the term overlap above which two memories count as the
// same fact.
const dedupJaccard = 0.8

// PackUseCase shapes recalled memories into a token-bounded prompt snippet.
type PackUseCase struct {
	tokenizer port.Tokenizer
}

func NewPackUseCase(tokenizer port.Tokenizer) *PackUseCase {
	return &PackUseCase{tokenizer: tokenizer}
}

// Pack selects matches by relevance per token until budget is spent,
// skipping near-duplicates, and returns them best score first. The recall
// warning is carried through.
func (u *PackUseCase) Pack(query string, recall domain.RecallResult, budget int) domain.PackedContext {
	packed := domain.PackedContext{
		Query:        query,
		BudgetTokens: budget,
		Snippets:     []domain.Snippet{},
		Warning:      recall.Warning,
	}
	if len(recall.Matches) == 0 || budget <= 0 {
		return packed
	}

	type ranked struct {
		match   domain.RetrievedMatch
		terms   map[string]struct{}
		tokens  int
		utility float64
	}

	candidates := make([]ranked, 0, len(recall.Matches))
	for _, m := range recall.Matches {
		tokens := u.tokenizer.CountTokens(m.Text)
		if tokens == 0 {
			tokens = 1
		}
		candidates = append(candidates, ranked{
			match:   m,
			terms:   termSet(u.tokenizer.Tokenize(m.Text)),
			tokens:  tokens,
			utility: m.Score / float64(tokens),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].utility > candidates[j].utility
	})

	var chosen []ranked
	for _, c := range candidates {
		if packed.UsedTokens+c.tokens > budget {
			continue
		}
		duplicate := false
		for _, prev := range chosen {
			if jaccard(c.terms, prev.terms) >= dedupJaccard {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		chosen = append(chosen, c)
		packed.UsedTokens += c.tokens
	}

	sort.SliceStable(chosen, func(i, j int) bool {
		return chosen[i].match.Score > chosen[j].match.Score
	})

	for _, c := range chosen {
		source, _ := c.match.Metadata[domain.MetaSource].(string)
		packed.Snippets = append(packed.Snippets, domain.Snippet{
			ID:     c.match.ID,
			Source: source,
			Score:  c.match.Score,
			Text:   c.match.Text,
		})
	}
	return packed
}

// Render formats a packed context for inclusion in a model prompt.
func (u *PackUseCase) Render(packed domain.PackedContext) string {
	if len(packed.Snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant memories:\n")
	for _, s := range packed.Snippets {
		fmt.Fprintf(&b, "- %s", strings.Join(strings.Fields(s.Text), " "))
		if s.Source != "" {
			fmt.Fprintf(&b, " (source: %s)", s.Source)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func termSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
