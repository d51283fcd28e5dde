package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	sahilm "github.com/sahilm/fuzzy"

	"github.com/sthaha/emseepee/internal/domain"
)

// LabelMatch is one fuzzy match against the mailbox's labels, with the
// character positions that matched for callers that highlight results.
type LabelMatch struct {
	Label          domain.Label `json:"label"`
	MatchedIndexes []int        `json:"matched_indexes,omitempty"`
	Score          int          `json:"score"`
}

// labelIndex implements sahilm/fuzzy.Source over a label slice
type labelIndex struct {
	labels     []domain.Label
	lowerNames []string
}

func newLabelIndex(labels []domain.Label) *labelIndex {
	idx := &labelIndex{
		labels:     labels,
		lowerNames: make([]string, len(labels)),
	}
	for i, l := range labels {
		idx.lowerNames[i] = strings.ToLower(l.Name)
	}
	return idx
}

// String returns the lowercase name at index i (implements fuzzy.Source)
func (idx *labelIndex) String(i int) string { return idx.lowerNames[i] }

// Len returns the number of labels (implements fuzzy.Source)
func (idx *labelIndex) Len() int { return len(idx.labels) }

// matchLabels ranks every label against the query. An empty query returns all
// labels unranked so callers can list the whole set through one code path.
func matchLabels(labels []domain.Label, query string) []LabelMatch {
	if query == "" {
		out := make([]LabelMatch, len(labels))
		for i, l := range labels {
			out[i] = LabelMatch{Label: l}
		}
		return out
	}

	idx := newLabelIndex(labels)
	matches := sahilm.FindFrom(strings.ToLower(query), idx)

	out := make([]LabelMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, LabelMatch{
			Label:          idx.labels[m.Index],
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		})
	}
	return out
}

// resolveLabel finds the label a human-typed name refers to. Exact
// case-insensitive match wins; otherwise the closest fuzzy match is used so
// that "recibos" still resolves "Receipts/Recibos".
func resolveLabel(labels []domain.Label, name string) (domain.Label, error) {
	for _, l := range labels {
		if strings.EqualFold(l.Name, name) {
			return l, nil
		}
	}

	names := make([]string, len(labels))
	byLower := make(map[string]domain.Label, len(labels))
	for i, l := range labels {
		lower := strings.ToLower(l.Name)
		names[i] = lower
		byLower[lower] = l
	}

	ranks := fuzzy.RankFindFold(name, names)
	if len(ranks) == 0 {
		return domain.Label{}, fmt.Errorf("no label matching %q: %w", name, domain.ErrLabelNotFound)
	}

	// Closest match first (lower distance is better)
	sort.Slice(ranks, func(i, j int) bool {
		return ranks[i].Distance < ranks[j].Distance
	})

	return byLower[ranks[0].Target], nil
}
