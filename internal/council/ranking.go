// internal/council/ranking.go
package council

import (
	"regexp"
	"sort"
	"strings"

	"council/internal/models"
)

// Patterns for pulling ordinal rankings out of free-form model output.
var (
	rankingLinePattern = regexp.MustCompile(`(?m)^\s*\d+\.\s*(Response\s+[A-Z])\s*$`)
)

// ParseRanking extracts the ordered response labels from a ranker's output.
// Only text after the FINAL RANKING: header is considered when the header is
// present; without it the whole text is scanned. Malformed output yields an
// empty slice, never an error — ranking quality is best-effort.
func ParseRanking(content string) []string {
	section := content
	if idx := strings.LastIndex(content, rankingHeader); idx >= 0 {
		section = content[idx:]
	}

	matches := rankingLinePattern.FindAllStringSubmatch(section, -1)
	seen := make(map[string]bool, len(matches))
	labels := make([]string, 0, len(matches))
	for _, m := range matches {
		label := normalizeLabel(m[1])
		if seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	return labels
}

func normalizeLabel(label string) string {
	return strings.Join(strings.Fields(label), " ")
}

// AggregateRank is one model's standing across all rankers.
type AggregateRank struct {
	Model       string  `json:"model"`
	AverageRank float64 `json:"average_rank"`
	Votes       int     `json:"votes"`
}

// AggregateRankings averages each model's position across every parseable
// stage-2 ranking. Models never ranked by anyone are omitted. Ties and the
// overall order are resolved by average rank, then model name.
func AggregateRankings(stage2 []models.Result, labelToModel map[string]string) []AggregateRank {
	sums := make(map[string]int)
	votes := make(map[string]int)

	for _, r := range stage2 {
		if !r.OK {
			continue
		}
		for pos, label := range ParseRanking(r.Content) {
			model, ok := labelToModel[label]
			if !ok {
				continue
			}
			sums[model] += pos + 1
			votes[model]++
		}
	}

	out := make([]AggregateRank, 0, len(sums))
	for model, sum := range sums {
		out = append(out, AggregateRank{
			Model:       model,
			AverageRank: float64(sum) / float64(votes[model]),
			Votes:       votes[model],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AverageRank != out[j].AverageRank {
			return out[i].AverageRank < out[j].AverageRank
		}
		return out[i].Model < out[j].Model
	})
	return out
}
