// Package policy implements the Retrieval Policy phase: search-hint
// query expansion, the min-score gate, and structural-noise reduction.
package policy

import (
	"regexp"
	"strings"

	"github.com/normcite/retrieval-core/internal/model"
)

// ExpandQuery applies search hints: if the query contains a hint's
// term (case-insensitive substring), each of its expand_to values not
// already present (case-insensitive) is appended. Returns the
// (possibly expanded) query and the list of hint terms that fired.
func ExpandQuery(query string, hints []model.SearchHint) (string, []string) {
	lowerQuery := strings.ToLower(query)
	var fired []string
	expanded := query

	for _, hint := range hints {
		if !strings.Contains(lowerQuery, strings.ToLower(hint.Term)) {
			continue
		}
		fired = append(fired, hint.Term)
		for _, add := range hint.ExpandTo {
			if !strings.Contains(strings.ToLower(expanded), strings.ToLower(add)) {
				expanded = expanded + " " + add
			}
		}
	}

	return expanded, fired
}

// MinScoreResult reports the outcome of the min-score gate.
type MinScoreResult struct {
	Threshold          float64
	Kept               int
	Dropped            int
	ScoreSpaceBypassed int
}

// ApplyMinScore drops rows whose similarity/score is below threshold,
// except rows whose score_space is rrf or mixed (rank-derived scores
// are not comparable to a similarity threshold).
func ApplyMinScore(items []model.Item, threshold float64) ([]model.Item, MinScoreResult) {
	result := MinScoreResult{Threshold: threshold}
	if threshold <= 0 {
		result.Kept = len(items)
		return items, result
	}

	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		space := scoreSpaceOf(item)
		if space == model.ScoreSpaceRRF || space == model.ScoreSpaceMixed {
			out = append(out, item)
			result.ScoreSpaceBypassed++
			result.Kept++
			continue
		}

		value := similarityOf(item)
		if value < threshold {
			result.Dropped++
			continue
		}
		out = append(out, item)
		result.Kept++
	}
	return out, result
}

func scoreSpaceOf(item model.Item) model.ScoreSpace {
	return model.ScoreSpace(item.MetaString("score_space"))
}

func similarityOf(item model.Item) float64 {
	if raw, ok := item.Metadata["similarity"]; ok {
		if f, ok := raw.(float64); ok {
			return f
		}
	}
	return item.Score
}

var (
	dotLeaderRe    = regexp.MustCompile(`(?m)^.+\.{3,}\s*\d+\s*$`)
	tableBorderRe  = regexp.MustCompile(`(?m)^[\s|:+\-]{4,}$`)
	markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

var tocKeywords = []string{"contents", "indice", "índice", "contenido", "table of contents"}

// NoiseResult reports how many rows structural-noise reduction dropped.
type NoiseResult struct {
	Dropped int
}

// ReduceStructuralNoise drops structurally non-informative rows
// (TOC/frontmatter flags, dot-leader TOC content) and, for surviving
// rows, strips markdown table borders and link syntax and collapses
// whitespace.
func ReduceStructuralNoise(items []model.Item) ([]model.Item, NoiseResult) {
	var result NoiseResult
	out := make([]model.Item, 0, len(items))

	for _, item := range items {
		if item.Metadata != nil {
			if v, ok := item.Metadata["retrieval_eligible"].(bool); ok && !v {
				result.Dropped++
				continue
			}
		}
		if item.MetaBool("is_toc") || item.MetaBool("is_frontmatter") {
			result.Dropped++
			continue
		}
		if isStructuralNoise(item.Content) {
			result.Dropped++
			continue
		}

		cleaned := item
		cleaned.Content = cleanContent(item.Content)
		out = append(out, cleaned)
	}

	return out, result
}

func isStructuralNoise(content string) bool {
	dotLeaderLines := dotLeaderRe.FindAllString(content, -1)
	if len(dotLeaderLines) >= 2 {
		return true
	}
	if len(dotLeaderLines) >= 1 {
		lower := strings.ToLower(content)
		for _, keyword := range tocKeywords {
			if strings.Contains(lower, keyword) {
				return true
			}
		}
	}
	return false
}

func cleanContent(content string) string {
	lines := strings.Split(content, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if tableBorderRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	cleaned := strings.Join(kept, "\n")
	cleaned = markdownLinkRe.ReplaceAllString(cleaned, "$1")
	cleaned = whitespaceRe.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}
