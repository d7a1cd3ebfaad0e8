// Package planner classifies query intent ahead of dispatch, producing
// a Retrieval Plan that sizes the fan-out and flags when literal
// normative evidence is required.
package planner

import (
	"regexp"

	"github.com/normcite/retrieval-core/internal/model"
)

var (
	listMarkerRe       = regexp.MustCompile(`(?i)\b(list|enumerate|lista|enumera)\b`)
	comparativeMarkerRe = regexp.MustCompile(`(?i)\b(versus|vs\.?|compare|compara|difference|diferencia)\b`)
	literalMarkerRe    = regexp.MustCompile(`(?i)\b(exact(ly)?|verbatim|literal|textual(mente)?|quote|cita)\b`)
	clauseRe           = regexp.MustCompile(`\d+(\.\d+)+`)
)

const (
	defaultChunkK      = 8
	defaultChunkFetchK = 24
	defaultSummaryK    = 3
)

// Classify inspects the query text and its scope resolution to produce
// a Retrieval Plan. Ambiguous scope always wins: when the resolver
// could not settle on a standard, planning stops there and the caller
// is expected to short-circuit with AMBIGUOUS_SCOPE.
func Classify(query string, scope model.ScopeResolution) model.Plan {
	if scope.RequiresScopeClarification {
		return model.Plan{
			Mode:               model.ModeAmbiguousScope,
			RequestedStandards: scope.RequestedStandards,
		}
	}

	hasClause := clauseRe.MatchString(query)
	hasStandard := len(scope.RequestedStandards) > 0

	plan := model.Plan{
		ChunkK:      defaultChunkK,
		ChunkFetchK: defaultChunkFetchK,
		SummaryK:    defaultSummaryK,
		RequestedStandards: scope.RequestedStandards,
	}

	switch {
	case hasStandard && (hasClause || literalMarkerRe.MatchString(query)):
		plan.Mode = model.ModeLiteralNormative
		plan.RequireLiteralEvidence = true
		plan.ChunkK = defaultChunkK + 4
		plan.ChunkFetchK = defaultChunkFetchK + 12
	case listMarkerRe.MatchString(query):
		plan.Mode = model.ModeLiteralList
		plan.RequireLiteralEvidence = true
		plan.ChunkK = defaultChunkK + 2
	case comparativeMarkerRe.MatchString(query) || len(scope.RequestedStandards) > 1:
		plan.Mode = model.ModeComparative
		plan.ChunkK = defaultChunkK + 4
		plan.SummaryK = defaultSummaryK + 2
	default:
		plan.Mode = model.ModeExplanatory
		plan.SummaryK = defaultSummaryK + 1
	}

	return plan
}
