package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normcite/retrieval-core/internal/model"
)

func TestClassify_AmbiguousScopeShortCircuits(t *testing.T) {
	plan := Classify("what does clause 4.2 say", model.ScopeResolution{
		RequiresScopeClarification: true,
		RequestedStandards:         nil,
	})
	assert.Equal(t, model.ModeAmbiguousScope, plan.Mode)
	assert.Zero(t, plan.ChunkK)
}

func TestClassify_LiteralNormative(t *testing.T) {
	scope := model.ScopeResolution{RequestedStandards: []string{"ISO 9001"}}
	plan := Classify("quote clause 8.5.1 of ISO 9001 verbatim", scope)
	require.Equal(t, model.ModeLiteralNormative, plan.Mode)
	assert.True(t, plan.RequireLiteralEvidence)
	assert.Equal(t, defaultChunkK+4, plan.ChunkK)
	assert.Equal(t, defaultChunkFetchK+12, plan.ChunkFetchK)
}

func TestClassify_LiteralList(t *testing.T) {
	scope := model.ScopeResolution{RequestedStandards: []string{"ISO 9001"}}
	plan := Classify("list the documented procedures", scope)
	require.Equal(t, model.ModeLiteralList, plan.Mode)
	assert.True(t, plan.RequireLiteralEvidence)
}

func TestClassify_ComparativeByMarker(t *testing.T) {
	scope := model.ScopeResolution{RequestedStandards: []string{"ISO 9001"}}
	plan := Classify("compare the quality and environmental requirements", scope)
	assert.Equal(t, model.ModeComparative, plan.Mode)
}

func TestClassify_ComparativeByMultipleStandards(t *testing.T) {
	scope := model.ScopeResolution{RequestedStandards: []string{"ISO 9001", "ISO 14001"}}
	plan := Classify("what do these standards require about records", scope)
	assert.Equal(t, model.ModeComparative, plan.Mode)
}

func TestClassify_DefaultsToExplanatory(t *testing.T) {
	scope := model.ScopeResolution{RequestedStandards: []string{"ISO 9001"}}
	plan := Classify("why does management review matter", scope)
	assert.Equal(t, model.ModeExplanatory, plan.Mode)
	assert.Equal(t, defaultSummaryK+1, plan.SummaryK)
}
