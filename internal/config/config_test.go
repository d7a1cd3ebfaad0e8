package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		MultiQueryMaxParallel:           4,
		MultiQuerySubqueryTimeoutMS:     8000,
		MultiQueryScopePenaltyThreshold: 0.95,
		CoverageGraphExpansionMaxHops:   2,
		EmbeddingCacheMaxSize:           4000,
		EmbeddingCacheTTLSeconds:        300,
		Environment:                     "development",
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_RejectsOutOfRangeMaxParallel(t *testing.T) {
	cfg := validConfig()
	cfg.MultiQueryMaxParallel = 9
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsSubqueryTimeoutBelowFloor(t *testing.T) {
	cfg := validConfig()
	cfg.MultiQuerySubqueryTimeoutMS = 100
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsScopePenaltyThresholdOutOfUnitRange(t *testing.T) {
	cfg := validConfig()
	cfg.MultiQueryScopePenaltyThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsGraphHopsOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.CoverageGraphExpansionMaxHops = 5
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsLocalEmbeddingProviderWhenDeployed(t *testing.T) {
	cfg := validConfig()
	cfg.Environment = "production"
	cfg.EmbeddingProviderDefault = "LOCAL"
	assert.Error(t, cfg.Validate())
}

func TestIsDeployed(t *testing.T) {
	cfg := validConfig()
	assert.False(t, cfg.IsDeployed())
	cfg.Environment = "staging"
	assert.True(t, cfg.IsDeployed())
	cfg.Environment = "production"
	assert.True(t, cfg.IsDeployed())
}
