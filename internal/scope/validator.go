package scope

import (
	"fmt"
	"time"

	"github.com/normcite/retrieval-core/internal/apierr"
	"github.com/normcite/retrieval-core/internal/model"
)

var allowedFilterKeys = map[string]bool{
	"metadata":         true,
	"time_range":       true,
	"source_standard":  true,
	"source_standards": true,
}

// ValidationResult is the outcome of validating a query's scope filters.
type ValidationResult struct {
	Valid           bool                  `json:"valid"`
	NormalizedScope []string              `json:"normalized_scope"`
	Violations      []*apierr.Error       `json:"violations"`
	Warnings        []string              `json:"warnings"`
	QueryScope      model.ScopeResolution `json:"query_scope"`
}

// Validator rejects forbidden filter keys and normalizes the rest.
type Validator struct {
	resolver *Resolver
}

// NewValidator builds a Validator backed by the given Resolver.
func NewValidator(resolver *Resolver) *Validator {
	return &Validator{resolver: resolver}
}

// RawFilters is the loosely-typed shape a request arrives in before
// being validated into model.ScopeFilters. Only allow-listed keys are
// read; anything else present is reported as INVALID_SCOPE_FILTER.
type RawFilters map[string]any

// Validate checks filter keys against the allow-list, normalizes
// metadata/time_range/source_standard(s), and resolves query scope.
func (v *Validator) Validate(query string, raw RawFilters) ValidationResult {
	result := ValidationResult{Valid: true}

	for key := range raw {
		if !allowedFilterKeys[key] {
			result.Valid = false
			result.Violations = append(result.Violations, apierr.ErrInvalidScopeFilter(fmt.Sprintf("unknown filter key %q", key)))
		}
	}

	if rawMeta, ok := raw["metadata"]; ok {
		meta, ok := rawMeta.(map[string]any)
		if !ok {
			result.Valid = false
			result.Violations = append(result.Violations, apierr.ErrInvalidScopeFilter("metadata must be an object"))
		} else {
			for k, val := range meta {
				if !isScalar(val) {
					result.Valid = false
					result.Violations = append(result.Violations, apierr.ErrInvalidScopeFilter(fmt.Sprintf("metadata.%s must be a scalar", k)))
				}
			}
		}
	}

	if rawTR, ok := raw["time_range"]; ok {
		tr, ok := rawTR.(map[string]any)
		if !ok {
			result.Valid = false
			result.Violations = append(result.Violations, apierr.ErrInvalidTimeRange("time_range must be an object"))
		} else {
			for _, field := range []string{"from", "to"} {
				if raw, ok := tr[field]; ok {
					s, ok := raw.(string)
					if !ok {
						result.Valid = false
						result.Violations = append(result.Violations, apierr.ErrInvalidTimeRange(fmt.Sprintf("%s must be a string", field)))
						continue
					}
					if _, err := time.Parse(time.RFC3339, s); err != nil {
						result.Valid = false
						result.Violations = append(result.Violations, apierr.ErrInvalidTimeRange(fmt.Sprintf("%s is not ISO-8601 UTC: %v", field, err)))
					}
				}
			}
		}
	}

	var standardTokens []string
	if s, ok := raw["source_standard"].(string); ok && s != "" {
		standardTokens = append(standardTokens, s)
	}
	if list, ok := raw["source_standards"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				standardTokens = append(standardTokens, s)
			}
		}
	}
	for _, tok := range standardTokens {
		canon, ok := v.resolver.Canonicalize(tok)
		if !ok {
			result.Valid = false
			result.Violations = append(result.Violations, apierr.ErrInvalidScopeFilter(fmt.Sprintf("unrecognized source_standard %q", tok)))
			continue
		}
		result.NormalizedScope = append(result.NormalizedScope, canon)
	}

	result.QueryScope = v.resolver.Resolve(query)
	for _, std := range result.QueryScope.RequestedStandards {
		found := false
		for _, existing := range result.NormalizedScope {
			if existing == std {
				found = true
				break
			}
		}
		if !found {
			result.NormalizedScope = append(result.NormalizedScope, std)
		}
	}

	return result
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}
