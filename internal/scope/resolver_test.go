package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_ExplicitStandardReference(t *testing.T) {
	r := New(nil)
	res := r.Resolve("What does ISO-9001 say about document control?")
	assert.Equal(t, []string{"ISO 9001"}, res.RequestedStandards)
	assert.False(t, res.RequiresScopeClarification)
}

func TestResolve_BareClauseWithoutStandardRequiresClarification(t *testing.T) {
	r := New(nil)
	res := r.Resolve("what does clause 4.2 say")
	assert.True(t, res.RequiresScopeClarification)
	assert.Empty(t, res.RequestedStandards)
}

func TestResolve_IsIdempotentRegardlessOfBareNumberCount(t *testing.T) {
	r := New(nil)
	query := "compare 9001 and 14001 and 45001 requirements"
	var first []string
	for i := 0; i < 20; i++ {
		res := r.Resolve(query)
		if i == 0 {
			first = res.RequestedStandards
			continue
		}
		require.Equal(t, first, res.RequestedStandards, "resolve(query) must be deterministic across repeated calls")
	}
	assert.Equal(t, []string{"ISO 9001", "ISO 14001", "ISO 45001"}, first)
}

func TestResolve_BareNumberWordBoundary(t *testing.T) {
	r := New(nil)
	res := r.Resolve("see document 190014001x for details")
	assert.Empty(t, res.RequestedStandards)
}

func TestResolve_SuggestsByHintToken(t *testing.T) {
	r := New(nil)
	res := r.Resolve("necesitamos revisar el aspecto ambiental del sitio")
	assert.Contains(t, res.SuggestedScopes, "ISO 14001")
}

func TestCanonicalize(t *testing.T) {
	r := New(nil)

	canon, ok := r.Canonicalize("ISO-9001")
	require.True(t, ok)
	assert.Equal(t, "ISO 9001", canon)

	canon, ok = r.Canonicalize("9001")
	require.True(t, ok)
	assert.Equal(t, "ISO 9001", canon)

	_, ok = r.Canonicalize("99999")
	assert.False(t, ok)
}
