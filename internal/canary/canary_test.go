package canary

import (
	"log/slog"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normcite/retrieval-core/internal/model"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheck_PassesSameTenantRows(t *testing.T) {
	items := []model.Item{
		{Metadata: map[string]any{"tenant_id": "tenant-a"}},
		{Metadata: map[string]any{"institution_id": "tenant-a"}},
	}
	err := Check(silentLogger(), "tenant-a", items)
	assert.NoError(t, err)
}

func TestCheck_PassesGlobalRowsWithNoTenant(t *testing.T) {
	items := []model.Item{
		{Metadata: map[string]any{"is_global": true}},
	}
	err := Check(silentLogger(), "tenant-a", items)
	assert.NoError(t, err)
}

func TestCheck_FailsOnCrossTenantLeak(t *testing.T) {
	items := []model.Item{
		{Metadata: map[string]any{"tenant_id": "tenant-b"}, Source: "doc-1"},
	}
	err := Check(silentLogger(), "tenant-a", items)
	require.Error(t, err)
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "tenant-a", violation.TenantID)
	assert.Equal(t, "tenant-b", violation.DocTenant)
}

func TestCheck_FailsOnTenantlessNonGlobalRow(t *testing.T) {
	items := []model.Item{{Metadata: map[string]any{}}}
	err := Check(silentLogger(), "tenant-a", items)
	require.Error(t, err)
}
