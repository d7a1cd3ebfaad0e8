// Package canary implements the post-retrieval leak canary: the last
// line of defense ensuring no cross-tenant row ever reaches a caller.
package canary

import (
	"fmt"
	"log/slog"

	"github.com/normcite/retrieval-core/internal/model"
)

// Violation is a fatal security error raised when a row fails the
// tenant-isolation invariant. It is never recovered.
type Violation struct {
	Reason     string
	TenantID   string
	DocTenant  string
	DocumentID string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: requesting tenant=%s doc tenant=%s doc=%s", v.Reason, v.TenantID, v.DocTenant, v.DocumentID)
}

// Check verifies every item either belongs to the requesting tenant or
// is explicitly marked global. It logs at critical (Error) level
// before returning, and returns the first violation found.
func Check(logger *slog.Logger, tenantID string, items []model.Item) error {
	for _, item := range items {
		docTenant := resolveDocTenant(item)
		isGlobal := item.MetaBool("is_global")

		if docTenant == "" && !isGlobal {
			v := &Violation{
				Reason:     "data-integrity violation: row has no tenant and is not global",
				TenantID:   tenantID,
				DocTenant:  "",
				DocumentID: documentID(item),
			}
			logger.Error("leak canary violation", "reason", v.Reason, "tenant_id", tenantID, "document_id", v.DocumentID)
			return v
		}

		if docTenant != "" && docTenant != tenantID {
			v := &Violation{
				Reason:     "cross-tenant leak detected",
				TenantID:   tenantID,
				DocTenant:  docTenant,
				DocumentID: documentID(item),
			}
			logger.Error("leak canary violation", "reason", v.Reason, "tenant_id", tenantID, "doc_tenant", docTenant, "document_id", v.DocumentID)
			return v
		}
	}
	return nil
}

func resolveDocTenant(item model.Item) string {
	if t := item.MetaString("tenant_id"); t != "" {
		return t
	}
	if t := item.MetaString("institution_id"); t != "" {
		return t
	}
	return ""
}

func documentID(item model.Item) string {
	if id := item.MetaString("document_id"); id != "" {
		return id
	}
	return item.MetaString("id")
}
