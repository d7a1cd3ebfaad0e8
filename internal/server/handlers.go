package server

import (
	"encoding/json"
	"net/http"

	"github.com/normcite/retrieval-core/internal/answer"
	"github.com/normcite/retrieval-core/internal/apierr"
	"github.com/normcite/retrieval-core/internal/auth"
	"github.com/normcite/retrieval-core/internal/comprehensive"
	"github.com/normcite/retrieval-core/internal/hybrid"
	"github.com/normcite/retrieval-core/internal/model"
	"github.com/normcite/retrieval-core/internal/multiquery"
	"github.com/normcite/retrieval-core/internal/scope"
)

// Handlers implements the six HTTP endpoints of the retrieval surface.
type Handlers struct {
	Resolver          *scope.Resolver
	Validator         *scope.Validator
	HybridRetriever   *hybrid.Retriever
	MultiQueryCoord   *multiquery.Coordinator
	ComprehensiveCoord *comprehensive.Coordinator
	AnswerHandler     *answer.Handler
	RRFK              int
}

type hybridRequest struct {
	model.Query
	Filters map[string]any `json:"filters,omitempty"`
}

// ValidateScope handles POST /retrieval/validate-scope.
func (h *Handlers) ValidateScope(w http.ResponseWriter, r *http.Request) {
	var req hybridRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result := h.Validator.Validate(req.Text, scope.RawFilters(req.Filters))
	writeJSON(w, http.StatusOK, result)
}

// Hybrid handles POST /retrieval/hybrid.
func (h *Handlers) Hybrid(w http.ResponseWriter, r *http.Request) {
	var req hybridRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.HybridRetriever.Retrieve(r.Context(), req.Query, scope.RawFilters(req.Filters))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": res.Items, "trace": res.Trace})
}

type multiQueryRequest struct {
	TenantID string `json:"tenant_id"`
	Queries  []struct {
		Query   string         `json:"query"`
		Filters map[string]any `json:"filters,omitempty"`
	} `json:"queries"`
	Merge struct {
		RRFK  int `json:"rrf_k"`
		TopK  int `json:"top_k"`
	} `json:"merge"`
}

// MultiQuery handles POST /retrieval/multi-query.
func (h *Handlers) MultiQuery(w http.ResponseWriter, r *http.Request) {
	var req multiQueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	subQueries := make([]multiquery.SubQuery, len(req.Queries))
	for i, sq := range req.Queries {
		subQueries[i] = multiquery.SubQuery{
			Query:   model.Query{Text: sq.Query, TenantID: req.TenantID},
			Filters: scope.RawFilters(sq.Filters),
		}
	}

	rrfK := req.Merge.RRFK
	if rrfK == 0 {
		rrfK = h.RRFK
	}

	res, err := h.MultiQueryCoord.Execute(r.Context(), subQueries, multiquery.MergeOptions{RRFK: rrfK, TopK: req.Merge.TopK})
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      res.Items,
		"subqueries": res.SubQueries,
		"partial":    res.Partial,
		"trace":      res.Trace,
	})
}

// Comprehensive handles POST /retrieval/comprehensive.
func (h *Handlers) Comprehensive(w http.ResponseWriter, r *http.Request) {
	var req hybridRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resolution := h.Resolver.Resolve(req.Text)
	res, err := h.ComprehensiveCoord.Run(r.Context(), req.Query, scope.RawFilters(req.Filters), resolution.RequestedStandards, req.RetrievalPolicy)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      res.Items,
		"trace":      res.Trace,
		"latency_ms": res.LatencyMS,
	})
}

type explainRequest struct {
	hybridRequest
	TopN int `json:"top_n"`
}

// Explain handles POST /retrieval/explain: the hybrid path with each
// item's score components surfaced explicitly for debugging.
func (h *Handlers) Explain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.HybridRetriever.Retrieve(r.Context(), req.Query, scope.RawFilters(req.Filters))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}

	rows := res.Items
	if req.TopN > 0 && req.TopN < len(rows) {
		rows = rows[:req.TopN]
	}

	items := make([]map[string]any, 0, len(rows))
	for _, item := range rows {
		items = append(items, map[string]any{
			"source":   item.Source,
			"content":  item.Content,
			"score":    item.Score,
			"metadata": item.Metadata,
			"score_components": map[string]any{
				"similarity":           item.Metadata["similarity"],
				"jina_relevance_score": item.Metadata["jina_relevance_score"],
				"score_space":          item.Metadata["score_space"],
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "trace": res.Trace})
}

type answerRequest struct {
	Query    string         `json:"query"`
	TenantID string         `json:"tenant_id"`
	Filters  map[string]any `json:"filters,omitempty"`
}

// Answer handles POST /knowledge/answer.
func (h *Handlers) Answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TenantID == "" {
		writeAPIError(w, r, apierr.New(http.StatusBadRequest, "TENANT_ID_REQUIRED", "tenant_id is required"))
		return
	}

	res, err := h.AnswerHandler.Answer(r.Context(), model.Query{Text: req.Query, TenantID: req.TenantID}, scope.RawFilters(req.Filters))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeAPIError(w, r, apierr.ErrScopeValidationFailed("request body is required"))
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIError(w, r, apierr.ErrScopeValidationFailed("malformed JSON body: "+err.Error()))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.New(http.StatusInternalServerError, "INTERNAL", err.Error())
	}
	if correlationID, ok := auth.CorrelationFromContext(r.Context()); ok {
		apiErr = apiErr.WithRequestID(correlationID)
	}
	writeJSON(w, apiErr.HTTPStatus(), apiErr)
}
