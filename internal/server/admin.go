package server

import (
	"log/slog"
	"net/http"

	"github.com/54b3r/primaria-go/internal/audit"
	"github.com/54b3r/primaria-go/internal/logging"
)

// handleMunicipalities handles GET /api/municipalities. It lists the active
// tenants the widget can be embedded for.
func (s *Server) handleMunicipalities(w http.ResponseWriter, r *http.Request) {
	tenants := s.tenants.List(r.Context())
	out := make([]municipality, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, municipalityOf(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCacheStats handles GET /api/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "response cache is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// handleCacheClear handles POST /api/cache/clear. The body is optional; a
// municipality_id restricts the clear to that tenant.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "response cache is disabled")
		return
	}
	var req cacheClearRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var removed int
	if req.MunicipalityID == "" {
		removed = s.cache.FlushAll(r.Context())
	} else {
		removed = s.cache.Flush(r.Context(), req.MunicipalityID)
	}
	audit.LogAdminAction(r.Context(), logging.FromContext(r.Context()), audit.SourceAPI,
		"cache.clear", req.MunicipalityID, slog.Int("removed", removed))
	writeJSON(w, http.StatusOK, cacheClearResponse{Removed: removed})
}

// handleDocumentsChanged handles POST /api/documents/changed. It applies the
// configured invalidation policy to the listed municipalities.
func (s *Server) handleDocumentsChanged(w http.ResponseWriter, r *http.Request) {
	var req documentsChangedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.MunicipalityIDs) == 0 {
		writeError(w, http.StatusBadRequest, "municipality_ids is required")
		return
	}
	n := s.asker.DocumentsChanged(r.Context(), req.MunicipalityIDs)
	for _, id := range req.MunicipalityIDs {
		audit.LogAdminAction(r.Context(), logging.FromContext(r.Context()), audit.SourceAPI,
			"documents.changed", id, slog.Int("invalidated_total", n))
	}
	writeJSON(w, http.StatusOK, documentsChangedResponse{Invalidated: n})
}
