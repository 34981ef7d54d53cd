package api

import (
	"bytes"
	"net/http"

	"slsdispatch/services/reports"
)

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	rng, err := reports.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	lines, err := a.reports.Build(r.Context(), rng, a.now().In(a.config.Location))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := reports.WriteCSV(&buf, lines); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="utilization.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleRulesReload(w http.ResponseWriter, r *http.Request) {
	counts, err := a.names.Reload(r.Context())
	if err != nil {
		a.log.Warn().Err(err).Msg("rule reload failed, keeping previous rules")
		respondError(w, http.StatusUnprocessableEntity, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "counts": counts})
}
