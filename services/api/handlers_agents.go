package api

import (
	"net/http"

	"slsdispatch/services/fleet"
	"slsdispatch/services/heartbeat"
)

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req heartbeat.RegisterRequest
	if err := decodeLenient(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	agent, err := a.heartbeats.Register(r.Context(), req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"agent_id": agent.AgentID,
	})
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var report fleet.HeartbeatReport
	if err := decodeLenient(w, r, &report); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	agent, err := a.heartbeats.Process(r.Context(), report)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"active_task_id": agent.ActiveTaskID,
	})
}

func (a *API) handleEvent(w http.ResponseWriter, r *http.Request) {
	var evt fleet.AgentEvent
	if err := decodeLenient(w, r, &evt); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.heartbeats.HandleEvent(r.Context(), evt); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, a.coordinator.Workers())
}
