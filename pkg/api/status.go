package api

import (
	"net/http"

	"fleet-policy/pkg/model"
)

// RegisterStatusRoutes exposes the live agent-instance views for policy
// templates and the immediate-run trigger for task templates.
func (h *AutomationHandler) RegisterStatusRoutes(mux *http.ServeMux, authz func(r *http.Request) bool) {
	mux.HandleFunc("PATCH /automation/policycheckstatus/{id}/check/{$}", protected(authz, h.policyCheckStatus))
	mux.HandleFunc("PATCH /automation/policyautomatedtaskstatus/{id}/task/{$}", protected(authz, h.policyTaskStatus))
	mux.HandleFunc("PUT /automation/runwintask/{id}/{$}", protected(authz, h.runTask))
}

// policyCheckStatus lists the agent instances derived from one check
// template.
func (h *AutomationHandler) policyCheckStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	checks := []model.Check{}
	if err := h.DB.Where("parent_check = ?", id).Order("id").Find(&checks).Error; err != nil {
		http.Error(w, "failed to list check status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, checks)
}

func (h *AutomationHandler) policyTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	tasks := []model.AutomatedTask{}
	if err := h.DB.Where("parent_task = ?", id).Order("id").Find(&tasks).Error; err != nil {
		http.Error(w, "failed to list task status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// runTask triggers immediate execution of every agent instance derived from
// the task template.
func (h *AutomationHandler) runTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	instances, err := h.Dispatcher.RunTaskInstances(id)
	if err != nil {
		http.Error(w, "failed to run tasks", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"triggered": len(instances)})
}
