package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"gorm.io/gorm"

	"fleet-policy/pkg/automation"
	"fleet-policy/pkg/model"
)

// AutomationHandler exposes the policy surface under /automation.
type AutomationHandler struct {
	DB         *gorm.DB
	Dispatcher *automation.Dispatcher
}

type policyRequest struct {
	Name     string `json:"name"`
	Desc     string `json:"desc"`
	Active   bool   `json:"active"`
	Enforced bool   `json:"enforced"`
	CopyID   uint   `json:"copyId,omitempty"`
}

type policyTableRow struct {
	model.Policy
	AgentsCount int   `json:"agentsCount"`
	ChecksCount int64 `json:"checksCount"`
	TasksCount  int64 `json:"tasksCount"`
}

func (h *AutomationHandler) RegisterRoutes(mux *http.ServeMux, authz func(r *http.Request) bool) {
	mux.HandleFunc("GET /automation/policies/{$}", protected(authz, h.listPolicies))
	mux.HandleFunc("POST /automation/policies/{$}", protected(authz, h.addPolicy))
	mux.HandleFunc("GET /automation/policies/overview/{$}", protected(authz, h.policyOverview))
	mux.HandleFunc("GET /automation/policies/{id}/{$}", protected(authz, h.getPolicy))
	mux.HandleFunc("PUT /automation/policies/{id}/{$}", protected(authz, h.updatePolicy))
	mux.HandleFunc("DELETE /automation/policies/{id}/{$}", protected(authz, h.deletePolicy))
	mux.HandleFunc("GET /automation/policies/{id}/related/{$}", protected(authz, h.policyRelated))
	mux.HandleFunc("GET /automation/{id}/policychecks/{$}", protected(authz, h.policyChecks))
	mux.HandleFunc("GET /automation/{id}/policyautomatedtasks/{$}", protected(authz, h.policyTasks))
}

func (h *AutomationHandler) listPolicies(w http.ResponseWriter, _ *http.Request) {
	var policies []model.Policy
	if err := h.DB.Order("id").Find(&policies).Error; err != nil {
		http.Error(w, "failed to list policies", http.StatusInternalServerError)
		return
	}
	rows := make([]policyTableRow, 0, len(policies))
	for _, p := range policies {
		row := policyTableRow{Policy: p}
		h.DB.Model(&model.Check{}).Where("policy_id = ?", p.ID).Count(&row.ChecksCount)
		h.DB.Model(&model.AutomatedTask{}).Where("policy_id = ?", p.ID).Count(&row.TasksCount)
		if agents, err := automation.RelatedAgents(h.DB, p.ID); err == nil {
			row.AgentsCount = len(agents)
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *AutomationHandler) getPolicy(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.loadPolicy(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *AutomationHandler) addPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	var count int64
	h.DB.Model(&model.Policy{}).Where("name = ?", req.Name).Count(&count)
	if count > 0 {
		http.Error(w, "policy name already exists", http.StatusBadRequest)
		return
	}
	policy := model.Policy{Name: req.Name, Desc: req.Desc, Active: req.Active, Enforced: req.Enforced}
	if err := h.DB.Create(&policy).Error; err != nil {
		http.Error(w, "failed to create policy", http.StatusInternalServerError)
		return
	}
	if req.CopyID != 0 {
		if err := h.copyPolicyItems(req.CopyID, policy.ID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				http.Error(w, "copy source not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to copy policy items", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, policy)
}

// copyPolicyItems deep-copies another policy's checks and tasks into dst. The
// copies are independent templates; editing one policy never leaks into the
// other.
func (h *AutomationHandler) copyPolicyItems(srcID, dstID uint) error {
	var src model.Policy
	if err := h.DB.First(&src, srcID).Error; err != nil {
		return err
	}
	return h.DB.Transaction(func(tx *gorm.DB) error {
		var checks []model.Check
		if err := tx.Where("policy_id = ?", srcID).Find(&checks).Error; err != nil {
			return err
		}
		for _, c := range checks {
			c.ID = 0
			c.PolicyID = &dstID
			if err := tx.Create(&c).Error; err != nil {
				return err
			}
		}
		var tasks []model.AutomatedTask
		if err := tx.Where("policy_id = ?", srcID).Find(&tasks).Error; err != nil {
			return err
		}
		for _, t := range tasks {
			t.ID = 0
			t.PolicyID = &dstID
			if err := tx.Create(&t).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *AutomationHandler) updatePolicy(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.loadPolicy(w, r)
	if !ok {
		return
	}
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Name != policy.Name {
		var count int64
		h.DB.Model(&model.Policy{}).Where("name = ? AND id <> ?", req.Name, policy.ID).Count(&count)
		if count > 0 {
			http.Error(w, "policy name already exists", http.StatusBadRequest)
			return
		}
	}
	// Propagation only runs when active or enforced flip; name/desc edits
	// never touch agents.
	propagate := policy.Active != req.Active || policy.Enforced != req.Enforced
	policy.Name = req.Name
	policy.Desc = req.Desc
	policy.Active = req.Active
	policy.Enforced = req.Enforced
	if err := h.DB.Save(policy).Error; err != nil {
		http.Error(w, "failed to update policy", http.StatusInternalServerError)
		return
	}
	if propagate {
		if err := h.Dispatcher.Dispatch(automation.PolicyChanged{PolicyID: policy.ID, CreateTasks: true}); err != nil {
			http.Error(w, "failed to queue propagation", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *AutomationHandler) deletePolicy(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.loadPolicy(w, r)
	if !ok {
		return
	}
	// Capture the affected agents before attachments are cleared.
	agents, err := automation.RelatedAgents(h.DB, policy.ID)
	if err != nil {
		http.Error(w, "failed to compute scope", http.StatusInternalServerError)
		return
	}
	agentIDs := make([]uint, 0, len(agents))
	for _, a := range agents {
		agentIDs = append(agentIDs, a.ID)
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		for _, col := range []string{"server_policy_id", "workstation_policy_id"} {
			if err := tx.Model(&model.Client{}).Where(col+" = ?", policy.ID).Update(col, nil).Error; err != nil {
				return err
			}
			if err := tx.Model(&model.Site{}).Where(col+" = ?", policy.ID).Update(col, nil).Error; err != nil {
				return err
			}
			if err := tx.Model(&model.CoreSettings{}).Where(col+" = ?", policy.ID).Update(col, nil).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&model.Agent{}).Where("policy_id = ?", policy.ID).Update("policy_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("policy_id = ?", policy.ID).Delete(&model.Check{}).Error; err != nil {
			return err
		}
		if err := tx.Where("policy_id = ?", policy.ID).Delete(&model.AutomatedTask{}).Error; err != nil {
			return err
		}
		if err := tx.Where("policy_id = ?", policy.ID).Delete(&model.WinUpdatePolicy{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Policy{}, policy.ID).Error
	})
	if err != nil {
		http.Error(w, "failed to delete policy", http.StatusInternalServerError)
		return
	}
	if err := h.Dispatcher.Dispatch(automation.PolicyDeleted{AgentIDs: agentIDs}); err != nil {
		http.Error(w, "failed to queue propagation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AutomationHandler) policyRelated(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.loadPolicy(w, r)
	if !ok {
		return
	}
	rel, err := automation.RelatedToPolicy(h.DB, policy.ID)
	if err != nil {
		http.Error(w, "failed to compute related", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// policyOverview returns every client with its sites and their per-role
// policy references, the raw material for the inheritance rollup view.
func (h *AutomationHandler) policyOverview(w http.ResponseWriter, _ *http.Request) {
	var clients []model.Client
	if err := h.DB.Preload("Sites").Order("id").Find(&clients).Error; err != nil {
		http.Error(w, "failed to list clients", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (h *AutomationHandler) policyChecks(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.loadPolicy(w, r)
	if !ok {
		return
	}
	var checks []model.Check
	if err := h.DB.Where("policy_id = ?", policy.ID).Order("id").Find(&checks).Error; err != nil {
		http.Error(w, "failed to list checks", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, checks)
}

func (h *AutomationHandler) policyTasks(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.loadPolicy(w, r)
	if !ok {
		return
	}
	var tasks []model.AutomatedTask
	if err := h.DB.Where("policy_id = ?", policy.ID).Order("id").Find(&tasks).Error; err != nil {
		http.Error(w, "failed to list tasks", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// loadPolicy resolves {id} to a policy, writing 404/400 on failure.
func (h *AutomationHandler) loadPolicy(w http.ResponseWriter, r *http.Request) (*model.Policy, bool) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return nil, false
	}
	var policy model.Policy
	if err := h.DB.First(&policy, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "policy not found", http.StatusNotFound)
		} else {
			http.Error(w, "failed to load policy", http.StatusInternalServerError)
		}
		return nil, false
	}
	return &policy, true
}
