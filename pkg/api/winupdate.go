package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"fleet-policy/pkg/model"
)

type winUpdateRequest struct {
	Policy             uint    `json:"policy"`
	Critical           *string `json:"critical"`
	Important          *string `json:"important"`
	Moderate           *string `json:"moderate"`
	Low                *string `json:"low"`
	Other              *string `json:"other"`
	RunTimeHour        *int    `json:"run_time_hour"`
	RunTimeFrequency   *string `json:"run_time_frequency"`
	RunTimeDays        []int   `json:"run_time_days"`
	RunTimeDay         *string `json:"run_time_day"`
	RebootAfterInstall *string `json:"reboot_after_install"`
	ReprocessFailed    *bool   `json:"reprocess_failed"`
}

type resetPatchRequest struct {
	Site   *uint `json:"site"`
	Client *uint `json:"client"`
}

func (h *AutomationHandler) RegisterWinUpdateRoutes(mux *http.ServeMux, authz func(r *http.Request) bool) {
	mux.HandleFunc("POST /automation/winupdatepolicy/{$}", protected(authz, h.addWinUpdatePolicy))
	mux.HandleFunc("PATCH /automation/winupdatepolicy/reset/{$}", protected(authz, h.resetWinUpdatePolicies))
	mux.HandleFunc("PUT /automation/winupdatepolicy/{id}/{$}", protected(authz, h.updateWinUpdatePolicy))
	mux.HandleFunc("DELETE /automation/winupdatepolicy/{id}/{$}", protected(authz, h.deleteWinUpdatePolicy))
}

func (h *AutomationHandler) addWinUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req winUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Policy == 0 {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	var policy model.Policy
	if err := h.DB.First(&policy, req.Policy).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "policy not found", http.StatusNotFound)
		} else {
			http.Error(w, "failed to load policy", http.StatusInternalServerError)
		}
		return
	}
	patch := model.WinUpdatePolicy{PolicyID: &policy.ID}
	patch.ResetToInherit()
	if !applyWinUpdateFields(&patch, &req) {
		http.Error(w, "invalid field value", http.StatusBadRequest)
		return
	}
	if err := h.DB.Create(&patch).Error; err != nil {
		http.Error(w, "failed to create patch policy", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, patch)
}

func (h *AutomationHandler) updateWinUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	patch, ok := h.loadWinUpdatePolicy(w, r)
	if !ok {
		return
	}
	var req winUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if !applyWinUpdateFields(patch, &req) {
		http.Error(w, "invalid field value", http.StatusBadRequest)
		return
	}
	if err := h.DB.Save(patch).Error; err != nil {
		http.Error(w, "failed to update patch policy", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, patch)
}

func (h *AutomationHandler) deleteWinUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	patch, ok := h.loadWinUpdatePolicy(w, r)
	if !ok {
		return
	}
	if err := h.DB.Delete(&model.WinUpdatePolicy{}, patch.ID).Error; err != nil {
		http.Error(w, "failed to delete patch policy", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resetWinUpdatePolicies flips agent-level patch settings back to inherit.
// The scope narrows by site or client id; an empty body means no filter and
// resets every agent. That is the documented meaning, not a fallback.
func (h *AutomationHandler) resetWinUpdatePolicies(w http.ResponseWriter, r *http.Request) {
	var req resetPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	q := h.DB.Model(&model.Agent{})
	switch {
	case req.Site != nil:
		q = q.Where("site_id = ?", *req.Site)
	case req.Client != nil:
		q = q.Where("site_id IN (?)", h.DB.Model(&model.Site{}).Select("id").Where("client_id = ?", *req.Client))
	}
	var agents []model.Agent
	if err := q.Find(&agents).Error; err != nil {
		http.Error(w, "failed to list agents", http.StatusInternalServerError)
		return
	}

	reset := 0
	for _, agent := range agents {
		var patches []model.WinUpdatePolicy
		if err := h.DB.Where("agent_id = ?", agent.ID).Find(&patches).Error; err != nil {
			http.Error(w, "failed to load patch policies", http.StatusInternalServerError)
			return
		}
		for i := range patches {
			patches[i].ResetToInherit()
			if err := h.DB.Save(&patches[i]).Error; err != nil {
				http.Error(w, "failed to reset patch policy", http.StatusInternalServerError)
				return
			}
			reset++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": reset})
}

// applyWinUpdateFields copies provided fields onto the record, reporting
// false on any malformed enum value.
func applyWinUpdateFields(p *model.WinUpdatePolicy, req *winUpdateRequest) bool {
	for _, f := range []struct {
		val *string
		dst *string
	}{
		{req.Critical, &p.Critical},
		{req.Important, &p.Important},
		{req.Moderate, &p.Moderate},
		{req.Low, &p.Low},
		{req.Other, &p.Other},
	} {
		if f.val == nil {
			continue
		}
		if !model.ValidApproval(*f.val) {
			return false
		}
		*f.dst = *f.val
	}
	if req.RunTimeFrequency != nil {
		if !model.ValidRunTimeFrequency(*req.RunTimeFrequency) {
			return false
		}
		p.RunTimeFrequency = *req.RunTimeFrequency
	}
	if req.RebootAfterInstall != nil {
		if !model.ValidRebootAfterInstall(*req.RebootAfterInstall) {
			return false
		}
		p.RebootAfterInstall = *req.RebootAfterInstall
	}
	if req.RunTimeHour != nil {
		if *req.RunTimeHour < 0 || *req.RunTimeHour > 23 {
			return false
		}
		p.RunTimeHour = *req.RunTimeHour
	}
	if req.RunTimeDays != nil {
		days := make([]string, 0, len(req.RunTimeDays))
		for _, d := range req.RunTimeDays {
			if d < 0 || d > 6 {
				return false
			}
			days = append(days, strconv.Itoa(d))
		}
		p.RunTimeDays = strings.Join(days, ",")
	}
	if req.RunTimeDay != nil {
		p.RunTimeDay = *req.RunTimeDay
	}
	if req.ReprocessFailed != nil {
		p.ReprocessFailed = *req.ReprocessFailed
	}
	return true
}

func (h *AutomationHandler) loadWinUpdatePolicy(w http.ResponseWriter, r *http.Request) (*model.WinUpdatePolicy, bool) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return nil, false
	}
	var patch model.WinUpdatePolicy
	if err := h.DB.First(&patch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "patch policy not found", http.StatusNotFound)
		} else {
			http.Error(w, "failed to load patch policy", http.StatusInternalServerError)
		}
		return nil, false
	}
	return &patch, true
}
