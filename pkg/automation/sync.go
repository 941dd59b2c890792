package automation

import (
	"fmt"

	"gorm.io/gorm"

	"fleet-policy/pkg/model"
)

// SyncResult counts the mutations one reconciliation pass performed. A second
// pass over unchanged state reports all zeros.
type SyncResult struct {
	ChecksCreated int
	ChecksUpdated int
	ChecksDeleted int
	TasksCreated  int
	TasksUpdated  int
	TasksDeleted  int
	Overridden    int
	Restored      int
}

// Empty reports whether the pass changed nothing.
func (r SyncResult) Empty() bool {
	return r == SyncResult{}
}

// SyncAgent reconciles one agent against its resolved policy: missing
// template copies are created, diverged copies are overwritten from their
// template, orphaned copies are removed, and the enforcement flag on
// agent-local checks is recomputed. Task propagation only runs when
// createTasks is set; it is the expensive half (task instances reach an OS
// scheduler) and callers skip it when only checks changed.
//
// All mutations for the agent commit in a single transaction, so a reader
// never observes a partially reconciled set.
func SyncAgent(db *gorm.DB, agentID uint, createTasks bool) (SyncResult, error) {
	var res SyncResult
	err := db.Transaction(func(tx *gorm.DB) error {
		var agent model.Agent
		if err := tx.First(&agent, agentID).Error; err != nil {
			return fmt.Errorf("load agent %d: %w", agentID, err)
		}
		policy, err := ResolvePolicy(tx, &agent)
		if err != nil {
			return err
		}
		if err := syncChecks(tx, &agent, policy, &res); err != nil {
			return err
		}
		if createTasks {
			if err := syncTasks(tx, &agent, policy, &res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	return res, nil
}

// SyncAll reconciles every agent. Used by the periodic anti-entropy sweep;
// individual syncs are idempotent so the sweep is safe at any time.
func SyncAll(db *gorm.DB) error {
	var agents []model.Agent
	if err := db.Find(&agents).Error; err != nil {
		return err
	}
	ids := make([]uint, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	return SyncAgents(db, ids, true)
}

// SyncAgents reconciles a batch, continuing past individual failures so one
// broken agent cannot starve the rest of the scope.
func SyncAgents(db *gorm.DB, agentIDs []uint, createTasks bool) error {
	var firstErr error
	for _, id := range agentIDs {
		if _, err := SyncAgent(db, id, createTasks); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func syncChecks(tx *gorm.DB, agent *model.Agent, policy *model.Policy, res *SyncResult) error {
	var templates []model.Check
	if policy != nil {
		if err := tx.Where("policy_id = ?", policy.ID).Find(&templates).Error; err != nil {
			return err
		}
	}
	var existing []model.Check
	if err := tx.Where("agent_id = ?", agent.ID).Find(&existing).Error; err != nil {
		return err
	}

	byTemplate := map[uint]*model.Check{}
	for i := range templates {
		byTemplate[templates[i].ID] = &templates[i]
	}

	covered := map[uint]bool{}
	for i := range existing {
		inst := &existing[i]
		if !inst.ManagedByPolicy {
			continue
		}
		tmpl := (*model.Check)(nil)
		if inst.ParentCheck != nil {
			tmpl = byTemplate[*inst.ParentCheck]
		}
		if tmpl == nil {
			if err := tx.Delete(&model.Check{}, inst.ID).Error; err != nil {
				return err
			}
			res.ChecksDeleted++
			continue
		}
		covered[tmpl.ID] = true
		if !checkFieldsEqual(inst, tmpl) {
			copyCheckFields(inst, tmpl)
			if err := tx.Save(inst).Error; err != nil {
				return err
			}
			res.ChecksUpdated++
		}
	}

	for i := range templates {
		tmpl := &templates[i]
		if covered[tmpl.ID] {
			continue
		}
		inst := checkInstance(tmpl, agent.ID)
		if err := tx.Create(&inst).Error; err != nil {
			return err
		}
		res.ChecksCreated++
	}

	return recomputeEnforcement(tx, policy, templates, existing, res)
}

// recomputeEnforcement drives each agent-local check through the
// unmanaged-active/unmanaged-overridden state machine: overridden exactly
// while the resolved policy is enforced and installs a template of the same
// type, restored the moment either condition stops holding.
func recomputeEnforcement(tx *gorm.DB, policy *model.Policy, templates []model.Check, existing []model.Check, res *SyncResult) error {
	enforcedTypes := map[string]bool{}
	if policy != nil && policy.Enforced {
		for _, t := range templates {
			enforcedTypes[t.CheckType] = true
		}
	}
	for i := range existing {
		local := &existing[i]
		if local.ManagedByPolicy {
			continue
		}
		want := enforcedTypes[local.CheckType]
		if local.OverridenByPolicy == want {
			continue
		}
		local.OverridenByPolicy = want
		if err := tx.Model(&model.Check{}).Where("id = ?", local.ID).
			Update("overriden_by_policy", want).Error; err != nil {
			return err
		}
		if want {
			res.Overridden++
		} else {
			res.Restored++
		}
	}
	return nil
}

func syncTasks(tx *gorm.DB, agent *model.Agent, policy *model.Policy, res *SyncResult) error {
	var templates []model.AutomatedTask
	if policy != nil {
		if err := tx.Where("policy_id = ?", policy.ID).Find(&templates).Error; err != nil {
			return err
		}
	}
	var existing []model.AutomatedTask
	if err := tx.Where("agent_id = ?", agent.ID).Find(&existing).Error; err != nil {
		return err
	}

	byTemplate := map[uint]*model.AutomatedTask{}
	for i := range templates {
		byTemplate[templates[i].ID] = &templates[i]
	}

	covered := map[uint]bool{}
	for i := range existing {
		inst := &existing[i]
		if !inst.ManagedByPolicy {
			continue
		}
		tmpl := (*model.AutomatedTask)(nil)
		if inst.ParentTask != nil {
			tmpl = byTemplate[*inst.ParentTask]
		}
		if tmpl == nil {
			if err := tx.Delete(&model.AutomatedTask{}, inst.ID).Error; err != nil {
				return err
			}
			res.TasksDeleted++
			continue
		}
		covered[tmpl.ID] = true
		if !taskFieldsEqual(inst, tmpl) {
			copyTaskFields(inst, tmpl)
			if err := tx.Save(inst).Error; err != nil {
				return err
			}
			res.TasksUpdated++
		}
	}

	for i := range templates {
		tmpl := &templates[i]
		if covered[tmpl.ID] {
			continue
		}
		inst := taskInstance(tmpl, agent.ID)
		if err := tx.Create(&inst).Error; err != nil {
			return err
		}
		res.TasksCreated++
	}
	return nil
}

// checkFieldsEqual compares only the fields that matter for the instance's
// check type. Every member of the closed type set is matched here; adding a
// type means extending this switch and copyCheckFields together.
func checkFieldsEqual(inst, tmpl *model.Check) bool {
	if inst.Name != tmpl.Name {
		return false
	}
	switch tmpl.CheckType {
	case model.CheckTypeDiskSpace:
		return inst.Disk == tmpl.Disk &&
			inst.ErrorThreshold == tmpl.ErrorThreshold &&
			inst.WarningThreshold == tmpl.WarningThreshold
	case model.CheckTypePing:
		return inst.IP == tmpl.IP
	case model.CheckTypeCPULoad, model.CheckTypeMemory:
		return inst.ErrorThreshold == tmpl.ErrorThreshold &&
			inst.WarningThreshold == tmpl.WarningThreshold
	case model.CheckTypeWinSvc:
		return inst.SvcName == tmpl.SvcName &&
			inst.SvcDisplayName == tmpl.SvcDisplayName &&
			inst.SvcPolicyMode == tmpl.SvcPolicyMode
	case model.CheckTypeScript:
		return uintPtrEqual(inst.ScriptID, tmpl.ScriptID) && inst.Timeout == tmpl.Timeout
	case model.CheckTypeEventLog:
		return inst.LogName == tmpl.LogName &&
			inst.EventID == tmpl.EventID &&
			inst.EventType == tmpl.EventType
	}
	return true
}

func copyCheckFields(inst, tmpl *model.Check) {
	inst.Name = tmpl.Name
	switch tmpl.CheckType {
	case model.CheckTypeDiskSpace:
		inst.Disk = tmpl.Disk
		inst.ErrorThreshold = tmpl.ErrorThreshold
		inst.WarningThreshold = tmpl.WarningThreshold
	case model.CheckTypePing:
		inst.IP = tmpl.IP
	case model.CheckTypeCPULoad, model.CheckTypeMemory:
		inst.ErrorThreshold = tmpl.ErrorThreshold
		inst.WarningThreshold = tmpl.WarningThreshold
	case model.CheckTypeWinSvc:
		inst.SvcName = tmpl.SvcName
		inst.SvcDisplayName = tmpl.SvcDisplayName
		inst.SvcPolicyMode = tmpl.SvcPolicyMode
	case model.CheckTypeScript:
		inst.ScriptID = tmpl.ScriptID
		inst.Timeout = tmpl.Timeout
	case model.CheckTypeEventLog:
		inst.LogName = tmpl.LogName
		inst.EventID = tmpl.EventID
		inst.EventType = tmpl.EventType
	}
}

// checkInstance builds the managed agent copy of a template.
func checkInstance(tmpl *model.Check, agentID uint) model.Check {
	inst := model.Check{
		AgentID:         &agentID,
		CheckType:       tmpl.CheckType,
		ParentCheck:     &tmpl.ID,
		ManagedByPolicy: true,
	}
	copyCheckFields(&inst, tmpl)
	return inst
}

func taskFieldsEqual(inst, tmpl *model.AutomatedTask) bool {
	return inst.Name == tmpl.Name &&
		inst.Enabled == tmpl.Enabled &&
		uintPtrEqual(inst.ScriptID, tmpl.ScriptID) &&
		inst.Timeout == tmpl.Timeout &&
		uintPtrEqual(inst.AssignedCheck, tmpl.AssignedCheck) &&
		inst.TaskType == tmpl.TaskType &&
		inst.RunTimeDays == tmpl.RunTimeDays &&
		inst.RunTimeMinute == tmpl.RunTimeMinute
}

func copyTaskFields(inst, tmpl *model.AutomatedTask) {
	inst.Name = tmpl.Name
	inst.Enabled = tmpl.Enabled
	inst.ScriptID = tmpl.ScriptID
	inst.Timeout = tmpl.Timeout
	inst.AssignedCheck = tmpl.AssignedCheck
	inst.TaskType = tmpl.TaskType
	inst.RunTimeDays = tmpl.RunTimeDays
	inst.RunTimeMinute = tmpl.RunTimeMinute
}

func taskInstance(tmpl *model.AutomatedTask, agentID uint) model.AutomatedTask {
	inst := model.AutomatedTask{
		AgentID:         &agentID,
		ParentTask:      &tmpl.ID,
		ManagedByPolicy: true,
	}
	copyTaskFields(&inst, tmpl)
	return inst
}

func uintPtrEqual(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
