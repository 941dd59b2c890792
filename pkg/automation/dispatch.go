package automation

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"fleet-policy/pkg/model"
	"fleet-policy/pkg/queue"
)

// Event is a typed mutation notification. Mutating operations on policies,
// attachments and the hierarchy emit one instead of relying on save hooks;
// the dispatcher maps each to the minimal agent scope and enqueues
// reconciliation for exactly those agents.
type Event interface {
	eventName() string
}

// PolicyChanged fires when a policy's content or its active/enforced flags
// change. AgentIDs, when set, restricts the scope for incremental calls.
type PolicyChanged struct {
	PolicyID    uint
	CreateTasks bool
	AgentIDs    []uint
}

// PolicyDeleted fires after a policy row (and its templates) are gone; the
// caller captures the affected agents before deleting.
type PolicyDeleted struct {
	AgentIDs []uint
}

// CheckChanged fires when a policy check template is edited.
type CheckChanged struct {
	CheckID uint
}

// CheckDeleted fires after a check template is removed.
type CheckDeleted struct {
	CheckID uint
}

// TaskChanged fires when a task template is edited. UpdateAgent additionally
// pushes the enable/disable state to the live agent.
type TaskChanged struct {
	TaskID      uint
	UpdateAgent bool
}

// TaskDeleted fires after a task template is removed.
type TaskDeleted struct {
	TaskID uint
}

// LocationChanged fires when a site- or client-level attachment changes.
// Exactly one of SiteID/ClientID is set.
type LocationChanged struct {
	SiteID      *uint
	ClientID    *uint
	MonType     string
	CreateTasks bool
}

// DefaultPolicyChanged fires when the installation default for a monitoring
// type changes.
type DefaultPolicyChanged struct {
	MonType     string
	CreateTasks bool
}

// AgentsChanged fires for direct agent mutations (override set/cleared, agent
// moved between sites) and as the generic "sync these" event.
type AgentsChanged struct {
	AgentIDs    []uint
	CreateTasks bool
}

func (PolicyChanged) eventName() string        { return "policy_changed" }
func (PolicyDeleted) eventName() string        { return "policy_deleted" }
func (CheckChanged) eventName() string         { return "check_changed" }
func (CheckDeleted) eventName() string         { return "check_deleted" }
func (TaskChanged) eventName() string          { return "task_changed" }
func (TaskDeleted) eventName() string          { return "task_deleted" }
func (LocationChanged) eventName() string      { return "location_changed" }
func (DefaultPolicyChanged) eventName() string { return "default_policy_changed" }
func (AgentsChanged) eventName() string        { return "agents_changed" }

// AgentNotifier pushes task commands to connected agents. Implemented by the
// websocket hub; nil disables pushes (tests, check-only deployments).
type AgentNotifier interface {
	RunTask(agentID string, taskInstanceID uint)
	RemoveTask(agentID string, taskInstanceID uint)
	SetTaskEnabled(agentID string, taskInstanceID uint, enabled bool)
}

// Dispatcher turns events into queued reconciliation work.
type Dispatcher struct {
	DB       *gorm.DB
	Queue    queue.Queue
	Notifier AgentNotifier
}

// Dispatch computes the scope for an event and enqueues the work. Scope
// computation happens synchronously so the event's pre-mutation context is
// not needed later; the queued jobs re-derive everything else from ids.
func (d *Dispatcher) Dispatch(ev Event) error {
	switch e := ev.(type) {
	case PolicyChanged:
		agentIDs := e.AgentIDs
		if len(agentIDs) == 0 {
			agents, err := RelatedAgents(d.DB, e.PolicyID)
			if err != nil {
				return err
			}
			agentIDs = agentIDList(agents)
		}
		d.enqueueSync(ev.eventName(), agentIDs, e.CreateTasks)
	case PolicyDeleted:
		d.enqueueSync(ev.eventName(), e.AgentIDs, true)
	case CheckChanged:
		return d.pushCheckFields(e.CheckID)
	case CheckDeleted:
		return d.deleteCheckInstances(e.CheckID)
	case TaskChanged:
		return d.pushTaskFields(e.TaskID, e.UpdateAgent)
	case TaskDeleted:
		return d.deleteTaskInstances(e.TaskID)
	case LocationChanged:
		agentIDs, err := d.locationScope(e)
		if err != nil {
			return err
		}
		d.enqueueSync(ev.eventName(), agentIDs, e.CreateTasks)
	case DefaultPolicyChanged:
		var agents []model.Agent
		if err := d.DB.Where("monitoring_type = ?", e.MonType).Find(&agents).Error; err != nil {
			return err
		}
		d.enqueueSync(ev.eventName(), agentIDList(agents), e.CreateTasks)
	case AgentsChanged:
		d.enqueueSync(ev.eventName(), e.AgentIDs, e.CreateTasks)
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
	return nil
}

// RunTaskInstances pushes a run command for every agent instance derived from
// a task template.
func (d *Dispatcher) RunTaskInstances(parentTaskID uint) ([]model.AutomatedTask, error) {
	var instances []model.AutomatedTask
	if err := d.DB.Where("parent_task = ?", parentTaskID).Find(&instances).Error; err != nil {
		return nil, err
	}
	for _, inst := range instances {
		d.notifyTask(inst, func(agentID string, t model.AutomatedTask) {
			d.Notifier.RunTask(agentID, t.ID)
		})
	}
	return instances, nil
}

func (d *Dispatcher) enqueueSync(name string, agentIDs []uint, createTasks bool) {
	if len(agentIDs) == 0 {
		return
	}
	db := d.DB
	ids := append([]uint(nil), agentIDs...)
	d.Queue.Enqueue(name, func(_ context.Context) error {
		return SyncAgents(db, ids, createTasks)
	})
}

func (d *Dispatcher) locationScope(e LocationChanged) ([]uint, error) {
	q := d.DB.Model(&model.Agent{}).Where("monitoring_type = ?", e.MonType)
	switch {
	case e.SiteID != nil:
		q = q.Where("site_id = ?", *e.SiteID)
	case e.ClientID != nil:
		q = q.Where("site_id IN (?)", d.DB.Model(&model.Site{}).Select("id").Where("client_id = ?", *e.ClientID))
	default:
		return nil, errors.New("location event without site or client")
	}
	var agents []model.Agent
	if err := q.Find(&agents).Error; err != nil {
		return nil, err
	}
	return agentIDList(agents), nil
}

// pushCheckFields overwrites every derived instance from its edited template
// without re-running full reconciliation for the agents.
func (d *Dispatcher) pushCheckFields(checkID uint) error {
	var tmpl model.Check
	if err := d.DB.First(&tmpl, checkID).Error; err != nil {
		return fmt.Errorf("load check template %d: %w", checkID, err)
	}
	var instances []model.Check
	if err := d.DB.Where("parent_check = ?", checkID).Find(&instances).Error; err != nil {
		return err
	}
	for i := range instances {
		inst := &instances[i]
		if checkFieldsEqual(inst, &tmpl) {
			continue
		}
		copyCheckFields(inst, &tmpl)
		if err := d.DB.Save(inst).Error; err != nil {
			return err
		}
	}
	return nil
}

// deleteCheckInstances removes the derived copies of a deleted template, then
// queues a full sync for the touched agents so enforcement suppression tied
// to the template is lifted.
func (d *Dispatcher) deleteCheckInstances(checkID uint) error {
	var instances []model.Check
	if err := d.DB.Where("parent_check = ?", checkID).Find(&instances).Error; err != nil {
		return err
	}
	if len(instances) == 0 {
		return nil
	}
	agentIDs := make([]uint, 0, len(instances))
	for _, inst := range instances {
		if inst.AgentID != nil {
			agentIDs = append(agentIDs, *inst.AgentID)
		}
	}
	if err := d.DB.Where("parent_check = ?", checkID).Delete(&model.Check{}).Error; err != nil {
		return err
	}
	d.enqueueSync("check_deleted_resync", agentIDs, false)
	return nil
}

func (d *Dispatcher) pushTaskFields(taskID uint, updateAgent bool) error {
	var tmpl model.AutomatedTask
	if err := d.DB.First(&tmpl, taskID).Error; err != nil {
		return fmt.Errorf("load task template %d: %w", taskID, err)
	}
	var instances []model.AutomatedTask
	if err := d.DB.Where("parent_task = ?", taskID).Find(&instances).Error; err != nil {
		return err
	}
	for i := range instances {
		inst := &instances[i]
		if taskFieldsEqual(inst, &tmpl) {
			continue
		}
		copyTaskFields(inst, &tmpl)
		if err := d.DB.Save(inst).Error; err != nil {
			return err
		}
		if updateAgent {
			d.notifyTask(*inst, func(agentID string, t model.AutomatedTask) {
				d.Notifier.SetTaskEnabled(agentID, t.ID, t.Enabled)
			})
		}
	}
	return nil
}

func (d *Dispatcher) deleteTaskInstances(taskID uint) error {
	var instances []model.AutomatedTask
	if err := d.DB.Where("parent_task = ?", taskID).Find(&instances).Error; err != nil {
		return err
	}
	for _, inst := range instances {
		d.notifyTask(inst, func(agentID string, t model.AutomatedTask) {
			d.Notifier.RemoveTask(agentID, t.ID)
		})
		if err := d.DB.Delete(&model.AutomatedTask{}, inst.ID).Error; err != nil {
			return err
		}
	}
	return nil
}

// notifyTask resolves the owning agent's external id and invokes fn when a
// notifier is wired.
func (d *Dispatcher) notifyTask(inst model.AutomatedTask, fn func(agentID string, t model.AutomatedTask)) {
	if d.Notifier == nil || inst.AgentID == nil {
		return
	}
	var agent model.Agent
	if err := d.DB.First(&agent, *inst.AgentID).Error; err != nil {
		log.Printf("notify skipped; agent %d not found: %v", *inst.AgentID, err)
		return
	}
	fn(agent.AgentID, inst)
}

func agentIDList(agents []model.Agent) []uint {
	ids := make([]uint, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	return ids
}
