package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-policy/pkg/model"
	"fleet-policy/pkg/queue"
)

type notifierCall struct {
	kind    string
	agentID string
	taskID  uint
	enabled bool
}

type recordingNotifier struct {
	calls []notifierCall
}

func (r *recordingNotifier) RunTask(agentID string, taskID uint) {
	r.calls = append(r.calls, notifierCall{kind: "run", agentID: agentID, taskID: taskID})
}

func (r *recordingNotifier) RemoveTask(agentID string, taskID uint) {
	r.calls = append(r.calls, notifierCall{kind: "remove", agentID: agentID, taskID: taskID})
}

func (r *recordingNotifier) SetTaskEnabled(agentID string, taskID uint, enabled bool) {
	r.calls = append(r.calls, notifierCall{kind: "enabled", agentID: agentID, taskID: taskID, enabled: enabled})
}

func newDispatcher(t *testing.T) (*Dispatcher, *recordingNotifier) {
	t.Helper()
	gdb := newTestDB(t)
	n := &recordingNotifier{}
	return &Dispatcher{DB: gdb, Queue: queue.NewInline(), Notifier: n}, n
}

func TestDispatchLocationChangedClientScope(t *testing.T) {
	d, _ := newDispatcher(t)
	gdb := d.DB

	policy := makePolicy(t, gdb, "rollout", true, false)
	seedChecks(t, gdb, &policy.ID, nil)

	inClient := makeClient(t, gdb, "In")
	outClient := makeClient(t, gdb, "Out")
	var inAgents, outAgents, wsAgents []*model.Agent
	for i := 0; i < 2; i++ {
		inSite := makeSite(t, gdb, inClient, "S")
		outSite := makeSite(t, gdb, outClient, "S")
		inAgents = append(inAgents, makeAgent(t, gdb, inSite, model.MonTypeServer))
		outAgents = append(outAgents, makeAgent(t, gdb, outSite, model.MonTypeServer))
		wsAgents = append(wsAgents, makeAgent(t, gdb, inSite, model.MonTypeWorkstation))
	}

	// Attach at client level, then announce it.
	require.NoError(t, gdb.Model(inClient).Update("server_policy_id", policy.ID).Error)
	require.NoError(t, d.Dispatch(LocationChanged{ClientID: &inClient.ID, MonType: model.MonTypeServer, CreateTasks: true}))

	for _, a := range inAgents {
		assert.Len(t, agentChecks(t, gdb, a.ID), 7)
	}
	for _, a := range outAgents {
		assert.Empty(t, agentChecks(t, gdb, a.ID))
	}
	for _, a := range wsAgents {
		assert.Empty(t, agentChecks(t, gdb, a.ID))
	}

	// Detach reverts exactly the same set.
	require.NoError(t, gdb.Model(inClient).Update("server_policy_id", nil).Error)
	require.NoError(t, d.Dispatch(LocationChanged{ClientID: &inClient.ID, MonType: model.MonTypeServer, CreateTasks: true}))
	for _, a := range inAgents {
		assert.Empty(t, agentChecks(t, gdb, a.ID))
	}
}

func TestDispatchLocationChangedSiteScope(t *testing.T) {
	d, _ := newDispatcher(t)
	gdb := d.DB

	policy := makePolicy(t, gdb, "rollout", true, false)
	seedChecks(t, gdb, &policy.ID, nil)

	client := makeClient(t, gdb, "Acme")
	inSite := makeSite(t, gdb, client, "In")
	outSite := makeSite(t, gdb, client, "Out")
	inAgent := makeAgent(t, gdb, inSite, model.MonTypeWorkstation)
	outAgent := makeAgent(t, gdb, outSite, model.MonTypeWorkstation)
	serverAgent := makeAgent(t, gdb, inSite, model.MonTypeServer)

	require.NoError(t, gdb.Model(inSite).Update("workstation_policy_id", policy.ID).Error)
	require.NoError(t, d.Dispatch(LocationChanged{SiteID: &inSite.ID, MonType: model.MonTypeWorkstation, CreateTasks: true}))

	assert.Len(t, agentChecks(t, gdb, inAgent.ID), 7)
	assert.Empty(t, agentChecks(t, gdb, outAgent.ID))
	assert.Empty(t, agentChecks(t, gdb, serverAgent.ID))

	require.NoError(t, gdb.Model(inSite).Update("workstation_policy_id", nil).Error)
	require.NoError(t, d.Dispatch(LocationChanged{SiteID: &inSite.ID, MonType: model.MonTypeWorkstation, CreateTasks: true}))
	assert.Empty(t, agentChecks(t, gdb, inAgent.ID))
}

func TestDispatchDefaultPolicyChanged(t *testing.T) {
	d, _ := newDispatcher(t)
	gdb := d.DB

	policy := makePolicy(t, gdb, "default", true, false)
	seedChecks(t, gdb, &policy.ID, nil)

	client := makeClient(t, gdb, "Acme")
	site := makeSite(t, gdb, client, "HQ")
	var servers, workstations []*model.Agent
	for i := 0; i < 3; i++ {
		servers = append(servers, makeAgent(t, gdb, site, model.MonTypeServer))
	}
	for i := 0; i < 4; i++ {
		workstations = append(workstations, makeAgent(t, gdb, site, model.MonTypeWorkstation))
	}

	require.NoError(t, gdb.Model(&model.CoreSettings{}).Where("1 = 1").
		Update("server_policy_id", policy.ID).Error)
	require.NoError(t, d.Dispatch(DefaultPolicyChanged{MonType: model.MonTypeServer, CreateTasks: true}))

	for _, a := range servers {
		assert.Len(t, agentChecks(t, gdb, a.ID), 7)
	}
	for _, a := range workstations {
		assert.Empty(t, agentChecks(t, gdb, a.ID))
	}

	require.NoError(t, gdb.Model(&model.CoreSettings{}).Where("1 = 1").
		Updates(map[string]interface{}{"server_policy_id": nil, "workstation_policy_id": policy.ID}).Error)
	require.NoError(t, d.Dispatch(DefaultPolicyChanged{MonType: model.MonTypeServer, CreateTasks: true}))
	require.NoError(t, d.Dispatch(DefaultPolicyChanged{MonType: model.MonTypeWorkstation, CreateTasks: true}))

	for _, a := range servers {
		assert.Empty(t, agentChecks(t, gdb, a.ID))
	}
	for _, a := range workstations {
		assert.Len(t, agentChecks(t, gdb, a.ID), 7)
	}
}

func TestDispatchPolicyChangedRestrictedAgents(t *testing.T) {
	d, _ := newDispatcher(t)
	gdb := d.DB

	policy := makePolicy(t, gdb, "baseline", true, false)
	seedChecks(t, gdb, &policy.ID, nil)

	client := makeClient(t, gdb, "Acme")
	site := makeSite(t, gdb, client, "HQ")
	a1 := makeAgent(t, gdb, site, model.MonTypeServer)
	a2 := makeAgent(t, gdb, site, model.MonTypeServer)
	require.NoError(t, gdb.Model(&model.Agent{}).Where("id IN ?", []uint{a1.ID, a2.ID}).
		Update("policy_id", policy.ID).Error)

	require.NoError(t, d.Dispatch(PolicyChanged{PolicyID: policy.ID, AgentIDs: []uint{a1.ID}}))
	assert.Len(t, agentChecks(t, gdb, a1.ID), 7)
	assert.Empty(t, agentChecks(t, gdb, a2.ID))

	require.NoError(t, d.Dispatch(PolicyChanged{PolicyID: policy.ID}))
	assert.Len(t, agentChecks(t, gdb, a2.ID), 7)
}

func TestDispatchCheckDeleted(t *testing.T) {
	d, _ := newDispatcher(t)
	gdb := d.DB

	policy := makePolicy(t, gdb, "baseline", true, false)
	templates := seedChecks(t, gdb, &policy.ID, nil)

	client := makeClient(t, gdb, "Acme")
	site := makeSite(t, gdb, client, "HQ")
	agent := makeAgent(t, gdb, site, model.MonTypeServer)
	require.NoError(t, gdb.Model(agent).Update("policy_id", policy.ID).Error)
	require.NoError(t, d.Dispatch(PolicyChanged{PolicyID: policy.ID}))
	require.Len(t, agentChecks(t, gdb, agent.ID), 7)

	victim := templates[0]
	require.NoError(t, gdb.Delete(&model.Check{}, victim.ID).Error)
	require.NoError(t, d.Dispatch(CheckDeleted{CheckID: victim.ID}))

	instances := agentChecks(t, gdb, agent.ID)
	assert.Len(t, instances, 6)
	for _, c := range instances {
		require.NotNil(t, c.ParentCheck)
		assert.NotEqual(t, victim.ID, *c.ParentCheck)
	}
}

func TestDispatchCheckChanged(t *testing.T) {
	d, _ := newDispatcher(t)
	gdb := d.DB

	policy := makePolicy(t, gdb, "baseline", true, false)
	ping := model.Check{PolicyID: &policy.ID, CheckType: model.CheckTypePing, Name: "ping", IP: "12.12.12.11"}
	require.NoError(t, gdb.Create(&ping).Error)

	client := makeClient(t, gdb, "Acme")
	site := makeSite(t, gdb, client, "HQ")
	agent := makeAgent(t, gdb, site, model.MonTypeServer)
	require.NoError(t, gdb.Model(agent).Update("policy_id", policy.ID).Error)
	require.NoError(t, d.Dispatch(PolicyChanged{PolicyID: policy.ID}))

	require.NoError(t, gdb.Model(&ping).Update("ip", "12.12.12.12").Error)
	require.NoError(t, d.Dispatch(CheckChanged{CheckID: ping.ID}))

	instances := agentChecks(t, gdb, agent.ID)
	require.Len(t, instances, 1)
	assert.Equal(t, "12.12.12.12", instances[0].IP)
}

func TestDispatchTaskChangedAndDeleted(t *testing.T) {
	d, n := newDispatcher(t)
	gdb := d.DB

	policy := makePolicy(t, gdb, "baseline", true, false)
	tasks := seedTasks(t, gdb, &policy.ID, 3)

	client := makeClient(t, gdb, "Acme")
	site := makeSite(t, gdb, client, "HQ")
	agent := makeAgent(t, gdb, site, model.MonTypeServer)
	require.NoError(t, gdb.Model(agent).Update("policy_id", policy.ID).Error)
	require.NoError(t, d.Dispatch(PolicyChanged{PolicyID: policy.ID, CreateTasks: true}))
	require.Len(t, agentTasks(t, gdb, agent.ID), 3)

	// Field push without agent notification.
	require.NoError(t, gdb.Model(&tasks[0]).Update("enabled", false).Error)
	require.NoError(t, d.Dispatch(TaskChanged{TaskID: tasks[0].ID}))
	assert.Empty(t, n.calls)

	var inst model.AutomatedTask
	require.NoError(t, gdb.Where("agent_id = ? AND parent_task = ?", agent.ID, tasks[0].ID).First(&inst).Error)
	assert.False(t, inst.Enabled)

	// Same edit with UpdateAgent pushes the toggle to the live agent.
	require.NoError(t, gdb.Model(&tasks[0]).Update("enabled", true).Error)
	require.NoError(t, d.Dispatch(TaskChanged{TaskID: tasks[0].ID, UpdateAgent: true}))
	require.Len(t, n.calls, 1)
	assert.Equal(t, "enabled", n.calls[0].kind)
	assert.Equal(t, agent.AgentID, n.calls[0].agentID)
	assert.True(t, n.calls[0].enabled)

	// Deleting the template removes the instance and tells the agent.
	n.calls = nil
	require.NoError(t, gdb.Delete(&model.AutomatedTask{}, tasks[1].ID).Error)
	require.NoError(t, d.Dispatch(TaskDeleted{TaskID: tasks[1].ID}))
	require.Len(t, n.calls, 1)
	assert.Equal(t, "remove", n.calls[0].kind)
	assert.Len(t, agentTasks(t, gdb, agent.ID), 2)
}

func TestRunTaskInstances(t *testing.T) {
	d, n := newDispatcher(t)
	gdb := d.DB

	policy := makePolicy(t, gdb, "baseline", true, false)
	tasks := seedTasks(t, gdb, &policy.ID, 1)

	client := makeClient(t, gdb, "Acme")
	site := makeSite(t, gdb, client, "HQ")
	var agents []*model.Agent
	for i := 0; i < 3; i++ {
		a := makeAgent(t, gdb, site, model.MonTypeServer)
		require.NoError(t, gdb.Model(a).Update("policy_id", policy.ID).Error)
		agents = append(agents, a)
	}
	require.NoError(t, d.Dispatch(PolicyChanged{PolicyID: policy.ID, CreateTasks: true}))

	instances, err := d.RunTaskInstances(tasks[0].ID)
	require.NoError(t, err)
	require.Len(t, instances, 3)
	require.Len(t, n.calls, 3)
	seen := map[string]bool{}
	for _, call := range n.calls {
		assert.Equal(t, "run", call.kind)
		seen[call.agentID] = true
	}
	for _, a := range agents {
		assert.True(t, seen[a.AgentID])
	}
}
