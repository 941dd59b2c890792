package automation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"fleet-policy/pkg/db"
	"fleet-policy/pkg/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.InitSQLite(":memory:")
	require.NoError(t, err)
	return gdb
}

func makeClient(t *testing.T, gdb *gorm.DB, name string) *model.Client {
	t.Helper()
	c := &model.Client{Name: name}
	require.NoError(t, gdb.Create(c).Error)
	return c
}

func makeSite(t *testing.T, gdb *gorm.DB, client *model.Client, name string) *model.Site {
	t.Helper()
	s := &model.Site{Name: name, ClientID: client.ID}
	require.NoError(t, gdb.Create(s).Error)
	return s
}

func makeAgent(t *testing.T, gdb *gorm.DB, site *model.Site, monType string) *model.Agent {
	t.Helper()
	var n int64
	gdb.Model(&model.Agent{}).Count(&n)
	a := &model.Agent{
		AgentID:        fmt.Sprintf("agent-%d", n+1),
		Hostname:       fmt.Sprintf("host-%d", n+1),
		SiteID:         site.ID,
		MonitoringType: monType,
	}
	require.NoError(t, gdb.Create(a).Error)
	return a
}

func makePolicy(t *testing.T, gdb *gorm.DB, name string, active, enforced bool) *model.Policy {
	t.Helper()
	p := &model.Policy{Name: name, Active: active, Enforced: enforced}
	require.NoError(t, gdb.Create(p).Error)
	return p
}

// seedChecks creates one check of every type owned by either a policy or an
// agent.
func seedChecks(t *testing.T, gdb *gorm.DB, policyID, agentID *uint) []model.Check {
	t.Helper()
	script := &model.Script{Name: "cleanup", Shell: "powershell", Code: "Get-Process"}
	require.NoError(t, gdb.Create(script).Error)

	checks := []model.Check{
		{CheckType: model.CheckTypeDiskSpace, Name: "C: free space", Disk: "C:", ErrorThreshold: 9, WarningThreshold: 25},
		{CheckType: model.CheckTypePing, Name: "ping gateway", IP: "10.10.10.10"},
		{CheckType: model.CheckTypeCPULoad, Name: "cpu load", ErrorThreshold: 95, WarningThreshold: 75},
		{CheckType: model.CheckTypeMemory, Name: "memory", ErrorThreshold: 90, WarningThreshold: 60},
		{CheckType: model.CheckTypeWinSvc, Name: "spooler", SvcName: "Spooler", SvcDisplayName: "Print Spooler", SvcPolicyMode: "manual"},
		{CheckType: model.CheckTypeScript, Name: "cleanup script", ScriptID: &script.ID, Timeout: 120},
		{CheckType: model.CheckTypeEventLog, Name: "app errors", LogName: "Application", EventID: 1001, EventType: "error"},
	}
	for i := range checks {
		checks[i].PolicyID = policyID
		checks[i].AgentID = agentID
		require.NoError(t, gdb.Create(&checks[i]).Error)
	}
	return checks
}

func seedTasks(t *testing.T, gdb *gorm.DB, policyID *uint, n int) []model.AutomatedTask {
	t.Helper()
	tasks := make([]model.AutomatedTask, 0, n)
	for i := 0; i < n; i++ {
		task := model.AutomatedTask{
			PolicyID:      policyID,
			Name:          fmt.Sprintf("Task%d", i+1),
			Enabled:       true,
			TaskType:      "scheduled",
			RunTimeDays:   "0,3,5",
			RunTimeMinute: "30",
		}
		require.NoError(t, gdb.Create(&task).Error)
		tasks = append(tasks, task)
	}
	return tasks
}

func agentChecks(t *testing.T, gdb *gorm.DB, agentID uint) []model.Check {
	t.Helper()
	var checks []model.Check
	require.NoError(t, gdb.Where("agent_id = ?", agentID).Order("id").Find(&checks).Error)
	return checks
}

func agentTasks(t *testing.T, gdb *gorm.DB, agentID uint) []model.AutomatedTask {
	t.Helper()
	var tasks []model.AutomatedTask
	require.NoError(t, gdb.Where("agent_id = ?", agentID).Order("id").Find(&tasks).Error)
	return tasks
}
