package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"fleet-policy/pkg/automation"
	"fleet-policy/pkg/db"
	"fleet-policy/pkg/model"
	"fleet-policy/pkg/queue"
)

type stubNotifier struct {
	runs []uint
}

func (s *stubNotifier) RunTask(_ string, taskID uint)            { s.runs = append(s.runs, taskID) }
func (s *stubNotifier) RemoveTask(_ string, _ uint)              {}
func (s *stubNotifier) SetTaskEnabled(_ string, _ uint, _ bool)  {}

func newTestServer(t *testing.T) (*gorm.DB, *http.ServeMux, *stubNotifier) {
	t.Helper()
	gdb, err := db.InitSQLite(":memory:")
	require.NoError(t, err)

	notifier := &stubNotifier{}
	h := &AutomationHandler{
		DB:         gdb,
		Dispatcher: &automation.Dispatcher{DB: gdb, Queue: queue.NewInline(), Notifier: notifier},
	}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, AllowAll)
	h.RegisterStatusRoutes(mux, AllowAll)
	h.RegisterWinUpdateRoutes(mux, AllowAll)
	return gdb, mux, notifier
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func itoa(id uint) string { return strconv.FormatUint(uint64(id), 10) }

func makeTestPolicy(t *testing.T, gdb *gorm.DB, name string, active, enforced bool) *model.Policy {
	t.Helper()
	p := &model.Policy{Name: name, Active: active, Enforced: enforced}
	require.NoError(t, gdb.Create(p).Error)
	return p
}

func makeTestHierarchy(t *testing.T, gdb *gorm.DB, clientName string) (*model.Client, *model.Site) {
	t.Helper()
	c := &model.Client{Name: clientName}
	require.NoError(t, gdb.Create(c).Error)
	s := &model.Site{Name: clientName + " HQ", ClientID: c.ID}
	require.NoError(t, gdb.Create(s).Error)
	return c, s
}

func makeTestAgent(t *testing.T, gdb *gorm.DB, site *model.Site, monType string) *model.Agent {
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

// seedPolicyChecks creates one template of every check type for a policy.
func seedPolicyChecks(t *testing.T, gdb *gorm.DB, policyID uint) []model.Check {
	t.Helper()
	checks := []model.Check{
		{CheckType: model.CheckTypeDiskSpace, Name: "disk", Disk: "C:", ErrorThreshold: 9, WarningThreshold: 25},
		{CheckType: model.CheckTypePing, Name: "ping", IP: "10.0.0.1"},
		{CheckType: model.CheckTypeCPULoad, Name: "cpu", ErrorThreshold: 95, WarningThreshold: 75},
		{CheckType: model.CheckTypeMemory, Name: "mem", ErrorThreshold: 90, WarningThreshold: 60},
		{CheckType: model.CheckTypeWinSvc, Name: "svc", SvcName: "Spooler", SvcDisplayName: "Print Spooler", SvcPolicyMode: "manual"},
		{CheckType: model.CheckTypeScript, Name: "script", Timeout: 120},
		{CheckType: model.CheckTypeEventLog, Name: "evt", LogName: "Application", EventID: 1001, EventType: "error"},
	}
	for i := range checks {
		checks[i].PolicyID = &policyID
		require.NoError(t, gdb.Create(&checks[i]).Error)
	}
	return checks
}

func seedPolicyTasks(t *testing.T, gdb *gorm.DB, policyID uint, n int) []model.AutomatedTask {
	t.Helper()
	tasks := make([]model.AutomatedTask, 0, n)
	for i := 0; i < n; i++ {
		task := model.AutomatedTask{PolicyID: &policyID, Name: fmt.Sprintf("Task%d", i+1), Enabled: true}
		require.NoError(t, gdb.Create(&task).Error)
		tasks = append(tasks, task)
	}
	return tasks
}
