package model

import "time"

// Check types form a closed set; the sync engine switches over them
// exhaustively.
const (
	CheckTypeDiskSpace = "diskspace"
	CheckTypePing      = "ping"
	CheckTypeCPULoad   = "cpuload"
	CheckTypeMemory    = "memory"
	CheckTypeWinSvc    = "winsvc"
	CheckTypeScript    = "script"
	CheckTypeEventLog  = "eventlog"
)

// CheckTypes lists every known check type.
var CheckTypes = []string{
	CheckTypeDiskSpace,
	CheckTypePing,
	CheckTypeCPULoad,
	CheckTypeMemory,
	CheckTypeWinSvc,
	CheckTypeScript,
	CheckTypeEventLog,
}

// ValidCheckType reports whether s is a known check type.
func ValidCheckType(s string) bool {
	for _, t := range CheckTypes {
		if s == t {
			return true
		}
	}
	return false
}

// Check is a monitoring rule. Exactly one of PolicyID/AgentID is set: a policy
// template or an agent instance. An instance copied from a template carries
// ParentCheck and ManagedByPolicy; an agent-local check suppressed by an
// enforced policy carries OverridenByPolicy.
//
// One table holds every variant; only the columns for CheckType are
// meaningful, the rest stay at their zero value.
type Check struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	PolicyID  *uint  `gorm:"index" json:"policy"`
	AgentID   *uint  `gorm:"index" json:"agent"`
	CheckType string `gorm:"size:30;index" json:"checkType"`
	Name      string `gorm:"size:255" json:"name"`

	ParentCheck       *uint `gorm:"index" json:"parentCheck"`
	ManagedByPolicy   bool  `json:"managedByPolicy"`
	OverridenByPolicy bool  `json:"overridenByPolicy"`

	// diskspace
	Disk string `gorm:"size:10" json:"disk,omitempty"`
	// ping
	IP string `gorm:"size:255" json:"ip,omitempty"`
	// diskspace/cpuload/memory
	ErrorThreshold   int `json:"errorThreshold,omitempty"`
	WarningThreshold int `json:"warningThreshold,omitempty"`
	// winsvc
	SvcName        string `gorm:"size:255" json:"svcName,omitempty"`
	SvcDisplayName string `gorm:"size:255" json:"svcDisplayName,omitempty"`
	SvcPolicyMode  string `gorm:"size:20" json:"svcPolicyMode,omitempty"`
	// script
	ScriptID *uint `json:"script,omitempty"`
	Timeout  int   `json:"timeout,omitempty"`
	// eventlog
	LogName   string `gorm:"size:255" json:"logName,omitempty"`
	EventID   int    `json:"eventId,omitempty"`
	EventType string `gorm:"size:20" json:"eventType,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTemplate reports whether the check is a policy template rather than an
// agent instance.
func (c *Check) IsTemplate() bool {
	return c.PolicyID != nil
}
