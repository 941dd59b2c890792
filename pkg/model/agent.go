package model

import "time"

// Monitoring types an agent can run as.
const (
	MonTypeServer      = "server"
	MonTypeWorkstation = "workstation"
)

// ValidMonType reports whether s is a known monitoring type.
func ValidMonType(s string) bool {
	return s == MonTypeServer || s == MonTypeWorkstation
}

// Agent is a managed endpoint. AgentID is the external identifier the agent
// presents on its websocket connection; PolicyID is the per-agent policy
// override, resolved ahead of site/client/default attachments.
type Agent struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	AgentID        string `gorm:"uniqueIndex;size:64" json:"agentId"`
	Hostname       string `gorm:"size:255" json:"hostname"`
	SiteID         uint   `gorm:"index" json:"site"`
	MonitoringType string `gorm:"size:30;index" json:"monitoringType"`
	PolicyID       *uint  `json:"policy"`

	Checks            []Check           `gorm:"foreignKey:AgentID;constraint:OnDelete:CASCADE" json:"-"`
	Tasks             []AutomatedTask   `gorm:"foreignKey:AgentID;constraint:OnDelete:CASCADE" json:"-"`
	WinUpdatePolicies []WinUpdatePolicy `gorm:"foreignKey:AgentID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
