package model

import "time"

// AutomatedTask is a scheduled action. Same dual ownership as Check: policy
// template (PolicyID set) or agent instance (AgentID set, ParentTask pointing
// at the template it was copied from).
type AutomatedTask struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	PolicyID *uint  `gorm:"index" json:"policy"`
	AgentID  *uint  `gorm:"index" json:"agent"`
	Name     string `gorm:"size:255" json:"name"`

	ParentTask      *uint `gorm:"index" json:"parentTask"`
	ManagedByPolicy bool  `json:"managedByPolicy"`

	Enabled       bool   `json:"enabled"`
	ScriptID      *uint  `json:"script"`
	Timeout       int    `json:"timeout,omitempty"`
	AssignedCheck *uint  `json:"assignedCheck,omitempty"`
	TaskType      string `gorm:"size:30" json:"taskType,omitempty"` // scheduled|checkfailure|manual
	RunTimeDays   string `gorm:"size:30" json:"runTimeDays,omitempty"`
	RunTimeMinute string `gorm:"size:10" json:"runTimeMinute,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
