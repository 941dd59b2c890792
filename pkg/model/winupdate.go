package model

import "time"

// Patch approval actions per severity class.
const (
	ApprovalInherit = "inherit"
	ApprovalApprove = "approve"
	ApprovalIgnore  = "ignore"
)

// ValidApproval reports whether s is a known approval action.
func ValidApproval(s string) bool {
	return s == ApprovalInherit || s == ApprovalApprove || s == ApprovalIgnore
}

// ValidRunTimeFrequency reports whether s is a known patch schedule frequency.
func ValidRunTimeFrequency(s string) bool {
	return s == "inherit" || s == "daily" || s == "monthly"
}

// ValidRebootAfterInstall reports whether s is a known reboot setting.
func ValidRebootAfterInstall(s string) bool {
	return s == "inherit" || s == "never" || s == "required" || s == "always"
}

// WinUpdatePolicy holds patch-approval configuration, owned by a policy
// (template) or an agent. Agent-level instances set to "inherit" defer to the
// agent's resolved policy.
type WinUpdatePolicy struct {
	ID       uint  `gorm:"primaryKey" json:"id"`
	PolicyID *uint `gorm:"index" json:"policy"`
	AgentID  *uint `gorm:"index" json:"agent"`

	Critical  string `gorm:"size:10;default:'inherit'" json:"critical"`
	Important string `gorm:"size:10;default:'inherit'" json:"important"`
	Moderate  string `gorm:"size:10;default:'inherit'" json:"moderate"`
	Low       string `gorm:"size:10;default:'inherit'" json:"low"`
	Other     string `gorm:"size:10;default:'inherit'" json:"other"`

	RunTimeHour        int    `json:"runTimeHour"`
	RunTimeFrequency   string `gorm:"size:10;default:'inherit'" json:"runTimeFrequency"`
	RunTimeDays        string `gorm:"size:30" json:"runTimeDays"`
	RunTimeDay         string `gorm:"size:5" json:"runTimeDay"`
	RebootAfterInstall string `gorm:"size:10;default:'inherit'" json:"rebootAfterInstall"`

	ReprocessFailed        bool `json:"reprocessFailed"`
	ReprocessFailedInherit bool `json:"reprocessFailedInherit"`
	ReprocessFailedTimes   int  `json:"reprocessFailedTimes"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ResetToInherit flips every agent-level field back to inheriting from the
// resolved policy.
func (w *WinUpdatePolicy) ResetToInherit() {
	w.Critical = ApprovalInherit
	w.Important = ApprovalInherit
	w.Moderate = ApprovalInherit
	w.Low = ApprovalInherit
	w.Other = ApprovalInherit
	w.RunTimeFrequency = "inherit"
	w.RebootAfterInstall = "inherit"
	w.ReprocessFailedInherit = true
}
