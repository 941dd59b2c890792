package model

import "time"

// Policy is a named bundle of check and task templates, attachable across the
// client/site/agent hierarchy.
type Policy struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"uniqueIndex;size:255" json:"name"`
	Desc     string `gorm:"size:255" json:"desc"`
	Active   bool   `json:"active"`
	Enforced bool   `json:"enforced"`

	Checks            []Check           `gorm:"foreignKey:PolicyID;constraint:OnDelete:CASCADE" json:"-"`
	Tasks             []AutomatedTask   `gorm:"foreignKey:PolicyID;constraint:OnDelete:CASCADE" json:"-"`
	WinUpdatePolicies []WinUpdatePolicy `gorm:"foreignKey:PolicyID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
