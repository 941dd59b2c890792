package model

import "time"

// Script is a shared script body referenced by script checks and tasks.
type Script struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Name  string `gorm:"size:255" json:"name"`
	Shell string `gorm:"size:30" json:"shell"` // powershell|cmd|python
	Code  string `gorm:"type:text" json:"code"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
