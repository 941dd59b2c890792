package model

import "time"

// Client is the top hierarchy node. Policy references are weak: clearing them
// never deletes the policy itself.
type Client struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;size:255" json:"name"`

	ServerPolicyID      *uint `json:"serverPolicy"`
	WorkstationPolicyID *uint `json:"workstationPolicy"`

	Sites []Site `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE" json:"sites,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Site groups agents under a client.
type Site struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"size:255" json:"name"`
	ClientID uint   `gorm:"index" json:"client"`

	ServerPolicyID      *uint `json:"serverPolicy"`
	WorkstationPolicyID *uint `json:"workstationPolicy"`

	Agents []Agent `gorm:"foreignKey:SiteID;constraint:OnDelete:CASCADE" json:"agents,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
