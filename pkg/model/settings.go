package model

// CoreSettings carries the installation-wide default policies, one row per
// deployment. Passed explicitly to the resolver; there is no mutable
// singleton.
type CoreSettings struct {
	ID                  uint  `gorm:"primaryKey" json:"id"`
	ServerPolicyID      *uint `json:"serverPolicy"`
	WorkstationPolicyID *uint `json:"workstationPolicy"`
}
