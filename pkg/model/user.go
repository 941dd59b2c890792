package model

import "time"

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:64" json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// All returns one value of every persisted type, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Policy{},
		&Client{},
		&Site{},
		&Agent{},
		&Script{},
		&Check{},
		&AutomatedTask{},
		&WinUpdatePolicy{},
		&CoreSettings{},
	}
}
