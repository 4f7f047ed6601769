package models

import "time"

// DemoUserID is the fixed owner used when authentication is disabled
const DemoUserID = "demoUser123"

// User is an account that owns fruit log entries
type User struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	IsAnonymous  bool      `json:"isAnonymous"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
