package models

import "time"

// User is a registered account as stored in the users table.
//
// Password holds the bcrypt digest, never plaintext. RefreshToken is the one
// refresh token currently accepted for this user; empty means none (logged
// out or never logged in). Neither is ever serialized.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName"`
	Avatar       string    `json:"avatar"`
	CoverImage   string    `json:"coverImage"`
	Password     string    `json:"-"`
	RefreshToken string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
