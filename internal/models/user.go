package models

import "time"

// User owns exactly one wallet and any number of cards.
type User struct {
	ID           int64     `json:"id" example:"1"`                   // User ID
	Email        string    `json:"email" example:"user@example.com"` // User email
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserSummary is what the read path returns for a user.
type UserSummary struct {
	UserID  int64  `json:"user_id" example:"1"`
	Email   string `json:"email" example:"user@example.com"`
	Balance string `json:"balance" example:"100.0000"`
}
