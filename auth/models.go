package auth

import "time"

// Role gates what a user may do. Raters label cases and can be recruited
// for third opinions; admins create cases, assign raters, change policy
// and adjudicate. Admins are never recruited.
type Role string

const (
	RoleRater Role = "rater"
	RoleAdmin Role = "admin"
)

// User mirrors the users table. No JSON tags: each surface shapes its own
// response.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
