package model

import (
	"time"

	"github.com/google/uuid"
)

// Role constants
const (
	RoleStudent    = "student"
	RoleDoctor     = "doctor"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

// User represents a system user. Students sign up unapproved; doctors are
// created pre-approved through the admin-only path.
type User struct {
	Base
	Email        string     `json:"email" db:"email"`
	Name         string     `json:"name" db:"name"`
	Password     string     `json:"password,omitempty" db:"-"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Role         string     `json:"role" db:"role"`
	IsApproved   bool       `json:"is_approved" db:"is_approved"`
	ApprovedBy   *uuid.UUID `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty" db:"approved_at"`
}

// UserFilter represents user search parameters
type UserFilter struct {
	Role       *string `json:"role" form:"role"`
	IsApproved *bool   `json:"is_approved" form:"is_approved"`
}

type SignupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required,oneof=student supervisor"`
}

type CreateDoctorRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}
