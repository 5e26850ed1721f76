package models

import (
	"time"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEngineer Role = "engineer"
	RoleAnalyst  Role = "analyst"
	RoleViewer   Role = "viewer"
	RoleService  Role = "service"
	RoleGuest    Role = "guest"
)

// QuotaTier buckets users for daily export limits.
type QuotaTier string

const (
	TierFree       QuotaTier = "free"
	TierPro        QuotaTier = "pro"
	TierEnterprise QuotaTier = "enterprise"
	TierAdmin      QuotaTier = "admin"
)

// User is one row of the security database.
type User struct {
	ID           uint      `json:"id" gorm:"primary_key"`
	Username     string    `json:"username" gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string    `json:"-" gorm:"type:varchar(512);not null"`
	Role         Role      `json:"role" gorm:"type:varchar(50);not null;default:'viewer'"`
	Team         string    `json:"team,omitempty" gorm:"type:varchar(255)"`
	Tier         QuotaTier `json:"tier" gorm:"type:varchar(50);not null;default:'free'"`
	IsActive     bool      `json:"is_active" gorm:"default:true"`
	IsContractor bool      `json:"is_contractor" gorm:"default:false"`

	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null"`
}

func (User) TableName() string {
	return "users"
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type CreateUserRequest struct {
	Username     string    `json:"username" binding:"required"`
	Password     string    `json:"password" binding:"required"`
	Role         Role      `json:"role"`
	Team         string    `json:"team,omitempty"`
	Tier         QuotaTier `json:"tier,omitempty"`
	IsContractor bool      `json:"is_contractor,omitempty"`
}
