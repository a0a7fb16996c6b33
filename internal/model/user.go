package model

import (
	"slices"
	"time"
)

type Role string

const (
	RoleFarmer  Role = "farmer"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
	RoleViewer  Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleManager, RoleAdmin, RoleViewer:
		return true
	}
	return false
}

type OrganizationType string

const (
	OrganizationIndividual  OrganizationType = "individual"
	OrganizationCooperative OrganizationType = "cooperative"
	OrganizationCommercial  OrganizationType = "commercial"
	OrganizationGovernment  OrganizationType = "government"
)

func (o OrganizationType) Valid() bool {
	switch o {
	case OrganizationIndividual, OrganizationCooperative, OrganizationCommercial, OrganizationGovernment:
		return true
	}
	return false
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type FarmLocation struct {
	Province     string       `json:"province"`
	Municipality string       `json:"municipality"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
}

// User is a value: mutate a Clone and hand it to the store's Update.
type User struct {
	ID                         string
	Email                      string
	PasswordHash               string
	FirstName                  string
	LastName                   string
	Phone                      string
	OrganizationType           OrganizationType
	OrganizationName           string
	FarmLocation               *FarmLocation
	Role                       Role
	IsEmailVerified            bool
	EmailVerificationTokenHash string
	EmailVerificationExpires   *time.Time
	PasswordResetTokenHash     string
	PasswordResetExpires       *time.Time
	RefreshTokens              []string
	LastLogin                  *time.Time
	IsActive                   bool
	IsBlocked                  bool
	BlockedReason              string
	Version                    int64
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

func (u User) Clone() User {
	out := u
	out.RefreshTokens = slices.Clone(u.RefreshTokens)
	if u.FarmLocation != nil {
		loc := *u.FarmLocation
		if u.FarmLocation.Coordinates != nil {
			coords := *u.FarmLocation.Coordinates
			loc.Coordinates = &coords
		}
		out.FarmLocation = &loc
	}
	out.EmailVerificationExpires = cloneTime(u.EmailVerificationExpires)
	out.PasswordResetExpires = cloneTime(u.PasswordResetExpires)
	out.LastLogin = cloneTime(u.LastLogin)
	return out
}

// Disabled reports whether the account may not authenticate.
func (u User) Disabled() bool {
	return !u.IsActive || u.IsBlocked
}

func (u User) HasRefreshToken(token string) bool {
	return slices.Contains(u.RefreshTokens, token)
}

// WithoutRefreshToken returns the live refresh set minus token, never nil.
func (u User) WithoutRefreshToken(token string) []string {
	out := make([]string, 0, len(u.RefreshTokens))
	for _, t := range u.RefreshTokens {
		if t != token {
			out = append(out, t)
		}
	}
	return out
}

func (u User) Safe() SafeUser {
	return SafeUser{
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Phone:            u.Phone,
		OrganizationType: u.OrganizationType,
		OrganizationName: u.OrganizationName,
		FarmLocation:     u.FarmLocation,
		Role:             u.Role,
		IsEmailVerified:  u.IsEmailVerified,
		LastLogin:        u.LastLogin,
		IsActive:         u.IsActive,
		IsBlocked:        u.IsBlocked,
		BlockedReason:    u.BlockedReason,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

// SafeUser is the user record as exposed over the API.
type SafeUser struct {
	ID               string           `json:"id"`
	Email            string           `json:"email"`
	FirstName        string           `json:"firstName"`
	LastName         string           `json:"lastName"`
	Phone            string           `json:"phone"`
	OrganizationType OrganizationType `json:"organizationType"`
	OrganizationName string           `json:"organizationName,omitempty"`
	FarmLocation     *FarmLocation    `json:"farmLocation,omitempty"`
	Role             Role             `json:"role"`
	IsEmailVerified  bool             `json:"isEmailVerified"`
	LastLogin        *time.Time       `json:"lastLogin,omitempty"`
	IsActive         bool             `json:"isActive"`
	IsBlocked        bool             `json:"isBlocked"`
	BlockedReason    string           `json:"blockedReason,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

type AuthClaims struct {
	UserID    string
	Email     string
	Role      Role
	Type      string
	TokenID   string
	ExpiresAt time.Time
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type LoginResult struct {
	User         SafeUser `json:"user"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
