package model

type RegisterRequest struct {
	Email            string           `json:"email"`
	Password         string           `json:"password"`
	ConfirmPassword  string           `json:"confirmPassword"`
	FirstName        string           `json:"firstName"`
	LastName         string           `json:"lastName"`
	Phone            string           `json:"phone"`
	OrganizationType OrganizationType `json:"organizationType"`
	OrganizationName string           `json:"organizationName,omitempty"`
	FarmLocation     *FarmLocation    `json:"farmLocation,omitempty"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token           string `json:"token"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// UpdateProfileRequest carries only the whitelisted profile fields; nil
// means leave unchanged.
type UpdateProfileRequest struct {
	FirstName        *string       `json:"firstName,omitempty"`
	LastName         *string       `json:"lastName,omitempty"`
	Phone            *string       `json:"phone,omitempty"`
	OrganizationName *string       `json:"organizationName,omitempty"`
	FarmLocation     *FarmLocation `json:"farmLocation,omitempty"`
}

type UpdateAccountStatusRequest struct {
	IsActive      *bool   `json:"isActive,omitempty"`
	IsBlocked     *bool   `json:"isBlocked,omitempty"`
	BlockedReason *string `json:"blockedReason,omitempty"`
	Role          *Role   `json:"role,omitempty"`
}
