package service

import (
	"regexp"
	"strings"

	"livestock-track/internal/model"
	"livestock-track/internal/util"
	"livestock-track/pkg/apierror"
)

const (
	maxEmailLength = 255
	maxNameLength  = 100
	maxTextLength  = 200
	minPassword    = 8
)

var (
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern   = regexp.MustCompile(`^\+27\d{9}$`)
	upperPattern   = regexp.MustCompile(`[A-Z]`)
	lowerPattern   = regexp.MustCompile(`[a-z]`)
	digitPattern   = regexp.MustCompile(`[0-9]`)
	specialPattern = regexp.MustCompile(`[!@#$%^&*]`)
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// validator collects field errors so a single response lists all of them.
type validator struct {
	errs []FieldError
}

func (v *validator) add(field string, message string) {
	v.errs = append(v.errs, FieldError{Field: field, Message: message})
}

func (v *validator) email(field string, value string) {
	switch {
	case value == "":
		v.add(field, "Required")
	case len(value) > maxEmailLength:
		v.add(field, "Must be at most 255 characters")
	case !emailPattern.MatchString(value):
		v.add(field, "Invalid email")
	}
}

func (v *validator) password(field string, value string) {
	if len(value) < minPassword {
		v.add(field, "Must be at least 8 characters")
	}
	if !upperPattern.MatchString(value) {
		v.add(field, "Must include an uppercase letter")
	}
	if !lowerPattern.MatchString(value) {
		v.add(field, "Must include a lowercase letter")
	}
	if !digitPattern.MatchString(value) {
		v.add(field, "Must include a number")
	}
	if !specialPattern.MatchString(value) {
		v.add(field, "Must include a special character")
	}
}

func (v *validator) required(field string, value string) {
	if value == "" {
		v.add(field, "Required")
	}
}

func (v *validator) phone(field string, value string) {
	if !phonePattern.MatchString(value) {
		v.add(field, "Invalid phone number")
	}
}

func (v *validator) farmLocation(loc *model.FarmLocation) {
	if loc == nil {
		return
	}
	v.required("farmLocation.province", loc.Province)
	v.required("farmLocation.municipality", loc.Municipality)
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return apierror.Validation("Invalid input", v.errs)
}

func errPasswordsMismatch() error {
	return apierror.Validation("Passwords do not match", nil)
}

func validEmail(email string) bool {
	return email != "" && len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

func sanitizeFarmLocation(loc *model.FarmLocation) *model.FarmLocation {
	if loc == nil {
		return nil
	}
	out := &model.FarmLocation{
		Province:     util.SanitizeText(loc.Province, maxTextLength),
		Municipality: util.SanitizeText(loc.Municipality, maxTextLength),
	}
	if loc.Coordinates != nil {
		coords := *loc.Coordinates
		out.Coordinates = &coords
	}
	return out
}

// normalizeRegister returns the request with text fields cleaned, ready for
// validateRegister.
func normalizeRegister(req model.RegisterRequest) model.RegisterRequest {
	req.Email = util.NormalizeEmail(req.Email)
	req.FirstName = util.SanitizeText(req.FirstName, maxNameLength)
	req.LastName = util.SanitizeText(req.LastName, maxNameLength)
	req.Phone = strings.TrimSpace(req.Phone)
	req.OrganizationType = model.OrganizationType(strings.ToLower(strings.TrimSpace(string(req.OrganizationType))))
	req.OrganizationName = util.SanitizeText(req.OrganizationName, maxTextLength)
	req.FarmLocation = sanitizeFarmLocation(req.FarmLocation)
	return req
}

func validateRegister(req model.RegisterRequest) error {
	var v validator
	v.email("email", req.Email)
	v.password("password", req.Password)
	v.required("confirmPassword", req.ConfirmPassword)
	v.required("firstName", req.FirstName)
	v.required("lastName", req.LastName)
	v.phone("phone", req.Phone)
	if !req.OrganizationType.Valid() {
		v.add("organizationType", "Must be one of individual, cooperative, commercial, government")
	}
	v.farmLocation(req.FarmLocation)
	if err := v.err(); err != nil {
		return err
	}

	if req.Password != req.ConfirmPassword {
		return errPasswordsMismatch()
	}
	return nil
}

func validateNewPassword(newPassword string, confirmPassword string) error {
	var v validator
	v.password("newPassword", newPassword)
	v.required("confirmPassword", confirmPassword)
	if err := v.err(); err != nil {
		return err
	}

	if newPassword != confirmPassword {
		return errPasswordsMismatch()
	}
	return nil
}

// normalizeProfile cleans the supplied fields in place and validates them.
// Fields left nil are not touched.
func normalizeProfile(req model.UpdateProfileRequest) (model.UpdateProfileRequest, error) {
	var v validator

	if req.FirstName != nil {
		name := util.SanitizeText(*req.FirstName, maxNameLength)
		v.required("firstName", name)
		req.FirstName = &name
	}
	if req.LastName != nil {
		name := util.SanitizeText(*req.LastName, maxNameLength)
		v.required("lastName", name)
		req.LastName = &name
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		v.phone("phone", phone)
		req.Phone = &phone
	}
	if req.OrganizationName != nil {
		org := util.SanitizeText(*req.OrganizationName, maxTextLength)
		req.OrganizationName = &org
	}
	req.FarmLocation = sanitizeFarmLocation(req.FarmLocation)
	v.farmLocation(req.FarmLocation)

	return req, v.err()
}
