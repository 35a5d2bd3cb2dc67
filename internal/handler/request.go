package handler

// REQUEST PAYLOADS:
// Every endpoint decodes its JSON body into one of these structs and calls
// Validate before touching the service. Rules are declared with
// ozzo-validation; the phone rule additionally asks libphonenumber whether
// the number is a real mainland China mobile number.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"

	"github.com/sakif/collar-auth/internal/apperror"
)

const (
	phoneRegion      = "CN"
	maxPasswordBytes = 72
	maxBodyBytes     = 1 << 16
)

var mobilePattern = regexp.MustCompile(`^1\d{10}$`)

var (
	phoneRules = []validation.Rule{
		validation.Required,
		validation.Match(mobilePattern).Error("must be an 11-digit mobile number starting with 1"),
		validation.By(validMobileNumber),
	}
	codeRules = []validation.Rule{
		validation.Required,
		is.Digit,
	}
	passwordRules = []validation.Rule{
		validation.Required,
		validation.Length(1, maxPasswordBytes),
	}
)

// validMobileNumber checks the number against libphonenumber's metadata
// for the region and rejects anything that is not a mobile range.
func validMobileNumber(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	num, err := phonenumbers.Parse(s, phoneRegion)
	if err != nil || !phonenumbers.IsValidNumberForRegion(num, phoneRegion) {
		return errors.New("is not a valid mobile number")
	}
	switch phonenumbers.GetNumberType(num) {
	case phonenumbers.MOBILE, phonenumbers.FIXED_LINE_OR_MOBILE:
		return nil
	default:
		return errors.New("is not a mobile number")
	}
}

// SendCodeRequest is the body of POST /auth/sms/send.
type SendCodeRequest struct {
	Phone string `json:"phone"`
}

// Validate will validate the payload
func (r SendCodeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phone, phoneRules...),
	)
}

// SMSLoginRequest is the body of POST /auth/login/sms. ChallengeID is
// optional; without it the phone's latest challenge is used.
type SMSLoginRequest struct {
	ChallengeID string `json:"challengeId"`
	Phone       string `json:"phone"`
	Code        string `json:"code"`
}

// Validate will validate the payload
func (r SMSLoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ChallengeID, validation.Length(0, 64)),
		validation.Field(&r.Phone, phoneRules...),
		validation.Field(&r.Code, codeRules...),
	)
}

// PasswordRequest is the body of the password login, password registration
// and set-password endpoints.
type PasswordRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Validate will validate the payload
func (r PasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phone, phoneRules...),
		validation.Field(&r.Password, passwordRules...),
	)
}

// SMSRegisterRequest is the body of POST /auth/register/sms.
type SMSRegisterRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

// Validate will validate the payload
func (r SMSRegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phone, phoneRules...),
		validation.Field(&r.Code, codeRules...),
		validation.Field(&r.Password, passwordRules...),
	)
}

// ChangePasswordRequest is the body of POST /auth/password/change.
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// Validate will validate the payload
func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPassword, passwordRules...),
		validation.Field(&r.NewPassword, passwordRules...),
	)
}

// decodeRequest reads a JSON body into dst and validates it. Every failure
// comes back as an apperror validation error.
func decodeRequest(r *http.Request, dst validation.Validatable) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "request body must be a JSON object")
	}
	if err := dst.Validate(); err != nil {
		return toValidationError(err)
	}
	return nil
}

// toValidationError flattens ozzo's per-field error map into one AppError.
// The first field in alphabetical order becomes AppError.Field so the
// result does not depend on map iteration order.
func toValidationError(err error) error {
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperror.ValidationFailed("", err.Error())
	}

	fields := make([]string, 0, len(fieldErrs))
	for f := range fieldErrs {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	first := fields[0]
	return apperror.ValidationFailed(first, fmt.Sprintf("%s: %v", first, fieldErrs[first]))
}
