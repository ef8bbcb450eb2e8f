package booking

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/go-playground/validator/v10"
)

var (
	mobilePattern = regexp.MustCompile(`^[6-9][0-9]{9}$`)
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// fieldMessages are shown under the matching form field.
var fieldMessages = map[string]string{
	FieldFirstName: "First name is required",
	FieldLastName:  "Last name is required",
	FieldEmail:     "Please enter a valid email address",
	FieldPhone:     "Please enter a valid 10-digit mobile number",
}

// ValidMobile reports whether s is an Indian mobile number: ten digits,
// starting with 6 to 9, once every non-digit is stripped. A +91 country
// code is dropped first.
func ValidMobile(s string) bool {
	return mobilePattern.MatchString(NormalizeMobile(s))
}

// NormalizeMobile strips s to its digits and drops a leading 91 from
// twelve digit numbers.
func NormalizeMobile(s string) string {
	d := models.DigitsOnly(s)
	if len(d) == 12 && strings.HasPrefix(d, "91") {
		return d[2:]
	}
	return d
}

// ValidEmail reports whether s has the local@domain.tld shape.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// NewValidator returns a validator that knows the in_mobile and
// simple_email tags and reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// registration only fails for an empty tag or a nil func
	_ = v.RegisterValidation("in_mobile", func(fl validator.FieldLevel) bool {
		return ValidMobile(fl.Field().String())
	})
	_ = v.RegisterValidation("simple_email", func(fl validator.FieldLevel) bool {
		return ValidEmail(fl.Field().String())
	})
	return v
}

// ValidateAttendee checks the step one form. Surrounding whitespace is
// ignored. It returns nil when every field is valid.
func ValidateAttendee(v *validator.Validate, a models.Attendee) models.FieldErrors {
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.Email = strings.TrimSpace(a.Email)
	a.Phone = strings.TrimSpace(a.Phone)

	err := v.Struct(a)
	if err == nil {
		return nil
	}

	errs := models.FieldErrors{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs[""] = err.Error()
		return errs
	}
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := errs[field]; seen {
			continue
		}
		msg, ok := fieldMessages[field]
		if !ok {
			msg = "This field is invalid"
		}
		errs[field] = msg
	}
	return errs
}
