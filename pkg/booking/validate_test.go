package booking

import (
	"testing"

	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestValidMobile(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"9876543210", true},
		{"6000000000", true},
		{"7000000000", true},
		{"8123456789", true},
		{"+91 98765 43210", true},
		{"09876543210", false},
		{"+44 98765 43210", false},
		{"98765 43210", true},
		{"(987) 654-3210", true},
		{"12345", false},
		{"5876543210", false},
		{"0987654321", false},
		{"98765432101", false},
		{"", false},
		{"abcdefghij", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidMobile(tt.in))
		})
	}
}

func TestNormalizeMobile(t *testing.T) {
	assert.Equal(t, "9876543210", NormalizeMobile("+91 98765 43210"))
	assert.Equal(t, "9876543210", NormalizeMobile("98765-43210"))
	assert.Equal(t, "09876543210", NormalizeMobile("09876543210"))
	assert.Equal(t, "919876", NormalizeMobile("+91 9876"))
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"asha@example.com", true},
		{"a@b.c", true},
		{"first.last+tag@school.co.in", true},
		{"asha.example.com", false},
		{"asha@example", false},
		{"asha@@example.com", false},
		{"asha @example.com", false},
		{"@example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidEmail(tt.in))
		})
	}
}

func TestValidateAttendee(t *testing.T) {
	v := NewValidator()

	valid := models.Attendee{FirstName: "Asha", LastName: "Rao", Email: "asha@example.com", Phone: "98765 43210"}
	assert.Nil(t, ValidateAttendee(v, valid))

	errs := ValidateAttendee(v, models.Attendee{FirstName: "  ", Email: "nope", Phone: "12345"})
	assert.Equal(t, models.FieldErrors{
		FieldFirstName: "First name is required",
		FieldLastName:  "Last name is required",
		FieldEmail:     "Please enter a valid email address",
		FieldPhone:     "Please enter a valid 10-digit mobile number",
	}, errs)

	noEmail := valid
	noEmail.Email = ""
	assert.Equal(t, models.FieldErrors{FieldEmail: "Please enter a valid email address"}, ValidateAttendee(v, noEmail))
}
