// Package api holds the request and response shapes of the school's REST
// backend, plus the JSON responders used by the in-process development backend.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
)

// RespondJSONAndLog is a convenience wrapper around RespondJSON that also logs any encoding errors.
func RespondJSONAndLog(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	if err := RespondJSON(w, status, payload); err != nil {
		logger.Debug("failed to respond with JSON", "err", err)
	}
}

// RespondJSON sets the status code and Content-Type header and encodes payload.
//
// Returns an error only if JSON encoding fails. In most cases, this happens
// if the response writer is closed or the payload is not serializable.
func RespondJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// SignInRequest is the body of POST /api/auth/signin.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInResponse is returned by sign-in. Older backends name the token sessionToken.
type SignInResponse struct {
	Token        string         `json:"token,omitempty"`
	SessionToken string         `json:"sessionToken,omitempty"`
	User         models.Account `json:"user"`
	Message      string         `json:"message,omitempty"`
}

// BearerToken returns whichever token field was filled.
func (r SignInResponse) BearerToken() string {
	if r.Token != "" {
		return r.Token
	}
	return r.SessionToken
}

// SignUpRequest is the body of POST /api/auth/signup.
type SignUpRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
}

// UserResponse wraps the identity returned by GET /api/auth/user.
type UserResponse struct {
	User *models.Account `json:"user"`
}

// MessageResponse is the generic acknowledgement most write endpoints return.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// RecoveryRequest drives the three password recovery steps. The contact is
// either an email address or a phone number; OTP and NewPassword are filled
// by the later steps.
type RecoveryRequest struct {
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	OTP         string `json:"otp,omitempty"`
	NewPassword string `json:"newPassword,omitempty"`
}

// EnrollmentRequest is the body of POST /api/enrollments.
type EnrollmentRequest struct {
	models.Attendee
	CourseID      string               `json:"courseId,omitempty"`
	EventTitle    string               `json:"eventTitle"`
	EventDate     string               `json:"eventDate,omitempty"`
	EventTime     string               `json:"eventTime,omitempty"`
	Category      models.EventCategory `json:"category"`
	Amount        models.Price         `json:"amount"`
	PaymentMethod models.PaymentChoice `json:"paymentMethod,omitempty"`
}

// Enrollment is a stored booking.
type Enrollment struct {
	ID         models.FlexibleID `json:"id"`
	Status     string            `json:"status"`
	EventTitle string            `json:"eventTitle,omitempty"`
	Email      string            `json:"email,omitempty"`
	CreatedAt  string            `json:"createdAt,omitempty"`
}

// Enrollment statuses understood by PATCH /api/enrollments/:id/status.
const (
	EnrollmentPending   = "pending"
	EnrollmentConfirmed = "confirmed"
	EnrollmentCancelled = "cancelled"
)

// EnrollmentStatusRequest is the body of PATCH /api/enrollments/:id/status.
type EnrollmentStatusRequest struct {
	Status string `json:"status"`
}

// PayLaterRequest is the body of POST /api/paylater.
type PayLaterRequest struct {
	models.Attendee
	EventTitle    string               `json:"eventTitle"`
	EventDate     string               `json:"eventDate"`
	EventTime     string               `json:"eventTime,omitempty"`
	EventCategory models.EventCategory `json:"eventCategory"`
	Amount        models.Price         `json:"amount"`
}

// CreateOrderRequest is the body of POST /api/payment/create-order.
// Amount is in paise.
type CreateOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is a payment vendor order created by the backend.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
	// Key is the vendor public key the checkout must be opened with.
	Key string `json:"key,omitempty"`
}

// VerifyPaymentRequest is the body of POST /api/payment/verify. It carries the
// vendor's signed success callback plus the original booking data so the
// backend can record the enrollment and send the confirmation email.
type VerifyPaymentRequest struct {
	OrderID   string              `json:"orderId"`
	PaymentID string              `json:"paymentId"`
	Signature string              `json:"signature"`
	Attendee  models.Attendee     `json:"attendee"`
	Event     models.EventSummary `json:"event"`
}

// VerifyPaymentResponse reports whether the signature checked out.
type VerifyPaymentResponse struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message,omitempty"`
	EnrollmentID models.FlexibleID `json:"enrollmentId,omitempty"`
}

// PaymentStatus is returned by GET /api/payment/status/:id.
type PaymentStatus struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId,omitempty"`
	Status    string `json:"status"`
}

// LandingEmailRequest is the body of POST /api/landing/email.
type LandingEmailRequest struct {
	Email string `json:"email"`
}

// LandingContactRequest is the body of POST /api/landing/contact.
type LandingContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Message string `json:"message,omitempty"`
}
