package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	contract "github.com/flowerschoolbengaluru/flowerschool/api"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
)

const (
	pathSignIn         = "/api/auth/signin"
	pathSignUp         = "/api/auth/signup"
	pathSignOut        = "/api/auth/signout"
	pathCurrentUser    = "/api/auth/user"
	pathForgotPassword = "/api/auth/forgot-password"
	pathVerifyOTP      = "/api/auth/verify-otp"
	pathResetPassword  = "/api/auth/reset-password"

	pathCourses      = "/api/courses"
	pathInstructors  = "/api/instructors"
	pathImpacts      = "/api/impacts"
	pathFeedback     = "/api/Feedback"
	pathOfficeTiming = "/api/office-timing"
	pathEventPricing = "/api/admin/event-pricing"

	pathEnrollments   = "/api/enrollments"
	pathPayLater      = "/api/paylater"
	pathCreateOrder   = "/api/payment/create-order"
	pathVerifyPayment = "/api/payment/verify"
	pathPaymentStatus = "/api/payment/status/"

	pathLandingEmail   = "/api/landing/email"
	pathLandingContact = "/api/landing/contact"
)

// SignIn exchanges credentials for a session. The returned session carries
// the bearer token and the role the backend reported.
func (c *Client) SignIn(ctx context.Context, email, password string) (*models.UserSession, error) {
	var resp contract.SignInResponse
	err := c.do(ctx, http.MethodPost, pathSignIn, contract.SignInRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
	}, &resp)
	if err != nil {
		return nil, err
	}

	token := resp.BearerToken()
	if token == "" {
		return nil, &Error{
			Status:  http.StatusOK,
			Kind:    KindServer,
			Method:  http.MethodPost,
			Path:    pathSignIn,
			Message: "sign-in succeeded but no session token was issued",
		}
	}
	return resp.User.Session(token), nil
}

// SignUp registers a new account.
func (c *Client) SignUp(ctx context.Context, req contract.SignUpRequest) (*contract.MessageResponse, error) {
	var resp contract.MessageResponse
	if err := c.do(ctx, http.MethodPost, pathSignUp, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignOut invalidates the server side session.
func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, pathSignOut, struct{}{}, nil)
}

// CurrentUser asks the backend who the attached credential belongs to.
// Both {"user": {...}} and a bare user object are accepted.
func (c *Client) CurrentUser(ctx context.Context) (*models.Account, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, pathCurrentUser, nil, &raw); err != nil {
		return nil, err
	}

	var wrapped contract.UserResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.User != nil && wrapped.User.ID != "" {
		return wrapped.User, nil
	}
	var acct models.Account
	if err := json.Unmarshal(raw, &acct); err != nil || acct.ID == "" {
		return nil, &Error{
			Status:  http.StatusOK,
			Kind:    KindServer,
			Method:  http.MethodGet,
			Path:    pathCurrentUser,
			Message: "the server did not return a user",
			err:     err,
		}
	}
	return &acct, nil
}

// recoveryContact routes contact to the email or phone field.
func recoveryContact(contact string) contract.RecoveryRequest {
	contact = strings.TrimSpace(contact)
	if strings.Contains(contact, "@") {
		return contract.RecoveryRequest{Email: contact}
	}
	return contract.RecoveryRequest{Phone: models.DigitsOnly(contact)}
}

// ForgotPassword starts password recovery for an email address or phone number.
func (c *Client) ForgotPassword(ctx context.Context, contact string) (*contract.MessageResponse, error) {
	var resp contract.MessageResponse
	if err := c.do(ctx, http.MethodPost, pathForgotPassword, recoveryContact(contact), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyOTP checks the one time code sent by ForgotPassword.
func (c *Client) VerifyOTP(ctx context.Context, contact, otp string) (*contract.MessageResponse, error) {
	req := recoveryContact(contact)
	req.OTP = strings.TrimSpace(otp)

	var resp contract.MessageResponse
	if err := c.do(ctx, http.MethodPost, pathVerifyOTP, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResetPassword sets a new password once the code has been verified.
func (c *Client) ResetPassword(ctx context.Context, contact, otp, newPassword string) (*contract.MessageResponse, error) {
	req := recoveryContact(contact)
	req.OTP = strings.TrimSpace(otp)
	req.NewPassword = newPassword

	var resp contract.MessageResponse
	if err := c.do(ctx, http.MethodPost, pathResetPassword, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateEnrollment records a booking.
func (c *Client) CreateEnrollment(ctx context.Context, req contract.EnrollmentRequest) (*contract.Enrollment, error) {
	var resp struct {
		contract.Enrollment
		Nested *contract.Enrollment `json:"enrollment"`
	}
	if err := c.do(ctx, http.MethodPost, pathEnrollments, req, &resp); err != nil {
		return nil, err
	}
	if resp.Nested != nil {
		return resp.Nested, nil
	}
	return &resp.Enrollment, nil
}

// UpdateEnrollmentStatus moves an enrollment to status.
func (c *Client) UpdateEnrollmentStatus(ctx context.Context, id, status string) error {
	return c.do(ctx, http.MethodPatch, pathEnrollments+"/"+url.PathEscape(id)+"/status",
		contract.EnrollmentStatusRequest{Status: status}, nil)
}

// Enrollment fetches one enrollment.
func (c *Client) Enrollment(ctx context.Context, id string) (*contract.Enrollment, error) {
	var resp contract.Enrollment
	if err := c.do(ctx, http.MethodGet, pathEnrollments+"/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PayLater records a booking that will be paid at the venue.
func (c *Client) PayLater(ctx context.Context, req contract.PayLaterRequest) (*contract.MessageResponse, error) {
	var resp contract.MessageResponse
	if err := c.do(ctx, http.MethodPost, pathPayLater, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateOrder asks the backend for a payment vendor order.
func (c *Client) CreateOrder(ctx context.Context, req contract.CreateOrderRequest) (*contract.Order, error) {
	var resp struct {
		contract.Order
		Nested *contract.Order `json:"order"`
	}
	if err := c.do(ctx, http.MethodPost, pathCreateOrder, req, &resp); err != nil {
		return nil, err
	}
	order := &resp.Order
	if resp.Nested != nil {
		order = resp.Nested
		if order.Key == "" {
			order.Key = resp.Key
		}
	}
	if order.ID == "" {
		return nil, &Error{
			Status:  http.StatusOK,
			Kind:    KindServer,
			Method:  http.MethodPost,
			Path:    pathCreateOrder,
			Message: "the server did not return a payment order",
		}
	}
	return order, nil
}

// VerifyPayment submits the vendor's success callback. A response with
// success=false is returned as an *Error.
func (c *Client) VerifyPayment(ctx context.Context, req contract.VerifyPaymentRequest) (*contract.VerifyPaymentResponse, error) {
	var resp contract.VerifyPaymentResponse
	if err := c.do(ctx, http.MethodPost, pathVerifyPayment, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "payment could not be verified"
		}
		return nil, &Error{Status: http.StatusOK, Kind: KindServer, Method: http.MethodPost, Path: pathVerifyPayment, Message: msg}
	}
	return &resp, nil
}

// PaymentStatus reports the state of an order.
func (c *Client) PaymentStatus(ctx context.Context, orderID string) (*contract.PaymentStatus, error) {
	var resp contract.PaymentStatus
	if err := c.do(ctx, http.MethodGet, pathPaymentStatus+url.PathEscape(orderID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubscribeEmail captures a marketing opt-in.
func (c *Client) SubscribeEmail(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, pathLandingEmail, contract.LandingEmailRequest{Email: strings.TrimSpace(email)}, nil)
}

// Contact sends the landing page contact form.
func (c *Client) Contact(ctx context.Context, req contract.LandingContactRequest) error {
	return c.do(ctx, http.MethodPost, pathLandingContact, req, nil)
}
