// Package booking drives the two step enrollment modal: attendee details
// first, then a choice between paying at the venue and paying online.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	contract "github.com/flowerschoolbengaluru/flowerschool/api"
	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/api"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/payment"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Form field names, matching the JSON names of models.Attendee.
const (
	FieldFirstName = "firstName"
	FieldLastName  = "lastName"
	FieldEmail     = "email"
	FieldPhone     = "phone"
	FieldAddress   = "address"
	FieldCity      = "city"
	FieldState     = "state"
	FieldPincode   = "pincode"
	FieldMessage   = "message"
)

const (
	MsgPaymentCancelled = "Payment cancelled. You can try again whenever you are ready."
	MsgContactSupport   = "Your payment went through but we could not confirm your enrollment. Please contact support with your payment reference."
)

var (
	ErrClosed       = errors.New("booking modal is closed")
	ErrWrongStep    = errors.New("action not available at this step")
	ErrBusy         = errors.New("a request is already in progress")
	ErrUnknownField = errors.New("unknown form field")
	ErrNoCheckout   = errors.New("online payment is not available")
)

// Backend is the part of the API client the modal uses.
type Backend interface {
	CreateEnrollment(ctx context.Context, req contract.EnrollmentRequest) (*contract.Enrollment, error)
	PayLater(ctx context.Context, req contract.PayLaterRequest) (*contract.MessageResponse, error)
}

// Snapshot is what the modal renders.
type Snapshot struct {
	Open        bool
	Request     models.BookingRequest
	FieldErrors models.FieldErrors
	// Banner is the dismissible inline error, empty when there is none.
	Banner string
	// PaymentID is set once the vendor reported a payment.
	PaymentID string
}

// Modal is one booking modal. It is safe for concurrent use; at most one
// network request runs at a time.
type Modal struct {
	log              *slog.Logger
	backend          Backend
	checkout         payment.Checkout
	validate         *validator.Validate
	recordEnrollment bool
	currency         string
	newReceipt       func() string

	mu        sync.Mutex
	gen       uint64 // bumped by Open and Close; in-flight results from an older gen are dropped
	open      bool
	req       models.BookingRequest
	errs      models.FieldErrors
	banner    string
	paymentID string
}

// Option configures a Modal.
type Option func(*Modal)

// WithEnrollmentRecord creates an enrollment record on the backend once the
// details are valid, before the payment choice is offered.
func WithEnrollmentRecord() Option {
	return func(m *Modal) { m.recordEnrollment = true }
}

// WithCurrency sets the order currency, INR by default.
func WithCurrency(code string) Option {
	return func(m *Modal) { m.currency = strings.ToUpper(code) }
}

// WithCheckout enables online payment.
func WithCheckout(c payment.Checkout) Option {
	return func(m *Modal) { m.checkout = c }
}

// New returns a closed modal.
func New(logger *slog.Logger, backend Backend, opts ...Option) *Modal {
	m := &Modal{
		log:      logutil.OrDiscard(logger),
		backend:  backend,
		validate: NewValidator(),
		currency: "INR",
		newReceipt: func() string {
			return "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open shows the modal for event, discarding anything left from before.
func (m *Modal) Open(event models.EventSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.open = true
	m.req.Event = event
	m.req.Status = models.StatusCollectingDetails
	m.log.Debug("booking modal opened", "event", event.Title, "category", event.Category)
}

// Close hides the modal and forgets every field.
func (m *Modal) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Modal) resetLocked() {
	m.gen++
	m.open = false
	m.req = models.BookingRequest{}
	m.errs = nil
	m.banner = ""
	m.paymentID = ""
}

// Snapshot returns a copy of the modal state.
func (m *Modal) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs models.FieldErrors
	if len(m.errs) > 0 {
		errs = make(models.FieldErrors, len(m.errs))
		for k, v := range m.errs {
			errs[k] = v
		}
	}
	return Snapshot{
		Open:        m.open,
		Request:     m.req,
		FieldErrors: errs,
		Banner:      m.banner,
		PaymentID:   m.paymentID,
	}
}

// SetField updates one step one field and clears that field's error.
func (m *Modal) SetField(field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrClosed
	}
	if m.req.Status != models.StatusCollectingDetails {
		return ErrWrongStep
	}

	a := &m.req.Attendee
	switch field {
	case FieldFirstName:
		a.FirstName = value
	case FieldLastName:
		a.LastName = value
	case FieldEmail:
		a.Email = value
	case FieldPhone:
		a.Phone = value
	case FieldAddress:
		a.Address = value
	case FieldCity:
		a.City = value
	case FieldState:
		a.State = value
	case FieldPincode:
		a.Pincode = value
	case FieldMessage:
		a.Message = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	delete(m.errs, field)
	return nil
}

// SubmitDetails validates step one and moves to the payment choice.
// Validation always finishes before any request is sent; invalid input
// returns models.FieldErrors and leaves the step unchanged.
func (m *Modal) SubmitDetails(ctx context.Context) error {
	m.mu.Lock()
	if err := m.expectLocked(models.StatusCollectingDetails); err != nil {
		m.mu.Unlock()
		return err
	}
	if errs := ValidateAttendee(m.validate, m.req.Attendee); len(errs) > 0 {
		m.errs = errs
		m.mu.Unlock()
		return errs
	}
	m.errs = nil
	m.banner = ""
	m.req.Attendee = trimmed(m.req.Attendee)

	if !m.recordEnrollment {
		m.req.Status = models.StatusAwaitingPaymentChoice
		m.mu.Unlock()
		return nil
	}

	m.req.Status = models.StatusSubmitting
	req := m.enrollmentRequestLocked()
	gen := m.gen
	m.mu.Unlock()

	enrollment, err := m.backend.CreateEnrollment(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stillSubmittingLocked(gen) {
		return ErrClosed
	}
	if err != nil {
		m.req.Status = models.StatusCollectingDetails
		m.banner = api.Message(err)
		return logutil.DebugAndWrapErr(m.log, "creating enrollment", err, "event", req.EventTitle)
	}
	m.req.EnrollmentID = enrollment.ID.String()
	m.req.Status = models.StatusAwaitingPaymentChoice
	m.log.Info("enrollment recorded", "enrollment_id", m.req.EnrollmentID, "event", req.EventTitle)
	return nil
}

// Cancel goes back from the payment choice to the details form, keeping what was typed.
func (m *Modal) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.expectLocked(models.StatusAwaitingPaymentChoice); err != nil {
		return err
	}
	m.req.Status = models.StatusCollectingDetails
	m.req.PaymentChoice = models.PayUnset
	m.banner = ""
	return nil
}

// DismissError hides the inline banner.
func (m *Modal) DismissError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banner = ""
}

// PayLater records the booking for payment at the venue.
func (m *Modal) PayLater(ctx context.Context) error {
	m.mu.Lock()
	if err := m.beginPaymentLocked(models.PayLater); err != nil {
		m.mu.Unlock()
		return err
	}
	req := contract.PayLaterRequest{
		Attendee:      m.req.Attendee,
		EventTitle:    m.req.Event.Title,
		EventDate:     m.req.Event.Date,
		EventTime:     m.req.Event.Time,
		EventCategory: m.req.Event.Category,
		Amount:        m.req.Event.Price,
	}
	gen := m.gen
	m.mu.Unlock()

	_, err := m.backend.PayLater(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stillSubmittingLocked(gen) {
		return ErrClosed
	}
	if err != nil {
		return m.retryableLocked("recording pay later booking", err)
	}
	m.req.Status = models.StatusSucceeded
	m.log.Info("pay later booking recorded", "event", req.EventTitle, "email", req.Email)
	return nil
}

// PayNow creates an order, opens the vendor checkout and has the backend
// verify the payment. A dismissed checkout returns payment.ErrDismissed and
// leaves the payment choice open. A payment that cannot be verified moves
// the modal to failed: money may have moved, so it is not offered again.
func (m *Modal) PayNow(ctx context.Context) error {
	m.mu.Lock()
	if m.checkout == nil {
		m.mu.Unlock()
		return ErrNoCheckout
	}
	if err := m.beginPaymentLocked(models.PayNow); err != nil {
		m.mu.Unlock()
		return err
	}
	attendee, event := m.req.Attendee, m.req.Event
	orderReq := contract.CreateOrderRequest{
		Amount:   event.Price.Paise(),
		Currency: m.currency,
		Receipt:  m.newReceipt(),
		Notes: map[string]string{
			"eventTitle":    event.Title,
			"eventDate":     event.Date,
			"eventTime":     event.Time,
			"eventCategory": string(event.Category),
			"name":          attendee.FullName(),
			"email":         attendee.Email,
			"phone":         attendee.Phone,
		},
	}
	if m.req.EnrollmentID != "" {
		orderReq.Notes["enrollmentId"] = m.req.EnrollmentID
	}
	gen := m.gen
	m.mu.Unlock()

	order, err := m.checkout.CreateOrder(ctx, orderReq)
	if err != nil {
		return m.paymentStepFailed(gen, "creating order", err)
	}

	result, err := m.checkout.Open(ctx, order, payment.Prefill{
		Name:    attendee.FullName(),
		Email:   attendee.Email,
		Contact: models.DigitsOnly(attendee.Phone),
	})
	if err != nil {
		if errors.Is(err, payment.ErrDismissed) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if !m.stillSubmittingLocked(gen) {
				return ErrClosed
			}
			m.req.Status = models.StatusAwaitingPaymentChoice
			m.req.PaymentChoice = models.PayUnset
			m.banner = MsgPaymentCancelled
			return payment.ErrDismissed
		}
		return m.paymentStepFailed(gen, "opening checkout", err)
	}

	m.mu.Lock()
	if m.gen == gen {
		m.paymentID = result.PaymentID
	}
	m.mu.Unlock()

	resp, err := m.checkout.Verify(ctx, contract.VerifyPaymentRequest{
		OrderID:   result.OrderID,
		PaymentID: result.PaymentID,
		Signature: result.Signature,
		Attendee:  attendee,
		Event:     event,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.log.Error("payment made but not verified", "order_id", result.OrderID, "payment_id", result.PaymentID, "err", err)
		if m.stillSubmittingLocked(gen) {
			m.req.Status = models.StatusFailed
			m.banner = MsgContactSupport + " (" + result.PaymentID + ")"
		}
		return fmt.Errorf("verifying payment %s: %w", result.PaymentID, err)
	}
	if !m.stillSubmittingLocked(gen) {
		return ErrClosed
	}
	if resp.EnrollmentID != "" {
		m.req.EnrollmentID = resp.EnrollmentID.String()
	}
	m.req.Status = models.StatusSucceeded
	m.log.Info("payment verified", "order_id", result.OrderID, "payment_id", result.PaymentID, "enrollment_id", m.req.EnrollmentID)
	return nil
}

func (m *Modal) paymentStepFailed(gen uint64, step string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stillSubmittingLocked(gen) {
		return ErrClosed
	}
	return m.retryableLocked(step, err)
}

// retryableLocked returns to the payment choice with err on the banner.
func (m *Modal) retryableLocked(step string, err error) error {
	m.req.Status = models.StatusAwaitingPaymentChoice
	m.req.PaymentChoice = models.PayUnset
	m.banner = api.Message(err)
	return logutil.DebugAndWrapErr(m.log, step, err, "event", m.req.Event.Title)
}

func (m *Modal) beginPaymentLocked(choice models.PaymentChoice) error {
	if err := m.expectLocked(models.StatusAwaitingPaymentChoice); err != nil {
		return err
	}
	m.req.PaymentChoice = choice
	m.req.Status = models.StatusSubmitting
	m.banner = ""
	return nil
}

func (m *Modal) expectLocked(status models.BookingStatus) error {
	switch {
	case !m.open:
		return ErrClosed
	case m.req.Status == models.StatusSubmitting:
		return ErrBusy
	case m.req.Status != status:
		return fmt.Errorf("%w: modal is %s", ErrWrongStep, m.req.Status)
	}
	return nil
}

// stillSubmittingLocked is false when the modal was closed or reopened while a request was in flight.
func (m *Modal) stillSubmittingLocked(gen uint64) bool {
	return m.gen == gen && m.open && m.req.Status == models.StatusSubmitting
}

func (m *Modal) enrollmentRequestLocked() contract.EnrollmentRequest {
	e := m.req.Event
	return contract.EnrollmentRequest{
		Attendee:      m.req.Attendee,
		CourseID:      e.ID,
		EventTitle:    e.Title,
		EventDate:     e.Date,
		EventTime:     e.Time,
		Category:      e.Category,
		Amount:        e.Price,
		PaymentMethod: m.req.PaymentChoice,
	}
}

func trimmed(a models.Attendee) models.Attendee {
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.Email = strings.TrimSpace(a.Email)
	a.Phone = NormalizeMobile(a.Phone)
	return a
}
