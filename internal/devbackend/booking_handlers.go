package devbackend

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"

	contract "github.com/flowerschoolbengaluru/flowerschool/api"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/booking"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Payment states reported by the status endpoint.
const (
	OrderCreated = "created"
	OrderPaid    = "paid"
)

// cardTokenPrefix marks payment ids that are card tokens to be charged at
// verification rather than signed vendor callbacks.
const cardTokenPrefix = "tokn_"

type order struct {
	contract.Order
	Notes        map[string]string
	Status       string
	PaymentID    string
	EnrollmentID string
}

// SignPayment returns the signature the vendor would attach to a successful
// payment of orderID.
func (s *Server) SignPayment(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.Secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) validAttendee(w http.ResponseWriter, a models.Attendee) bool {
	errs := booking.ValidateAttendee(booking.NewValidator(), a)
	if len(errs) == 0 {
		return true
	}
	s.badRequest(w, errs.Error())
	return false
}

// addEnrollmentLocked stores a new enrollment and returns a copy.
func (s *Server) addEnrollmentLocked(title, email, status string) contract.Enrollment {
	s.enrollSeq++
	e := &contract.Enrollment{
		ID:         models.FlexibleID(strconv.Itoa(s.enrollSeq)),
		Status:     status,
		EventTitle: title,
		Email:      strings.TrimSpace(email),
		CreatedAt:  s.now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	s.enrollments[e.ID.String()] = e
	return *e
}

func (s *Server) listEnrollmentsLocked() []contract.Enrollment {
	out := make([]contract.Enrollment, 0, len(s.enrollments))
	for _, e := range s.enrollments {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID.String())
		b, _ := strconv.Atoi(out[j].ID.String())
		return a < b
	})
	return out
}

func (s *Server) handleCreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var req contract.EnrollmentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !s.validAttendee(w, req.Attendee) {
		return
	}
	if strings.TrimSpace(req.EventTitle) == "" {
		s.badRequest(w, "eventTitle is required")
		return
	}

	s.mu.Lock()
	e := s.addEnrollmentLocked(req.EventTitle, req.Email, contract.EnrollmentPending)
	s.mu.Unlock()

	s.log.Info("enrollment created", "enrollment", e.ID, "event", req.EventTitle, "category", req.Category)
	contract.RespondJSONAndLog(w, s.log, http.StatusCreated, struct {
		Success    bool                `json:"success"`
		Enrollment contract.Enrollment `json:"enrollment"`
	}{true, e})
}

func (s *Server) handleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	e, ok := s.enrollments[id]
	var c contract.Enrollment
	if ok {
		c = *e
	}
	s.mu.Unlock()

	if !ok {
		contract.ReturnError(w, s.log, func() (int, contract.ErrorResponse) {
			return contract.NotFound("enrollment " + id + " not found")
		})
		return
	}
	contract.RespondJSONAndLog(w, s.log, http.StatusOK, c)
}

func (s *Server) handleEnrollmentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req contract.EnrollmentStatusRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	switch req.Status {
	case contract.EnrollmentPending, contract.EnrollmentConfirmed, contract.EnrollmentCancelled:
	default:
		s.badRequest(w, "unknown status "+strconv.Quote(req.Status))
		return
	}

	s.mu.Lock()
	e, ok := s.enrollments[id]
	if ok {
		e.Status = req.Status
	}
	s.mu.Unlock()

	if !ok {
		contract.ReturnError(w, s.log, func() (int, contract.ErrorResponse) {
			return contract.NotFound("enrollment " + id + " not found")
		})
		return
	}
	contract.RespondJSONAndLog(w, s.log, http.StatusOK, contract.MessageResponse{Success: true, Message: "Status updated"})
}

func (s *Server) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	contract.RespondJSONAndLog(w, s.log, http.StatusOK, s.Enrollments())
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users := s.users.ListAllUsers(r.Context())
	out := make([]models.Account, 0, len(users))
	for _, u := range users {
		out = append(out, u.Account())
	}
	contract.RespondJSONAndLog(w, s.log, http.StatusOK, map[string]any{"users": out})
}

func (s *Server) handlePayLater(w http.ResponseWriter, r *http.Request) {
	var req contract.PayLaterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !s.validAttendee(w, req.Attendee) {
		return
	}
	if strings.TrimSpace(req.EventTitle) == "" {
		s.badRequest(w, "eventTitle is required")
		return
	}

	s.mu.Lock()
	s.payLater = append(s.payLater, req)
	e := s.addEnrollmentLocked(req.EventTitle, req.Email, contract.EnrollmentPending)
	s.mu.Unlock()

	s.log.Info("pay later booking recorded", "enrollment", e.ID, "event", req.EventTitle, "amount", req.Amount)
	contract.RespondJSONAndLog(w, s.log, http.StatusOK, contract.MessageResponse{
		Success: true,
		Message: "Booking received. Please pay at the venue.",
	})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req contract.CreateOrderRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		s.badRequest(w, "amount must be positive")
		return
	}
	if req.Currency == "" {
		req.Currency = "INR"
	}

	o := &order{
		Order: contract.Order{
			ID:       "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
			Amount:   req.Amount,
			Currency: strings.ToUpper(req.Currency),
			Receipt:  req.Receipt,
		},
		Notes:  req.Notes,
		Status: OrderCreated,
	}
	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()

	s.log.Info("order created", "order", o.ID, "amount", o.Amount, "receipt", o.Receipt)
	contract.RespondJSONAndLog(w, s.log, http.StatusOK, struct {
		Order contract.Order `json:"order"`
		Key   string         `json:"key"`
	}{o.Order, s.cfg.PaymentKey})
}

// handleVerifyPayment accepts either a signed vendor callback or a card token
// with no signature, which it treats as charged. A verified order records a
// confirmed enrollment; verifying it again returns the same enrollment.
func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req contract.VerifyPaymentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[req.OrderID]
	if !ok {
		contract.ReturnError(w, s.log, func() (int, contract.ErrorResponse) {
			return contract.NotFound("order " + req.OrderID + " not found")
		})
		return
	}

	if o.Status == OrderPaid {
		if o.PaymentID != req.PaymentID {
			contract.ReturnError(w, s.log, contract.BadRequestSignature)
			return
		}
		contract.RespondJSONAndLog(w, s.log, http.StatusOK, contract.VerifyPaymentResponse{
			Success:      true,
			Message:      "Payment already verified",
			EnrollmentID: models.FlexibleID(o.EnrollmentID),
		})
		return
	}

	if !s.paymentAuthentic(req) {
		s.log.Warn("payment signature mismatch", "order", req.OrderID, "payment", req.PaymentID)
		contract.ReturnError(w, s.log, contract.BadRequestSignature)
		return
	}

	title := req.Event.Title
	if title == "" {
		title = o.Notes["eventTitle"]
	}
	e := s.addEnrollmentLocked(title, req.Attendee.Email, contract.EnrollmentConfirmed)
	o.Status = OrderPaid
	o.PaymentID = req.PaymentID
	o.EnrollmentID = e.ID.String()

	s.log.Info("payment verified", "order", o.ID, "payment", req.PaymentID, "enrollment", e.ID)
	contract.RespondJSONAndLog(w, s.log, http.StatusOK, contract.VerifyPaymentResponse{
		Success:      true,
		Message:      "Payment verified, enrollment confirmed",
		EnrollmentID: e.ID,
	})
}

func (s *Server) paymentAuthentic(req contract.VerifyPaymentRequest) bool {
	if req.PaymentID == "" {
		return false
	}
	if req.Signature == "" {
		return strings.HasPrefix(req.PaymentID, cardTokenPrefix)
	}
	want := s.SignPayment(req.OrderID, req.PaymentID)
	return hmac.Equal([]byte(want), []byte(req.Signature))
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	o, ok := s.orders[id]
	var status contract.PaymentStatus
	if ok {
		status = contract.PaymentStatus{OrderID: o.ID, PaymentID: o.PaymentID, Status: o.Status}
	}
	s.mu.Unlock()

	if !ok {
		contract.ReturnError(w, s.log, func() (int, contract.ErrorResponse) {
			return contract.NotFound("order " + id + " not found")
		})
		return
	}
	contract.RespondJSONAndLog(w, s.log, http.StatusOK, status)
}
