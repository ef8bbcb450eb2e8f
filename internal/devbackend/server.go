// Package devbackend is an in-process implementation of the school's REST
// contract. It backs the integration tests and lets the CLI run without the
// production backend. Everything is held in memory.
package devbackend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	contract "github.com/flowerschoolbengaluru/flowerschool/api"
	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models/passwd"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config tunes the server. The zero value is usable.
type Config struct {
	// Secret signs bearer tokens and payment signatures.
	Secret string
	// TokenTTL is the lifetime of issued bearer tokens, 24 hours by default.
	TokenTTL time.Duration
	// PasswordCost is the bcrypt cost; see passwd.NewHasher.
	PasswordCost int
	// PaymentKey is the vendor public key sent back with every order.
	PaymentKey string
	// OTPTTL bounds how long a recovery code stays valid, 10 minutes by default.
	OTPTTL time.Duration
	// Tracing wraps the handler with OpenTelemetry instrumentation.
	Tracing bool
}

// Server implements the REST contract. It is safe for concurrent use.
type Server struct {
	log     *slog.Logger
	cfg     Config
	users   *Directory
	tokens  *Tokens
	handler http.Handler
	now     func() time.Time

	mu          sync.Mutex
	feeds       map[string]json.RawMessage
	failing     map[string]int // feed path -> status to answer with
	enrollments map[string]*contract.Enrollment
	enrollSeq   int
	orders      map[string]*order
	payLater    []contract.PayLaterRequest
	subscribers map[string]bool
	contacts    []contract.LandingContactRequest
	otps        map[string]*otpEntry // user id -> pending recovery
}

// New returns a Server with the default content and no accounts.
func New(logger *slog.Logger, cfg Config) *Server {
	if cfg.Secret == "" {
		cfg.Secret = "flowerschool-dev-secret"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.PaymentKey == "" {
		cfg.PaymentKey = "pkey_test_flowerschool"
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 10 * time.Minute
	}

	logger = logutil.OrDiscard(logger)
	s := &Server{
		log:         logger,
		cfg:         cfg,
		users:       NewDirectory(logger, passwd.NewHasher(cfg.PasswordCost)),
		tokens:      NewTokens(logger, cfg.Secret, cfg.TokenTTL),
		now:         time.Now,
		feeds:       defaultFeeds(),
		failing:     make(map[string]int),
		enrollments: make(map[string]*contract.Enrollment),
		orders:      make(map[string]*order),
		subscribers: make(map[string]bool),
		otps:        make(map[string]*otpEntry),
	}
	s.handler = s.routes()
	if cfg.Tracing {
		s.handler = otelhttp.NewHandler(s.handler, "devbackend")
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(s.authenticate)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		contract.ReturnError(w, s.log, func() (int, contract.ErrorResponse) {
			return contract.NotFound("no route for " + r.URL.Path)
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		contract.ReturnError(w, s.log, contract.MethodNotAllowed)
	})

	r.Post("/api/auth/signin", s.handleSignIn)
	r.Post("/api/auth/signup", s.handleSignUp)
	r.Post("/api/auth/signout", s.handleSignOut)
	r.Post("/api/auth/forgot-password", s.handleForgotPassword)
	r.Post("/api/auth/verify-otp", s.handleVerifyOTP)
	r.Post("/api/auth/reset-password", s.handleResetPassword)

	for _, path := range []string{FeedCourses, FeedInstructors, FeedImpacts, FeedFeedback, FeedOfficeTiming, FeedEventPricing} {
		r.Get(path, s.handleFeed(path))
	}

	r.Post("/api/enrollments", s.handleCreateEnrollment)
	r.Get("/api/enrollments/{id}", s.handleGetEnrollment)
	r.Post("/api/paylater", s.handlePayLater)
	r.Post("/api/payment/create-order", s.handleCreateOrder)
	r.Post("/api/payment/verify", s.handleVerifyPayment)
	r.Get("/api/payment/status/{id}", s.handlePaymentStatus)
	r.Post("/api/landing/email", s.handleLandingEmail)
	r.Post("/api/landing/contact", s.handleLandingContact)

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(models.RoleUser))
		r.Get("/api/auth/user", s.handleCurrentUser)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(models.RoleAdmin))
		r.Patch("/api/enrollments/{id}/status", s.handleEnrollmentStatus)
		r.Get("/api/admin/enrollments", s.handleListEnrollments)
		r.Get("/api/admin/users", s.handleListUsers)
	})

	return r
}

// CreateUser adds an account directly, bypassing sign-up validation.
func (s *Server) CreateUser(ctx context.Context, args CreateUserParams) (*User, error) {
	return s.users.CreateUser(ctx, args)
}

// SetRole changes the role of the account using email.
func (s *Server) SetRole(ctx context.Context, email string, role models.Role) error {
	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	return s.users.UpdateUserRole(ctx, u.ID, role)
}

// Deactivate disables the account using email. Its tokens stop working.
func (s *Server) Deactivate(ctx context.Context, email string) error {
	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	return s.users.SoftDeleteUser(ctx, u.ID)
}

// SetFeed replaces the body served at a feed path.
func (s *Server) SetFeed(path string, body json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[path] = body
}

// FailFeed makes the feed at path answer with status. Zero restores it.
func (s *Server) FailFeed(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failing, path)
		return
	}
	s.failing[path] = status
}

// PayLaterBookings returns the recorded pay-later requests.
func (s *Server) PayLaterBookings() []contract.PayLaterRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]contract.PayLaterRequest(nil), s.payLater...)
}

// Enrollments returns every stored enrollment, oldest first.
func (s *Server) Enrollments() []contract.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listEnrollmentsLocked()
}

// decodeJSON reads the request body into dst, answering 400 on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.log.Debug("invalid request body", "path", r.URL.Path, "err", err)
		contract.ReturnError(w, s.log, contract.BadRequestInvalidJSON)
		return false
	}
	return true
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	contract.ReturnError(w, s.log, func() (int, contract.ErrorResponse) {
		return contract.BadRequestValidation(message)
	})
}

// validationMessage returns the user facing part of a validation failure.
func validationMessage(err error) string {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return ve.Message()
	}
	return err.Error()
}
