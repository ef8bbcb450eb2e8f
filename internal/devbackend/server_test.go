package devbackend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	contract "github.com/flowerschoolbengaluru/flowerschool/api"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/api"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type tokenBox struct {
	mu    sync.Mutex
	token string
}

func (b *tokenBox) Token() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

func (b *tokenBox) set(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
}

func (b *tokenBox) LegacyToken(context.Context) string { return "" }
func (b *tokenBox) ClearLegacyToken(context.Context)   {}

func newTestServer(t *testing.T) (*Server, *api.Client, *tokenBox) {
	t.Helper()
	s := New(nil, Config{PasswordCost: bcrypt.MinCost, Secret: "test-secret"})
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	tokens := &tokenBox{}
	c, err := api.New(nil, srv.URL, api.WithTokens(tokens), api.WithoutSampleFallback())
	require.NoError(t, err)
	return s, c, tokens
}

func seed(t *testing.T, s *Server, email string, role models.Role) {
	t.Helper()
	_, err := s.CreateUser(context.Background(), CreateUserParams{
		Email: email, FirstName: "Asha", LastName: "Rao", Phone: "9876543210", Password: "roses-are-red", Role: role,
	})
	require.NoError(t, err)
}

func TestAuthFlow(t *testing.T) {
	_, c, tokens := newTestServer(t)
	ctx := context.Background()

	_, err := c.SignUp(ctx, contract.SignUpRequest{FirstName: "Asha", LastName: "Rao", Email: "asha@example.com", Phone: "+91 98765 43210", Password: "roses-are-red"})
	require.NoError(t, err)

	_, err = c.SignUp(ctx, contract.SignUpRequest{FirstName: "Asha", LastName: "Rao", Email: "ASHA@example.com", Password: "roses-are-red"})
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	_, err = c.SignIn(ctx, "asha@example.com", "wrong-password")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "email or password is incorrect", apiErr.Message)

	session, err := c.SignIn(ctx, " asha@example.com ", "roses-are-red")
	require.NoError(t, err)
	assert.NotEmpty(t, session.BearerToken)
	assert.Equal(t, "Asha Rao", session.DisplayName)
	assert.Equal(t, models.RoleUser, session.Role)

	_, err = c.CurrentUser(ctx)
	assert.True(t, api.IsUnauthorized(err), "no token attached yet")

	tokens.set(session.BearerToken)
	acct, err := c.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.ID, acct.ID.String())
	assert.Equal(t, "9876543210", acct.Phone10())

	require.NoError(t, c.SignOut(ctx))
	_, err = c.CurrentUser(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "token is expired or malformed", apiErr.Message)
}

func TestSignUp_Validation(t *testing.T) {
	_, c, _ := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  contract.SignUpRequest
	}{
		{"missing name", contract.SignUpRequest{Email: "a@b.co", Password: "secret1"}},
		{"bad email", contract.SignUpRequest{FirstName: "A", LastName: "B", Email: "nope", Password: "secret1"}},
		{"bad phone", contract.SignUpRequest{FirstName: "A", LastName: "B", Email: "a@b.co", Phone: "12345", Password: "secret1"}},
		{"short password", contract.SignUpRequest{FirstName: "A", LastName: "B", Email: "a@b.co", Password: "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SignUp(ctx, tt.req)
			var apiErr *api.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		})
	}
}

func TestDeactivatedAccountLosesAccess(t *testing.T) {
	s, c, tokens := newTestServer(t)
	ctx := context.Background()
	seed(t, s, "asha@example.com", models.RoleUser)

	session, err := c.SignIn(ctx, "asha@example.com", "roses-are-red")
	require.NoError(t, err)
	tokens.set(session.BearerToken)

	require.NoError(t, s.Deactivate(ctx, "asha@example.com"))
	_, err = c.CurrentUser(ctx)
	assert.True(t, api.IsUnauthorized(err))

	_, err = c.SignIn(ctx, "asha@example.com", "roses-are-red")
	assert.True(t, api.IsUnauthorized(err))
}

func TestAdminRoutes(t *testing.T) {
	s, c, tokens := newTestServer(t)
	ctx := context.Background()
	seed(t, s, "asha@example.com", models.RoleUser)
	seed(t, s, "admin@example.com", models.RoleAdmin)

	e, err := c.CreateEnrollment(ctx, contract.EnrollmentRequest{
		Attendee:   models.Attendee{FirstName: "Asha", LastName: "Rao", Email: "asha@example.com", Phone: "9876543210"},
		EventTitle: "Ikebana Basics",
		Category:   models.EventWorkshop,
	})
	require.NoError(t, err)
	assert.Equal(t, "1", e.ID.String())
	assert.Equal(t, contract.EnrollmentPending, e.Status)

	err = c.UpdateEnrollmentStatus(ctx, e.ID.String(), contract.EnrollmentConfirmed)
	assert.True(t, api.IsUnauthorized(err), "guests are turned away")

	user, err := c.SignIn(ctx, "asha@example.com", "roses-are-red")
	require.NoError(t, err)
	tokens.set(user.BearerToken)
	err = c.UpdateEnrollmentStatus(ctx, e.ID.String(), contract.EnrollmentConfirmed)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	admin, err := c.SignIn(ctx, "admin@example.com", "roses-are-red")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
	tokens.set(admin.BearerToken)
	require.NoError(t, c.UpdateEnrollmentStatus(ctx, e.ID.String(), contract.EnrollmentConfirmed))

	got, err := c.Enrollment(ctx, e.ID.String())
	require.NoError(t, err)
	assert.Equal(t, contract.EnrollmentConfirmed, got.Status)

	err = c.UpdateEnrollmentStatus(ctx, e.ID.String(), "archived")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	// a role change takes effect without a new token
	require.NoError(t, s.SetRole(ctx, "admin@example.com", models.RoleUser))
	acct, err := c.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, acct.Role())
}

func TestPasswordRecovery(t *testing.T) {
	s, c, _ := newTestServer(t)
	ctx := context.Background()
	seed(t, s, "asha@example.com", models.RoleUser)

	_, err := c.ForgotPassword(ctx, "nobody@example.com")
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = c.ForgotPassword(ctx, "+91 98765-43210")
	require.NoError(t, err, "phone numbers find the account too")
	code, ok := s.RecoveryCode("asha@example.com")
	require.True(t, ok)
	assert.Len(t, code, 6)

	_, err = c.ResetPassword(ctx, "asha@example.com", code, "tulips-are-yellow")
	require.ErrorAs(t, err, &apiErr, "reset needs a verified code")
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = c.VerifyOTP(ctx, "asha@example.com", wrong)
	require.Error(t, err)

	_, err = c.VerifyOTP(ctx, "asha@example.com", code)
	require.NoError(t, err)
	_, err = c.ResetPassword(ctx, "asha@example.com", code, "tulips-are-yellow")
	require.NoError(t, err)

	_, ok = s.RecoveryCode("asha@example.com")
	assert.False(t, ok, "code is used up")

	_, err = c.SignIn(ctx, "asha@example.com", "roses-are-red")
	assert.Error(t, err)
	_, err = c.SignIn(ctx, "asha@example.com", "tulips-are-yellow")
	assert.NoError(t, err)
}

func TestRecoveryCodeExpires(t *testing.T) {
	s, c, _ := newTestServer(t)
	ctx := context.Background()
	seed(t, s, "asha@example.com", models.RoleUser)

	_, err := c.ForgotPassword(ctx, "asha@example.com")
	require.NoError(t, err)
	code, _ := s.RecoveryCode("asha@example.com")

	s.mu.Lock()
	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	s.mu.Unlock()

	_, err = c.VerifyOTP(ctx, "asha@example.com", code)
	assert.Error(t, err)
}

func TestPayment(t *testing.T) {
	s, c, _ := newTestServer(t)
	ctx := context.Background()

	order, err := c.CreateOrder(ctx, contract.CreateOrderRequest{Amount: 250000, Currency: "inr", Receipt: "rcpt_1", Notes: map[string]string{"eventTitle": "Ikebana Basics"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(order.ID, "order_"))
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, "pkey_test_flowerschool", order.Key)

	status, err := c.PaymentStatus(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderCreated, status.Status)

	_, err = c.VerifyPayment(ctx, contract.VerifyPaymentRequest{OrderID: order.ID, PaymentID: "pay_1", Signature: "forged"})
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	req := contract.VerifyPaymentRequest{
		OrderID:   order.ID,
		PaymentID: "pay_1",
		Signature: s.SignPayment(order.ID, "pay_1"),
		Attendee:  models.Attendee{Email: "asha@example.com"},
	}
	resp, err := c.VerifyPayment(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, resp.EnrollmentID)

	again, err := c.VerifyPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, resp.EnrollmentID, again.EnrollmentID, "verification is idempotent")

	status, err = c.PaymentStatus(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderPaid, status.Status)
	assert.Equal(t, "pay_1", status.PaymentID)

	enrollments := s.Enrollments()
	require.Len(t, enrollments, 1)
	assert.Equal(t, contract.EnrollmentConfirmed, enrollments[0].Status)
	assert.Equal(t, "Ikebana Basics", enrollments[0].EventTitle)

	_, err = c.CreateOrder(ctx, contract.CreateOrderRequest{Amount: 0})
	assert.Error(t, err)
	_, err = c.PaymentStatus(ctx, "order_missing")
	assert.Error(t, err)
}

func TestPayment_CardToken(t *testing.T) {
	_, c, _ := newTestServer(t)
	ctx := context.Background()

	order, err := c.CreateOrder(ctx, contract.CreateOrderRequest{Amount: 100, Currency: "INR"})
	require.NoError(t, err)

	_, err = c.VerifyPayment(ctx, contract.VerifyPaymentRequest{OrderID: order.ID, PaymentID: "pay_unsigned"})
	assert.Error(t, err, "only card tokens may skip the signature")

	resp, err := c.VerifyPayment(ctx, contract.VerifyPaymentRequest{OrderID: order.ID, PaymentID: "tokn_test_1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.EnrollmentID)
}

func TestPayLater(t *testing.T) {
	s, c, _ := newTestServer(t)
	ctx := context.Background()

	_, err := c.PayLater(ctx, contract.PayLaterRequest{Attendee: models.Attendee{FirstName: "Asha"}, EventTitle: "Ikebana Basics"})
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Message, "lastName")

	resp, err := c.PayLater(ctx, contract.PayLaterRequest{
		Attendee:   models.Attendee{FirstName: "Asha", LastName: "Rao", Email: "asha@example.com", Phone: "9876543210"},
		EventTitle: "Ikebana Basics",
		EventDate:  "2026-11-14",
		Amount:     2500,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, s.PayLaterBookings(), 1)
	assert.Equal(t, models.Price(2500), s.PayLaterBookings()[0].Amount)
}

func TestFeeds(t *testing.T) {
	s, c, _ := newTestServer(t)
	ctx := context.Background()

	courses := c.Courses(ctx)
	require.NoError(t, courses.Err)
	require.Len(t, courses.Items, 2)
	diploma := courses.Items[0]
	assert.Equal(t, "101", diploma.ID.String())
	assert.Equal(t, models.CategoryDiploma, diploma.Category)
	assert.Equal(t, models.Price(45000), diploma.Price)
	assert.Equal(t, 0, diploma.SeatsLeft())
	assert.Equal(t, []string{"Flower care", "Colour theory", "Bridal work"}, diploma.Features.Topics())
	assert.Equal(t, models.CategoryWorkshop, courses.Items[1].Category)

	impacts := c.Impacts(ctx)
	require.NoError(t, impacts.Err)
	assert.Len(t, impacts.Items, 2)

	s.FailFeed(FeedImpacts, http.StatusServiceUnavailable)
	failed := c.Impacts(ctx)
	assert.Error(t, failed.Err)
	assert.Empty(t, failed.Items)

	s.FailFeed(FeedImpacts, 0)
	s.SetFeed(FeedImpacts, json.RawMessage(`[{"id": 9, "title": "Weddings", "value": "50"}]`))
	impacts = c.Impacts(ctx)
	require.NoError(t, impacts.Err)
	require.Len(t, impacts.Items, 1)
	assert.Equal(t, "9", impacts.Items[0].ID.String())
}

func TestLanding(t *testing.T) {
	s, c, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, c.SubscribeEmail(ctx, "Asha@Example.com"))
	assert.True(t, s.Subscribed("asha@example.com"))
	assert.Error(t, c.SubscribeEmail(ctx, "not-an-email"))

	require.NoError(t, c.Contact(ctx, contract.LandingContactRequest{Name: "Asha", Email: "asha@example.com", Message: "Hello"}))
	assert.Error(t, c.Contact(ctx, contract.LandingContactRequest{Email: "asha@example.com"}))
}

func TestUnknownRoute(t *testing.T) {
	s := New(nil, Config{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nothing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body contract.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "no route for /api/nothing", body.Message)
}

func TestStaleCookieDoesNotBlockSignIn(t *testing.T) {
	s := New(nil, Config{PasswordCost: bcrypt.MinCost})
	seed(t, s, "asha@example.com", models.RoleUser)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin",
		strings.NewReader(`{"email":"asha@example.com","password":"roses-are-red"}`))
	req.AddCookie(&http.Cookie{Name: tokenCookie, Value: "stale"})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp contract.SignInResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Token)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == tokenCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, resp.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)
}
