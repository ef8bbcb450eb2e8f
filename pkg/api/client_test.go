package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	contract "github.com/flowerschoolbengaluru/flowerschool/api"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	mu      sync.Mutex
	token   string
	legacy  string
	cleared int
}

func (f *fakeTokens) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeTokens) LegacyToken(context.Context) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.legacy
}

func (f *fakeTokens) ClearLegacyToken(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.legacy = ""
	f.cleared++
}

type recordingNavigator struct {
	mu     sync.Mutex
	routes []string
}

func (n *recordingNavigator) Navigate(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(nil, srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func TestTransport_AttachesBearer(t *testing.T) {
	var got []string
	h := func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}

	tokens := &fakeTokens{token: "cookie-token", legacy: "legacy-token"}
	c := newTestClient(t, h, WithTokens(tokens))
	require.NoError(t, c.SignOut(context.Background()))

	tokens.token = ""
	require.NoError(t, c.SignOut(context.Background()))

	tokens.legacy = ""
	require.NoError(t, c.SignOut(context.Background()))

	assert.Equal(t, []string{"Bearer cookie-token", "Bearer legacy-token", ""}, got)
}

func TestTransport_UnauthorizedRedirectsOnce(t *testing.T) {
	h := func(w http.ResponseWriter, r *http.Request) {
		contract.ReturnError(w, nil, contract.UnauthorizedInvalidToken)
	}

	tests := []struct {
		name          string
		token         string
		call          func(c *Client) error
		wantRedirects int
	}{
		{
			name:          "authenticated request",
			token:         "tok",
			call:          func(c *Client) error { _, err := c.CurrentUser(context.Background()); return err },
			wantRedirects: 1,
		},
		{
			name:          "sign-in attempt",
			token:         "tok",
			call:          func(c *Client) error { _, err := c.SignIn(context.Background(), "a@b.in", "x"); return err },
			wantRedirects: 0,
		},
		{
			name:  "sign-up attempt",
			token: "tok",
			call: func(c *Client) error {
				_, err := c.SignUp(context.Background(), contract.SignUpRequest{Email: "a@b.in"})
				return err
			},
			wantRedirects: 0,
		},
		{
			name:          "anonymous request",
			token:         "",
			call:          func(c *Client) error { _, err := c.CurrentUser(context.Background()); return err },
			wantRedirects: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := &fakeTokens{legacy: tt.token}
			nav := &recordingNavigator{}
			c := newTestClient(t, h, WithTokens(tokens), WithNavigator(nav))

			err := tt.call(c)
			require.Error(t, err)
			assert.True(t, IsUnauthorized(err))
			assert.Len(t, nav.routes, tt.wantRedirects)
			assert.Equal(t, tt.wantRedirects, tokens.cleared)
			if tt.wantRedirects > 0 {
				assert.Equal(t, SignInRoute, nav.routes[0])
				assert.Empty(t, tokens.legacy)
			}
		})
	}
}

func TestTransport_GuardSpansRoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{token: "tok"}
	nav := &recordingNavigator{}
	client := &http.Client{Transport: NewTransport(nil, nil, tokens, nav, false)}

	ctx := WithRedirectGuard(context.Background())
	for range 3 {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/courses", nil)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "response passes through untouched")
	}
	assert.Len(t, nav.routes, 1)
}

func TestClaimRedirect(t *testing.T) {
	assert.True(t, ClaimRedirect(context.Background()))
	assert.True(t, ClaimRedirect(context.Background()), "unguarded contexts always may redirect")

	ctx := WithRedirectGuard(context.Background())
	assert.True(t, ClaimRedirect(ctx))
	assert.False(t, ClaimRedirect(ctx))
	assert.False(t, ClaimRedirect(WithRedirectGuard(ctx)), "nested guards share the claim")
}

func TestClient_ErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		wantKind ErrorKind
	}{
		{"server message", http.StatusBadRequest, `{"message":"Course is full"}`, "Course is full", KindClient},
		{"error field", http.StatusConflict, `{"error":"already enrolled"}`, "already enrolled", KindClient},
		{"no body 500", http.StatusInternalServerError, ``, MsgServer, KindServer},
		{"no body 404", http.StatusNotFound, `not json`, MsgNotFound, KindClient},
		{"forbidden", http.StatusForbidden, `{}`, MsgForbidden, KindUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.PayLater(context.Background(), contract.PayLaterRequest{})
			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.Equal(t, tt.wantKind, apiErr.Kind)
			assert.Equal(t, tt.wantMsg, Message(err))
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(nil, url)
	require.NoError(t, err)

	_, err = c.CurrentUser(context.Background())
	assert.True(t, IsNetwork(err))
	assert.Contains(t, Message(err), "check if the backend is running")
}

func TestClient_ContextCancellation(t *testing.T) {
	block := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CurrentUser(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, c.http.Timeout, "no request timeout unless configured")
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New(nil, "/api")
	assert.Error(t, err)
}

func TestClient_SignIn(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathSignIn, r.URL.Path)
		var req contract.SignInRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "meera@example.com", req.Email)

		contract.RespondJSON(w, http.StatusOK, map[string]any{
			"sessionToken": "tok-1",
			"user":         map[string]any{"id": 42, "email": "meera@example.com", "firstname": "Meera", "lastname": "Rao", "usertype": "admin"},
		})
	})

	s, err := c.SignIn(context.Background(), " meera@example.com ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "42", s.ID)
	assert.Equal(t, "Meera Rao", s.DisplayName)
	assert.Equal(t, "tok-1", s.BearerToken)
	assert.Equal(t, models.RoleAdmin, s.Role)
}

func TestClient_SignInWithoutToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		contract.RespondJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": 1}})
	})

	_, err := c.SignIn(context.Background(), "a@b.in", "x")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindServer, apiErr.Kind)
}

func TestClient_CurrentUserShapes(t *testing.T) {
	for name, body := range map[string]string{
		"wrapped": `{"user":{"id":"u1","email":"a@b.in"}}`,
		"bare":    `{"id":"u1","email":"a@b.in"}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			})
			acct, err := c.CurrentUser(context.Background())
			require.NoError(t, err)
			assert.Equal(t, models.FlexibleID("u1"), acct.ID)
		})
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	_, err := c.CurrentUser(context.Background())
	assert.Error(t, err)
}

func TestClient_RecoveryContact(t *testing.T) {
	var bodies []contract.RecoveryRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req contract.RecoveryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		bodies = append(bodies, req)
		contract.RespondJSON(w, http.StatusOK, contract.MessageResponse{Success: true})
	})

	ctx := context.Background()
	_, err := c.ForgotPassword(ctx, "meera@example.com")
	require.NoError(t, err)
	_, err = c.VerifyOTP(ctx, "+91 98765 43210", "123456")
	require.NoError(t, err)
	_, err = c.ResetPassword(ctx, "meera@example.com", "123456", "n3w")
	require.NoError(t, err)

	require.Len(t, bodies, 3)
	assert.Equal(t, contract.RecoveryRequest{Email: "meera@example.com"}, bodies[0])
	assert.Equal(t, contract.RecoveryRequest{Phone: "919876543210", OTP: "123456"}, bodies[1])
	assert.Equal(t, "n3w", bodies[2].NewPassword)
}

func TestClient_CreateOrderShapes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"key":"pkey_test","order":{"id":"order_1","amount":350000,"currency":"INR"}}`)
	})
	order, err := c.CreateOrder(context.Background(), contract.CreateOrderRequest{Amount: 350000, Currency: "INR"})
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.ID)
	assert.Equal(t, "pkey_test", order.Key)

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	_, err = c.CreateOrder(context.Background(), contract.CreateOrderRequest{})
	assert.Error(t, err)
}

func TestClient_VerifyPaymentRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"message":"signature mismatch"}`)
	})
	_, err := c.VerifyPayment(context.Background(), contract.VerifyPaymentRequest{OrderID: "o"})
	assert.Equal(t, "signature mismatch", Message(err))
}

func TestClient_EnrollmentLifecycle(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			_, _ = io.WriteString(w, `{"enrollment":{"id":9,"status":"pending"}}`)
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"id":9,"status":"confirmed"}`)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	ctx := context.Background()
	e, err := c.CreateEnrollment(ctx, contract.EnrollmentRequest{EventTitle: "Wreaths"})
	require.NoError(t, err)
	assert.Equal(t, models.FlexibleID("9"), e.ID)
	require.NoError(t, c.UpdateEnrollmentStatus(ctx, "9", contract.EnrollmentConfirmed))
	e, err = c.Enrollment(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", e.Status)

	assert.Equal(t, []string{"POST /api/enrollments", "PATCH /api/enrollments/9/status", "GET /api/enrollments/9"}, paths)
}
