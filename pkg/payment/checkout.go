// Package payment bridges a booking to the payment vendor: the backend
// creates an order, the vendor collects the payment, and the backend
// verifies the vendor's result before the enrollment is confirmed.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	contract "github.com/flowerschoolbengaluru/flowerschool/api"
	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
)

// ErrDismissed is returned by Open when the user closes the vendor checkout.
var ErrDismissed = errors.New("payment cancelled")

// Result is the vendor's success callback.
type Result struct {
	OrderID   string
	PaymentID string
	Signature string
}

// Prefill is shown in the vendor checkout so the attendee does not retype it.
type Prefill struct {
	Name    string
	Email   string
	Contact string
}

// Checkout is everything a booking needs from the payment side.
type Checkout interface {
	CreateOrder(ctx context.Context, req contract.CreateOrderRequest) (*contract.Order, error)
	// Open blocks until the vendor reports success or the user dismisses it,
	// in which case the error is ErrDismissed.
	Open(ctx context.Context, order *contract.Order, prefill Prefill) (*Result, error)
	Verify(ctx context.Context, req contract.VerifyPaymentRequest) (*contract.VerifyPaymentResponse, error)
}

// Vendor is a loaded vendor integration.
type Vendor interface {
	Open(ctx context.Context, order *contract.Order, prefill Prefill) (*Result, error)
}

// OrderAPI is the part of the backend client the checkout uses.
type OrderAPI interface {
	CreateOrder(ctx context.Context, req contract.CreateOrderRequest) (*contract.Order, error)
	VerifyPayment(ctx context.Context, req contract.VerifyPaymentRequest) (*contract.VerifyPaymentResponse, error)
}

// BackendCheckout creates and verifies orders through the backend and opens
// them with a lazily loaded vendor.
type BackendCheckout struct {
	log    *slog.Logger
	api    OrderAPI
	loader *Loader
}

// NewBackendCheckout returns a Checkout over api and loader.
func NewBackendCheckout(logger *slog.Logger, api OrderAPI, loader *Loader) *BackendCheckout {
	return &BackendCheckout{log: logutil.OrDiscard(logger), api: api, loader: loader}
}

func (c *BackendCheckout) CreateOrder(ctx context.Context, req contract.CreateOrderRequest) (*contract.Order, error) {
	defer logutil.NewTimingLogger(c.log, time.Now(), "payment.CreateOrder", "receipt", req.Receipt, "amount", req.Amount)()

	order, err := c.api.CreateOrder(ctx, req)
	if err != nil {
		return nil, logutil.DebugAndWrapErr(c.log, "creating payment order", err, "receipt", req.Receipt)
	}
	return order, nil
}

func (c *BackendCheckout) Open(ctx context.Context, order *contract.Order, prefill Prefill) (*Result, error) {
	vendor, err := c.loader.Vendor(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading payment vendor: %w", err)
	}

	res, err := vendor.Open(ctx, order, prefill)
	if err != nil {
		if errors.Is(err, ErrDismissed) {
			c.log.Info("checkout dismissed", "order_id", order.ID)
			return nil, ErrDismissed
		}
		return nil, logutil.LogAndWrapErr(c.log, "vendor checkout failed", err, "order_id", order.ID)
	}
	if res.OrderID == "" {
		res.OrderID = order.ID
	}
	c.log.Info("vendor reported payment", "order_id", res.OrderID, "payment_id", res.PaymentID)
	return res, nil
}

func (c *BackendCheckout) Verify(ctx context.Context, req contract.VerifyPaymentRequest) (*contract.VerifyPaymentResponse, error) {
	defer logutil.NewTimingLogger(c.log, time.Now(), "payment.Verify", "order_id", req.OrderID)()

	resp, err := c.api.VerifyPayment(ctx, req)
	if err != nil {
		// money may have moved; this needs a human to reconcile
		return nil, logutil.LogAndWrapErr(c.log, "verifying payment", err, "order_id", req.OrderID, "payment_id", req.PaymentID)
	}
	return resp, nil
}
