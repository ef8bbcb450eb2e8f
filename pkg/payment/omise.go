package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	contract "github.com/flowerschoolbengaluru/flowerschool/api"
	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// Card is what the attendee typed into the checkout form.
type Card struct {
	Name            string
	Number          string
	ExpirationMonth time.Month
	ExpirationYear  int
	SecurityCode    string
	City            string
	PostalCode      string
}

// CardPrompter shows the hosted card form. It returns ErrDismissed when the
// attendee closes it.
type CardPrompter interface {
	PromptCard(ctx context.Context, order *contract.Order, prefill Prefill) (*Card, error)
}

// OmiseVendor collects card details and tokenizes them with Omise using the
// public key only. The card never reaches the school's backend; the backend
// charges the token when the payment is verified, so Result.Signature is empty.
type OmiseVendor struct {
	log       *slog.Logger
	publicKey string
	client    *omise.Client
	prompter  CardPrompter

	tokenize func(client *omise.Client, token *omise.Token, op *operations.CreateToken) error
}

// NewOmiseVendor returns a vendor for publicKey (pkey_...).
func NewOmiseVendor(logger *slog.Logger, publicKey string, prompter CardPrompter) (*OmiseVendor, error) {
	if prompter == nil {
		return nil, errors.New("omise vendor needs a card prompter")
	}
	client, err := newOmiseClient(publicKey)
	if err != nil {
		return nil, err
	}
	return &OmiseVendor{
		log:       logutil.OrDiscard(logger),
		publicKey: publicKey,
		client:    client,
		prompter:  prompter,
		tokenize: func(client *omise.Client, token *omise.Token, op *operations.CreateToken) error {
			return client.Do(token, op)
		},
	}, nil
}

func newOmiseClient(publicKey string) (*omise.Client, error) {
	c, err := omise.NewClient(strings.TrimSpace(publicKey), "")
	if err != nil {
		return nil, fmt.Errorf("creating omise client: %w", err)
	}
	return c, nil
}

// OmiseLoader returns a LoadFunc building an OmiseVendor.
func OmiseLoader(logger *slog.Logger, publicKey string, prompter CardPrompter) LoadFunc {
	return func(context.Context) (Vendor, error) {
		return NewOmiseVendor(logger, publicKey, prompter)
	}
}

func (v *OmiseVendor) Open(ctx context.Context, order *contract.Order, prefill Prefill) (*Result, error) {
	client := v.client
	if order.Key != "" && order.Key != v.publicKey {
		c, err := newOmiseClient(order.Key)
		if err != nil {
			return nil, err
		}
		v.log.Debug("using the public key named by the order", "order_id", order.ID)
		client = c
	}

	card, err := v.prompter.PromptCard(ctx, order, prefill)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if card.Name == "" {
		card.Name = prefill.Name
	}

	token := &omise.Token{}
	op := &operations.CreateToken{
		Name:            card.Name,
		Number:          strings.ReplaceAll(card.Number, " ", ""),
		ExpirationMonth: card.ExpirationMonth,
		ExpirationYear:  card.ExpirationYear,
		SecurityCode:    card.SecurityCode,
		City:            card.City,
		PostalCode:      card.PostalCode,
	}
	if err := v.tokenize(client, token, op); err != nil {
		return nil, logutil.DebugAndWrapErr(v.log, "tokenizing card", err, "order_id", order.ID)
	}

	return &Result{OrderID: order.ID, PaymentID: token.ID}, nil
}
