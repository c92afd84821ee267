package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodCreditCard   Method = "credit_card"
	MethodPayPal       Method = "paypal"
	MethodStripe       Method = "stripe"
	MethodCOD          Method = "cod"
	MethodCrypto       Method = "crypto"
	MethodBankTransfer Method = "bank_transfer"
)

func (m Method) String() string {
	return string(m)
}

func (m Method) Valid() bool {
	switch m {
	case MethodCreditCard, MethodPayPal, MethodStripe, MethodCOD, MethodCrypto, MethodBankTransfer:
		return true
	}
	return false
}

// Deferred reports whether money is collected after the order is placed.
func (m Method) Deferred() bool {
	return m == MethodCOD || m == MethodBankTransfer
}

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

func (s Status) String() string {
	return string(s)
}

var (
	ErrDeclined          = errors.New("payment declined")
	ErrUnsupportedMethod = errors.New("unsupported payment method")
)

type Request struct {
	UserID   uuid.UUID
	Method   Method
	Amount   decimal.Decimal
	Currency string
}

type Result struct {
	Status   Status
	IntentID string
}

type Authorizer interface {
	Authorize(ctx context.Context, req Request) (*Result, error)
}

// Simulator authorizes payments without a gateway. Card-like methods are
// captured immediately, deferred methods stay pending.
type Simulator struct {
	maxAmount decimal.Decimal
	now       func() time.Time
}

// NewSimulator returns a Simulator declining amounts above maxAmount.
// A zero maxAmount accepts any positive amount.
func NewSimulator(maxAmount decimal.Decimal) *Simulator {
	return &Simulator{maxAmount: maxAmount, now: time.Now}
}

func (s *Simulator) Authorize(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !req.Method.Valid() {
		return nil, fmt.Errorf("payment: %w: %q", ErrUnsupportedMethod, req.Method)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("payment: %w: amount must be positive, got %s", ErrDeclined, req.Amount)
	}
	if s.maxAmount.IsPositive() && req.Amount.GreaterThan(s.maxAmount) {
		log.Warn().Stringer("user_id", req.UserID).Str("amount", req.Amount.String()).Msg("payment: amount above limit, declining")
		return nil, fmt.Errorf("payment: %w: amount %s exceeds limit %s", ErrDeclined, req.Amount, s.maxAmount)
	}

	result := &Result{
		Status:   StatusPaid,
		IntentID: fmt.Sprintf("mock_payment_id_%d", s.now().UnixMilli()),
	}
	if req.Method.Deferred() {
		result.Status = StatusPending
	}

	log.Info().
		Stringer("user_id", req.UserID).
		Stringer("method", req.Method).
		Stringer("payment_status", result.Status).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("payment: authorized")

	return result, nil
}
