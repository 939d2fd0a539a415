package hecart

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ScaleFactor encodes a fractional discount as an integer plaintext. Rates
// resolve to one part in ScaleFactor.
const ScaleFactor = 10

var (
	one   = decimal.NewFromInt(1)
	scale = decimal.NewFromInt(ScaleFactor)
)

// Coupon stays with the client; the server only sees its encrypted factor.
type Coupon struct {
	Name string
	Rate decimal.Decimal
}

func (c Coupon) Validate() error {
	if c.Rate.IsNegative() || c.Rate.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: %q rate %s not in [0,1)", ErrInvalidCoupon, c.Name, c.Rate)
	}
	return nil
}

// SelectCoupon picks the 1-based index out of coupons.
func SelectCoupon(coupons []Coupon, index int) (Coupon, error) {
	if index < 1 || index > len(coupons) {
		return Coupon{}, fmt.Errorf("%w: %d not in [1,%d]", ErrSelectionOutOfRange, index, len(coupons))
	}
	return coupons[index-1], nil
}

// DiscountFactor is round((1-rate)*ScaleFactor).
func DiscountFactor(rate decimal.Decimal) uint64 {
	return uint64(one.Sub(rate).Mul(scale).Round(0).IntPart())
}

// EncryptDiscount is the client half of discounting: it writes the encrypted
// factor of coupon where the server will pick it up.
func EncryptDiscount(eval *Evaluator, store *CiphertextStore, client string, coupon Coupon) error {
	if err := coupon.Validate(); err != nil {
		return err
	}
	factor, err := eval.Encrypt(DiscountFactor(coupon.Rate))
	if err != nil {
		return err
	}
	return store.PutCiphertext(OrderNamespace(client), discountName, factor)
}

// DiscountApplier is the server half, scaling a cart total by the
// encrypted factor the client left in the store.
type DiscountApplier struct {
	eval   *Evaluator
	store  *CiphertextStore
	logger *zap.Logger
}

func NewDiscountApplier(eval *Evaluator, store *CiphertextStore, logger *zap.Logger) *DiscountApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscountApplier{eval: eval, store: store, logger: logger}
}

func (d *DiscountApplier) Apply(client string, total *Ciphertext) (*Ciphertext, error) {
	factor, err := d.store.GetCiphertext(OrderNamespace(client), discountName)
	if err != nil {
		return nil, fmt.Errorf("discount factor: %w", err)
	}
	discounted, err := d.eval.Multiply(total, factor)
	if err != nil {
		return nil, fmt.Errorf("apply discount: %w", err)
	}
	d.logger.Debug("applied discount", zap.String("namespace", OrderNamespace(client)), zap.Int("depth", discounted.Depth()))
	return discounted, nil
}
