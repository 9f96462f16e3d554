// Package limits enforces the admission limits of a monthly submission.
//
// Each offer must be backed by stock of the participant for that product
// line, and the marketing spend across all offers must fit the budget
// formed by the balance plus an optional credit line. Duplicate offers for
// one line count against the same stock.
package limits

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/model"
)

var (
	// ErrStockExceeded is returned when the offered quantity of a line
	// exceeds the stock available for it.
	ErrStockExceeded = errors.New("limits: offer exceeds available stock")

	// ErrLineLimitExceeded is returned when the quantity of a line exceeds
	// the per-line maximum.
	ErrLineLimitExceeded = errors.New("limits: per-line quantity limit exceeded")

	// ErrBudgetExceeded is returned when the total marketing spend exceeds
	// the available budget.
	ErrBudgetExceeded = errors.New("limits: marketing spend exceeds budget")

	// ErrInvalidOffer is returned for offers with out-of-range fields.
	ErrInvalidOffer = errors.New("limits: invalid offer")
)

// MaxAttribute is the upper bound of quality, innovation and brand.
const MaxAttribute = 10

// Limiter checks submissions against stock and budget.
type Limiter struct {
	// MaxPerLine caps the quantity offered per line. Zero means no cap.
	MaxPerLine int

	// CreditLine is how far below zero the balance may be spent.
	CreditLine decimal.Decimal
}

// New creates a limiter.
func New(maxPerLine int, creditLine decimal.Decimal) *Limiter {
	if maxPerLine < 0 {
		maxPerLine = 0
	}
	if creditLine.IsNegative() {
		creditLine = decimal.Zero
	}
	return &Limiter{MaxPerLine: maxPerLine, CreditLine: creditLine}
}

// Check validates offers against the available stock per line and the
// participant balance. A line missing from stock has none.
func (l *Limiter) Check(offers []model.Offer, stock map[string]int, balance decimal.Decimal) error {
	perLine := make(map[string]int, len(offers))
	spend := decimal.Zero

	for _, o := range offers {
		if err := validate(o); err != nil {
			return err
		}
		perLine[o.ProductLine] += o.Quantity
		q := perLine[o.ProductLine]

		if q > stock[o.ProductLine] {
			return fmt.Errorf("%w: %s offers %d, has %d", ErrStockExceeded, o.ProductLine, q, stock[o.ProductLine])
		}
		if l.MaxPerLine > 0 && q > l.MaxPerLine {
			return fmt.Errorf("%w: %s offers %d, max %d", ErrLineLimitExceeded, o.ProductLine, q, l.MaxPerLine)
		}
		spend = spend.Add(o.Marketing)
	}

	if spend.IsPositive() {
		budget := balance.Add(l.CreditLine)
		if spend.GreaterThan(budget) {
			return fmt.Errorf("%w: spend %s, budget %s", ErrBudgetExceeded, spend.StringFixed(2), budget.StringFixed(2))
		}
	}
	return nil
}

func validate(o model.Offer) error {
	switch {
	case o.ProductLine == "":
		return fmt.Errorf("%w: missing product line", ErrInvalidOffer)
	case o.Quantity < 0:
		return fmt.Errorf("%w: %s quantity %d", ErrInvalidOffer, o.ProductLine, o.Quantity)
	case o.Quantity > 0 && !o.Price.IsPositive():
		return fmt.Errorf("%w: %s price must be positive", ErrInvalidOffer, o.ProductLine)
	case o.Marketing.IsNegative():
		return fmt.Errorf("%w: %s negative marketing", ErrInvalidOffer, o.ProductLine)
	}
	for _, v := range []float64{o.Quality, o.Innovation, o.Brand} {
		if v < 0 || v > MaxAttribute {
			return fmt.Errorf("%w: %s attribute %.2f outside 0..%d", ErrInvalidOffer, o.ProductLine, v, MaxAttribute)
		}
	}
	return nil
}
