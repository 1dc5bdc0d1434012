package approval

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-sales-approvals/internal/platform/errors"
)

// Parameter keys in the key/value settings store.
const (
	KeyEnabled = "sales_approval.enabled"
)

// MinKey, MaxKey and ApproverKey return the settings keys for range i (1-based).
func MinKey(i int) string      { return fmt.Sprintf("sales_approval.range%d.min_amount", i) }
func MaxKey(i int) string      { return fmt.Sprintf("sales_approval.range%d.max_amount", i) }
func ApproverKey(i int) string { return fmt.Sprintf("sales_approval.range%d.approver", i) }

// Settings is the typed form of the approval parameters.
type Settings struct {
	Enabled bool
	Ranges  Ranges
}

// DefaultSettings are used for keys that were never written.
func DefaultSettings() Settings {
	max1 := decimal.NewFromInt(1000)
	max2 := decimal.NewFromInt(5000)
	return Settings{
		Enabled: false,
		Ranges: Ranges{
			{Min: decimal.Zero, Max: &max1},
			{Min: decimal.NewFromInt(1001), Max: &max2},
			{Min: decimal.NewFromInt(5001)},
		},
	}
}

// Resolve applies the master switch before matching ranges.
func (s Settings) Resolve(amount decimal.Decimal) Resolution {
	if !s.Enabled {
		return Resolution{}
	}
	return Resolve(amount, s.Ranges)
}

// Validate checks the range configuration. It runs when settings are saved,
// never when orders are evaluated. Blank ranges are not checked; only the
// last range may be open-ended.
func (s Settings) Validate() error {
	for i, r := range s.Ranges {
		n := i + 1
		if r.Min.IsNegative() {
			return errors.InvalidInput(MinKey(n), fmt.Sprintf("Range %d: minimum amount cannot be negative", n))
		}
		if r.Max != nil && r.Max.IsNegative() {
			return errors.InvalidInput(MaxKey(n), fmt.Sprintf("Range %d: maximum amount cannot be negative", n))
		}
		if r.Disabled() {
			continue
		}
		if n < RangeCount {
			if !hasCeiling(r) {
				return errors.InvalidInput(MaxKey(n), fmt.Sprintf("Range %d: maximum amount is required", n))
			}
			if r.Min.GreaterThanOrEqual(*r.Max) {
				return errors.InvalidInput(MaxKey(n), fmt.Sprintf("Range %d: minimum amount must be less than maximum amount", n))
			}
		}
		if i == 0 {
			continue
		}
		prev := s.Ranges[i-1]
		if !r.Min.IsZero() && hasCeiling(prev) && r.Min.LessThanOrEqual(*prev.Max) {
			return errors.InvalidInput(MinKey(n), fmt.Sprintf("Range %d: minimum amount must be greater than Range %d maximum", n, n-1))
		}
	}
	if s.Ranges[RangeCount-1].Max != nil {
		return errors.InvalidInput(MaxKey(RangeCount), fmt.Sprintf("Range %d must be open-ended", RangeCount))
	}
	return nil
}

func hasCeiling(r Range) bool {
	return r.Max != nil && !r.Max.IsZero()
}
