// Package approval holds the amount-range approval gate for sales orders:
// range resolution, approver authorization and the order lifecycle.
package approval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// RangeCount is the fixed number of configurable approval ranges.
const RangeCount = 3

// Range is one configured monetary band. A nil Max means the band has no ceiling.
type Range struct {
	Min      decimal.Decimal
	Max      *decimal.Decimal
	Approver string // opaque stored value, see ParseApproverID
}

// Ranges are evaluated in index order; the first match wins.
type Ranges [RangeCount]Range

// Disabled reports whether the administrator left the band blank.
func (r Range) Disabled() bool {
	return r.Min.IsZero() && (r.Max == nil || r.Max.IsZero())
}

// Contains reports whether amount falls inside the band, both ends inclusive.
func (r Range) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(r.Min) {
		return false
	}
	return r.Max == nil || amount.LessThanOrEqual(*r.Max)
}

// Resolution is the outcome of matching an amount against the ranges.
type Resolution struct {
	Required bool
	Range    int // 1-based index of the matched range, 0 when none matched
	Level    string
	Approver string
}

// ApproverID returns the matched range's approver as a user id.
func (r Resolution) ApproverID() (int64, bool) {
	return ParseApproverID(r.Approver)
}

// Resolve returns the first enabled range containing amount.
func Resolve(amount decimal.Decimal, ranges Ranges) Resolution {
	for i, r := range ranges {
		if r.Disabled() || !r.Contains(amount) {
			continue
		}
		return Resolution{
			Required: true,
			Range:    i + 1,
			Level:    rangeLabel(i+1, r),
			Approver: r.Approver,
		}
	}
	return Resolution{}
}

func rangeLabel(index int, r Range) string {
	if r.Max == nil {
		return fmt.Sprintf("Range %d (>= %s)", index, r.Min.String())
	}
	return fmt.Sprintf("Range %d (%s - %s)", index, r.Min.String(), r.Max.String())
}

// ParseApproverID converts a stored approver value to a user id. Empty values,
// boolean placeholders, garbage and non-positive numbers all mean "no approver".
func ParseApproverID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Actor is the user performing an action.
type Actor struct {
	ID             int64
	Name           string
	Email          string
	IsSalesManager bool
}

// CanApprove applies the authorization rule to a resolution: anyone may approve
// when no range matched, otherwise the range's approver or a sales manager.
func CanApprove(res Resolution, actor Actor) bool {
	if !res.Required {
		return true
	}
	if id, ok := res.ApproverID(); ok && id == actor.ID {
		return true
	}
	return actor.IsSalesManager
}
