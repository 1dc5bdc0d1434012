package approval

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-sales-approvals/internal/platform/errors"
)

// Status is the sales order lifecycle state.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusToApprove     Status = "to_approve"
	StatusQuotationSent Status = "quotation_sent"
	StatusConfirmed     Status = "confirmed"
	StatusCancelled     Status = "cancelled"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusToApprove, StatusQuotationSent, StatusConfirmed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// Action tells the caller what a confirm request did.
type Action string

const (
	ActionPendingApproval Action = "pending_approval"
	ActionConfirmed       Action = "confirmed"
)

// Order is a sales order together with its derived approval fields.
type Order struct {
	ID           string
	Name         string
	CustomerName string
	Currency     string
	TotalAmount  decimal.Decimal
	Status       Status

	ApprovalRequired bool
	ApprovalLevel    string

	CreatedBy  int64
	ApprovedBy *int64
	ApprovedAt *time.Time
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewOrder creates a draft order.
func NewOrder(name, customer, currency string, amount decimal.Decimal, createdBy int64) (*Order, error) {
	if name == "" {
		return nil, errors.InvalidInput("name", "order name is required")
	}
	if len(currency) != 3 {
		return nil, errors.InvalidInput("currency", "currency must be 3-letter ISO code")
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Order{
		Name:         name,
		CustomerName: customer,
		Currency:     currency,
		TotalAmount:  amount,
		Status:       StatusDraft,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Recompute refreshes the derived approval fields from settings.
func (o *Order) Recompute(s Settings) Resolution {
	res := s.Resolve(o.TotalAmount)
	o.ApprovalRequired = res.Required
	o.ApprovalLevel = res.Level
	return res
}

// CanUserApprove resolves the order's range from settings and applies the
// authorization rule for actor.
func (o *Order) CanUserApprove(actor Actor, s Settings) bool {
	return CanApprove(s.Resolve(o.TotalAmount), actor)
}

// SetAmount changes the total and recomputes the derived fields. Only drafts
// can be repriced.
func (o *Order) SetAmount(amount decimal.Decimal, s Settings) error {
	if o.Status != StatusDraft {
		return errors.InvalidState(fmt.Sprintf("cannot change amount of order in status '%s'", o.Status))
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	o.TotalAmount = amount
	o.Recompute(s)
	o.touch()
	return nil
}

// validateAmount matches the NUMERIC(18,2) column: no negatives and at most
// two decimal places.
func validateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.InvalidInput("total_amount", "total amount cannot be negative")
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return errors.InvalidInput("total_amount", "total amount cannot have more than 2 decimal places")
	}
	return nil
}

// RequestConfirm gates confirmation. A draft whose amount falls in a range goes
// to approval; otherwise the order is confirmed. An approved quotation is
// confirmed directly.
func (o *Order) RequestConfirm(s Settings) (Action, Resolution, error) {
	res := o.Recompute(s)
	switch o.Status {
	case StatusDraft:
		if res.Required {
			o.Status = StatusToApprove
			o.touch()
			return ActionPendingApproval, res, nil
		}
		o.Status = StatusConfirmed
		o.touch()
		return ActionConfirmed, res, nil
	case StatusQuotationSent:
		o.Status = StatusConfirmed
		o.touch()
		return ActionConfirmed, res, nil
	default:
		return "", res, errors.InvalidState(fmt.Sprintf("cannot confirm order in status '%s'", o.Status))
	}
}

// SendForApproval moves a draft that needs approval to to_approve.
func (o *Order) SendForApproval(s Settings) (Resolution, error) {
	res := o.Recompute(s)
	if o.Status != StatusDraft {
		return res, errors.InvalidState("only draft quotations can be sent for approval")
	}
	if !res.Required {
		return res, errors.InvalidState("this quotation does not require approval")
	}
	o.Status = StatusToApprove
	o.touch()
	return res, nil
}

// Approve records an approval by actor.
func (o *Order) Approve(actor Actor, s Settings) error {
	o.Recompute(s)
	if o.Status != StatusToApprove && o.Status != StatusDraft {
		return errors.InvalidState(fmt.Sprintf("cannot approve order in status '%s'", o.Status))
	}
	if !o.CanUserApprove(actor, s) {
		return errors.Unauthorized("you don't have permission to approve this order")
	}
	now := time.Now().UTC()
	approvedBy := actor.ID
	o.Status = StatusQuotationSent
	o.ApprovedBy = &approvedBy
	o.ApprovedAt = &now
	o.UpdatedAt = now
	return nil
}

// Cancel moves any non-terminal order to cancelled.
func (o *Order) Cancel() error {
	if o.Status.Terminal() {
		return errors.InvalidState(fmt.Sprintf("cannot cancel order in status '%s'", o.Status))
	}
	o.Status = StatusCancelled
	o.touch()
	return nil
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
