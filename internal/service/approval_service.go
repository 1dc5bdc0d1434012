package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-sales-approvals/internal/approval"
	"github.com/pesio-ai/be-sales-approvals/internal/client"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/metrics"
	"github.com/pesio-ai/be-sales-approvals/internal/repository"
)

// OrderStore persists sales orders. Update must fail with a CONFLICT error when
// the stored version differs from the order's.
type OrderStore interface {
	Create(ctx context.Context, o *approval.Order) error
	GetByID(ctx context.Context, id string) (*approval.Order, error)
	List(ctx context.Context, status *approval.Status, limit, offset int) ([]*approval.Order, error)
	Update(ctx context.Context, o *approval.Order) error
}

// UserDirectory resolves active users.
type UserDirectory interface {
	GetByID(ctx context.Context, id int64) (*repository.User, error)
}

// ActivityStore schedules and completes approver reminders.
type ActivityStore interface {
	Schedule(ctx context.Context, a *repository.Activity) (bool, error)
	CompleteForOrder(ctx context.Context, orderID string) (int64, error)
	ListPendingForUser(ctx context.Context, userID int64) ([]*repository.Activity, error)
}

// AuditLog is the append-only order history.
type AuditLog interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetByOrderID(ctx context.Context, orderID string) ([]*repository.AuditEntry, error)
}

// Notifier delivers notification events.
type Notifier interface {
	Publish(ctx context.Context, event *client.NotificationEvent) error
}

// SettingsProvider returns the current approval settings.
type SettingsProvider interface {
	GetSettings(ctx context.Context) (approval.Settings, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ApprovalService drives sales orders through the amount-based approval gate.
type ApprovalService struct {
	orders     OrderStore
	settings   SettingsProvider
	users      UserDirectory
	activities ActivityStore
	audit      AuditLog
	notifier   Notifier
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	orders OrderStore,
	settings SettingsProvider,
	users UserDirectory,
	activities ActivityStore,
	audit AuditLog,
	notifier Notifier,
	log *logger.Logger,
	m *metrics.Metrics,
) *ApprovalService {
	return &ApprovalService{
		orders:     orders,
		settings:   settings,
		users:      users,
		activities: activities,
		audit:      audit,
		notifier:   notifier,
		log:        log,
		metrics:    m,
	}
}

// ConfirmResult is the outcome of a confirm request.
type ConfirmResult struct {
	Order      *approval.Order
	Action     approval.Action
	Resolution approval.Resolution
}

// CreateOrderRequest carries the fields of a new draft.
type CreateOrderRequest struct {
	Name         string
	CustomerName string
	Currency     string
	TotalAmount  decimal.Decimal
}

// ── Order lifecycle ───────────────────────────────────────────────────────────

// CreateOrder stores a new draft with its derived approval fields.
func (s *ApprovalService) CreateOrder(ctx context.Context, req CreateOrderRequest, actorID int64) (*approval.Order, error) {
	actor, err := resolveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	order, err := approval.NewOrder(req.Name, req.CustomerName, req.Currency, req.TotalAmount, actor.ID)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	order.Recompute(settings)

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.ID).
		Str("amount", order.TotalAmount.String()).
		Bool("approval_required", order.ApprovalRequired).
		Msg("Sales order created")
	return order, nil
}

// GetOrder returns an order with approval fields derived from current settings.
func (s *ApprovalService) GetOrder(ctx context.Context, orderID string) (*approval.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	order.Recompute(settings)
	return order, nil
}

// ListOrders returns orders, optionally filtered by status, with approval
// fields derived from current settings.
func (s *ApprovalService) ListOrders(ctx context.Context, status string, limit, offset int) ([]*approval.Order, error) {
	var filter *approval.Status
	if status != "" {
		st := approval.Status(status)
		if !st.IsValid() {
			return nil, errors.InvalidInput("status", fmt.Sprintf("unknown status '%s'", status))
		}
		filter = &st
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	orders, err := s.orders.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.Recompute(settings)
	}
	return orders, nil
}

// UpdateAmount reprices a draft and recomputes whether it needs approval.
func (s *ApprovalService) UpdateAmount(ctx context.Context, orderID string, amount decimal.Decimal, actorID int64) (*approval.Order, error) {
	actor, err := resolveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	order, settings, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	previous := order.TotalAmount
	if err := order.SetAmount(amount, settings); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	appendAudit(ctx, s.audit, s.log, &repository.AuditEntry{
		OrderID:     order.ID,
		Action:      repository.AuditActionAmountChanged,
		PerformedBy: actor.ID,
		Metadata: map[string]interface{}{
			"previous_amount": previous.String(),
			"amount":          order.TotalAmount.String(),
			"approval_level":  order.ApprovalLevel,
		},
	})
	return order, nil
}

// RequestConfirm asks to confirm an order. Drafts that fall in an approval
// range are parked in to_approve and their approver is notified; everything
// else is confirmed.
func (s *ApprovalService) RequestConfirm(ctx context.Context, orderID string, actorID int64) (*ConfirmResult, error) {
	actor, err := resolveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	order, settings, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	before := order.Status
	action, res, err := order.RequestConfirm(settings)
	if err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	auditAction := repository.AuditActionConfirmed
	if action == approval.ActionPendingApproval {
		auditAction = repository.AuditActionSubmitted
	}
	s.recordTransition(ctx, order, before, actor, auditAction, res)

	if action == approval.ActionPendingApproval {
		s.notifyApprover(ctx, order, res, actor)
	}

	return &ConfirmResult{Order: order, Action: action, Resolution: res}, nil
}

// SendForApproval explicitly submits a draft that requires approval.
func (s *ApprovalService) SendForApproval(ctx context.Context, orderID string, actorID int64) (*approval.Order, error) {
	actor, err := resolveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	order, settings, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	before := order.Status
	res, err := order.SendForApproval(settings)
	if err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	s.recordTransition(ctx, order, before, actor, repository.AuditActionSubmitted, res)
	s.notifyApprover(ctx, order, res, actor)
	return order, nil
}

// Approve approves an order on behalf of actorID. The actor must be the
// approver of the matched range or a sales manager.
func (s *ApprovalService) Approve(ctx context.Context, orderID string, actorID int64) (*approval.Order, error) {
	actor, err := resolveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	order, settings, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	before := order.Status
	if err := order.Approve(actor, settings); err != nil {
		if errors.HasCode(err, errors.ErrCodeUnauthorized) {
			s.metrics.AuthorizationDenials.Inc()
			s.log.Warn().
				Str("order_id", order.ID).
				Int64("user_id", actor.ID).
				Str("approval_level", order.ApprovalLevel).
				Msg("Approval denied")
		}
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	s.recordTransition(ctx, order, before, actor, repository.AuditActionApproved, settings.Resolve(order.TotalAmount))
	s.completeActivities(ctx, order)
	s.notifyCreator(ctx, order, actor)
	return order, nil
}

// Cancel cancels any order that is not already confirmed or cancelled.
func (s *ApprovalService) Cancel(ctx context.Context, orderID string, actorID int64) (*approval.Order, error) {
	actor, err := resolveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	before := order.Status
	if err := order.Cancel(); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	s.recordTransition(ctx, order, before, actor, repository.AuditActionCancelled, approval.Resolution{})
	s.completeActivities(ctx, order)
	return order, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// Resolve reports which range, if any, governs amount under current settings.
func (s *ApprovalService) Resolve(ctx context.Context, amount decimal.Decimal) (approval.Resolution, error) {
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return approval.Resolution{}, err
	}
	return settings.Resolve(amount), nil
}

// CanUserApprove reports whether actorID may approve the order.
func (s *ApprovalService) CanUserApprove(ctx context.Context, orderID string, actorID int64) (bool, error) {
	actor, err := resolveActor(ctx, s.users, actorID)
	if err != nil {
		return false, err
	}
	order, settings, err := s.load(ctx, orderID)
	if err != nil {
		return false, err
	}
	return order.CanUserApprove(actor, settings), nil
}

// GetApprovalHistory returns the audit trail of an order.
func (s *ApprovalService) GetApprovalHistory(ctx context.Context, orderID string) ([]*repository.AuditEntry, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.audit.GetByOrderID(ctx, orderID)
}

// GetPendingActivities returns the open approval reminders addressed to actorID.
func (s *ApprovalService) GetPendingActivities(ctx context.Context, actorID int64) ([]*repository.Activity, error) {
	actor, err := resolveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	return s.activities.ListPendingForUser(ctx, actor.ID)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// load fetches the order together with freshly read settings.
func (s *ApprovalService) load(ctx context.Context, orderID string) (*approval.Order, approval.Settings, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, approval.Settings{}, err
	}
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return nil, approval.Settings{}, err
	}
	return order, settings, nil
}

func (s *ApprovalService) recordTransition(
	ctx context.Context,
	order *approval.Order,
	before approval.Status,
	actor approval.Actor,
	action string,
	res approval.Resolution,
) {
	s.metrics.Transitions.WithLabelValues(action, string(order.Status)).Inc()

	s.log.Info().
		Str("order_id", order.ID).
		Str("from", string(before)).
		Str("to", string(order.Status)).
		Int64("user_id", actor.ID).
		Msg("Sales order " + action)

	statusBefore := string(before)
	statusAfter := string(order.Status)
	metadata := map[string]interface{}{"amount": order.TotalAmount.String()}
	if res.Required {
		metadata["approval_level"] = res.Level
		metadata["approver"] = res.Approver
	}
	appendAudit(ctx, s.audit, s.log, &repository.AuditEntry{
		OrderID:      order.ID,
		Action:       action,
		PerformedBy:  actor.ID,
		StatusBefore: &statusBefore,
		StatusAfter:  &statusAfter,
		Metadata:     metadata,
	})
}

// completeActivities closes the order's open approval reminders. Failures are
// logged and counted, never returned.
func (s *ApprovalService) completeActivities(ctx context.Context, order *approval.Order) {
	n, err := s.activities.CompleteForOrder(ctx, order.ID)
	if err != nil {
		s.metrics.NotificationFailures.WithLabelValues("activity").Inc()
		s.log.Warn().Err(err).Str("order_id", order.ID).Msg("Failed to complete approval activities (non-fatal)")
		return
	}
	if n > 0 {
		s.log.Debug().Str("order_id", order.ID).Int64("completed", n).Msg("Approval activities completed")
	}
}

// notifyApprover schedules a reminder for the range approver and publishes an
// approval request. Failures are logged and counted, never returned.
func (s *ApprovalService) notifyApprover(ctx context.Context, order *approval.Order, res approval.Resolution, requester approval.Actor) {
	approverID, ok := res.ApproverID()
	if !ok {
		s.log.Warn().
			Str("order_id", order.ID).
			Str("approval_level", res.Level).
			Msg("No approver configured for range, only sales managers can approve")
		return
	}

	approver, err := s.users.GetByID(ctx, approverID)
	if err != nil {
		s.metrics.NotificationFailures.WithLabelValues("approver_lookup").Inc()
		s.log.Warn().Err(err).
			Str("order_id", order.ID).
			Int64("approver_id", approverID).
			Msg("Configured approver not found, skipping approval request")
		return
	}

	created, err := s.activities.Schedule(ctx, &repository.Activity{
		OrderID:      order.ID,
		UserID:       approver.ID,
		ActivityType: repository.ActivityTypeApprovalEmail,
		Summary:      fmt.Sprintf("Approval required: %s", order.Name),
		Note:         fmt.Sprintf("Quotation %s (%s %s) needs your approval (%s).", order.Name, order.TotalAmount.String(), order.Currency, res.Level),
	})
	if err != nil {
		s.metrics.NotificationFailures.WithLabelValues("activity").Inc()
		s.log.Warn().Err(err).Str("order_id", order.ID).Msg("Failed to schedule approval activity (non-fatal)")
	} else if !created {
		s.log.Debug().Str("order_id", order.ID).Int64("approver_id", approver.ID).Msg("Approval activity already pending")
	}

	err = s.notifier.Publish(ctx, &client.NotificationEvent{
		EventType:    client.EventApprovalRequested,
		ActorID:      requester.ID,
		Recipients:   []client.Recipient{{UserID: approver.ID, Name: approver.Name, Email: approver.Email}},
		ResourceID:   order.ID,
		Subject:      fmt.Sprintf("Approval Request: %s", order.Name),
		IsActionable: true,
		Payload: map[string]interface{}{
			"order_name":     order.Name,
			"customer_name":  order.CustomerName,
			"amount":         order.TotalAmount.String(),
			"currency":       order.Currency,
			"approval_level": res.Level,
			"requested_by":   requester.Name,
		},
	})
	if err != nil {
		s.metrics.NotificationFailures.WithLabelValues("notification").Inc()
		s.log.Warn().Err(err).
			Str("order_id", order.ID).
			Int64("approver_id", approver.ID).
			Msg("Failed to publish approval request (non-fatal)")
	}
}

// notifyCreator tells the order's creator it was approved.
func (s *ApprovalService) notifyCreator(ctx context.Context, order *approval.Order, approver approval.Actor) {
	creator, err := s.users.GetByID(ctx, order.CreatedBy)
	if err != nil {
		s.log.Warn().Err(err).Str("order_id", order.ID).Msg("Order creator not found, skipping approval notice")
		return
	}

	err = s.notifier.Publish(ctx, &client.NotificationEvent{
		EventType:  client.EventOrderApproved,
		ActorID:    approver.ID,
		Recipients: []client.Recipient{{UserID: creator.ID, Name: creator.Name, Email: creator.Email}},
		ResourceID: order.ID,
		Subject:    fmt.Sprintf("Quotation Approved: %s", order.Name),
		Payload: map[string]interface{}{
			"order_name":  order.Name,
			"amount":      order.TotalAmount.String(),
			"currency":    order.Currency,
			"approved_by": approver.Name,
		},
	})
	if err != nil {
		s.metrics.NotificationFailures.WithLabelValues("notification").Inc()
		s.log.Warn().Err(err).Str("order_id", order.ID).Msg("Failed to publish approval notice (non-fatal)")
	}
}

// resolveActor loads the acting user. Unknown users are not authorized to act.
func resolveActor(ctx context.Context, users UserDirectory, id int64) (approval.Actor, error) {
	if id <= 0 {
		return approval.Actor{}, errors.Unauthorized("acting user is required")
	}
	u, err := users.GetByID(ctx, id)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return approval.Actor{}, errors.Unauthorized(fmt.Sprintf("unknown user %d", id))
		}
		return approval.Actor{}, err
	}
	return approval.Actor{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		IsSalesManager: u.HasRole(repository.RoleSalesManager),
	}, nil
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func appendAudit(ctx context.Context, audit AuditLog, log *logger.Logger, entry *repository.AuditEntry) {
	if err := audit.Append(ctx, entry); err != nil {
		log.Warn().Err(err).
			Str("order_id", entry.OrderID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
