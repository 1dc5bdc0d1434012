package service

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-sales-approvals/internal/approval"
	"github.com/pesio-ai/be-sales-approvals/internal/client"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/metrics"
	"github.com/pesio-ai/be-sales-approvals/internal/repository"
)

const (
	userU1      int64 = 1
	userU2      int64 = 2
	userU3      int64 = 3
	userManager int64 = 4
	userSeller  int64 = 10
	userOther   int64 = 11
)

type harness struct {
	svc        *ApprovalService
	settings   *SettingsService
	orders     *memOrders
	params     *memParams
	activities *memActivities
	audit      *memAudit
	notifier   *fakeNotifier
	metrics    *metrics.Metrics
}

// scenarioParams are the ranges {(0,1000,U1), (1001,5000,U2), (5001,open,U3)}.
func scenarioParams() map[string]string {
	return map[string]string{
		approval.KeyEnabled:     "true",
		approval.MinKey(1):      "0",
		approval.MaxKey(1):      "1000",
		approval.ApproverKey(1): "1",
		approval.MinKey(2):      "1001",
		approval.MaxKey(2):      "5000",
		approval.ApproverKey(2): "2",
		approval.MinKey(3):      "5001",
		approval.ApproverKey(3): "3",
	}
}

func testUsers() memUsers {
	return memUsers{
		userU1:      {ID: userU1, Name: "U1", Email: "u1@example.com", Active: true},
		userU2:      {ID: userU2, Name: "U2", Email: "u2@example.com", Active: true},
		userU3:      {ID: userU3, Name: "U3", Email: "u3@example.com", Active: true},
		userManager: {ID: userManager, Name: "M", Email: "m@example.com", Roles: []string{repository.RoleSalesManager}, Active: true},
		userSeller:  {ID: userSeller, Name: "Seller", Email: "seller@example.com", Active: true},
		userOther:   {ID: userOther, Name: "Other", Email: "other@example.com", Active: true},
	}
}

func newHarness(t *testing.T, params map[string]string) *harness {
	t.Helper()
	h := &harness{
		orders:     newMemOrders(),
		params:     newMemParams(params),
		activities: &memActivities{},
		audit:      &memAudit{},
		notifier:   &fakeNotifier{},
		metrics:    metrics.New("test"),
	}
	users := testUsers()
	h.settings = NewSettingsService(h.params, users, h.audit, logger.Nop())
	h.svc = NewApprovalService(h.orders, h.settings, users, h.activities, h.audit, h.notifier, logger.Nop(), h.metrics)
	return h
}

func (h *harness) createOrder(t *testing.T, amount string) *approval.Order {
	t.Helper()
	order, err := h.svc.CreateOrder(context.Background(), CreateOrderRequest{
		Name:         "SO-0001",
		CustomerName: "Acme Corp",
		Currency:     "USD",
		TotalAmount:  decimal.RequireFromString(amount),
	}, userSeller)
	require.NoError(t, err)
	return order
}

func TestApprovalService_ScenarioA(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenarioParams())
	order := h.createOrder(t, "3000")

	res, err := h.svc.Resolve(ctx, order.TotalAmount)
	require.NoError(t, err)
	assert.True(t, res.Required)
	assert.Equal(t, "2", res.Approver)
	assert.Contains(t, res.Level, "Range 2")

	result, err := h.svc.RequestConfirm(ctx, order.ID, userManager)
	require.NoError(t, err)
	assert.Equal(t, approval.ActionPendingApproval, result.Action)
	assert.Equal(t, approval.StatusToApprove, h.orders.stored(order.ID).Status)

	pending, err := h.svc.GetPendingActivities(ctx, userU2)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, order.ID, pending[0].OrderID)

	events := h.notifier.sent()
	require.Len(t, events, 1)
	assert.Equal(t, client.EventApprovalRequested, events[0].EventType)
	assert.Equal(t, userU2, events[0].Recipients[0].UserID)
	assert.Equal(t, "3000", events[0].Payload["amount"])

	approved, err := h.svc.Approve(ctx, order.ID, userU2)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusQuotationSent, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, userU2, *approved.ApprovedBy)
	assert.Equal(t, approval.StatusQuotationSent, h.orders.stored(order.ID).Status)

	pending, err = h.svc.GetPendingActivities(ctx, userU2)
	require.NoError(t, err)
	assert.Empty(t, pending)

	events = h.notifier.sent()
	require.Len(t, events, 2)
	assert.Equal(t, client.EventOrderApproved, events[1].EventType)
	assert.Equal(t, userSeller, events[1].Recipients[0].UserID)

	result, err = h.svc.RequestConfirm(ctx, order.ID, userSeller)
	require.NoError(t, err)
	assert.Equal(t, approval.ActionConfirmed, result.Action)
	assert.Equal(t, approval.StatusConfirmed, h.orders.stored(order.ID).Status)

	history, err := h.svc.GetApprovalHistory(ctx, order.ID)
	require.NoError(t, err)
	var actions []string
	for _, e := range history {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{
		repository.AuditActionSubmitted,
		repository.AuditActionApproved,
		repository.AuditActionConfirmed,
	}, actions)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Transitions.WithLabelValues(repository.AuditActionApproved, "quotation_sent")))
}

func TestApprovalService_ScenarioB(t *testing.T) {
	params := scenarioParams()
	params[approval.MinKey(1)] = "0"
	params[approval.MaxKey(1)] = "0"
	h := newHarness(t, params)
	order := h.createOrder(t, "500")
	assert.False(t, order.ApprovalRequired)

	result, err := h.svc.RequestConfirm(context.Background(), order.ID, userSeller)
	require.NoError(t, err)
	assert.Equal(t, approval.ActionConfirmed, result.Action)
	assert.False(t, result.Resolution.Required)
	assert.Equal(t, approval.StatusConfirmed, h.orders.stored(order.ID).Status)
	assert.Empty(t, h.notifier.sent())
}

func TestApprovalService_ScenarioC(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenarioParams())
	order := h.createOrder(t, "3000")

	_, err := h.svc.RequestConfirm(ctx, order.ID, userManager)
	require.NoError(t, err)

	_, err = h.svc.Approve(ctx, order.ID, userOther)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnauthorized))
	assert.Equal(t, approval.StatusToApprove, h.orders.stored(order.ID).Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AuthorizationDenials))

	can, err := h.svc.CanUserApprove(ctx, order.ID, userOther)
	require.NoError(t, err)
	assert.False(t, can)

	can, err = h.svc.CanUserApprove(ctx, order.ID, userManager)
	require.NoError(t, err)
	assert.True(t, can)
}

func TestApprovalService_ManagerCanApproveAnyRange(t *testing.T) {
	h := newHarness(t, scenarioParams())
	order := h.createOrder(t, "9000")

	_, err := h.svc.RequestConfirm(context.Background(), order.ID, userSeller)
	require.NoError(t, err)

	approved, err := h.svc.Approve(context.Background(), order.ID, userManager)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusQuotationSent, approved.Status)
}

func TestApprovalService_MasterSwitchOff(t *testing.T) {
	params := scenarioParams()
	params[approval.KeyEnabled] = "false"
	h := newHarness(t, params)
	order := h.createOrder(t, "3000")

	result, err := h.svc.RequestConfirm(context.Background(), order.ID, userSeller)
	require.NoError(t, err)
	assert.Equal(t, approval.ActionConfirmed, result.Action)
}

func TestApprovalService_SettingsAreReadFresh(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenarioParams())
	order := h.createOrder(t, "3000")
	assert.True(t, order.ApprovalRequired)

	h.params.set(approval.KeyEnabled, "false")

	got, err := h.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, got.ApprovalRequired)
	assert.Empty(t, got.ApprovalLevel)
}

func TestApprovalService_NotificationFailureDoesNotBlockTransition(t *testing.T) {
	h := newHarness(t, scenarioParams())
	h.notifier.err = stderrors.New("nats: no servers available")
	h.activities.err = stderrors.New("db down")
	order := h.createOrder(t, "3000")

	result, err := h.svc.RequestConfirm(context.Background(), order.ID, userSeller)
	require.NoError(t, err)
	assert.Equal(t, approval.ActionPendingApproval, result.Action)
	assert.Equal(t, approval.StatusToApprove, h.orders.stored(order.ID).Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NotificationFailures.WithLabelValues("notification")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NotificationFailures.WithLabelValues("activity")))
}

func TestApprovalService_AuditFailureDoesNotBlockTransition(t *testing.T) {
	h := newHarness(t, scenarioParams())
	h.audit.err = stderrors.New("audit table locked")
	order := h.createOrder(t, "200")

	_, err := h.svc.Cancel(context.Background(), order.ID, userSeller)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusCancelled, h.orders.stored(order.ID).Status)
}

func TestApprovalService_ActivityIsScheduledOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenarioParams())
	order := h.createOrder(t, "3000")

	_, err := h.svc.SendForApproval(ctx, order.ID, userSeller)
	require.NoError(t, err)

	// Re-request on the same approver while the first reminder is still open.
	res, err := h.svc.Resolve(ctx, order.TotalAmount)
	require.NoError(t, err)
	stored := h.orders.stored(order.ID)
	h.svc.notifyApprover(ctx, &stored, res, approval.Actor{ID: userSeller})

	pending, err := h.svc.GetPendingActivities(ctx, userU2)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestApprovalService_SendForApproval(t *testing.T) {
	ctx := context.Background()

	t.Run("not required", func(t *testing.T) {
		params := scenarioParams()
		params[approval.KeyEnabled] = "false"
		h := newHarness(t, params)
		order := h.createOrder(t, "3000")

		_, err := h.svc.SendForApproval(ctx, order.ID, userSeller)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
		assert.Equal(t, approval.StatusDraft, h.orders.stored(order.ID).Status)
	})

	t.Run("not a draft", func(t *testing.T) {
		h := newHarness(t, scenarioParams())
		order := h.createOrder(t, "3000")
		_, err := h.svc.SendForApproval(ctx, order.ID, userSeller)
		require.NoError(t, err)

		_, err = h.svc.SendForApproval(ctx, order.ID, userSeller)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
	})

	t.Run("missing approver user skips notification", func(t *testing.T) {
		params := scenarioParams()
		params[approval.ApproverKey(2)] = "999"
		h := newHarness(t, params)
		order := h.createOrder(t, "3000")

		updated, err := h.svc.SendForApproval(ctx, order.ID, userSeller)
		require.NoError(t, err)
		assert.Equal(t, approval.StatusToApprove, updated.Status)
		assert.Empty(t, h.notifier.sent())
	})

	t.Run("garbage approver only managers can approve", func(t *testing.T) {
		params := scenarioParams()
		params[approval.ApproverKey(2)] = "False"
		h := newHarness(t, params)
		order := h.createOrder(t, "3000")

		_, err := h.svc.SendForApproval(ctx, order.ID, userSeller)
		require.NoError(t, err)
		assert.Empty(t, h.notifier.sent())

		_, err = h.svc.Approve(ctx, order.ID, userU2)
		assert.True(t, errors.HasCode(err, errors.ErrCodeUnauthorized))

		_, err = h.svc.Approve(ctx, order.ID, userManager)
		assert.NoError(t, err)
	})
}

func TestApprovalService_Cancel(t *testing.T) {
	ctx := context.Background()

	for _, step := range []string{"draft", "to_approve", "quotation_sent"} {
		t.Run("from "+step, func(t *testing.T) {
			h := newHarness(t, scenarioParams())
			order := h.createOrder(t, "3000")
			if step != "draft" {
				_, err := h.svc.RequestConfirm(ctx, order.ID, userSeller)
				require.NoError(t, err)
			}
			if step == "quotation_sent" {
				_, err := h.svc.Approve(ctx, order.ID, userU2)
				require.NoError(t, err)
			}

			cancelled, err := h.svc.Cancel(ctx, order.ID, userSeller)
			require.NoError(t, err)
			assert.Equal(t, approval.StatusCancelled, cancelled.Status)
		})
	}

	t.Run("terminal states are rejected", func(t *testing.T) {
		h := newHarness(t, scenarioParams())
		order := h.createOrder(t, "3000")
		_, err := h.svc.Cancel(ctx, order.ID, userSeller)
		require.NoError(t, err)

		_, err = h.svc.Cancel(ctx, order.ID, userSeller)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
		assert.Equal(t, []string{repository.AuditActionCancelled}, h.audit.actions())
	})
}

func TestApprovalService_CancelClosesPendingActivities(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenarioParams())
	order := h.createOrder(t, "3000")

	_, err := h.svc.RequestConfirm(ctx, order.ID, userSeller)
	require.NoError(t, err)

	pending, err := h.svc.GetPendingActivities(ctx, userU2)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = h.svc.Cancel(ctx, order.ID, userSeller)
	require.NoError(t, err)

	pending, err = h.svc.GetPendingActivities(ctx, userU2)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprovalService_CancelSucceedsWhenActivitiesCannotBeClosed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenarioParams())
	order := h.createOrder(t, "3000")

	_, err := h.svc.RequestConfirm(ctx, order.ID, userSeller)
	require.NoError(t, err)

	h.activities.completeErr = stderrors.New("db down")
	cancelled, err := h.svc.Cancel(ctx, order.ID, userSeller)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusCancelled, cancelled.Status)
	assert.Equal(t, approval.StatusCancelled, h.orders.stored(order.ID).Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NotificationFailures.WithLabelValues("activity")))
}

func TestApprovalService_ApproveFromConfirmedIsRejected(t *testing.T) {
	h := newHarness(t, scenarioParams())
	order := h.createOrder(t, "200")
	stored := h.orders.stored(order.ID)
	stored.Status = approval.StatusConfirmed
	require.NoError(t, h.orders.Update(context.Background(), &stored))

	_, err := h.svc.Approve(context.Background(), order.ID, userManager)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
}

func TestApprovalService_ConcurrentUpdateConflicts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenarioParams())
	order := h.createOrder(t, "3000")

	// A stale copy loses the race against a write that already landed.
	stale := h.orders.stored(order.ID)
	_, err := h.svc.Cancel(ctx, order.ID, userSeller)
	require.NoError(t, err)

	stale.Status = approval.StatusToApprove
	err = h.orders.Update(ctx, &stale)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))
	assert.Equal(t, approval.StatusCancelled, h.orders.stored(order.ID).Status)
}

func TestApprovalService_UnknownActorIsUnauthorized(t *testing.T) {
	h := newHarness(t, scenarioParams())
	order := h.createOrder(t, "3000")

	_, err := h.svc.RequestConfirm(context.Background(), order.ID, 999)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnauthorized))

	_, err = h.svc.Approve(context.Background(), order.ID, 0)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnauthorized))
}

func TestApprovalService_UpdateAmount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenarioParams())
	order := h.createOrder(t, "3000")
	assert.Equal(t, "Range 2 (1001 - 5000)", order.ApprovalLevel)

	updated, err := h.svc.UpdateAmount(ctx, order.ID, decimal.NewFromInt(7000), userSeller)
	require.NoError(t, err)
	assert.Equal(t, "Range 3 (>= 5001)", updated.ApprovalLevel)
	assert.Equal(t, "7000", h.orders.stored(order.ID).TotalAmount.String())

	_, err = h.svc.UpdateAmount(ctx, order.ID, decimal.RequireFromString("5000.004"), userSeller)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
	assert.Equal(t, "7000", h.orders.stored(order.ID).TotalAmount.String())

	_, err = h.svc.RequestConfirm(ctx, order.ID, userSeller)
	require.NoError(t, err)

	_, err = h.svc.UpdateAmount(ctx, order.ID, decimal.NewFromInt(10), userSeller)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
}

func TestApprovalService_ListOrders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenarioParams())
	first := h.createOrder(t, "3000")
	h.createOrder(t, "100")

	_, err := h.svc.RequestConfirm(ctx, first.ID, userSeller)
	require.NoError(t, err)

	all, err := h.svc.ListOrders(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := h.svc.ListOrders(ctx, "to_approve", 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	_, err = h.svc.ListOrders(ctx, "sale", 10, 0)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	h.params.set(approval.KeyEnabled, "false")

	all, err = h.svc.ListOrders(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, o := range all {
		assert.False(t, o.ApprovalRequired)
		assert.Empty(t, o.ApprovalLevel)
	}
}

func TestApprovalService_GetApprovalHistoryUnknownOrder(t *testing.T) {
	h := newHarness(t, scenarioParams())
	_, err := h.svc.GetApprovalHistory(context.Background(), "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}
