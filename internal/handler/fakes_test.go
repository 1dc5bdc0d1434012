package handler

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-sales-approvals/internal/approval"
	"github.com/pesio-ai/be-sales-approvals/internal/repository"
	"github.com/pesio-ai/be-sales-approvals/internal/service"
)

type approvalAPIMock struct {
	createOrderFunc          func(ctx context.Context, req service.CreateOrderRequest, actorID int64) (*approval.Order, error)
	getOrderFunc             func(ctx context.Context, orderID string) (*approval.Order, error)
	listOrdersFunc           func(ctx context.Context, status string, limit, offset int) ([]*approval.Order, error)
	updateAmountFunc         func(ctx context.Context, orderID string, amount decimal.Decimal, actorID int64) (*approval.Order, error)
	requestConfirmFunc       func(ctx context.Context, orderID string, actorID int64) (*service.ConfirmResult, error)
	sendForApprovalFunc      func(ctx context.Context, orderID string, actorID int64) (*approval.Order, error)
	approveFunc              func(ctx context.Context, orderID string, actorID int64) (*approval.Order, error)
	cancelFunc               func(ctx context.Context, orderID string, actorID int64) (*approval.Order, error)
	resolveFunc              func(ctx context.Context, amount decimal.Decimal) (approval.Resolution, error)
	canUserApproveFunc       func(ctx context.Context, orderID string, actorID int64) (bool, error)
	getApprovalHistoryFunc   func(ctx context.Context, orderID string) ([]*repository.AuditEntry, error)
	getPendingActivitiesFunc func(ctx context.Context, actorID int64) ([]*repository.Activity, error)
}

func (m *approvalAPIMock) CreateOrder(ctx context.Context, req service.CreateOrderRequest, actorID int64) (*approval.Order, error) {
	return m.createOrderFunc(ctx, req, actorID)
}

func (m *approvalAPIMock) GetOrder(ctx context.Context, orderID string) (*approval.Order, error) {
	return m.getOrderFunc(ctx, orderID)
}

func (m *approvalAPIMock) ListOrders(ctx context.Context, status string, limit, offset int) ([]*approval.Order, error) {
	return m.listOrdersFunc(ctx, status, limit, offset)
}

func (m *approvalAPIMock) UpdateAmount(ctx context.Context, orderID string, amount decimal.Decimal, actorID int64) (*approval.Order, error) {
	return m.updateAmountFunc(ctx, orderID, amount, actorID)
}

func (m *approvalAPIMock) RequestConfirm(ctx context.Context, orderID string, actorID int64) (*service.ConfirmResult, error) {
	return m.requestConfirmFunc(ctx, orderID, actorID)
}

func (m *approvalAPIMock) SendForApproval(ctx context.Context, orderID string, actorID int64) (*approval.Order, error) {
	return m.sendForApprovalFunc(ctx, orderID, actorID)
}

func (m *approvalAPIMock) Approve(ctx context.Context, orderID string, actorID int64) (*approval.Order, error) {
	return m.approveFunc(ctx, orderID, actorID)
}

func (m *approvalAPIMock) Cancel(ctx context.Context, orderID string, actorID int64) (*approval.Order, error) {
	return m.cancelFunc(ctx, orderID, actorID)
}

func (m *approvalAPIMock) Resolve(ctx context.Context, amount decimal.Decimal) (approval.Resolution, error) {
	return m.resolveFunc(ctx, amount)
}

func (m *approvalAPIMock) CanUserApprove(ctx context.Context, orderID string, actorID int64) (bool, error) {
	return m.canUserApproveFunc(ctx, orderID, actorID)
}

func (m *approvalAPIMock) GetApprovalHistory(ctx context.Context, orderID string) ([]*repository.AuditEntry, error) {
	return m.getApprovalHistoryFunc(ctx, orderID)
}

func (m *approvalAPIMock) GetPendingActivities(ctx context.Context, actorID int64) ([]*repository.Activity, error) {
	return m.getPendingActivitiesFunc(ctx, actorID)
}

type settingsAPIMock struct {
	getSettingsFunc    func(ctx context.Context) (approval.Settings, error)
	updateSettingsFunc func(ctx context.Context, settings approval.Settings, actorID int64) error
}

func (m *settingsAPIMock) GetSettings(ctx context.Context) (approval.Settings, error) {
	return m.getSettingsFunc(ctx)
}

func (m *settingsAPIMock) UpdateSettings(ctx context.Context, settings approval.Settings, actorID int64) error {
	return m.updateSettingsFunc(ctx, settings, actorID)
}

func sampleOrder(status approval.Status) *approval.Order {
	return &approval.Order{
		ID:               "order-1",
		Name:             "SO-0001",
		CustomerName:     "Acme Corp",
		Currency:         "USD",
		TotalAmount:      decimal.NewFromInt(3000),
		Status:           status,
		ApprovalRequired: true,
		ApprovalLevel:    "Range 2 (1001 - 5000)",
		CreatedBy:        10,
		Version:          1,
	}
}
