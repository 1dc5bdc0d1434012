package handler

import (
	"context"
	"math"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-sales-approvals/internal/approval"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/errors"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sales.approvals.v1.ApprovalService"

// userIDMetadataKey carries the acting user on incoming calls.
const userIDMetadataKey = "x-user-id"

// ApprovalServiceServer is the server API for the approval service. Requests and
// responses are google.protobuf.Struct messages.
type ApprovalServiceServer interface {
	Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CanApprove(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RequestConfirm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Approve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ApprovalServiceDesc describes the service for grpc.Server.RegisterService.
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Resolve", ApprovalServiceServer.Resolve),
		unaryMethod("CanApprove", ApprovalServiceServer.CanApprove),
		unaryMethod("RequestConfirm", ApprovalServiceServer.RequestConfirm),
		unaryMethod("Approve", ApprovalServiceServer.Approve),
		unaryMethod("Cancel", ApprovalServiceServer.Cancel),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sales/approvals/v1/approvals.proto",
}

// RegisterApprovalServiceServer registers srv on s.
func RegisterApprovalServiceServer(s grpc.ServiceRegistrar, srv ApprovalServiceServer) {
	s.RegisterService(&ApprovalServiceDesc, srv)
}

func unaryMethod(
	name string,
	call func(ApprovalServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ApprovalServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ApprovalServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// GRPCHandler implements ApprovalServiceServer
type GRPCHandler struct {
	approvals ApprovalAPI
	logger    zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(approvals ApprovalAPI, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		approvals: approvals,
		logger:    logger.With().Str("handler", "grpc").Logger(),
	}
}

// Resolve reports which approval range governs an amount.
func (h *GRPCHandler) Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	amount, err := amountField(req, "amount")
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	res, err := h.approvals.Resolve(ctx, amount)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	return structpb.NewStruct(map[string]any{
		"required":       res.Required,
		"range":          int64(res.Range),
		"approval_level": res.Level,
		"approver":       res.Approver,
	})
}

// CanApprove reports whether the calling user may approve an order.
func (h *GRPCHandler) CanApprove(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, actorID, err := h.orderCall(ctx, req)
	if err != nil {
		return nil, err
	}

	can, err := h.approvals.CanUserApprove(ctx, orderID, actorID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return structpb.NewStruct(map[string]any{"order_id": orderID, "can_approve": can})
}

// RequestConfirm confirms an order or routes it to approval.
func (h *GRPCHandler) RequestConfirm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, actorID, err := h.orderCall(ctx, req)
	if err != nil {
		return nil, err
	}

	h.logger.Info().Str("order_id", orderID).Int64("user_id", actorID).Msg("gRPC RequestConfirm called")

	result, err := h.approvals.RequestConfirm(ctx, orderID, actorID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	out, err := orderToStruct(result.Order)
	if err != nil {
		return nil, err
	}
	out.Fields["action"] = structpb.NewStringValue(string(result.Action))
	return out, nil
}

// Approve approves an order on behalf of the calling user.
func (h *GRPCHandler) Approve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, actorID, err := h.orderCall(ctx, req)
	if err != nil {
		return nil, err
	}

	h.logger.Info().Str("order_id", orderID).Int64("user_id", actorID).Msg("gRPC Approve called")

	order, err := h.approvals.Approve(ctx, orderID, actorID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return orderToStruct(order)
}

// Cancel cancels an order.
func (h *GRPCHandler) Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, actorID, err := h.orderCall(ctx, req)
	if err != nil {
		return nil, err
	}

	order, err := h.approvals.Cancel(ctx, orderID, actorID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return orderToStruct(order)
}

func (h *GRPCHandler) orderCall(ctx context.Context, req *structpb.Struct) (string, int64, error) {
	orderID := req.GetFields()["order_id"].GetStringValue()
	if orderID == "" {
		return "", 0, status.Error(codes.InvalidArgument, "order_id is required")
	}
	actorID, err := userID(ctx, req)
	if err != nil {
		return "", 0, err
	}
	return orderID, actorID, nil
}

// userID reads the acting user from call metadata, falling back to a user_id
// request field.
func userID(ctx context.Context, req *structpb.Struct) (int64, error) {
	raw := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(userIDMetadataKey); len(vals) > 0 {
			raw = vals[0]
		}
	}
	if raw == "" {
		v, ok := req.GetFields()["user_id"]
		if !ok {
			return 0, nil
		}
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); isNum {
			f := v.GetNumberValue()
			if f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
				return 0, status.Error(codes.InvalidArgument, "user id must be an integer")
			}
			return int64(f), nil
		}
		raw = v.GetStringValue()
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, status.Error(codes.InvalidArgument, "user id must be an integer")
	}
	return id, nil
}

func amountField(req *structpb.Struct, name string) (decimal.Decimal, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return decimal.Zero, errors.InvalidInput(name, name+" is required")
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(k.NumberValue), nil
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(k.StringValue)
		if err != nil {
			return decimal.Zero, errors.InvalidInput(name, name+" must be a decimal number")
		}
		return d, nil
	default:
		return decimal.Zero, errors.InvalidInput(name, name+" must be a decimal number")
	}
}

func orderToStruct(o *approval.Order) (*structpb.Struct, error) {
	fields := map[string]any{
		"id":                o.ID,
		"name":              o.Name,
		"customer_name":     o.CustomerName,
		"currency":          o.Currency,
		"total_amount":      o.TotalAmount.String(),
		"status":            string(o.Status),
		"approval_required": o.ApprovalRequired,
		"approval_level":    o.ApprovalLevel,
		"created_by":        o.CreatedBy,
		"version":           int64(o.Version),
	}
	if o.ApprovedBy != nil {
		fields["approved_by"] = *o.ApprovedBy
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	appErr, ok := errors.As(err)
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}

	switch appErr.Code {
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, appErr.Message)
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, appErr.Message)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.PermissionDenied, appErr.Message)
	case errors.ErrCodeInvalidState:
		return status.Error(codes.FailedPrecondition, appErr.Message)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, appErr.Message)
	default:
		return status.Error(codes.Internal, appErr.Message)
	}
}
