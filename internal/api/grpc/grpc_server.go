package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/olyamironova/matching-core/internal/api/dto"
	"github.com/olyamironova/matching-core/internal/core"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "matching.v1.OrderService"

// OrderServiceServer carries order entry over gRPC. Messages are
// google.protobuf.Struct documents with the same fields as the HTTP API.
type OrderServiceServer interface {
	PlaceOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrderbook(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(call func(OrderServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: unaryHandler(OrderServiceServer.PlaceOrder, "PlaceOrder")},
		{MethodName: "CancelOrder", Handler: unaryHandler(OrderServiceServer.CancelOrder, "CancelOrder")},
		{MethodName: "GetOrderbook", Handler: unaryHandler(OrderServiceServer.GetOrderbook, "GetOrderbook")},
	},
	Metadata: "matching/v1/order_service.proto",
}

type GRPCServer struct {
	orders *core.OrderManager
	logger *zap.Logger
	srv    *grpc.Server
}

func NewGRPCServer(orders *core.OrderManager, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GRPCServer{orders: orders, logger: logger.Named("grpc")}
	s.srv = grpc.NewServer(grpc.UnaryInterceptor(s.logCalls))
	s.srv.RegisterService(&ServiceDesc, s)
	return s
}

func (s *GRPCServer) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("rpc", zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start)), zap.Error(err))
	return resp, err
}

// Serve accepts on lis until ctx ends.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.srv.GracefulStop()
	}()
	s.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func decode(in *structpb.Struct, out any) error {
	b, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func (s *GRPCServer) PlaceOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req dto.SubmitOrderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res := s.orders.PlaceOrder(ctx, req.Input())
	return encode(dto.FromPlaceResult(res))
}

func (s *GRPCServer) CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req dto.CancelOrderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res := s.orders.CancelOrder(ctx, core.CancelOrderInput{OrderID: req.OrderID, AccountID: req.AccountID})
	switch {
	case res.Success:
	case res.Error == core.ErrOrderNotFound.Error():
		return nil, status.Error(codes.NotFound, res.Error)
	case res.Error == core.ErrNotOwner.Error():
		return nil, status.Error(codes.PermissionDenied, res.Error)
	default:
		return nil, status.Error(codes.InvalidArgument, res.Error)
	}
	return encode(dto.CancelOrderResponse{OrderID: req.OrderID, Cancelled: true})
}

func (s *GRPCServer) GetOrderbook(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		Symbol string `json:"symbol"`
		Depth  int    `json:"depth"`
	}
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Symbol == "" {
		return nil, status.Error(codes.InvalidArgument, "symbol required")
	}
	if req.Depth <= 0 {
		req.Depth = 20
	}
	ob, err := s.orders.Orderbook(ctx, req.Symbol, req.Depth)
	if err != nil {
		if errors.Is(err, core.ErrUnknownSymbol) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "orderbook: %v", err)
	}
	return encode(dto.FromSnapshot(ob))
}
