package hgrpc

import (
	"context"

	"ledger-service/internal/domain"

	"google.golang.org/grpc"
)

const ServiceName = "ledger.v1.LedgerService"

type GetConfirmationRequest struct {
	ConfirmationNumber string `json:"confirmation_number"`
}

// LedgerServiceServer is the gRPC surface of the money movement engine.
type LedgerServiceServer interface {
	Deposit(ctx context.Context, req *domain.Deposit) (*domain.Receipt, error)
	Withdraw(ctx context.Context, req *domain.Withdrawal) (*domain.Receipt, error)
	Transfer(ctx context.Context, req *domain.Transfer) (*domain.Receipt, error)
	PayBill(ctx context.Context, req *domain.BillPayment) (*domain.Receipt, error)
	OrderChecks(ctx context.Context, req *domain.CheckOrder) (*domain.Receipt, error)
	Cancel(ctx context.Context, req *domain.Cancel) (*domain.Receipt, error)
	GetConfirmation(ctx context.Context, req *GetConfirmationRequest) (*domain.Confirmation, error)
}

// unary adapts a typed method to a grpc.MethodDesc.
func unary[Req, Resp any](name string, call func(LedgerServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Deposit", LedgerServiceServer.Deposit),
		unary("Withdraw", LedgerServiceServer.Withdraw),
		unary("Transfer", LedgerServiceServer.Transfer),
		unary("PayBill", LedgerServiceServer.PayBill),
		unary("OrderChecks", LedgerServiceServer.OrderChecks),
		unary("Cancel", LedgerServiceServer.Cancel),
		unary("GetConfirmation", LedgerServiceServer.GetConfirmation),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.json",
}

func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// ===============================
// Client
// ===============================

type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) Deposit(ctx context.Context, in *domain.Deposit, opts ...grpc.CallOption) (*domain.Receipt, error) {
	return invoke[domain.Receipt](ctx, c.cc, "Deposit", in, opts)
}

func (c *LedgerClient) Withdraw(ctx context.Context, in *domain.Withdrawal, opts ...grpc.CallOption) (*domain.Receipt, error) {
	return invoke[domain.Receipt](ctx, c.cc, "Withdraw", in, opts)
}

func (c *LedgerClient) Transfer(ctx context.Context, in *domain.Transfer, opts ...grpc.CallOption) (*domain.Receipt, error) {
	return invoke[domain.Receipt](ctx, c.cc, "Transfer", in, opts)
}

func (c *LedgerClient) PayBill(ctx context.Context, in *domain.BillPayment, opts ...grpc.CallOption) (*domain.Receipt, error) {
	return invoke[domain.Receipt](ctx, c.cc, "PayBill", in, opts)
}

func (c *LedgerClient) OrderChecks(ctx context.Context, in *domain.CheckOrder, opts ...grpc.CallOption) (*domain.Receipt, error) {
	return invoke[domain.Receipt](ctx, c.cc, "OrderChecks", in, opts)
}

func (c *LedgerClient) Cancel(ctx context.Context, in *domain.Cancel, opts ...grpc.CallOption) (*domain.Receipt, error) {
	return invoke[domain.Receipt](ctx, c.cc, "Cancel", in, opts)
}

func (c *LedgerClient) GetConfirmation(ctx context.Context, in *GetConfirmationRequest, opts ...grpc.CallOption) (*domain.Confirmation, error) {
	return invoke[domain.Confirmation](ctx, c.cc, "GetConfirmation", in, opts)
}
