package hgrpc

import (
	"context"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/usecase"
	"ledger-service/pkg/xerrors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	MetadataOwnerID   = "x-owner-id"
	MetadataOwnerName = "x-owner-name"
)

// Metrics
var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "code"},
	)

	grpcRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"method"},
	)
)

type LedgerGRPCHandler struct {
	bankingUC      *usecase.BankingUsecase
	confirmationUC *usecase.ConfirmationUsecase
	logger         *zap.Logger
}

var _ LedgerServiceServer = (*LedgerGRPCHandler)(nil)

func NewLedgerGRPCHandler(bankingUC *usecase.BankingUsecase, confirmationUC *usecase.ConfirmationUsecase, logger *zap.Logger) *LedgerGRPCHandler {
	return &LedgerGRPCHandler{
		bankingUC:      bankingUC,
		confirmationUC: confirmationUC,
		logger:         logger,
	}
}

// ownerFromContext reads the identity forwarded by the upstream auth layer.
func ownerFromContext(ctx context.Context) domain.Owner {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return domain.Owner{}
	}
	var owner domain.Owner
	if ids := md.Get(MetadataOwnerID); len(ids) > 0 {
		owner.ID = ids[0]
	}
	if names := md.Get(MetadataOwnerName); len(names) > 0 {
		owner.Name = names[0]
	}
	return owner
}

func (h *LedgerGRPCHandler) submit(ctx context.Context, op domain.Operation) (*domain.Receipt, error) {
	receipt, err := h.bankingUC.Submit(ctx, ownerFromContext(ctx), op)
	if err != nil {
		return nil, h.handleUsecaseError(err)
	}
	return receipt, nil
}

func (h *LedgerGRPCHandler) Deposit(ctx context.Context, req *domain.Deposit) (*domain.Receipt, error) {
	return h.submit(ctx, req)
}

func (h *LedgerGRPCHandler) Withdraw(ctx context.Context, req *domain.Withdrawal) (*domain.Receipt, error) {
	return h.submit(ctx, req)
}

func (h *LedgerGRPCHandler) Transfer(ctx context.Context, req *domain.Transfer) (*domain.Receipt, error) {
	return h.submit(ctx, req)
}

func (h *LedgerGRPCHandler) PayBill(ctx context.Context, req *domain.BillPayment) (*domain.Receipt, error) {
	return h.submit(ctx, req)
}

func (h *LedgerGRPCHandler) OrderChecks(ctx context.Context, req *domain.CheckOrder) (*domain.Receipt, error) {
	return h.submit(ctx, req)
}

func (h *LedgerGRPCHandler) Cancel(ctx context.Context, req *domain.Cancel) (*domain.Receipt, error) {
	return h.submit(ctx, req)
}

func (h *LedgerGRPCHandler) GetConfirmation(ctx context.Context, req *GetConfirmationRequest) (*domain.Confirmation, error) {
	if req.ConfirmationNumber == "" {
		return nil, status.Error(codes.InvalidArgument, "confirmation_number is required")
	}
	c, err := h.confirmationUC.Get(ctx, ownerFromContext(ctx), req.ConfirmationNumber)
	if err != nil {
		return nil, h.handleUsecaseError(err)
	}
	return c, nil
}

// ===============================
// ERROR HANDLING
// ===============================

func codeFor(kind xerrors.Kind) codes.Code {
	switch kind {
	case xerrors.KindValidation:
		return codes.InvalidArgument
	case xerrors.KindNotFound:
		return codes.NotFound
	case xerrors.KindInsufficientFunds:
		return codes.FailedPrecondition
	case xerrors.KindAuthorization:
		return codes.PermissionDenied
	case xerrors.KindConflict:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

func (h *LedgerGRPCHandler) handleUsecaseError(err error) error {
	kind := xerrors.KindOf(err)
	code := codeFor(kind)
	if code == codes.Internal {
		h.logger.Error("usecase failed", zap.Error(err))
	}
	return status.Error(code, xerrors.Message(err))
}

// UnaryInterceptor records metrics and logs each call.
func UnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		grpcRequestsTotal.WithLabelValues(info.FullMethod, code.String()).Inc()
		grpcRequestDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		logger.Debug("grpc call",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}
