package hgrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository/memory"
	"ledger-service/internal/usecase"
	"ledger-service/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newTestClient(t *testing.T) (*LedgerClient, *usecase.AccountUsecase) {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	gen := utils.NewReferenceGenerator()

	accounts := usecase.NewAccountUsecase(store, gen, domain.AccountPolicy{}, logger)
	movement := usecase.NewMovementUsecase(store, gen, usecase.DefaultCancelWindow, logger)
	confirmations := usecase.NewConfirmationUsecase(store, gen, nil, nil, time.Minute, logger)
	banking := usecase.NewBankingUsecase(movement, confirmations, nil, nil, time.Minute, logger)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryInterceptor(logger)))
	RegisterLedgerServiceServer(srv, NewLedgerGRPCHandler(banking, confirmations, logger))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewLedgerClient(conn), accounts
}

func asOwner(id string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), MetadataOwnerID, id, MetadataOwnerName, "Owner "+id)
}

func TestGRPCDepositAndConfirmation(t *testing.T) {
	client, accounts := newTestClient(t)
	opened, err := accounts.Onboard(context.Background(), domain.Owner{ID: "alice", Name: "Alice"})
	require.NoError(t, err)
	checking := opened[0].AccountNumber

	ctx := asOwner("alice")
	receipt, err := client.Deposit(ctx, &domain.Deposit{AccountNumber: checking, Amount: decimal.NewFromInt(200)})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(200).Equal(receipt.Result.NewBalance))
	require.NotNil(t, receipt.Confirmation)

	receipt, err = client.OrderChecks(ctx, &domain.CheckOrder{AccountNumber: checking, Quantity: 100, Style: domain.CheckStylePremium, DeliverySpeed: domain.DeliveryOvernight})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(140).Equal(receipt.Result.NewBalance))

	conf, err := client.GetConfirmation(ctx, &GetConfirmationRequest{ConfirmationNumber: receipt.Confirmation.Number})
	require.NoError(t, err)
	assert.Equal(t, domain.OperationCheckOrder, conf.OperationType)
	assert.True(t, decimal.NewFromInt(60).Equal(conf.Fee))

	_, err = client.GetConfirmation(asOwner("bob"), &GetConfirmationRequest{ConfirmationNumber: receipt.Confirmation.Number})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPCErrorCodes(t *testing.T) {
	client, accounts := newTestClient(t)
	opened, err := accounts.Onboard(context.Background(), domain.Owner{ID: "alice", Name: "Alice"})
	require.NoError(t, err)
	savings := opened[1].AccountNumber

	_, err = client.Withdraw(asOwner("alice"), &domain.Withdrawal{AccountNumber: savings, Amount: decimal.NewFromInt(1)})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.Withdraw(asOwner("bob"), &domain.Withdrawal{AccountNumber: savings, Amount: decimal.NewFromInt(1)})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = client.Deposit(context.Background(), &domain.Deposit{AccountNumber: savings, Amount: decimal.NewFromInt(1)})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = client.Transfer(asOwner("alice"), &domain.Transfer{FromAccountNumber: savings, ToAccountNumber: savings, Amount: decimal.NewFromInt(1)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Cancel(asOwner("alice"), &domain.Cancel{TransactionID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.GetConfirmation(asOwner("alice"), &GetConfirmationRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
