package chain_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jonesrussell/north-cloud/likechat/internal/chain"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokenAddr  = "0x1111111111111111111111111111111111111111"
	walletAddr = "0x2222222222222222222222222222222222222222"
	saleAddr   = "0x3333333333333333333333333333333333333333"
)

type fakeBackend struct {
	callOut  []byte
	callErr  error
	lastCall ethereum.CallMsg
	height   uint64
	receipt  *types.Receipt
	rcptErr  error
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.lastCall = msg
	return f.callOut, f.callErr
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return f.height, nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, f.rcptErr
}

func mustABI(t *testing.T, def string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(def))
	require.NoError(t, err)
	return parsed
}

func TestTokenBalance(t *testing.T) {
	erc20 := mustABI(t, `[{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`)
	out, err := erc20.Methods["balanceOf"].Outputs.Pack(big.NewInt(1500))
	require.NoError(t, err)

	backend := &fakeBackend{callOut: out}
	reader, err := chain.NewReader(backend, chain.Config{}, nil)
	require.NoError(t, err)

	balance, err := reader.TokenBalance(context.Background(), tokenAddr, walletAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance.Int64())

	require.NotNil(t, backend.lastCall.To)
	assert.Equal(t, common.HexToAddress(tokenAddr), *backend.lastCall.To)
	assert.Equal(t, erc20.Methods["balanceOf"].ID, backend.lastCall.Data[:4])
}

func TestTokenBalance_Errors(t *testing.T) {
	reader, err := chain.NewReader(&fakeBackend{callErr: errors.New("connection refused")}, chain.Config{}, nil)
	require.NoError(t, err)

	_, err = reader.TokenBalance(context.Background(), "not-an-address", walletAddr)
	require.ErrorIs(t, err, domain.ErrInvalidTarget)

	_, err = reader.TokenBalance(context.Background(), tokenAddr, walletAddr)
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestBlockNumber(t *testing.T) {
	reader, err := chain.NewReader(&fakeBackend{height: 812}, chain.Config{}, nil)
	require.NoError(t, err)

	height, err := reader.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(812), height)
}

func purchaseLog(t *testing.T, buyer string) *types.Log {
	t.Helper()
	sale := mustABI(t, `[{"anonymous":false,"inputs":[{"indexed":true,"name":"buyer","type":"address"},{"indexed":true,"name":"token","type":"address"},{"indexed":false,"name":"amountIn","type":"uint256"},{"indexed":false,"name":"amountOut","type":"uint256"}],"name":"TokensPurchased","type":"event"}]`)
	event := sale.Events["TokensPurchased"]

	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(10), big.NewInt(250))
	require.NoError(t, err)

	return &types.Log{
		Address: common.HexToAddress(saleAddr),
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(common.HexToAddress(buyer).Bytes()),
			common.BytesToHash(common.HexToAddress(tokenAddr).Bytes()),
		},
		Data:        data,
		BlockNumber: 99,
	}
}

func TestPurchaseReceipt_MatchesIndexedBuyer(t *testing.T) {
	backend := &fakeBackend{receipt: &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs:   []*types.Log{purchaseLog(t, "0x4444444444444444444444444444444444444444"), purchaseLog(t, walletAddr)},
	}}
	reader, err := chain.NewReader(backend, chain.Config{SaleContract: saleAddr}, nil)
	require.NoError(t, err)

	purchase, found, err := reader.PurchaseReceipt(context.Background(), "0xabc", walletAddr)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, common.HexToAddress(walletAddr).Hex(), purchase.Buyer)
	assert.Equal(t, common.HexToAddress(tokenAddr).Hex(), purchase.Token)
	assert.Equal(t, int64(250), purchase.AmountOut.Int64())
	assert.Equal(t, uint64(99), purchase.Block)
}

func TestPurchaseReceipt_NoMatchingEvent(t *testing.T) {
	backend := &fakeBackend{receipt: &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs:   []*types.Log{purchaseLog(t, "0x4444444444444444444444444444444444444444")},
	}}
	reader, err := chain.NewReader(backend, chain.Config{SaleContract: saleAddr}, nil)
	require.NoError(t, err)

	_, found, err := reader.PurchaseReceipt(context.Background(), "0xabc", walletAddr)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPurchaseReceipt_Failures(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		wantErr error
	}{
		{name: "reverted", backend: &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}}, wantErr: domain.ErrTransient},
		{name: "pending", backend: &fakeBackend{rcptErr: ethereum.NotFound}, wantErr: domain.ErrNotFound},
		{name: "rpc down", backend: &fakeBackend{rcptErr: errors.New("eof")}, wantErr: domain.ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := chain.NewReader(tt.backend, chain.Config{SaleContract: saleAddr}, nil)
			require.NoError(t, err)

			_, _, err = reader.PurchaseReceipt(context.Background(), "0xabc", walletAddr)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPurchaseReceipt_DisabledWithoutSaleContract(t *testing.T) {
	reader, err := chain.NewReader(&fakeBackend{rcptErr: errors.New("unused")}, chain.Config{}, nil)
	require.NoError(t, err)

	_, found, err := reader.PurchaseReceipt(context.Background(), "0xabc", walletAddr)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNewReader_RejectsBadSaleContract(t *testing.T) {
	_, err := chain.NewReader(&fakeBackend{}, chain.Config{SaleContract: "0x12"}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}
