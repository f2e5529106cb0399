// Package chain reads token balances, block height and purchase receipts
// from an EVM JSON-RPC endpoint.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

const defaultCallTimeout = 5 * time.Second

const erc20ABIJSON = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf",` +
	`"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

const saleABIJSON = `[{"anonymous":false,"inputs":[` +
	`{"indexed":true,"name":"buyer","type":"address"},` +
	`{"indexed":true,"name":"token","type":"address"},` +
	`{"indexed":false,"name":"amountIn","type":"uint256"},` +
	`{"indexed":false,"name":"amountOut","type":"uint256"}],` +
	`"name":"TokensPurchased","type":"event"}]`

const purchaseEvent = "TokensPurchased"

// Config configures the chain reader.
type Config struct {
	RPCURL      string        `yaml:"rpc_url"      env:"CHAIN_RPC_URL"`
	CallTimeout time.Duration `yaml:"call_timeout" env:"CHAIN_CALL_TIMEOUT"`
	// SaleContract emits TokensPurchased. Empty disables the receipt fast path.
	SaleContract string `yaml:"sale_contract" env:"CHAIN_SALE_CONTRACT"`
	// TokenAddress is the community token bought in the support task.
	TokenAddress string `yaml:"token_address" env:"CHAIN_TOKEN_ADDRESS"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
}

// Backend is the subset of ethclient.Client the reader uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Purchase is a decoded TokensPurchased event.
type Purchase struct {
	TxHash    string
	Buyer     string
	Token     string
	AmountIn  *big.Int
	AmountOut *big.Int
	Block     uint64
}

// Reader wraps a Backend with per-call timeouts and ABI decoding.
type Reader struct {
	backend     Backend
	callTimeout time.Duration
	erc20       abi.ABI
	sale        abi.ABI
	saleAddress common.Address
	hasSale     bool
	log         infralogger.Logger
}

// Dial connects to cfg.RPCURL.
func Dial(ctx context.Context, cfg Config, log infralogger.Logger) (*Reader, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("%w: chain rpc url is empty", domain.ErrInvalidConfig)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return NewReader(client, cfg, log)
}

// NewReader creates a Reader on backend.
func NewReader(backend Backend, cfg Config, log infralogger.Logger) (*Reader, error) {
	cfg.SetDefaults()
	if log == nil {
		log = infralogger.NewNop()
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	sale, err := abi.JSON(strings.NewReader(saleABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse sale abi: %w", err)
	}

	r := &Reader{
		backend:     backend,
		callTimeout: cfg.CallTimeout,
		erc20:       erc20,
		sale:        sale,
		log:         log,
	}
	if cfg.SaleContract != "" {
		if !common.IsHexAddress(cfg.SaleContract) {
			return nil, fmt.Errorf("%w: sale contract %q", domain.ErrInvalidConfig, cfg.SaleContract)
		}
		r.saleAddress = common.HexToAddress(cfg.SaleContract)
		r.hasSale = true
	}
	return r, nil
}

// Close releases the RPC connection when the backend holds one.
func (r *Reader) Close() {
	if c, ok := r.backend.(interface{ Close() }); ok {
		c.Close()
	}
}

// TokenBalance returns the ERC-20 balance of wallet for token.
func (r *Reader) TokenBalance(ctx context.Context, token, wallet string) (*big.Int, error) {
	tokenAddr, walletAddr, err := parseAddresses(token, wallet)
	if err != nil {
		return nil, err
	}

	data, err := r.erc20.Pack("balanceOf", walletAddr)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: balanceOf %s: %w", domain.ErrUpstreamUnavailable, tokenAddr.Hex(), err)
	}

	values, err := r.erc20.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("%w: decode balanceOf: %v", domain.ErrUpstreamUnavailable, err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: balanceOf returned %T", domain.ErrUpstreamUnavailable, values[0])
	}
	return balance, nil
}

// BlockNumber returns the latest block height.
func (r *Reader) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	height, err := r.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %w", domain.ErrUpstreamUnavailable, err)
	}
	return height, nil
}

// PurchaseReceipt looks for a TokensPurchased event from the sale contract
// whose indexed buyer is buyer. It reports false when the receipt has no
// such event. A reverted transaction is a transient failure.
func (r *Reader) PurchaseReceipt(ctx context.Context, txHash, buyer string) (Purchase, bool, error) {
	if !r.hasSale {
		return Purchase{}, false, nil
	}
	if !common.IsHexAddress(buyer) {
		return Purchase{}, false, fmt.Errorf("%w: buyer %q", domain.ErrInvalidTarget, buyer)
	}
	buyerAddr := common.HexToAddress(buyer)

	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	receipt, err := r.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	switch {
	case errors.Is(err, ethereum.NotFound):
		return Purchase{}, false, fmt.Errorf("receipt %s: %w", txHash, domain.ErrNotFound)
	case err != nil:
		return Purchase{}, false, fmt.Errorf("%w: receipt %s: %w", domain.ErrUpstreamUnavailable, txHash, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return Purchase{}, false, fmt.Errorf("%w: transaction %s: execution reverted", domain.ErrTransient, txHash)
	}

	event := r.sale.Events[purchaseEvent]
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != r.saleAddress || len(lg.Topics) < 3 || lg.Topics[0] != event.ID {
			continue
		}
		if common.BytesToAddress(lg.Topics[1].Bytes()) != buyerAddr {
			continue
		}

		values, unpackErr := event.Inputs.NonIndexed().Unpack(lg.Data)
		if unpackErr != nil || len(values) != 2 {
			r.log.Warn("Undecodable purchase event",
				infralogger.String("tx_hash", txHash),
				infralogger.Any("unpack_error", unpackErr),
			)
			continue
		}
		amountIn, _ := values[0].(*big.Int)
		amountOut, _ := values[1].(*big.Int)

		return Purchase{
			TxHash:    txHash,
			Buyer:     buyerAddr.Hex(),
			Token:     common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			AmountIn:  amountIn,
			AmountOut: amountOut,
			Block:     lg.BlockNumber,
		}, true, nil
	}
	return Purchase{}, false, nil
}

func parseAddresses(token, wallet string) (common.Address, common.Address, error) {
	if !common.IsHexAddress(token) {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: token address %q", domain.ErrInvalidTarget, token)
	}
	if !common.IsHexAddress(wallet) {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: wallet address %q", domain.ErrInvalidTarget, wallet)
	}
	return common.HexToAddress(token), common.HexToAddress(wallet), nil
}
