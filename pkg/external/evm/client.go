// Package evm drives the staking pool and base token contracts on an EVM chain.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/internal/metrics"
	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/config"
)

// ErrTxFailed is returned when a mined transaction reverted.
var ErrTxFailed = errors.New("transaction reverted")

// Backend is the chain access the client needs; *ethclient.Client implements it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client signs and sends transactions for the ledger account.
type Client struct {
	config     *config.EthereumConfig
	backend    Backend
	privateKey *ecdsa.PrivateKey
	address    common.Address
	logger     *zap.Logger

	token   *bind.BoundContract
	staking *bind.BoundContract
	tokenAt common.Address
	poolAt  common.Address
}

// Dial connects to the configured RPC endpoint.
func Dial(cfg *config.EthereumConfig, logger *zap.Logger) (*Client, *ethclient.Client, error) {
	ec, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}
	c, err := NewClient(cfg, ec, logger)
	if err != nil {
		ec.Close()
		return nil, nil, err
	}
	logger.Info("Connected to Ethereum",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("staking_contract", c.poolAt.Hex()),
		zap.String("token_contract", c.tokenAt.Hex()),
		zap.String("operator_address", c.address.Hex()))
	return c, ec, nil
}

// NewClient creates a client on top of backend.
func NewClient(cfg *config.EthereumConfig, backend Backend, logger *zap.Logger) (*Client, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	if !common.IsHexAddress(cfg.TokenContract) || !common.IsHexAddress(cfg.StakingContract) {
		return nil, fmt.Errorf("invalid contract address")
	}

	tokenAt := common.HexToAddress(cfg.TokenContract)
	poolAt := common.HexToAddress(cfg.StakingContract)
	return &Client{
		config:     cfg,
		backend:    backend,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		logger:     logger,
		token:      bind.NewBoundContract(tokenAt, tokenContractABI, backend, backend, backend),
		staking:    bind.NewBoundContract(poolAt, stakingContractABI, backend, backend, backend),
		tokenAt:    tokenAt,
		poolAt:     poolAt,
	}, nil
}

// Address returns the operator address.
func (c *Client) Address() common.Address { return c.address }

// PoolAddress returns the staking contract address.
func (c *Client) PoolAddress() common.Address { return c.poolAt }

// GetTransactor returns a transaction signer
func (c *Client) GetTransactor(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, big.NewInt(c.config.ChainID))
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	auth.Context = ctx
	auth.Nonce = new(big.Int).SetUint64(nonce)
	auth.GasLimit = c.config.GasLimit
	return auth, nil
}

func (c *Client) call(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx, From: c.address}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// transact sends method and blocks until the transaction is mined and
// confirmed.
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) (*types.Receipt, error) {
	auth, err := c.GetTransactor(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := contract.Transact(auth, method, args...)
	if err != nil {
		metrics.TransactionsSent.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("failed to submit %s transaction: %w", method, err)
	}

	c.logger.Info("Transaction submitted",
		zap.String("method", method),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()))

	receipt, err := c.waitReceipt(ctx, tx.Hash())
	if err != nil {
		metrics.TransactionsSent.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("%s %s: %w", method, tx.Hash().Hex(), err)
	}
	metrics.TransactionsSent.WithLabelValues(method, "success").Inc()
	metrics.GasUsed.WithLabelValues(method).Observe(float64(receipt.GasUsed))
	return receipt, nil
}

// waitReceipt polls for the receipt of hash until it has the configured
// number of confirmations.
func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.config.PollingInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, ErrTxFailed
			}
			head, err := c.backend.BlockNumber(ctx)
			if err == nil && confirmed(receipt, head, c.config.ConfirmationBlocks) {
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func confirmed(receipt *types.Receipt, head uint64, confirmations int) bool {
	if receipt.BlockNumber == nil {
		return false
	}
	mined := receipt.BlockNumber.Uint64()
	if confirmations <= 1 {
		return head >= mined
	}
	return head >= mined+uint64(confirmations-1)
}

func (c *Client) requireOperator(dir Directory, owner asset.Name) error {
	addr, err := dir.Resolve(owner)
	if err != nil {
		return err
	}
	if addr != c.address {
		return fmt.Errorf("%w: %s is not the operator account", ErrUnsupported, owner)
	}
	return nil
}
