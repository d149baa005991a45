// Package guard is the client for the on-chain wallet guard contract.
//
// It signs and sends the enforcement transactions (lock, risk-score
// update) and reads lock state back. Every write goes through the shared
// retry helper so a flaky RPC does not drop an enforcement action.
package guard

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Khongirad/INOMAD-sub003/internal/metrics"
	"github.com/Khongirad/INOMAD-sub003/internal/retry"
)

var (
	ErrInvalidPrivateKey = errors.New("guard: invalid private key")
	ErrInvalidAddress    = errors.New("guard: invalid address")
	ErrRPCConnection     = errors.New("guard: RPC connection failed")
	ErrCallFailed        = errors.New("guard: contract call failed")
)

// CallError wraps contract call failures with context
type CallError struct {
	Op     string // Operation that failed
	TxHash string // Transaction hash if available
	Err    error  // Underlying error
}

func (e *CallError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("guard: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("guard: %s failed: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Contract is the enforcement surface the orchestrator depends on.
type Contract interface {
	LockWallet(ctx context.Context, wallet, reason string) (string, error)
	UpdateRiskScore(ctx context.Context, wallet string, score uint8) (string, error)
	GetLockStatus(ctx context.Context, wallet string) (*LockStatus, error)
}

// EthClient abstracts go-ethereum client for testing
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Minimal ABI for the wallet guard contract
const guardABI = `[
	{"inputs":[{"name":"wallet","type":"address"},{"name":"reason","type":"string"}],"name":"lockWallet","outputs":[],"type":"function"},
	{"inputs":[{"name":"wallet","type":"address"},{"name":"score","type":"uint8"}],"name":"updateRiskScore","outputs":[],"type":"function"},
	{"inputs":[{"name":"wallet","type":"address"}],"name":"getLockStatus","outputs":[{"name":"locked","type":"bool"},{"name":"reasonCode","type":"uint8"},{"name":"caseHash","type":"bytes32"},{"name":"lockedAt","type":"uint64"}],"type":"function"}
]`

const (
	// DefaultGasLimit when estimation fails
	DefaultGasLimit = uint64(150000)
)

// LockStatus is the on-chain lock state of one wallet
type LockStatus struct {
	Locked     bool      `json:"locked"`
	ReasonCode uint8     `json:"reasonCode"`
	CaseHash   string    `json:"caseHash"`
	LockedAt   time.Time `json:"lockedAt"`
}

// Config for creating a guard client
type Config struct {
	RPCURL     string
	PrivateKey string // Hex string, 0x prefix optional
	ChainID    int64
	Contract   string
}

// Option configures the client
type Option func(*Client)

// WithClient sets a custom Ethereum client (useful for testing)
func WithClient(client EthClient) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithRetryPolicy overrides the write-retry policy
func WithRetryPolicy(attempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryDelay = baseDelay
	}
}

// Client signs and sends guard contract transactions
type Client struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	contract   common.Address
	abi        abi.ABI

	retryAttempts int
	retryDelay    time.Duration
}

var _ Contract = (*Client)(nil)

// New creates a guard contract client
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	parsedABI, err := abi.JSON(strings.NewReader(guardABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse guard ABI: %w", err)
	}

	c := &Client{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		chainID:    big.NewInt(cfg.ChainID),
		contract:   common.HexToAddress(cfg.Contract),
		abi:        parsedABI,

		retryAttempts: 3,
		retryDelay:    500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.client = client
	}

	return c, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("%w: private key required", ErrInvalidPrivateKey)
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	if cfg.Contract == "" {
		return fmt.Errorf("%w: guard contract address required", ErrInvalidAddress)
	}
	return nil
}

// Address returns the enforcement signer's address
func (c *Client) Address() string {
	return c.address.Hex()
}

// LockWallet sends a lock transaction for the wallet and returns the tx
// hash. The lock takes effect when the transaction is mined.
func (c *Client) LockWallet(ctx context.Context, wallet, reason string) (string, error) {
	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("%w: %s", ErrInvalidAddress, wallet)
	}

	data, err := c.abi.Pack("lockWallet", common.HexToAddress(wallet), reason)
	if err != nil {
		return "", &CallError{Op: "pack lockWallet", Err: err}
	}

	txHash, err := c.sendWithRetry(ctx, "lockWallet", data)
	if err != nil {
		metrics.GuardCallsTotal.WithLabelValues("lock", "error").Inc()
		return txHash, err
	}
	metrics.GuardCallsTotal.WithLabelValues("lock", "ok").Inc()
	return txHash, nil
}

// UpdateRiskScore mirrors the wallet's current score on-chain.
func (c *Client) UpdateRiskScore(ctx context.Context, wallet string, score uint8) (string, error) {
	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("%w: %s", ErrInvalidAddress, wallet)
	}

	data, err := c.abi.Pack("updateRiskScore", common.HexToAddress(wallet), score)
	if err != nil {
		return "", &CallError{Op: "pack updateRiskScore", Err: err}
	}

	txHash, err := c.sendWithRetry(ctx, "updateRiskScore", data)
	if err != nil {
		metrics.GuardCallsTotal.WithLabelValues("update_score", "error").Inc()
		return txHash, err
	}
	metrics.GuardCallsTotal.WithLabelValues("update_score", "ok").Inc()
	return txHash, nil
}

// GetLockStatus reads the wallet's current lock state from the contract.
func (c *Client) GetLockStatus(ctx context.Context, wallet string) (*LockStatus, error) {
	if !common.IsHexAddress(wallet) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, wallet)
	}

	data, err := c.abi.Pack("getLockStatus", common.HexToAddress(wallet))
	if err != nil {
		return nil, &CallError{Op: "pack getLockStatus", Err: err}
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.contract,
		Data: data,
	}, nil)
	if err != nil {
		metrics.GuardCallsTotal.WithLabelValues("get_status", "error").Inc()
		return nil, &CallError{Op: "getLockStatus", Err: err}
	}
	metrics.GuardCallsTotal.WithLabelValues("get_status", "ok").Inc()

	out, err := c.abi.Unpack("getLockStatus", result)
	if err != nil {
		return nil, &CallError{Op: "unpack getLockStatus", Err: err}
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("%w: unexpected getLockStatus output", ErrCallFailed)
	}

	locked, _ := out[0].(bool)
	reasonCode, _ := out[1].(uint8)
	caseHash, _ := out[2].([32]byte)
	lockedAt, _ := out[3].(uint64)

	status := &LockStatus{
		Locked:     locked,
		ReasonCode: reasonCode,
		CaseHash:   common.BytesToHash(caseHash[:]).Hex(),
	}
	if lockedAt > 0 {
		status.LockedAt = time.Unix(int64(lockedAt), 0).UTC()
	}
	return status, nil
}

// sendWithRetry builds, signs, and sends one contract transaction.
// Nonce and gas are refetched on every attempt so a retried send does not
// reuse stale values.
func (c *Client) sendWithRetry(ctx context.Context, op string, data []byte) (string, error) {
	var txHash string

	err := retry.Do(ctx, c.retryAttempts, c.retryDelay, func() error {
		nonce, err := c.client.PendingNonceAt(ctx, c.address)
		if err != nil {
			return &CallError{Op: op + " nonce", Err: err}
		}

		gasPrice, err := c.client.SuggestGasPrice(ctx)
		if err != nil {
			return &CallError{Op: op + " gas_price", Err: err}
		}

		gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  c.address,
			To:    &c.contract,
			Value: big.NewInt(0),
			Data:  data,
		})
		if err != nil {
			// Use default if estimation fails
			gasLimit = DefaultGasLimit
		}

		tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gasLimit, gasPrice, data)

		signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
		if err != nil {
			return retry.Permanent(&CallError{Op: op + " sign", Err: err})
		}

		if err := c.client.SendTransaction(ctx, signedTx); err != nil {
			return &CallError{Op: op + " send", TxHash: signedTx.Hash().Hex(), Err: err}
		}

		txHash = signedTx.Hash().Hex()
		return nil
	})

	return txHash, err
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
