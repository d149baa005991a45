// Package indexer follows a token contract's Transfer and Approval events
// and classifies them into suspicion labels.
//
// Labeled events are handed to a Sink for scoring. When no RPC endpoint is
// reachable the indexer runs in offline mode: detection still works for
// events injected directly, it just never polls the chain.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Khongirad/INOMAD-sub003/internal/metrics"
	"github.com/Khongirad/INOMAD-sub003/internal/risk"
)

// ERC20 event signatures
var (
	transferEventSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	approvalEventSig = common.HexToHash("0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925")
)

// Sink receives labeled activity for scoring and enforcement.
type Sink interface {
	HandleSuspicion(ctx context.Context, wallet string, labels []risk.Label, meta TxMeta)
}

// Config for the event indexer
type Config struct {
	RPCURL        string
	TokenContract common.Address
	PollInterval  time.Duration
	StartBlock    uint64 // 0 = latest
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PollInterval: 15 * time.Second,
		StartBlock:   0,
	}
}

// Indexer polls the token contract for transfers and approvals.
type Indexer struct {
	client   *ethclient.Client // nil in offline mode
	config   Config
	detector *Detector
	sink     Sink
	logger   *slog.Logger

	// Track processed log entries
	processed map[string]bool
	mu        sync.Mutex

	// Last processed block
	lastBlock uint64

	// Shutdown
	stop chan struct{}
	done chan struct{}
}

// New creates an event indexer. A failed RPC dial is not fatal: the
// indexer comes up in offline mode and HandleTransfer/HandleApproval can
// still be fed manually.
func New(cfg Config, detector *Detector, sink Sink, logger *slog.Logger) *Indexer {
	idx := &Indexer{
		config:    cfg,
		detector:  detector,
		sink:      sink,
		logger:    logger,
		processed: make(map[string]bool),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if cfg.RPCURL == "" {
		logger.Warn("no RPC URL configured, indexer running offline")
		return idx
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		logger.Warn("RPC dial failed, indexer running offline", "error", err)
		return idx
	}
	idx.client = client
	return idx
}

// Offline reports whether the indexer has no chain connection.
func (ix *Indexer) Offline() bool {
	return ix.client == nil
}

// Start begins polling for token events. In offline mode it is a no-op.
func (ix *Indexer) Start(ctx context.Context) error {
	if ix.client == nil {
		close(ix.done)
		return nil
	}

	if ix.config.StartBlock == 0 {
		block, err := ix.client.BlockNumber(ctx)
		if err != nil {
			close(ix.done) // Stop must not block when the poll loop never ran
			return fmt.Errorf("failed to get block number: %w", err)
		}
		ix.lastBlock = block
	} else {
		ix.lastBlock = ix.config.StartBlock
	}

	ix.logger.Info("event indexer started",
		"token", ix.config.TokenContract.Hex(),
		"startBlock", ix.lastBlock,
		"pollInterval", ix.config.PollInterval,
	)

	go ix.pollLoop(ctx)
	return nil
}

// Stop stops the indexer
func (ix *Indexer) Stop() {
	close(ix.stop)
	<-ix.done
}

func (ix *Indexer) pollLoop(ctx context.Context) {
	defer close(ix.done)

	ticker := time.NewTicker(ix.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ix.stop:
			return
		case <-ticker.C:
			if err := ix.checkForEvents(ctx); err != nil {
				ix.logger.Error("event check failed", "error", err)
			}
		}
	}
}

func (ix *Indexer) checkForEvents(ctx context.Context) error {
	currentBlock, err := ix.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get block number: %w", err)
	}

	// Nothing new
	if currentBlock <= ix.lastBlock {
		return nil
	}

	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(ix.lastBlock + 1)),
		ToBlock:   big.NewInt(int64(currentBlock)),
		Addresses: []common.Address{ix.config.TokenContract},
		Topics: [][]common.Hash{
			{transferEventSig, approvalEventSig},
		},
	}

	logs, err := ix.client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to filter logs: %w", err)
	}

	for _, vLog := range logs {
		if err := ix.processLog(ctx, vLog); err != nil {
			ix.logger.Error("failed to process log", "tx", vLog.TxHash.Hex(), "error", err)
		}
	}

	ix.lastBlock = currentBlock
	return nil
}

func (ix *Indexer) processLog(ctx context.Context, vLog types.Log) error {
	// A transaction can emit both a Transfer and an Approval, so dedup on
	// hash plus log index.
	key := fmt.Sprintf("%s:%d", vLog.TxHash.Hex(), vLog.Index)

	ix.mu.Lock()
	if ix.processed[key] {
		ix.mu.Unlock()
		return nil
	}
	ix.processed[key] = true
	ix.mu.Unlock()

	// Topics[1] and Topics[2] are the indexed address pair, Data the amount.
	if len(vLog.Topics) < 3 {
		return fmt.Errorf("malformed token event")
	}

	first := common.HexToAddress(vLog.Topics[1].Hex()).Hex()
	second := common.HexToAddress(vLog.Topics[2].Hex()).Hex()
	amount := new(big.Int).SetBytes(vLog.Data)
	meta := TxMeta{BlockNumber: vLog.BlockNumber, TxHash: vLog.TxHash.Hex()}

	switch vLog.Topics[0] {
	case transferEventSig:
		ix.HandleTransfer(ctx, first, second, amount, meta)
	case approvalEventSig:
		ix.HandleApproval(ctx, first, second, amount, meta)
	default:
		return fmt.Errorf("unexpected event signature %s", vLog.Topics[0].Hex())
	}
	return nil
}

// HandleTransfer classifies one transfer and forwards any labels to the
// sink. Usable directly in offline mode.
func (ix *Indexer) HandleTransfer(ctx context.Context, from, to string, amount *big.Int, meta TxMeta) {
	metrics.LedgerEventsTotal.WithLabelValues("transfer").Inc()

	labels := ix.detector.OnTransfer(from, to, amount, meta)
	if len(labels) == 0 {
		return
	}

	ix.logger.Info("suspicious transfer",
		"from", risk.Normalize(from),
		"labels", labelTypes(labels),
		"tx", meta.TxHash,
	)
	ix.sink.HandleSuspicion(ctx, from, labels, meta)
}

// HandleApproval classifies one approval and forwards any labels to the
// sink.
func (ix *Indexer) HandleApproval(ctx context.Context, owner, spender string, amount *big.Int, meta TxMeta) {
	metrics.LedgerEventsTotal.WithLabelValues("approval").Inc()

	labels := ix.detector.OnApproval(owner, spender, amount, meta)
	if len(labels) == 0 {
		return
	}

	ix.logger.Info("suspicious approval",
		"owner", risk.Normalize(owner),
		"spender", risk.Normalize(spender),
		"tx", meta.TxHash,
	)
	ix.sink.HandleSuspicion(ctx, owner, labels, meta)
}

func labelTypes(labels []risk.Label) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l.Type)
	}
	return out
}
