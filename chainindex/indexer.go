// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chainindex delivers on-chain Enclave contract events into the
// EventBus in chain order, despite reorgs. The block cursor lives only in
// memory: every start re-fetches from the deploy block minus the reorg
// depth, and the events it re-publishes are dropped as duplicates only by
// the bus's content-hash dedup within one process, not across restarts.
package chainindex

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/enclave-network/ciphernode/config"
	"github.com/enclave-network/ciphernode/event"
	"github.com/enclave-network/ciphernode/telemetry"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 30 * time.Second
	pollPeriod = 12 * time.Second
)

// Indexer watches one chain connection, decoding its Enclave contract logs
// into EnclaveEvents and republishing them reorg-safely.
type Indexer struct {
	cfg     config.Chain
	bus     *event.Bus
	metrics *telemetry.Metrics
	log     zerolog.Logger
	client  *ethclient.Client

	lastProcessed uint64
	blockHashes   map[uint64]common.Hash
}

// New dials the chain's RPC endpoint and prepares an Indexer starting from
// (deployBlock - reorgDepth), clamped at block 0.
func New(cfg config.Chain, bus *event.Bus, m *telemetry.Metrics) (*Indexer, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chainindex: dialing %s: %w", cfg.Name, err)
	}

	start := cfg.Contracts.DeployBlock
	if uint64(cfg.ReorgDepth) < start {
		start -= uint64(cfg.ReorgDepth)
	} else {
		start = 0
	}

	return &Indexer{
		cfg:           cfg,
		bus:           bus,
		metrics:       m,
		log:           telemetry.WithComponent("chainindex").With().Str("chain", cfg.Name).Logger(),
		client:        client,
		lastProcessed: start,
		blockHashes:   make(map[uint64]common.Hash),
	}, nil
}

// Run drives the indexer until ctx is cancelled: an initial historical
// catch-up fetch, then a poll loop for new heads. RPC failures are retried
// with exponential backoff; the loop itself never returns except on ctx
// cancellation.
func (ix *Indexer) Run(ctx context.Context) {
	if err := ix.withBackoff(ctx, ix.catchUp); err != nil {
		ix.log.Error().Err(err).Str("kind", string(telemetry.ErrChain)).Msg("historical catch-up abandoned")
	}

	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ix.withBackoff(ctx, ix.pollHead); err != nil {
				ix.log.Error().Err(err).Str("kind", string(telemetry.ErrChain)).Msg("poll cycle abandoned")
			}
		}
	}
}

// withBackoff retries fn with full-jitter exponential backoff between
// minBackoff and maxBackoff until it succeeds or ctx is done.
func (ix *Indexer) withBackoff(ctx context.Context, fn func(context.Context) error) error {
	backoff := minBackoff
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		jittered := time.Duration(rand.Int63n(int64(backoff)))
		ix.log.Warn().Err(err).Dur("backoff", jittered).Msg("chain RPC call failed, retrying")
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (ix *Indexer) catchUp(ctx context.Context) error {
	head, err := ix.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("chainindex: fetching head: %w", err)
	}
	return ix.fetchAndEmit(ctx, ix.lastProcessed, head)
}

func (ix *Indexer) pollHead(ctx context.Context) error {
	header, err := ix.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("chainindex: fetching latest header: %w", err)
	}

	if prevHash, ok := ix.blockHashes[header.Number.Uint64()-1]; ok && header.ParentHash != prevHash {
		return ix.handleReorg(ctx, header.Number.Uint64())
	}
	return ix.fetchAndEmit(ctx, ix.lastProcessed, header.Number.Uint64())
}

// handleReorg rewinds lastProcessed by ReorgDepth and re-fetches from
// there; downstream dedup by event_id absorbs the resulting duplicates.
func (ix *Indexer) handleReorg(ctx context.Context, newHead uint64) error {
	ix.metrics.IndexerReorgs.Inc()
	ix.log.Warn().Uint64("new_head", newHead).Int("reorg_depth", ix.cfg.ReorgDepth).Msg("chain reorg detected")

	rewindTo := uint64(0)
	if newHead > uint64(ix.cfg.ReorgDepth) {
		rewindTo = newHead - uint64(ix.cfg.ReorgDepth)
	}
	if rewindTo < ix.lastProcessed {
		ix.lastProcessed = rewindTo
	}
	return ix.fetchAndEmit(ctx, ix.lastProcessed, newHead)
}

func (ix *Indexer) fetchAndEmit(ctx context.Context, from, to uint64) error {
	if to < from {
		return nil
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: ix.watchedAddresses(),
		Topics:    [][]common.Hash{topicSignatures()},
	}

	logs, err := ix.client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("chainindex: filtering logs [%d,%d]: %w", from, to, err)
	}

	for _, lg := range logs {
		e, err := decodeLog(lg, ix.cfg.ChainID)
		if err != nil {
			ix.log.Warn().Err(err).Str("kind", string(telemetry.ErrChain)).Msg("malformed log, skipping")
			continue
		}
		ix.bus.Publish(e)
		ix.metrics.EventsPublished.WithLabelValues(string(e.Kind())).Inc()
	}

	header, err := ix.client.HeaderByNumber(ctx, new(big.Int).SetUint64(to))
	if err == nil {
		ix.blockHashes[to] = header.Hash()
	}
	ix.lastProcessed = to
	ix.metrics.IndexerLastBlock.WithLabelValues(ix.cfg.Name).Set(float64(to))
	return nil
}

func (ix *Indexer) watchedAddresses() []common.Address {
	return []common.Address{
		common.HexToAddress(ix.cfg.Contracts.Enclave),
		common.HexToAddress(ix.cfg.Contracts.CiphernodeRegistry),
		common.HexToAddress(ix.cfg.Contracts.FilterRegistry),
	}
}

