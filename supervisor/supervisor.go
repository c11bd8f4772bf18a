// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package supervisor builds and drives the node's full actor graph
// (SPEC_FULL.md §4.12): the EventBus, the node identity, the Data
// store, the Net System, per-chain Indexers, the Sortition registry,
// and the Router, wiring a Ciphernode or Aggregator role's actors
// depending on config.Role.
package supervisor

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/enclave-network/ciphernode/aggregator"
	"github.com/enclave-network/ciphernode/chainindex"
	"github.com/enclave-network/ciphernode/compute"
	"github.com/enclave-network/ciphernode/config"
	"github.com/enclave-network/ciphernode/data"
	"github.com/enclave-network/ciphernode/event"
	"github.com/enclave-network/ciphernode/netp2p"
	"github.com/enclave-network/ciphernode/router"
	"github.com/enclave-network/ciphernode/sortition"
	"github.com/enclave-network/ciphernode/telemetry"
)

// Supervisor owns every process-wide singleton named in spec.md §9
// ("Global state is limited to: the EventBus, the Cipher, the Data
// store... Each is created once by the supervisor") and the goroutines
// that drive them.
type Supervisor struct {
	cfg config.Config
	log zerolog.Logger

	bus      *event.Bus
	store    *data.Store
	identity *Identity
	metrics  *telemetry.Metrics
	registry *sortition.Registry
	net      *netp2p.Interface
	indexers []*chainindex.Indexer
	pool     *compute.Pool
	router   *router.Router

	wg sync.WaitGroup
}

// New loads the node's identity and data store and builds the actor
// graph for cfg.Role. The event bus's dispatch loop, the net interface's
// swarm and the compute pool's workers start here; the router, indexers
// and net translators start only when Run is called.
func New(cfg config.Config) (*Supervisor, error) {
	log := telemetry.WithComponent("supervisor")

	store, err := data.Open(cfg.DBFile)
	if err != nil {
		return nil, fmt.Errorf("supervisor: opening data store: %w", err)
	}

	identity, err := LoadIdentity(store, cfg.KeyFile)
	if err != nil {
		store.Close()
		return nil, err
	}

	reg := telemetry.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	bus := event.New(telemetry.WithComponent("eventbus"))
	registry := sortition.NewRegistry()

	net, err := netp2p.New(netp2p.Config{
		PrivateKey: identity.PeerKey,
		QUICPort:   cfg.QUICPort,
		Peers:      cfg.Peers,
		EnableMDNS: cfg.EnableMDNS,
	}, metrics)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("supervisor: starting net interface: %w", err)
	}

	indexers := make([]*chainindex.Indexer, 0, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		ix, err := chainindex.New(chain, bus, metrics)
		if err != nil {
			net.Close()
			store.Close()
			return nil, fmt.Errorf("supervisor: starting indexer for chain %s: %w", chain.Name, err)
		}
		indexers = append(indexers, ix)
	}

	var submitter aggregator.Submitter
	if cfg.Role == config.RoleAggregator {
		submitter, err = buildSubmitter(cfg)
		if err != nil {
			net.Close()
			store.Close()
			return nil, err
		}
	}

	pool := compute.NewPool(metrics)
	rtr := router.New(cfg.Role, selfAddress(cfg), registry, bus, identity.Cipher, store, pool, submitter, metrics)

	return &Supervisor{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		store:    store,
		identity: identity,
		metrics:  metrics,
		registry: registry,
		net:      net,
		indexers: indexers,
		pool:     pool,
		router:   rtr,
	}, nil
}

func selfAddress(cfg config.Config) event.Address {
	var addr event.Address
	copy(addr[:], common.HexToAddress(cfg.Address).Bytes())
	return addr
}

// buildSubmitter dials the first configured chain's RPC endpoint and
// prepares the aggregator's outbound signer; only role=aggregator
// constructs one (spec.md §4.12: "plus wallet signer").
func buildSubmitter(cfg config.Config) (aggregator.Submitter, error) {
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("supervisor: aggregator role requires at least one chain")
	}
	primary := cfg.Chains[0]

	client, err := ethclient.Dial(primary.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("supervisor: dialing aggregator chain rpc: %w", err)
	}

	key, err := gethcrypto.LoadECDSA(cfg.Aggregator.Wallet)
	if err != nil {
		return nil, fmt.Errorf("supervisor: loading aggregator wallet key: %w", err)
	}

	submitter, err := aggregator.NewEVMSubmitter(
		client,
		common.HexToAddress(primary.Contracts.Enclave),
		key,
		new(big.Int).SetUint64(primary.ChainID),
	)
	if err != nil {
		return nil, fmt.Errorf("supervisor: building evm submitter: %w", err)
	}
	return submitter, nil
}

// Run starts every actor and blocks until ctx is cancelled, at which
// point it publishes Shutdown and waits for every actor to finish its
// in-flight message and persist a final snapshot (§5's cancellation
// semantics).
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Info().Str("role", string(s.cfg.Role)).Str("address", s.cfg.Address).Msg("starting enclave node")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.spawn(runCtx, s.net.Run)
	s.spawn(runCtx, s.router.Run)
	for _, ix := range s.indexers {
		ix := ix
		s.spawn(runCtx, ix.Run)
	}

	netEvents, cancelNetSub := s.net.SubscribeEvents()
	defer cancelNetSub()
	dhtEvents, cancelDHTSub := s.net.SubscribeEvents()
	defer cancelDHTSub()
	dht := netp2p.NewDHTPublisher(s.metrics, netp2p.DefaultGossipSizeLimit, s.net.Commands(), dhtEvents)
	translator := netp2p.NewTranslator(s.bus, s.metrics, s.net.Commands(), netEvents, dht)
	s.spawn(runCtx, translator.Run)
	s.spawn(runCtx, func(ctx context.Context) { dht.Run(ctx, s.bus.Publish) })

	<-ctx.Done()
	s.bus.Publish(event.Shutdown{})
	cancel()
	s.wg.Wait()

	if err := s.net.Close(); err != nil {
		s.log.Warn().Err(err).Msg("net interface close failed")
	}
	s.pool.Shutdown()
	s.bus.Stop()
	return s.store.Close()
}

func (s *Supervisor) spawn(ctx context.Context, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}
