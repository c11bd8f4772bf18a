// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package compute runs the CPU-bound cryptographic work other actors
// dispatch rather than perform inline, so no actor blocks the event bus
// thread on a BFV operation.
package compute

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/enclave-network/ciphernode/crypto"
	"github.com/enclave-network/ciphernode/telemetry"
)

// JobType is the closed sum of heavy operations the pool knows how to
// route. Threshold-BFV variants are routed the same way as their
// single-share counterparts; their algorithmic detail lives entirely in
// the fhe package's wrapping of lattigo's documented API.
type JobType string

const (
	JobGenerateKeyshare        JobType = "bfv_generate_keyshare"
	JobDecryptCiphertext       JobType = "bfv_decrypt_ciphertext"
	JobGetAggregatePublicKey   JobType = "bfv_get_aggregate_public_key"
	JobGetAggregatePlaintext   JobType = "bfv_get_aggregate_plaintext"
	JobThresholdKeyswitchShare JobType = "trbfv_keyswitch_share"
	JobThresholdCombine        JobType = "trbfv_combine"
)

// Request is one unit of work submitted to the pool. Input is sealed so
// that secret key shares travel through the queue only as ciphertext.
// Respond, when set, receives this request's own Success/Failed value
// instead of it going on the pool's shared Results() channel — used by
// SubmitWait so one caller's job result is never observed by another.
// Ctx, when set, is the context Run is actually invoked with, so a
// cancelled Token (see CancelToken) is observable from inside the
// worker goroutine running the job, not just by whoever is waiting on
// the result. Submit treats a nil Ctx as context.Background().
type Request struct {
	E3ID    uint64
	Job     JobType
	Input   *crypto.Sensitive[[]byte]
	Run     func(ctx context.Context) ([]byte, error)
	Token   CancelToken
	Ctx     context.Context
	Respond chan any
}

// Success is published back to the requesting actor on completion.
type Success struct {
	E3ID   uint64
	Job    JobType
	Result []byte
}

// Failed is published back to the requesting actor when Run returns an
// error or the job's token is cancelled first.
type Failed struct {
	E3ID   uint64
	Job    JobType
	Reason error
}

// CancelToken lets the owning actor best-effort cancel pending jobs for an
// E3 that has reached a terminal state.
type CancelToken struct {
	cancel context.CancelFunc
}

// NewCancelToken returns a token and the context Run should observe.
func NewCancelToken(parent context.Context) (CancelToken, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return CancelToken{cancel: cancel}, ctx
}

// Cancel requests best-effort cancellation of the associated job.
func (t CancelToken) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

const perWorkerQueueSize = 32

// Pool is a worker pool sized to runtime.NumCPU() (logical CPUs, not
// physical cores) minus one, with at least one worker, accepting
// Requests on a bounded per-worker queue; Submit blocks the calling actor
// (still off the bus thread) when queues are full rather than dropping
// work.
type Pool struct {
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	queues   []chan Request
	results  chan any
	next     uint64
	nextMu   sync.Mutex
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// NewPool starts a worker pool and returns it; Results exposes the channel
// Success/Failed values are published on.
func NewPool(m *telemetry.Metrics) *Pool {
	workers := runtime.NumCPU() - 1
	if workers < 1 {
		workers = 1
	}

	p := &Pool{
		logger:   telemetry.WithComponent("compute"),
		metrics:  m,
		queues:   make([]chan Request, workers),
		results:  make(chan any, workers*perWorkerQueueSize),
		shutdown: make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan Request, perWorkerQueueSize)
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Results returns the channel Success/Failed values are published on.
func (p *Pool) Results() <-chan any { return p.results }

// Submit enqueues req onto a worker, round-robin, blocking if that
// worker's queue is full.
func (p *Pool) Submit(req Request) {
	p.metrics.ComputeJobsQueued.WithLabelValues(string(req.Job)).Inc()

	p.nextMu.Lock()
	idx := p.next % uint64(len(p.queues))
	p.next++
	p.nextMu.Unlock()

	select {
	case p.queues[idx] <- req:
	case <-p.shutdown:
	}
}

func (p *Pool) worker(idx int) {
	defer p.wg.Done()
	for {
		select {
		case req := <-p.queues[idx]:
			p.run(req)
		case <-p.shutdown:
			return
		}
	}
}

func (p *Pool) run(req Request) {
	ctx := req.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var result []byte
	err := ctx.Err()
	if err == nil {
		result, err = req.Run(ctx)
	}

	outcome := "success"
	var out any
	if err != nil {
		outcome = "failure"
		wrapped := fmt.Errorf("compute: %s: %w", req.Job, err)
		p.logger.Warn().Err(wrapped).Uint64("e3_id", req.E3ID).Msg("compute job failed")
		out = Failed{E3ID: req.E3ID, Job: req.Job, Reason: wrapped}
	} else {
		out = Success{E3ID: req.E3ID, Job: req.Job, Result: result}
	}
	p.metrics.ComputeJobsCompleted.WithLabelValues(string(req.Job), outcome).Inc()

	if req.Respond != nil {
		req.Respond <- out
	} else {
		p.results <- out
	}
}

// SubmitWait submits req and blocks the calling actor (off the bus
// goroutine) until its result is ready or ctx is cancelled, without
// consuming any other request's result from the shared Results()
// channel. This is the entry point actors use per spec.md §4.10/§4.7
// ("Heavy cryptographic work is dispatched to the HeavyCompute pool
// rather than run on the actor thread").
func (p *Pool) SubmitWait(ctx context.Context, req Request) ([]byte, error) {
	req.Ctx = ctx
	req.Respond = make(chan any, 1)
	p.Submit(req)

	select {
	case <-ctx.Done():
		req.Token.Cancel()
		return nil, ctx.Err()
	case out := <-req.Respond:
		switch v := out.(type) {
		case Success:
			return v.Result, nil
		case Failed:
			return nil, v.Reason
		default:
			return nil, fmt.Errorf("compute: unexpected result type %T", out)
		}
	}
}

// Shutdown stops accepting new work and waits for in-flight jobs to
// finish; it does not forcibly cancel a Run already executing.
func (p *Pool) Shutdown() {
	close(p.shutdown)
	p.wg.Wait()
}
