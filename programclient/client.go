// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package programclient is the thin HTTP client and callback server
// described in spec.md §4.11: it posts an E3's ciphertext inputs to an
// external FHE program server, and receives that server's asynchronous
// callback carrying the computed ciphertext output.
package programclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/enclave-network/ciphernode/event"
	"github.com/enclave-network/ciphernode/telemetry"
)

const (
	minBackoff     = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	dispatchMaxTry = 5
)

// Request is the JSON body posted to an external program server, naming
// the named dispatch named in spec.md §4.11.
type Request struct {
	E3ID             event.E3ID `json:"e3_id"`
	Params           []byte     `json:"params"`
	CiphertextInputs [][]byte   `json:"ciphertext_inputs"`
	CallbackURL      string     `json:"callback_url"`
}

// Client dispatches program runs to a single named program server
// (config.Program) and retries idempotently by e3_id.
type Client struct {
	http *http.Client
	base string
	log  zerolog.Logger
}

// New binds a Client to an external program server's base URL.
func New(baseURL string) *Client {
	return &Client{
		http: &http.Client{Timeout: 30 * time.Second},
		base: baseURL,
		log:  telemetry.WithComponent("programclient"),
	}
}

// Dispatch posts req to the program server, retrying transient failures
// with full-jitter exponential backoff. The server is expected to
// de-duplicate repeated dispatches of the same e3_id itself, since a
// caller that crashed mid-retry may dispatch twice.
func (c *Client) Dispatch(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("programclient: marshal request: %w", err)
	}

	backoff := minBackoff
	var lastErr error
	for attempt := 0; attempt < dispatchMaxTry; attempt++ {
		if attempt > 0 {
			jittered := time.Duration(rand.Int63n(int64(backoff)))
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

		lastErr = c.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		c.log.Warn().Err(lastErr).Uint64("e3_id", uint64(req.E3ID)).Int("attempt", attempt).Msg("program dispatch failed, retrying")
	}
	return fmt.Errorf("programclient: dispatch e3=%d: %w", req.E3ID, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/run", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("program server responded %s", resp.Status)
	}
	return nil
}
