package compute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/enclave-network/ciphernode/telemetry"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	m := telemetry.NewMetrics(telemetry.NewRegistry())
	p := NewPool(m)
	t.Cleanup(p.Shutdown)
	return p
}

func TestPoolRunsSuccessfulJob(t *testing.T) {
	p := newTestPool(t)

	p.Submit(Request{
		E3ID: 1,
		Job:  JobGenerateKeyshare,
		Run: func(ctx context.Context) ([]byte, error) {
			return []byte("share"), nil
		},
	})

	select {
	case res := <-p.Results():
		success, ok := res.(Success)
		if !ok {
			t.Fatalf("expected Success, got %#v", res)
		}
		if string(success.Result) != "share" {
			t.Fatalf("unexpected result %q", success.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestPoolReportsFailure(t *testing.T) {
	p := newTestPool(t)
	wantErr := errors.New("boom")

	p.Submit(Request{
		E3ID: 2,
		Job:  JobDecryptCiphertext,
		Run: func(ctx context.Context) ([]byte, error) {
			return nil, wantErr
		},
	})

	select {
	case res := <-p.Results():
		failed, ok := res.(Failed)
		if !ok {
			t.Fatalf("expected Failed, got %#v", res)
		}
		if failed.E3ID != 2 {
			t.Fatalf("unexpected e3 id %d", failed.E3ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestPoolSubmitWaitReturnsOwnResult(t *testing.T) {
	p := newTestPool(t)

	result, err := p.SubmitWait(context.Background(), Request{
		E3ID: 3,
		Job:  JobGenerateKeyshare,
		Run: func(ctx context.Context) ([]byte, error) {
			return []byte("mine"), nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "mine" {
		t.Fatalf("unexpected result %q", result)
	}
}

func TestPoolSubmitWaitPropagatesFailure(t *testing.T) {
	p := newTestPool(t)
	wantErr := errors.New("bad share")

	_, err := p.SubmitWait(context.Background(), Request{
		E3ID: 4,
		Job:  JobDecryptCiphertext,
		Run: func(ctx context.Context) ([]byte, error) {
			return nil, wantErr
		},
	})
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped %v, got %v", wantErr, err)
	}
}

func TestPoolSkipsRunForAlreadyCancelledJob(t *testing.T) {
	p := newTestPool(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran bool
	p.Submit(Request{
		E3ID: 6,
		Job:  JobDecryptCiphertext,
		Ctx:  ctx,
		Run: func(ctx context.Context) ([]byte, error) {
			ran = true
			return []byte("too late"), nil
		},
	})

	select {
	case res := <-p.Results():
		failed, ok := res.(Failed)
		if !ok {
			t.Fatalf("expected Failed, got %#v", res)
		}
		if !errors.Is(failed.Reason, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", failed.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
	if ran {
		t.Fatal("Run must not execute once its context was already cancelled before dispatch")
	}
}

func TestCancelTokenCancelsContext(t *testing.T) {
	token, ctx := NewCancelToken(context.Background())
	token.Cancel()
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled")
	}
}
