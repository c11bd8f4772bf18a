package programclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/enclave-network/ciphernode/event"
)

func TestClientDispatchPostsRequest(t *testing.T) {
	received := make(chan Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		received <- req
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Dispatch(context.Background(), Request{
		E3ID:             5,
		Params:           []byte("light"),
		CiphertextInputs: [][]byte{[]byte("a"), []byte("b")},
		CallbackURL:      "http://localhost:9000/callback",
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if got.E3ID != 5 {
			t.Fatalf("got e3id %d, want 5", got.E3ID)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the dispatch")
	}
}

func TestClientDispatchRetriesOnFailure(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.Dispatch(context.Background(), Request{E3ID: 1}); err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

type fakePublisher struct {
	calls []event.E3ID
}

func (f *fakePublisher) PublishCiphertextOutput(_ context.Context, e3ID event.E3ID, _, _ []byte) error {
	f.calls = append(f.calls, e3ID)
	return nil
}

func TestServerRepublishesCallbackAndForwardsOnChain(t *testing.T) {
	bus := event.New(zerolog.Nop())
	defer bus.Stop()
	sub := bus.Subscribe(event.KindCiphertextOutputPublished)

	pub := &fakePublisher{}
	handler := NewServer(bus, pub)

	body, _ := json.Marshal(CallbackPayload{E3ID: 9, CiphertextOutput: []byte("ct")})
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("got status %d, want 202", rec.Code)
	}

	select {
	case e := <-sub.C():
		ev := e.(event.CiphertextOutputPublished)
		if ev.E3ID != 9 {
			t.Fatalf("got e3id %d, want 9", ev.E3ID)
		}
	case <-time.After(time.Second):
		t.Fatal("callback was not republished onto the bus")
	}

	if len(pub.calls) != 1 || pub.calls[0] != 9 {
		t.Fatalf("expected exactly one on-chain publish for e3=9, got %v", pub.calls)
	}
}

func TestServerWithoutPublisherOnlyRepublishes(t *testing.T) {
	bus := event.New(zerolog.Nop())
	defer bus.Stop()
	sub := bus.Subscribe(event.KindCiphertextOutputPublished)

	handler := NewServer(bus, nil)
	body, _ := json.Marshal(CallbackPayload{E3ID: 10, CiphertextOutput: []byte("ct")})
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("got status %d, want 202", rec.Code)
	}
	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("callback was not republished onto the bus")
	}
}
