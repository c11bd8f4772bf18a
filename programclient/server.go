package programclient

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/enclave-network/ciphernode/event"
	"github.com/enclave-network/ciphernode/telemetry"
)

// CallbackPayload is what an external program server POSTs back once it
// finishes a homomorphic computation.
type CallbackPayload struct {
	E3ID             event.E3ID `json:"e3_id"`
	CiphertextOutput []byte     `json:"ciphertext_output"`
}

// ChainPublisher is the on-chain surface the callback server forwards
// ciphertext outputs to; only the aggregator role is configured with one
// (spec.md §4.11: "the ciphernode forwards on-chain (aggregator only)").
type ChainPublisher interface {
	PublishCiphertextOutput(ctx context.Context, e3ID event.E3ID, ciphertext, proof []byte) error
}

// Server receives program-server callbacks over HTTP and republishes
// them onto the EventBus as CiphertextOutputPublished, so the same
// Keyshare actors that react to chain-observed ciphertext outputs also
// react to ones the program server reports directly.
type Server struct {
	bus       *event.Bus
	publisher ChainPublisher // nil unless this node is the aggregator
	log       zerolog.Logger
}

// NewServer prepares a callback handler. publisher may be nil for
// ciphernode-role nodes, which only need the bus republish.
func NewServer(bus *event.Bus, publisher ChainPublisher) *Server {
	return &Server{bus: bus, publisher: publisher, log: telemetry.WithComponent("programclient")}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload CallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.log.Warn().Err(err).Msg("malformed program callback payload")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.bus.Publish(event.CiphertextOutputPublished{E3ID: payload.E3ID, Ciphertext: payload.CiphertextOutput})

	if s.publisher != nil {
		if err := s.publisher.PublishCiphertextOutput(r.Context(), payload.E3ID, payload.CiphertextOutput, nil); err != nil {
			s.log.Error().Err(err).Uint64("e3_id", uint64(payload.E3ID)).Msg("failed to publish ciphertext output on-chain")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
}
