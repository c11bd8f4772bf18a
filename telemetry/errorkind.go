package telemetry

// ErrorKind classifies a failure into one of the stable kinds the runtime
// reacts to uniformly: some crash the process, some are retried, others
// are logged and dropped. Attaching the kind to a structured log field
// lets operators query fatal-vs-retryable without parsing message text.
type ErrorKind string

const (
	// ErrConfiguration covers missing/invalid YAML or an unreadable key
	// file. Fatal at startup.
	ErrConfiguration ErrorKind = "configuration"
	// ErrAuthentication covers a wrong password (the Cipher's salt
	// test-vector fails to open). Fatal.
	ErrAuthentication ErrorKind = "authentication"
	// ErrChain covers RPC unavailability, reorgs beyond ReorgDepth, and
	// malformed logs. Not fatal: logged, the indexer keeps running.
	ErrChain ErrorKind = "chain"
	// ErrP2P covers listener bind failure (fatal) and transient
	// dial/DHT-timeout/malformed-message conditions (not fatal).
	ErrP2P ErrorKind = "p2p"
	// ErrCrypto covers proof verification failures (event dropped) and
	// local share-generation failures (the E3 is marked failed).
	ErrCrypto ErrorKind = "crypto"
	// ErrStorage covers snapshot write I/O errors; retried up to a fixed
	// count, then fatal.
	ErrStorage ErrorKind = "storage"
	// ErrProtocol covers an event observed out of its expected order
	// (e.g. E3Activated before E3Requested). Logged, handled best-effort.
	ErrProtocol ErrorKind = "protocol"
)

// Fatal reports whether an error of this kind should crash the process
// rather than being logged and handled in place. It is true only for
// configuration and authentication errors; the fatal cases listed under
// ErrP2P and ErrStorage share their kind with non-fatal ones and report
// false.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrConfiguration, ErrAuthentication:
		return true
	default:
		return false
	}
}
