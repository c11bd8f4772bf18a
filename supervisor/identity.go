// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package supervisor

import (
	cryptorand "crypto/rand"
	"fmt"
	"os"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/enclave-network/ciphernode/crypto"
	"github.com/enclave-network/ciphernode/data"
)

// Identity is the process-wide node identity established before any
// actor subscribes, per spec.md §3's "Node identity: on-chain address +
// libp2p keypair + symmetric data key."
type Identity struct {
	Cipher  *crypto.Cipher
	PeerKey libp2pcrypto.PrivKey
}

const (
	cipherNamespace = "cipher"
	saltKey         = "salt"
	testVectorKey   = "testvector"
	idNamespace     = "id"
	keypairKey      = "keypair"
)

var testVectorPlaintext = []byte("enclave-data-key-test-vector")

// LoadIdentity reads the user's password from keyFile and derives the
// node's data-key Cipher, creating a fresh salt and libp2p keypair on
// first run or unlocking the persisted ones on every run after. A wrong
// password is detected against the persisted test vector rather than
// silently deriving the wrong key (§7's Authentication error class).
func LoadIdentity(store *data.Store, keyFile string) (*Identity, error) {
	password, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("supervisor: reading key file %s: %w", keyFile, err)
	}
	defer crypto.Zero(password)

	salt, err := loadOrCreateSalt(store)
	if err != nil {
		return nil, err
	}

	cipher := crypto.Derive(password, salt)

	if err := verifyOrSealTestVector(store, cipher); err != nil {
		return nil, err
	}

	peerKey, err := loadOrCreatePeerKey(store, cipher)
	if err != nil {
		return nil, err
	}

	return &Identity{Cipher: cipher, PeerKey: peerKey}, nil
}

func loadOrCreateSalt(store *data.Store) (crypto.Salt, error) {
	raw, _, err := store.Get(cipherNamespace, saltKey)
	if err == nil {
		var salt crypto.Salt
		copy(salt[:], raw)
		return salt, nil
	}
	if err != data.ErrNotFound {
		return crypto.Salt{}, fmt.Errorf("supervisor: reading persisted salt: %w", err)
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return crypto.Salt{}, fmt.Errorf("supervisor: generating salt: %w", err)
	}
	if err := store.Put(cipherNamespace, saltKey, 0, salt[:]); err != nil {
		return crypto.Salt{}, fmt.Errorf("supervisor: persisting salt: %w", err)
	}
	return salt, nil
}

func verifyOrSealTestVector(store *data.Store, cipher *crypto.Cipher) error {
	sealed, _, err := store.Get(cipherNamespace, testVectorKey)
	if err == nil {
		got, openErr := cipher.Open(sealed)
		if openErr != nil {
			return fmt.Errorf("supervisor: unlocking data key: %w", crypto.ErrWrongPassword)
		}
		if string(got) != string(testVectorPlaintext) {
			return fmt.Errorf("supervisor: unlocking data key: %w", crypto.ErrWrongPassword)
		}
		return nil
	}
	if err != data.ErrNotFound {
		return fmt.Errorf("supervisor: reading test vector: %w", err)
	}

	sealed, err = cipher.Seal(testVectorPlaintext)
	if err != nil {
		return fmt.Errorf("supervisor: sealing test vector: %w", err)
	}
	if err := store.Put(cipherNamespace, testVectorKey, 0, sealed); err != nil {
		return fmt.Errorf("supervisor: persisting test vector: %w", err)
	}
	return nil
}

func loadOrCreatePeerKey(store *data.Store, cipher *crypto.Cipher) (libp2pcrypto.PrivKey, error) {
	sealed, _, err := store.Get(idNamespace, keypairKey)
	if err == nil {
		wire, openErr := cipher.Open(sealed)
		if openErr != nil {
			return nil, fmt.Errorf("supervisor: decrypting libp2p keypair: %w", openErr)
		}
		key, unmarshalErr := libp2pcrypto.UnmarshalPrivateKey(wire)
		if unmarshalErr != nil {
			return nil, fmt.Errorf("supervisor: unmarshalling libp2p keypair: %w", unmarshalErr)
		}
		return key, nil
	}
	if err != data.ErrNotFound {
		return nil, fmt.Errorf("supervisor: reading persisted libp2p keypair: %w", err)
	}

	key, _, genErr := libp2pcrypto.GenerateEd25519Key(cryptorand.Reader)
	if genErr != nil {
		return nil, fmt.Errorf("supervisor: generating libp2p keypair: %w", genErr)
	}
	wire, marshalErr := libp2pcrypto.MarshalPrivateKey(key)
	if marshalErr != nil {
		return nil, fmt.Errorf("supervisor: marshalling libp2p keypair: %w", marshalErr)
	}
	sealed, sealErr := cipher.Seal(wire)
	if sealErr != nil {
		return nil, fmt.Errorf("supervisor: sealing libp2p keypair: %w", sealErr)
	}
	if err := store.Put(idNamespace, keypairKey, 0, sealed); err != nil {
		return nil, fmt.Errorf("supervisor: persisting libp2p keypair: %w", err)
	}
	return key, nil
}
