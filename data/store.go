// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package data implements the embedded key-value persistence layer
// (go.etcd.io/bbolt, following the teacher's bucket-per-resource
// convention) and the Persistable[T] snapshot container built on it, per
// SPEC_FULL.md §4.3.
package data

import (
	"encoding/binary"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// ErrVersionConflict is returned by Put when the caller's expected
// version does not match the version currently stored — a concurrent or
// stale writer lost the race.
var ErrVersionConflict = errors.New("data: version conflict")

// ErrNotFound is returned by Get when no value exists at (namespace, key).
var ErrNotFound = errors.New("data: not found")

const versionPrefixLen = 8

// Store is the embedded ordered key-value store backing every
// Persistable[T] in the process. One bucket per namespace, mirroring the
// teacher's one-bucket-per-resource-type layout.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("data: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

func bucketName(namespace string) []byte { return []byte(namespace) }

// Put writes value at (namespace, key), enforcing that the version
// currently stored equals expectedVersion (0 meaning "absent"). On
// success the stored version becomes expectedVersion+1.
func (s *Store) Put(namespace, key string, expectedVersion uint64, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(namespace))
		if err != nil {
			return fmt.Errorf("data: create bucket %s: %w", namespace, err)
		}
		existing := b.Get([]byte(key))
		var current uint64
		if existing != nil {
			current = binary.BigEndian.Uint64(existing[:versionPrefixLen])
		}
		if current != expectedVersion {
			return ErrVersionConflict
		}
		buf := make([]byte, versionPrefixLen+len(value))
		binary.BigEndian.PutUint64(buf[:versionPrefixLen], expectedVersion+1)
		copy(buf[versionPrefixLen:], value)
		return b.Put([]byte(key), buf)
	})
}

// Get reads the value and version stored at (namespace, key).
func (s *Store) Get(namespace, key string) (value []byte, version uint64, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(namespace))
		if b == nil {
			return ErrNotFound
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		version = binary.BigEndian.Uint64(raw[:versionPrefixLen])
		value = append([]byte(nil), raw[versionPrefixLen:]...)
		return nil
	})
	return value, version, err
}

// Delete removes (namespace, key) unconditionally. Used only for terminal
// state cleanup (e.g. Router retention expiry), never for in-flight CAS.
func (s *Store) Delete(namespace, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(namespace))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// ForEach iterates every (key, value, version) in namespace in key order.
func (s *Store) ForEach(namespace string, fn func(key string, value []byte, version uint64) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(namespace))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, raw []byte) error {
			version := binary.BigEndian.Uint64(raw[:versionPrefixLen])
			value := raw[versionPrefixLen:]
			return fn(string(k), value, version)
		})
	})
}
