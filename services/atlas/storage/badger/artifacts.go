// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrArtifactNotFound is returned when no artifact exists for a key.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrArtifactCorrupt is returned when a stored artifact fails validation.
	// Callers treat it as a miss and recompute.
	ErrArtifactCorrupt = errors.New("artifact corrupt")
)

// Kind names an artifact family. Each kind has one live fingerprint.
type Kind string

const (
	KindRank       Kind = "rank"
	KindPartition  Kind = "partition"
	KindIndex      Kind = "index"
	KindCheckpoint Kind = "checkpoint"
)

const (
	artifactPrefix = "artifact/"
	currentPrefix  = "current/"
)

var (
	artifactOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_artifact_operations_total",
		Help: "Artifact store operations by kind, operation and result",
	}, []string{"kind", "op", "result"})

	artifactBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atlas_artifact_compressed_bytes",
		Help:    "Compressed payload size of written artifacts",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	}, []string{"kind"})
)

// Envelope is the stored form of an artifact.
type Envelope struct {
	Kind          Kind      `json:"kind"`
	Fingerprint   string    `json:"fingerprint"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`

	// SHA256 is the hex digest of the uncompressed JSON payload.
	SHA256 string `json:"sha256"`

	// Payload is the gzip-compressed JSON payload.
	Payload []byte `json:"payload"`
}

func artifactKey(kind Kind, fingerprint string) []byte {
	return []byte(artifactPrefix + string(kind) + "/" + fingerprint)
}

func currentKey(kind Kind) []byte {
	return []byte(currentPrefix + string(kind))
}

// ArtifactStore reads and writes envelopes in a DB.
//
// Thread Safety: Safe for concurrent use. Concurrent Puts of the same kind
// are serialized by badger's conflict detection; the loser gets an error.
type ArtifactStore struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

// NewArtifactStore wraps db. A nil logger uses slog.Default().
func NewArtifactStore(db *DB, logger *slog.Logger) *ArtifactStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactStore{db: db, logger: logger, now: time.Now}
}

// Put stores v as the live artifact of kind.
//
// Description:
//
//	The payload is JSON encoded, checksummed and gzipped, then written under
//	artifact/<kind>/<fingerprint>. The new entry is read back and validated
//	before current/<kind> is switched to it. The previously live artifact of
//	the kind, if any, is deleted last. A failure at any step leaves the old
//	pointer intact.
//
// Inputs:
//
//	kind - Artifact family.
//	fingerprint - Content address of the inputs that produced v.
//	schemaVersion - Version of v's shape; checked on Get.
//	v - JSON-serializable payload.
func (s *ArtifactStore) Put(ctx context.Context, kind Kind, fingerprint string, schemaVersion int, v any) error {
	if fingerprint == "" || strings.Contains(fingerprint, "/") {
		return fmt.Errorf("put %s: invalid fingerprint %q", kind, fingerprint)
	}

	env, err := seal(kind, fingerprint, schemaVersion, s.now().UTC(), v)
	if err != nil {
		artifactOps.WithLabelValues(string(kind), "put", "error").Inc()
		return fmt.Errorf("put %s: %w", kind, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("put %s: encode envelope: %w", kind, err)
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(artifactKey(kind, fingerprint), data)
	})
	if err != nil {
		artifactOps.WithLabelValues(string(kind), "put", "error").Inc()
		return fmt.Errorf("put %s: write: %w", kind, err)
	}

	if _, err := s.get(ctx, kind, fingerprint, schemaVersion, nil); err != nil {
		artifactOps.WithLabelValues(string(kind), "put", "error").Inc()
		return fmt.Errorf("put %s: read-back: %w", kind, err)
	}

	var previous string
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		old, err := readCurrent(txn, kind)
		if err != nil && !errors.Is(err, ErrArtifactNotFound) {
			return err
		}
		previous = old
		return txn.Set(currentKey(kind), []byte(fingerprint))
	})
	if err != nil {
		artifactOps.WithLabelValues(string(kind), "put", "error").Inc()
		return fmt.Errorf("put %s: swap pointer: %w", kind, err)
	}

	if previous != "" && previous != fingerprint {
		if err := s.Delete(ctx, kind, previous); err != nil {
			// The new artifact is live; a leftover old one only costs space.
			s.logger.Warn("failed to delete superseded artifact",
				slog.String("kind", string(kind)),
				slog.String("fingerprint", previous),
				slog.String("error", err.Error()),
			)
		}
	}

	artifactOps.WithLabelValues(string(kind), "put", "ok").Inc()
	artifactBytes.WithLabelValues(string(kind)).Observe(float64(len(env.Payload)))
	s.logger.Debug("artifact stored",
		slog.String("kind", string(kind)),
		slog.String("fingerprint", fingerprint),
		slog.Int("compressed_bytes", len(env.Payload)),
	)
	return nil
}

// Get decodes the artifact of kind and fingerprint into v.
//
// Outputs:
//
//	*Envelope - Metadata of the artifact. Payload holds the compressed bytes.
//	error - ErrArtifactNotFound when absent; ErrArtifactCorrupt when the
//	envelope, checksum, schema version or payload does not validate.
func (s *ArtifactStore) Get(ctx context.Context, kind Kind, fingerprint string, schemaVersion int, v any) (*Envelope, error) {
	env, err := s.get(ctx, kind, fingerprint, schemaVersion, v)
	switch {
	case err == nil:
		artifactOps.WithLabelValues(string(kind), "get", "hit").Inc()
	case errors.Is(err, ErrArtifactNotFound):
		artifactOps.WithLabelValues(string(kind), "get", "miss").Inc()
	case errors.Is(err, ErrArtifactCorrupt):
		artifactOps.WithLabelValues(string(kind), "get", "corrupt").Inc()
		s.logger.Warn("corrupt artifact ignored",
			slog.String("kind", string(kind)),
			slog.String("fingerprint", fingerprint),
			slog.String("error", err.Error()),
		)
	default:
		artifactOps.WithLabelValues(string(kind), "get", "error").Inc()
	}
	return env, err
}

func (s *ArtifactStore) get(ctx context.Context, kind Kind, fingerprint string, schemaVersion int, v any) (*Envelope, error) {
	var data []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(kind, fingerprint))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, kind, fingerprint)
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrArtifactCorrupt, err)
	}
	if env.Kind != kind || env.Fingerprint != fingerprint {
		return nil, fmt.Errorf("%w: envelope is %s/%s", ErrArtifactCorrupt, env.Kind, env.Fingerprint)
	}
	if env.SchemaVersion != schemaVersion {
		return nil, fmt.Errorf("%w: schema version %d, want %d", ErrArtifactCorrupt, env.SchemaVersion, schemaVersion)
	}
	if err := unseal(&env, v); err != nil {
		return nil, err
	}
	return &env, nil
}

// Current returns the live fingerprint of kind.
func (s *ArtifactStore) Current(ctx context.Context, kind Kind) (string, error) {
	var fp string
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		fp, err = readCurrent(txn, kind)
		return err
	})
	return fp, err
}

// LoadCurrent decodes the live artifact of kind into v.
func (s *ArtifactStore) LoadCurrent(ctx context.Context, kind Kind, schemaVersion int, v any) (*Envelope, error) {
	fp, err := s.Current(ctx, kind)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, kind, fp, schemaVersion, v)
}

// Delete removes one artifact. The current pointer is cleared when it names
// the deleted fingerprint. Deleting a missing artifact is not an error.
func (s *ArtifactStore) Delete(ctx context.Context, kind Kind, fingerprint string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(artifactKey(kind, fingerprint)); err != nil {
			return err
		}
		cur, err := readCurrent(txn, kind)
		if err == nil && cur == fingerprint {
			return txn.Delete(currentKey(kind))
		}
		return nil
	})
}

// Fingerprints lists the stored fingerprints of kind in key order.
func (s *ArtifactStore) Fingerprints(ctx context.Context, kind Kind) ([]string, error) {
	prefix := []byte(artifactPrefix + string(kind) + "/")
	var out []string
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return out, err
}

func readCurrent(txn *badger.Txn, kind Kind) (string, error) {
	item, err := txn.Get(currentKey(kind))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: no current %s", ErrArtifactNotFound, kind)
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// seal encodes v into an envelope.
func seal(kind Kind, fingerprint string, schemaVersion int, now time.Time, v any) (*Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	sum := sha256.Sum256(raw)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}

	return &Envelope{
		Kind:          kind,
		Fingerprint:   fingerprint,
		SchemaVersion: schemaVersion,
		CreatedAt:     now,
		SHA256:        hex.EncodeToString(sum[:]),
		Payload:       buf.Bytes(),
	}, nil
}

// unseal verifies env's checksum and decodes its payload into v. A nil v only
// verifies.
func unseal(env *Envelope, v any) error {
	zr, err := gzip.NewReader(bytes.NewReader(env.Payload))
	if err != nil {
		return fmt.Errorf("%w: payload: %v", ErrArtifactCorrupt, err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("%w: payload: %v", ErrArtifactCorrupt, err)
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != env.SHA256 {
		return fmt.Errorf("%w: checksum mismatch", ErrArtifactCorrupt)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrArtifactCorrupt, err)
	}
	return nil
}
