// Package lineage records a tamper-evident hash chain over the artifacts a
// run consumes and produces.
//
// Artifacts are hashed over their canonical JSON form: struct fields in
// declaration order, map keys sorted, no processing timestamps. Each entry
// hash covers the previous entry hash, so altering any stored artifact or
// entry breaks every later link.
package lineage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/swapval/internal/domain"
)

// Canonical returns the canonical serialized form of v.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the lowercase hex SHA-256 of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Artifact is a canonicalized value and its content hash.
type Artifact struct {
	Kind  string
	Hash  string
	Bytes []byte
}

// NewArtifact canonicalizes v.
func NewArtifact(kind string, v any) (Artifact, error) {
	b, err := Canonical(v)
	if err != nil {
		return Artifact{}, fmt.Errorf("%s artifact: %w", kind, err)
	}
	return Artifact{Kind: kind, Hash: Hash(b), Bytes: b}, nil
}

// InputHash combines the ordered input hashes into one digest.
func InputHash(hashes []string) string {
	return Hash([]byte(strings.Join(hashes, "\n")))
}

// EntryHash links an entry to its predecessor.
func EntryHash(prevHash, stage, inputHash, outputHash string) string {
	type link struct {
		Prev   string `json:"prev"`
		Stage  string `json:"stage"`
		Input  string `json:"input"`
		Output string `json:"output"`
	}
	b, _ := json.Marshal(link{Prev: prevHash, Stage: stage, Input: inputHash, Output: outputHash})
	return Hash(b)
}

// ErrArtifactNotFound is returned by stores for unknown hashes.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore is content-addressed storage for artifact bytes.
type ArtifactStore interface {
	Put(ctx context.Context, hash string, data []byte) error
	Get(ctx context.Context, hash string) ([]byte, error)
}

// Recorder appends entries to one run's lineage record. It is not safe for
// concurrent use; a run has a single writer.
type Recorder struct {
	store  ArtifactStore
	now    func() time.Time
	record domain.LineageRecord
}

// NewRecorder continues record, which may be empty.
func NewRecorder(store ArtifactStore, record domain.LineageRecord, now func() time.Time) *Recorder {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Recorder{store: store, now: now, record: record.Clone()}
}

// Record stores inputs and output and appends the linking entry.
func (r *Recorder) Record(ctx context.Context, stage string, inputs []Artifact, output Artifact) (domain.LineageEntry, error) {
	if strings.TrimSpace(stage) == "" {
		return domain.LineageEntry{}, errors.New("stage is required")
	}
	if r.store == nil {
		return domain.LineageEntry{}, errors.New("artifact store is required")
	}
	hashes := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if err := r.store.Put(ctx, in.Hash, in.Bytes); err != nil {
			return domain.LineageEntry{}, fmt.Errorf("store %s input: %w", in.Kind, err)
		}
		hashes = append(hashes, in.Hash)
	}
	if err := r.store.Put(ctx, output.Hash, output.Bytes); err != nil {
		return domain.LineageEntry{}, fmt.Errorf("store %s output: %w", output.Kind, err)
	}

	inputHash := InputHash(hashes)
	prev := r.record.Head()
	entry := domain.LineageEntry{
		Seq:         len(r.record.Entries) + 1,
		Stage:       stage,
		InputHashes: hashes,
		InputHash:   inputHash,
		OutputHash:  output.Hash,
		PrevHash:    prev,
		EntryHash:   EntryHash(prev, stage, inputHash, output.Hash),
		RecordedAt:  r.now(),
	}
	r.record.Entries = append(r.record.Entries, entry)
	return entry, nil
}

// Lineage returns a copy of the record so far.
func (r *Recorder) Lineage() domain.LineageRecord {
	return r.record.Clone()
}

// Verify recomputes the chain and re-hashes every stored input and output
// artifact. It returns false on any mismatch or missing artifact; err is
// reserved for storage faults.
func Verify(ctx context.Context, store ArtifactStore, record domain.LineageRecord) (bool, error) {
	prev := ""
	for i, e := range record.Entries {
		if e.Seq != i+1 || e.PrevHash != prev {
			return false, nil
		}
		if InputHash(e.InputHashes) != e.InputHash {
			return false, nil
		}
		if EntryHash(prev, e.Stage, e.InputHash, e.OutputHash) != e.EntryHash {
			return false, nil
		}
		for _, hash := range append(append([]string(nil), e.InputHashes...), e.OutputHash) {
			ok, err := intact(ctx, store, hash)
			if err != nil || !ok {
				return false, err
			}
		}
		prev = e.EntryHash
	}
	return true, nil
}

// intact reports whether the bytes stored under hash still hash to it.
func intact(ctx context.Context, store ArtifactStore, hash string) (bool, error) {
	data, err := store.Get(ctx, hash)
	if errors.Is(err, ErrArtifactNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load artifact %s: %w", hash, err)
	}
	return Hash(data) == hash, nil
}

// MemoryStore is an in-process ArtifactStore.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: map[string][]byte{}}
}

func (s *MemoryStore) Put(_ context.Context, hash string, data []byte) error {
	if strings.TrimSpace(hash) == "" {
		return errors.New("hash is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[hash]; ok {
		return nil
	}
	s.blobs[hash] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[hash]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	return append([]byte(nil), data...), nil
}

// Overwrite replaces the bytes stored under hash without re-keying them.
func (s *MemoryStore) Overwrite(hash string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[hash] = append([]byte(nil), data...)
}
