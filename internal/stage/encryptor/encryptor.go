// Package encryptor wraps a chunk's payload in an AEAD envelope before it
// reaches the store. Like the hasher and compressor stages, algorithm
// agility and key rotation policy are out of scope; this module only
// mechanizes sealing and opening one AEAD envelope per chunk.
package encryptor

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mattiekat/chunk-locker/internal/memory"
)

// Encryptor seals/opens chunk payloads with a single configured key. A whole
// chunk is sealed in one AEAD call rather than streamed: chunks are already
// bounded by max_size, and reading the entire authenticated ciphertext
// before trusting any of it is the same tradeoff the ambient stack's own
// AEAD usage makes.
type Encryptor struct {
	aead    cipher.AEAD
	enabled bool
	pool    *memory.Pool
}

// New builds an Encryptor from a 32-byte key. If key is nil, encryption is
// disabled and Seal/Open become pass-throughs.
func New(key []byte, pool *memory.Pool) (*Encryptor, error) {
	if key == nil {
		return &Encryptor{enabled: false, pool: pool}, nil
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("encryptor: %w", err)
	}
	return &Encryptor{aead: aead, enabled: true, pool: pool}, nil
}

// Seal consumes in (taking ownership) and returns a handle holding a nonce
// prefix followed by the sealed ciphertext. in is always released.
func (e *Encryptor) Seal(ctx context.Context, in *memory.Handle) (*memory.Handle, error) {
	defer in.Release()

	out, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if !e.enabled {
		out.MutCursor().PutSlice(in.Bytes())
		return out, nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		out.Release()
		return nil, fmt.Errorf("encryptor: generating nonce: %w", err)
	}

	sealed := e.aead.Seal(nil, nonce, in.Bytes(), nil)
	if len(nonce)+len(sealed) > out.Cap() {
		out.Release()
		return nil, fmt.Errorf("encryptor: sealed chunk (%d bytes) exceeds pool buffer_size (%d)", len(nonce)+len(sealed), out.Cap())
	}

	mc := out.MutCursor()
	mc.PutSlice(nonce)
	mc.PutSlice(sealed)
	return out, nil
}

// Open reverses Seal, reading the full envelope from r into a fresh handle.
func (e *Encryptor) Open(ctx context.Context, r io.Reader) (*memory.Handle, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("encryptor: reading envelope: %w", err)
	}

	out, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if !e.enabled {
		out.MutCursor().PutSlice(raw)
		return out, nil
	}

	if len(raw) < e.aead.NonceSize() {
		out.Release()
		return nil, fmt.Errorf("encryptor: envelope too short for nonce")
	}
	nonce, ciphertext := raw[:e.aead.NonceSize()], raw[e.aead.NonceSize():]

	plain, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		out.Release()
		return nil, fmt.Errorf("encryptor: opening envelope: %w", err)
	}

	out.MutCursor().PutSlice(plain)
	return out, nil
}
