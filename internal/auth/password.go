package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

const (
	saltLength = 16
	keyLength  = 32
)

// ErrMalformedCredential is returned when a stored hash or salt cannot have
// been produced by this hasher. It signals corrupt data or a parameter
// mismatch, not a wrong password.
var ErrMalformedCredential = errors.New("malformed stored credential")

var absentSalt = make([]byte, saltLength)

// HashParams are the Argon2id cost parameters.
type HashParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// PasswordHasher derives salted Argon2id hashes. At most `workers` hashes are
// computed concurrently.
type PasswordHasher struct {
	params HashParams
	slots  *semaphore.Weighted
}

// NewPasswordHasher creates a hasher with the given parameters.
func NewPasswordHasher(params HashParams, workers int) *PasswordHasher {
	if workers < 1 {
		workers = 1
	}
	return &PasswordHasher{
		params: params,
		slots:  semaphore.NewWeighted(int64(workers)),
	}
}

// HashWithSalt generates a fresh random salt and hashes password with it.
// ctx only bounds the wait for a free slot.
func (h *PasswordHasher) HashWithSalt(ctx context.Context, password string) (hash, salt []byte, err error) {
	salt = make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}

	hash, err = h.derive(ctx, password, salt)
	if err != nil {
		return nil, nil, err
	}
	return hash, salt, nil
}

// Verify recomputes the hash of candidate with salt and compares it to hash in
// constant time. A wrong password is (false, nil).
func (h *PasswordHasher) Verify(ctx context.Context, hash, salt []byte, candidate string) (bool, error) {
	if len(hash) != keyLength || len(salt) == 0 {
		return false, ErrMalformedCredential
	}

	computed, err := h.derive(ctx, candidate, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

// VerifyAbsent does the work of Verify for an account that does not exist, so
// a missing account costs the same time as a wrong password.
func (h *PasswordHasher) VerifyAbsent(ctx context.Context, candidate string) error {
	_, err := h.derive(ctx, candidate, absentSalt)
	return err
}

func (h *PasswordHasher) derive(ctx context.Context, password string, salt []byte) ([]byte, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for hash slot: %w", err)
	}
	defer h.slots.Release(1)

	return argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, keyLength), nil
}
