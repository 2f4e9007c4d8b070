package otp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"topictalks/internal/model"
)

const otpKeyPrefix = "otp:"

// ErrNoActiveCode is returned by FindActive when the email has no code.
var ErrNoActiveCode = errors.New("no active code")

// Store persists at most one active OtpRecord per email.
type Store interface {
	// Replace atomically removes any active record for rec.Email and stores rec.
	Replace(ctx context.Context, rec *model.OtpRecord) error
	FindActive(ctx context.Context, email string) (*model.OtpRecord, error)
	// Consume deletes the record only if its code equals code, reporting
	// whether it did. Of concurrent callers with the right code, one wins.
	Consume(ctx context.Context, email, code string) (bool, error)
	Delete(ctx context.Context, email string) error
}

// consumeScript compares and deletes in one step.
var consumeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'code') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps OTP records in Redis hashes that expire with the code.
type RedisStore struct {
	client *redis.Client
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new OTP store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(email string) string {
	return otpKeyPrefix + email
}

// Replace stores rec, superseding any previous code in the same transaction.
func (s *RedisStore) Replace(ctx context.Context, rec *model.OtpRecord) error {
	k := key(rec.Email)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k,
			"code", rec.Code,
			"expires_at", strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10),
		)
		pipe.PExpireAt(ctx, k, rec.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	return nil
}

// FindActive returns the stored record or ErrNoActiveCode.
func (s *RedisStore) FindActive(ctx context.Context, email string) (*model.OtpRecord, error) {
	fields, err := s.client.HGetAll(ctx, key(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("load otp: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNoActiveCode
	}

	expiresMs, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode otp expiry: %w", err)
	}
	return &model.OtpRecord{
		Email:     email,
		Code:      fields["code"],
		ExpiresAt: time.UnixMilli(expiresMs),
	}, nil
}

// Consume deletes the record when code matches.
func (s *RedisStore) Consume(ctx context.Context, email, code string) (bool, error) {
	deleted, err := consumeScript.Run(ctx, s.client, []string{key(email)}, code).Int64()
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return deleted == 1, nil
}

// Delete removes the active record, if any.
func (s *RedisStore) Delete(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, key(email)).Err(); err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}
