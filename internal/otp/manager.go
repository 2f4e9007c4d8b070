package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	apperrors "topictalks/internal/errors"
	"topictalks/internal/logger"
	"topictalks/internal/model"
)

const (
	codeMin = 1000
	codeMax = 9999
)

// ErrInvalidCode covers a missing, expired, already used or wrong code.
var ErrInvalidCode = apperrors.Unauthorized("invalid or expired code")

// Mailer delivers a code to its owner. Implementations must not block.
type Mailer interface {
	SendOtp(email, code string)
}

// Manager issues and checks one-time passcodes.
type Manager struct {
	store  Store
	mailer Mailer
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewManager creates a Manager whose codes live for ttl.
func NewManager(store Store, mailer Mailer, ttl time.Duration, l *zap.Logger) *Manager {
	if l == nil {
		l = zap.NewNop()
	}
	return &Manager{
		store:  store,
		mailer: mailer,
		ttl:    ttl,
		now:    time.Now,
		logger: l,
	}
}

// Send replaces the active code for email with a fresh one and hands it to
// the mailer once it is stored.
func (m *Manager) Send(ctx context.Context, email string) error {
	code, err := generateCode()
	if err != nil {
		return apperrors.Unexpected(err)
	}

	rec := &model.OtpRecord{
		Email:     email,
		Code:      code,
		ExpiresAt: m.now().Add(m.ttl),
	}
	if err := m.store.Replace(ctx, rec); err != nil {
		m.logger.Error("otp not stored", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		return apperrors.Unexpected(err)
	}

	m.mailer.SendOtp(email, code)
	m.logger.Info("otp issued", zap.String("email", logger.MaskEmail(email)), zap.Time("expires_at", rec.ExpiresAt))
	return nil
}

// Verify accepts code for email at most once.
// TODO: rate-limit verification attempts per email; 9000 codes allow brute force.
func (m *Manager) Verify(ctx context.Context, email, code string) error {
	if !wellFormed(code) {
		return ErrInvalidCode
	}

	rec, err := m.store.FindActive(ctx, email)
	if errors.Is(err, ErrNoActiveCode) {
		return ErrInvalidCode
	}
	if err != nil {
		m.logger.Error("otp lookup failed", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		return apperrors.Unexpected(err)
	}

	if rec.Expired(m.now()) {
		if err := m.store.Delete(ctx, email); err != nil {
			m.logger.Warn("expired otp not deleted", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		}
		return ErrInvalidCode
	}

	consumed, err := m.store.Consume(ctx, email, code)
	if err != nil {
		m.logger.Error("otp consume failed", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		return apperrors.Unexpected(err)
	}
	if !consumed {
		return ErrInvalidCode
	}
	return nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()+codeMin), nil
}

func wellFormed(code string) bool {
	if len(code) != 4 {
		return false
	}
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
