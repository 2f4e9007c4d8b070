package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"topictalks/internal/auth"
	apperrors "topictalks/internal/errors"
	"topictalks/internal/logger"
	"topictalks/internal/model"
	"topictalks/internal/repository"
	"topictalks/internal/telemetry"
)

var (
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = apperrors.Conflict("email already registered")
	// ErrAccountNotFound is returned when no account matches the lookup.
	ErrAccountNotFound = apperrors.NotFound("account not found")
	// ErrInvalidCredentials is returned when a password does not match.
	ErrInvalidCredentials = apperrors.Unauthorized("invalid credentials")
)

// VerifyOutcome tells which half of the verification flow ran.
type VerifyOutcome int

const (
	// OtpSent means a fresh code was mailed to the caller.
	OtpSent VerifyOutcome = iota + 1
	// Verified means the code was accepted and the account is now verified.
	Verified
)

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email    string
	Password string
	Username string
	Role     model.Role
	Details  *model.UserDetail
}

// AuthResult is a freshly issued session.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	HashWithSalt(ctx context.Context, password string) (hash, salt []byte, err error)
	Verify(ctx context.Context, hash, salt []byte, candidate string) (bool, error)
	VerifyAbsent(ctx context.Context, candidate string) error
}

// OtpManager sends and checks one-time passcodes.
type OtpManager interface {
	Send(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string) error
}

// Notifier queues account emails without blocking the caller.
type Notifier interface {
	SendWelcome(to string)
	SendVerified(to string)
}

// AuthService handles authentication operations.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, email, password string, role model.Role) (*AuthResult, error)
	ChangePassword(ctx context.Context, identity *auth.Identity, oldPassword, newPassword string) error
	Verify(ctx context.Context, identity *auth.Identity, code string) (VerifyOutcome, error)
}

type authService struct {
	users    repository.UserRepository
	hasher   PasswordHasher
	tokens   *auth.JWTService
	otp      OtpManager
	notifier Notifier
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewAuthService creates a new authentication service.
func NewAuthService(
	users repository.UserRepository,
	hasher PasswordHasher,
	tokens *auth.JWTService,
	otp OtpManager,
	notifier Notifier,
	l *zap.Logger,
) AuthService {
	if l == nil {
		l = zap.NewNop()
	}
	return &authService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		otp:      otp,
		notifier: notifier,
		logger:   l,
		tracer:   telemetry.Tracer("topictalks/service"),
		now:      time.Now,
	}
}

// Register creates an account with one role, then issues a session token.
func (s *authService) Register(ctx context.Context, in RegisterInput) (res *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register", trace.WithAttributes(attribute.String("role", in.Role.String())))
	defer func() { telemetry.RecordError(span, err); span.End() }()

	email := normalizeEmail(in.Email)
	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, s.unexpected("check email", email, err)
	}
	if exists {
		return nil, ErrEmailTaken
	}

	hash, salt, err := s.hasher.HashWithSalt(ctx, in.Password)
	if err != nil {
		return nil, s.unexpected("hash password", email, err)
	}

	user := &model.User{
		Email:        email,
		Username:     in.Username,
		PasswordHash: hash,
		Salt:         salt,
		Roles:        []model.UserRole{{RoleID: in.Role}},
		Details:      in.Details,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, s.unexpected("create user", email, err)
	}

	res, err = s.issue(user)
	if err != nil {
		return nil, err
	}

	s.notifier.SendWelcome(email)
	s.logger.Info("user registered", zap.Uint("user_id", user.ID), zap.String("email", logger.MaskEmail(email)), zap.Stringer("role", in.Role))
	return res, nil
}

// Login issues a token for the account holding email, password and role.
// A missing email/role pair is ErrAccountNotFound, a wrong password is
// ErrInvalidCredentials; callers facing the public should not tell them apart.
func (s *authService) Login(ctx context.Context, email, password string, role model.Role) (res *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login", trace.WithAttributes(attribute.String("role", role.String())))
	defer func() { telemetry.RecordError(span, err); span.End() }()

	email = normalizeEmail(email)
	user, err := s.users.FindByEmailAndRole(ctx, email, role)
	if errors.Is(err, repository.ErrNotFound) {
		// keep response time independent of whether the account exists
		if err := s.hasher.VerifyAbsent(ctx, password); err != nil {
			s.logger.Debug("absent-account hash skipped", zap.Error(err))
		}
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, s.unexpected("find user", email, err)
	}

	if err := s.checkPassword(ctx, user, password); err != nil {
		return nil, err
	}

	return s.issue(user)
}

// ChangePassword replaces the caller's password after re-checking the old one.
// Tokens issued before the change stay valid until they expire.
func (s *authService) ChangePassword(ctx context.Context, identity *auth.Identity, oldPassword, newPassword string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.ChangePassword")
	defer func() { telemetry.RecordError(span, err); span.End() }()

	user, err := s.users.FindByID(ctx, identity.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return s.unexpected("find user", identity.Email, err)
	}

	if err := s.checkPassword(ctx, user, oldPassword); err != nil {
		return err
	}

	hash, salt, err := s.hasher.HashWithSalt(ctx, newPassword)
	if err != nil {
		return s.unexpected("hash password", user.Email, err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, salt); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return s.unexpected("update password", user.Email, err)
	}

	s.logger.Info("password changed", zap.Uint("user_id", user.ID))
	return nil
}

// Verify sends a code when code is empty and otherwise checks it, marking the
// account verified on success.
func (s *authService) Verify(ctx context.Context, identity *auth.Identity, code string) (outcome VerifyOutcome, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Verify")
	defer func() { telemetry.RecordError(span, err); span.End() }()

	code = strings.TrimSpace(code)
	if code == "" {
		if err := s.otp.Send(ctx, identity.Email); err != nil {
			return 0, err
		}
		return OtpSent, nil
	}

	if err := s.otp.Verify(ctx, identity.Email, code); err != nil {
		return 0, err
	}

	if err := s.users.MarkVerified(ctx, identity.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, s.unexpected("mark verified", identity.Email, err)
	}

	s.notifier.SendVerified(identity.Email)
	s.logger.Info("user verified", zap.Uint("user_id", identity.UserID))
	return Verified, nil
}

func (s *authService) checkPassword(ctx context.Context, user *model.User, password string) error {
	ok, err := s.hasher.Verify(ctx, user.PasswordHash, user.Salt, password)
	if err != nil {
		return s.unexpected("verify password", user.Email, err)
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *authService) issue(user *model.User) (*AuthResult, error) {
	token, expiresAt, err := s.tokens.Issue(user.ID, user.Email, user.RoleSet(), s.now())
	if err != nil {
		return nil, s.unexpected("issue token", user.Email, err)
	}
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// unexpected logs the cause and hides it from the caller.
func (s *authService) unexpected(op, email string, err error) error {
	s.logger.Error(op+" failed", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
	return apperrors.Unexpected(err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
