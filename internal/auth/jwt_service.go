package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "topictalks/internal/errors"
	"topictalks/internal/model"
)

// ErrInvalidToken is the only error Validate returns, whatever the cause.
var ErrInvalidToken = apperrors.Unauthorized("invalid token")

// Claims represents JWT claims.
type Claims struct {
	UserID uint     `json:"uid"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// Identity is the authenticated subject carried by a valid token.
type Identity struct {
	UserID    uint
	Email     string
	Roles     []model.Role
	TokenID   string
	ExpiresAt time.Time
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role model.Role) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// JWTConfig configures a JWTService. The secret is read once at startup.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// JWTService handles JWT token generation and validation.
type JWTService struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewJWTService creates a new JWT service.
func NewJWTService(cfg JWTConfig, logger *zap.Logger) *JWTService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWTService{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      time.Now,
		logger:   logger,
	}
}

// TTL returns the lifetime of issued tokens.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for the user valid over [issuedAt, issuedAt+TTL).
func (s *JWTService) Issue(userID uint, email string, roles []model.Role, issuedAt time.Time) (token string, expiresAt time.Time, err error) {
	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, r.String())
	}

	expiresAt = issuedAt.Add(s.ttl)
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Roles:  roleNames,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, claims.ExpiresAt.Time, nil
}

// Validate checks signature, issuer, audience and lifetime with no clock
// skew allowance. The failure cause is logged, never returned.
func (s *JWTService) Validate(tokenString string) (*Identity, error) {
	identity, err := s.validate(tokenString)
	if err != nil {
		s.logger.Debug("token rejected", zap.Error(err))
		return nil, ErrInvalidToken
	}
	return identity, nil
}

func (s *JWTService) validate(tokenString string) (*Identity, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}); err != nil {
		return nil, err
	}

	now := s.now()
	switch {
	case !claims.VerifyIssuer(s.issuer, true):
		return nil, errors.New("issuer mismatch")
	case !claims.VerifyAudience(s.audience, true):
		return nil, errors.New("audience mismatch")
	case !claims.VerifyIssuedAt(now, true):
		return nil, errors.New("issued in the future")
	case !claims.VerifyNotBefore(now, true):
		return nil, errors.New("not valid yet")
	case !claims.VerifyExpiresAt(now, true):
		return nil, errors.New("expired")
	}

	if claims.Subject != strconv.FormatUint(uint64(claims.UserID), 10) {
		return nil, errors.New("subject mismatch")
	}

	roles := make([]model.Role, 0, len(claims.Roles))
	for _, name := range claims.Roles {
		role, err := model.ParseRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}

	return &Identity{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Roles:     roles,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
