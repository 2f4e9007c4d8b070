package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"topictalks/internal/auth"
	apperrors "topictalks/internal/errors"
	"topictalks/internal/model"
	"topictalks/internal/otp"
	"topictalks/internal/repository"
)

// fakeUserRepository is an in-memory UserRepository.
type fakeUserRepository struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*model.User

	// failWith, when set, is returned by every call.
	failWith error
	// createErr, when set, is returned by Create only.
	createErr error
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{users: map[uint]*model.User{}}
}

func (r *fakeUserRepository) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	if r.createErr != nil {
		return r.createErr
	}
	for _, u := range r.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	r.nextID++
	user.ID = r.nextID
	for i := range user.Roles {
		user.Roles[i].UserID = user.ID
	}
	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *fakeUserRepository) FindByID(_ context.Context, id uint) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepository) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepository) FindByEmailAndRole(ctx context.Context, email string, role model.Role) (*model.User, error) {
	u, err := r.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !u.HasRole(role) {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (r *fakeUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *fakeUserRepository) UpdatePassword(_ context.Context, id uint, hash, salt []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash, u.Salt = hash, salt
	return nil
}

func (r *fakeUserRepository) MarkVerified(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsVerified = true
	return nil
}

func (r *fakeUserRepository) List(_ context.Context) ([]model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	users := make([]model.User, 0, len(r.users))
	for id := uint(1); id <= r.nextID; id++ {
		if u, ok := r.users[id]; ok {
			users = append(users, *u)
		}
	}
	return users, nil
}

// MockOtpManager is a mock implementation of OtpManager.
type MockOtpManager struct {
	mock.Mock
}

func (m *MockOtpManager) Send(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockOtpManager) Verify(ctx context.Context, email, code string) error {
	args := m.Called(ctx, email, code)
	return args.Error(0)
}

type recordingNotifier struct {
	mu       sync.Mutex
	welcome  []string
	verified []string
}

func (n *recordingNotifier) SendWelcome(to string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.welcome = append(n.welcome, to)
}

func (n *recordingNotifier) SendVerified(to string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verified = append(n.verified, to)
}

// countingHasher records how often each check runs.
type countingHasher struct {
	PasswordHasher
	mu      sync.Mutex
	verify  int
	absence int
}

func (h *countingHasher) Verify(ctx context.Context, hash, salt []byte, candidate string) (bool, error) {
	h.mu.Lock()
	h.verify++
	h.mu.Unlock()
	return h.PasswordHasher.Verify(ctx, hash, salt, candidate)
}

func (h *countingHasher) VerifyAbsent(ctx context.Context, candidate string) error {
	h.mu.Lock()
	h.absence++
	h.mu.Unlock()
	return h.PasswordHasher.VerifyAbsent(ctx, candidate)
}

type authFixture struct {
	svc      AuthService
	hasher   *countingHasher
	users    *fakeUserRepository
	otp      *MockOtpManager
	notifier *recordingNotifier
	tokens   *auth.JWTService
}

func newAuthFixture() *authFixture {
	f := &authFixture{
		users:    newFakeUserRepository(),
		otp:      new(MockOtpManager),
		notifier: &recordingNotifier{},
		tokens: auth.NewJWTService(auth.JWTConfig{
			Secret:   "test-secret",
			Issuer:   "https://topictalks.test",
			Audience: "https://topictalks.test",
			TTL:      time.Hour,
		}, nil),
	}
	f.hasher = &countingHasher{PasswordHasher: auth.NewPasswordHasher(auth.HashParams{Time: 1, MemoryKiB: 1024, Threads: 1}, 2)}
	f.svc = NewAuthService(f.users, f.hasher, f.tokens, f.otp, f.notifier, nil)
	return f
}

func (f *authFixture) register(t *testing.T, email, password string, role model.Role) *AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{Email: email, Password: password, Role: role})
	require.NoError(t, err)
	return res
}

func TestAuthService_RegisterThenLogin(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	reg := f.register(t, "A@X.com ", "password123", model.RoleTeacher)
	assert.Equal(t, "a@x.com", reg.User.Email)
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, []string{"a@x.com"}, f.notifier.welcome)

	res, err := f.svc.Login(ctx, "a@x.com", "password123", model.RoleTeacher)
	require.NoError(t, err)

	identity, err := f.tokens.Validate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, identity.UserID)
	assert.Equal(t, "a@x.com", identity.Email)
	assert.Equal(t, []model.Role{model.RoleTeacher}, identity.Roles)
	assert.True(t, identity.ExpiresAt.Equal(res.ExpiresAt))
}

func TestAuthService_Register(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(*fakeUserRepository)
		expectedError error
		expectedKind  apperrors.Kind
	}{
		{
			name: "email already registered",
			setup: func(r *fakeUserRepository) {
				r.users[1] = &model.User{ID: 1, Email: "a@x.com"}
				r.nextID = 1
			},
			expectedError: ErrEmailTaken,
			expectedKind:  apperrors.KindConflict,
		},
		{
			name: "lost the insert race",
			setup: func(r *fakeUserRepository) {
				r.createErr = repository.ErrDuplicateEmail
			},
			expectedError: ErrEmailTaken,
			expectedKind:  apperrors.KindConflict,
		},
		{
			name: "store unavailable",
			setup: func(r *fakeUserRepository) {
				r.failWith = errors.New("dial tcp 10.0.0.5:3306: connection refused")
			},
			expectedError: apperrors.ErrUnexpected,
			expectedKind:  apperrors.KindUnexpected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture()
			tt.setup(f.users)

			res, err := f.svc.Register(context.Background(), RegisterInput{
				Email:    "a@x.com",
				Password: "password123",
				Role:     model.RoleStudent,
			})

			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.expectedError)
			assert.Equal(t, tt.expectedKind, apperrors.KindOf(err))
			assert.NotContains(t, err.Error(), "10.0.0.5")
			assert.Empty(t, f.notifier.welcome)
		})
	}
}

func TestAuthService_RegisterKeepsDetails(t *testing.T) {
	f := newAuthFixture()

	res, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    "s@x.com",
		Password: "password123",
		Username: "sam",
		Role:     model.RoleStudent,
		Details:  &model.UserDetail{FullName: "Sam", InstituteName: "MIT"},
	})

	require.NoError(t, err)
	stored, err := f.users.FindByID(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "sam", stored.Username)
	require.NotNil(t, stored.Details)
	assert.Equal(t, "MIT", stored.Details.InstituteName)
	assert.Equal(t, []model.Role{model.RoleStudent}, stored.RoleSet())
	assert.Len(t, stored.PasswordHash, 32)
	assert.NotContains(t, string(stored.PasswordHash), "password123")
}

func TestAuthService_Login(t *testing.T) {
	tests := []struct {
		name          string
		email         string
		password      string
		role          model.Role
		expectedError error
	}{
		{"wrong role", "a@x.com", "password123", model.RoleModerator, apperrors.ErrNotFound},
		{"unknown email", "nobody@x.com", "password123", model.RoleStudent, apperrors.ErrNotFound},
		{"wrong password", "a@x.com", "password124", model.RoleStudent, apperrors.ErrUnauthorized},
		{"correct", "a@x.com", "password123", model.RoleStudent, nil},
	}

	f := newAuthFixture()
	f.register(t, "a@x.com", "password123", model.RoleStudent)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.Login(context.Background(), tt.email, tt.password, tt.role)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, res)
			} else {
				require.NoError(t, err)
				assert.NotEmpty(t, res.Token)
			}
		})
	}
}

func TestAuthService_LoginHashesEvenWithoutAccount(t *testing.T) {
	tests := []struct {
		name        string
		email       string
		password    string
		role        model.Role
		wantVerify  int
		wantAbsence int
	}{
		{"unknown email", "nobody@x.com", "password123", model.RoleStudent, 0, 1},
		{"role not held", "a@x.com", "password123", model.RoleModerator, 0, 1},
		{"wrong password", "a@x.com", "password124", model.RoleStudent, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture()
			f.register(t, "a@x.com", "password123", model.RoleStudent)

			_, err := f.svc.Login(context.Background(), tt.email, tt.password, tt.role)

			assert.Error(t, err)
			assert.Equal(t, tt.wantVerify, f.hasher.verify)
			assert.Equal(t, tt.wantAbsence, f.hasher.absence)
		})
	}
}

func TestAuthService_LoginMalformedStoredCredential(t *testing.T) {
	f := newAuthFixture()
	f.users.users[1] = &model.User{
		ID:           1,
		Email:        "a@x.com",
		PasswordHash: []byte("short"),
		Salt:         []byte("salt"),
		Roles:        []model.UserRole{{UserID: 1, RoleID: model.RoleStudent}},
	}

	_, err := f.svc.Login(context.Background(), "a@x.com", "password123", model.RoleStudent)

	assert.ErrorIs(t, err, apperrors.ErrUnexpected)
}

func TestAuthService_ChangePassword(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	reg := f.register(t, "a@x.com", "old-password", model.RoleStudent)
	identity := &auth.Identity{UserID: reg.User.ID, Email: "a@x.com"}

	err := f.svc.ChangePassword(ctx, identity, "not-the-old-one", "new-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = f.svc.Login(ctx, "a@x.com", "old-password", model.RoleStudent)
	require.NoError(t, err, "failed change must leave the stored hash untouched")

	require.NoError(t, f.svc.ChangePassword(ctx, identity, "old-password", "new-password"))

	_, err = f.svc.Login(ctx, "a@x.com", "old-password", model.RoleStudent)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	_, err = f.svc.Login(ctx, "a@x.com", "new-password", model.RoleStudent)
	assert.NoError(t, err)

	_, err = f.tokens.Validate(reg.Token)
	assert.NoError(t, err, "earlier tokens stay valid")
}

func TestAuthService_ChangePasswordUnknownUser(t *testing.T) {
	f := newAuthFixture()

	err := f.svc.ChangePassword(context.Background(), &auth.Identity{UserID: 99}, "a", "b")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAuthService_Verify(t *testing.T) {
	tests := []struct {
		name            string
		code            string
		setupMock       func(*MockOtpManager)
		expectedOutcome VerifyOutcome
		expectedError   error
		expectVerified  bool
	}{
		{
			name: "empty code sends",
			code: "",
			setupMock: func(m *MockOtpManager) {
				m.On("Send", mock.Anything, "a@x.com").Return(nil)
			},
			expectedOutcome: OtpSent,
		},
		{
			name: "blank code sends",
			code: "   ",
			setupMock: func(m *MockOtpManager) {
				m.On("Send", mock.Anything, "a@x.com").Return(nil)
			},
			expectedOutcome: OtpSent,
		},
		{
			name: "send failure",
			code: "",
			setupMock: func(m *MockOtpManager) {
				m.On("Send", mock.Anything, "a@x.com").Return(apperrors.Unexpected(errors.New("redis down")))
			},
			expectedError: apperrors.ErrUnexpected,
		},
		{
			name: "right code verifies",
			code: "1234",
			setupMock: func(m *MockOtpManager) {
				m.On("Verify", mock.Anything, "a@x.com", "1234").Return(nil)
			},
			expectedOutcome: Verified,
			expectVerified:  true,
		},
		{
			name: "wrong code",
			code: "9999",
			setupMock: func(m *MockOtpManager) {
				m.On("Verify", mock.Anything, "a@x.com", "9999").Return(otp.ErrInvalidCode)
			},
			expectedError: apperrors.ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture()
			reg := f.register(t, "a@x.com", "password123", model.RoleStudent)
			tt.setupMock(f.otp)

			outcome, err := f.svc.Verify(context.Background(), &auth.Identity{UserID: reg.User.ID, Email: "a@x.com"}, tt.code)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expectedOutcome, outcome)

			stored, err := f.users.FindByID(context.Background(), reg.User.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.expectVerified, stored.IsVerified)
			if tt.expectVerified {
				assert.Equal(t, []string{"a@x.com"}, f.notifier.verified)
			} else {
				assert.Empty(t, f.notifier.verified)
			}
			f.otp.AssertExpectations(t)
		})
	}
}
