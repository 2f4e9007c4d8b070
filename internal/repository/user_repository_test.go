package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"topictalks/internal/model"
)

func newRepoWithMock(t *testing.T) (UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{TranslateError: true, Logger: logger.Discard})
	require.NoError(t, err)

	return NewUserRepository(gdb), mock
}

func TestUserRepository_Create(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users`").WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("INSERT INTO `user_roles`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user := &model.User{
		Email:        "a@x.com",
		PasswordHash: []byte("hash"),
		Salt:         []byte("salt"),
		Roles:        []model.UserRole{{RoleID: model.RoleStudent}},
	}
	err := repo.Create(context.Background(), user)

	require.NoError(t, err)
	assert.Equal(t, uint(7), user.ID)
	assert.Equal(t, uint(7), user.Roles[0].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateDuplicateEmail(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users`").
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'a@x.com'"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &model.User{
		Email: "a@x.com",
		Roles: []model.UserRole{{RoleID: model.RoleStudent}},
	})

	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateRequiresRole(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	err := repo.Create(context.Background(), &model.User{Email: "a@x.com"})

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_FindByEmail(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery("SELECT (.+) FROM `users` WHERE users.email = ").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "salt", "is_verified"}).
			AddRow(3, "a@x.com", []byte("hash"), []byte("salt"), true))
	mock.ExpectQuery("SELECT (.+) FROM `user_roles`").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "role_id"}).
			AddRow(3, 1).AddRow(3, 3))
	mock.ExpectQuery("SELECT (.+) FROM `user_details`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "full_name"}).
			AddRow(1, 3, "Alice"))

	user, err := repo.FindByEmail(context.Background(), "a@x.com")

	require.NoError(t, err)
	assert.Equal(t, uint(3), user.ID)
	assert.True(t, user.IsVerified)
	assert.ElementsMatch(t, []model.Role{model.RoleStudent, model.RoleModerator}, user.RoleSet())
	require.NotNil(t, user.Details)
	assert.Equal(t, "Alice", user.Details.FullName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_FindByEmailAndRole(t *testing.T) {
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantErr error
	}{
		{
			name:    "role not held",
			rows:    sqlmock.NewRows([]string{"id", "email"}),
			wantErr: ErrNotFound,
		},
		{
			name: "role held",
			rows: sqlmock.NewRows([]string{"id", "email"}).AddRow(5, "t@x.com"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepoWithMock(t)
			mock.MatchExpectationsInOrder(false)

			mock.ExpectQuery("FROM `users` JOIN user_roles ON user_roles.user_id = users.id AND user_roles.role_id = ").
				WillReturnRows(tt.rows)
			if tt.wantErr == nil {
				mock.ExpectQuery("SELECT (.+) FROM `user_roles`").
					WillReturnRows(sqlmock.NewRows([]string{"user_id", "role_id"}).AddRow(5, 2))
				mock.ExpectQuery("SELECT (.+) FROM `user_details`").
					WillReturnRows(sqlmock.NewRows([]string{"id", "user_id"}))
			}

			user, err := repo.FindByEmailAndRole(context.Background(), "t@x.com", model.RoleTeacher)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, user)
			} else {
				require.NoError(t, err)
				assert.True(t, user.HasRole(model.RoleTeacher))
				assert.Nil(t, user.Details)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_FindByIDDatabaseError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery("FROM `users`").WillReturnError(errors.New("db down"))

	_, err := repo.FindByID(context.Background(), 1)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "db down")
}

func TestUserRepository_ExistsByEmail(t *testing.T) {
	for _, count := range []int{0, 1} {
		repo, mock := newRepoWithMock(t)

		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `users` WHERE email = ").
			WithArgs("a@x.com").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(count))

		exists, err := repo.ExistsByEmail(context.Background(), "a@x.com")

		require.NoError(t, err)
		assert.Equal(t, count == 1, exists)
		assert.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	tests := []struct {
		name         string
		rowsAffected int64
		wantErr      error
	}{
		{"updated", 1, nil},
		{"missing user", 0, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepoWithMock(t)

			mock.ExpectBegin()
			mock.ExpectExec("UPDATE `users` SET .*`password_hash`").
				WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))
			mock.ExpectCommit()

			err := repo.UpdatePassword(context.Background(), 9, []byte("new-hash"), []byte("new-salt"))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_MarkVerified(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `users` SET `is_verified`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, repo.MarkVerified(context.Background(), 9))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_List(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery("SELECT (.+) FROM `users` ORDER BY users.id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).
			AddRow(1, "a@x.com").AddRow(2, "b@x.com"))
	mock.ExpectQuery("SELECT (.+) FROM `user_roles`").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "role_id"}).
			AddRow(1, 1).AddRow(2, 2))
	mock.ExpectQuery("SELECT (.+) FROM `user_details`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id"}))

	users, err := repo.List(context.Background())

	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, []model.Role{model.RoleStudent}, users[0].RoleSet())
	assert.Equal(t, []model.Role{model.RoleTeacher}, users[1].RoleSet())
	assert.NoError(t, mock.ExpectationsWereMet())
}
