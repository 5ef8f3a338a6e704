package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"procurement/internal/database"
	"procurement/internal/middleware"
	"procurement/internal/model"
	"procurement/internal/repository"
)

var userDBSeq int

func newUserService(t *testing.T) UserService {
	t.Helper()
	userDBSeq++
	dsn := fmt.Sprintf("file:user_service_%d?mode=memory&cache=shared", userDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return NewUserService(repository.NewUserRepository(db), zap.NewNop())
}

func registerReq(email, role string) RegisterRequest {
	return RegisterRequest{
		Email:    email,
		Password: "s3cret-pass",
		FullName: "Test User",
		Role:     role,
	}
}

func TestRegister(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, registerReq("staff@corp.test", ""))
	require.NoError(t, err)
	assert.Equal(t, model.RoleStaff, user.Role)
	assert.NotEmpty(t, user.ID)

	_, err = svc.Register(ctx, registerReq("staff@corp.test", ""))
	assert.ErrorContains(t, err, "already registered")

	_, err = svc.Register(ctx, registerReq("x@corp.test", "superadmin"))
	assert.ErrorContains(t, err, "invalid role")

	lvl1, err := svc.Register(ctx, registerReq("lvl1@corp.test", model.RoleApproverL1))
	require.NoError(t, err)
	assert.Equal(t, model.RoleApproverL1, lvl1.Role)
}

func TestLogin(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerReq("staff@corp.test", ""))
	require.NoError(t, err)

	auth, err := svc.Login(ctx, LoginRequest{Email: "staff@corp.test", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.Equal(t, "bearer", auth.TokenType)
	assert.NotEmpty(t, auth.AccessToken)
	assert.NotEmpty(t, auth.RefreshToken)
	assert.Equal(t, "staff@corp.test", auth.User.Email)

	// Access token verifies with the same secret the middleware uses
	// and carries the identity claims
	token, err := jwt.Parse(auth.AccessToken, func(t *jwt.Token) (interface{}, error) {
		return middleware.GetJWTSecret(), nil
	})
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "staff@corp.test", claims["email"])
	assert.Equal(t, model.RoleStaff, claims["role"])
	assert.Equal(t, auth.User.ID, claims["sub"])

	_, err = svc.Login(ctx, LoginRequest{Email: "staff@corp.test", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, LoginRequest{Email: "ghost@corp.test", Password: "s3cret-pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefreshRotates(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerReq("staff@corp.test", ""))
	require.NoError(t, err)

	auth, err := svc.Login(ctx, LoginRequest{Email: "staff@corp.test", Password: "s3cret-pass"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, auth.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, auth.RefreshToken, refreshed.RefreshToken)

	// The old refresh token is single-use
	_, err = svc.Refresh(ctx, auth.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	_, err = svc.Refresh(ctx, "no-such-token")
	assert.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerReq("staff@corp.test", ""))
	require.NoError(t, err)

	auth, err := svc.Login(ctx, LoginRequest{Email: "staff@corp.test", Password: "s3cret-pass"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, auth.RefreshToken))
	_, err = svc.Refresh(ctx, auth.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	// Logging out without a token is a no-op
	assert.NoError(t, svc.Logout(ctx, ""))
}
