package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sales-crm-go/internal/model"
	"sales-crm-go/pkg/hash"
	"sales-crm-go/pkg/token"
)

func newTestUserService(repo *mockUserRepo) UserService {
	return NewUserService(repo, token.NewJWTManager("test-secret", 1, 7))
}

func userWithPassword(t *testing.T, id uint, username, password, role string) *model.User {
	t.Helper()
	hashed, err := hash.HashPassword(password)
	require.NoError(t, err)
	return &model.User{ID: id, Username: username, Password: hashed, Role: role}
}

func TestRegister_HashesPasswordAndDefaultsRole(t *testing.T) {
	repo := &mockUserRepo{users: map[uint]*model.User{}}
	svc := newTestUserService(repo)

	user, err := svc.Register("wangwu", "secret123")

	require.NoError(t, err)
	require.Equal(t, model.RoleUser, user.Role)
	require.NotEqual(t, "secret123", user.Password)
	require.True(t, hash.CheckPasswordHash("secret123", user.Password))
	require.Len(t, repo.created, 1)
}

func TestRegister_DuplicateUsernameRejected(t *testing.T) {
	repo := &mockUserRepo{users: map[uint]*model.User{
		1: {ID: 1, Username: "wangwu"},
	}}
	svc := newTestUserService(repo)

	_, err := svc.Register("wangwu", "secret123")

	require.EqualError(t, err, "用户名已存在")
	require.Empty(t, repo.created)
}

func TestLogin_IssuesVerifiableTokenPair(t *testing.T) {
	jwtManager := token.NewJWTManager("test-secret", 1, 7)
	repo := &mockUserRepo{users: map[uint]*model.User{
		3: userWithPassword(t, 3, "zhangsan", "secret123", model.RoleManager),
	}}
	svc := NewUserService(repo, jwtManager)

	access, refresh, err := svc.Login("zhangsan", "secret123")

	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	claims, err := jwtManager.VerifyToken(access)
	require.NoError(t, err)
	require.Equal(t, uint(3), claims.UserID)
	require.Equal(t, "zhangsan", claims.Username)
	require.Equal(t, model.RoleManager, claims.Role)
}

func TestLogin_WrongPasswordAndUnknownUserIndistinguishable(t *testing.T) {
	repo := &mockUserRepo{users: map[uint]*model.User{
		3: userWithPassword(t, 3, "zhangsan", "secret123", model.RoleUser),
	}}
	svc := newTestUserService(repo)

	_, _, wrongPassword := svc.Login("zhangsan", "oops")
	_, _, unknownUser := svc.Login("ghost", "secret123")

	require.EqualError(t, wrongPassword, "invalid credentials")
	require.EqualError(t, unknownUser, "invalid credentials")
}

func TestRefreshToken_IssuesNewPair(t *testing.T) {
	jwtManager := token.NewJWTManager("test-secret", 1, 7)
	repo := &mockUserRepo{users: map[uint]*model.User{
		3: userWithPassword(t, 3, "zhangsan", "secret123", model.RoleUser),
	}}
	svc := NewUserService(repo, jwtManager)

	_, refresh, err := svc.Login("zhangsan", "secret123")
	require.NoError(t, err)

	newAccess, newRefresh, err := svc.RefreshToken(refresh)

	require.NoError(t, err)
	require.NotEmpty(t, newAccess)
	require.NotEmpty(t, newRefresh)

	claims, err := jwtManager.VerifyToken(newAccess)
	require.NoError(t, err)
	require.Equal(t, "zhangsan", claims.Username)
}

func TestRefreshToken_RejectsGarbageToken(t *testing.T) {
	svc := newTestUserService(&mockUserRepo{users: map[uint]*model.User{}})

	_, _, err := svc.RefreshToken("not-a-jwt")

	require.EqualError(t, err, "invalid refresh token")
}
