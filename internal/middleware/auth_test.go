package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sales-crm-go/internal/model"
	"sales-crm-go/pkg/log"
	"sales-crm-go/pkg/token"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubUserService struct {
	user *model.User
}

func (s *stubUserService) Register(_, _ string) (*model.User, error) { return nil, nil }

func (s *stubUserService) Login(_, _ string) (string, string, error) { return "", "", nil }

func (s *stubUserService) GetProfile(username string) (*model.User, error) {
	if s.user == nil || s.user.Username != username {
		return nil, gorm.ErrRecordNotFound
	}
	return s.user, nil
}

func (s *stubUserService) Logout(_ string) error { return nil }

func (s *stubUserService) RefreshToken(_ string) (string, string, error) { return "", "", nil }

func newAuthTestRouter(jwtManager *token.JWTManager, users *stubUserService) *gin.Engine {
	r := gin.New()
	r.GET("/protected", AuthMiddleware(jwtManager, users), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func doGet(r *gin.Engine, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_MissingHeaderRejected(t *testing.T) {
	r := newAuthTestRouter(token.NewJWTManager("secret", 1, 7), &stubUserService{})

	w := doGet(r, nil)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_NonBearerHeaderRejected(t *testing.T) {
	r := newAuthTestRouter(token.NewJWTManager("secret", 1, 7), &stubUserService{})

	w := doGet(r, map[string]string{"Authorization": "Token abc"})

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_InvalidTokenRejected(t *testing.T) {
	r := newAuthTestRouter(token.NewJWTManager("secret", 1, 7), &stubUserService{})

	w := doGet(r, map[string]string{"Authorization": "Bearer not-a-jwt"})

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_WrongSigningKeyRejected(t *testing.T) {
	other := token.NewJWTManager("other-secret", 1, 7)
	signed, err := other.GenerateToken(1, "zhangsan", model.RoleUser)
	require.NoError(t, err)

	r := newAuthTestRouter(token.NewJWTManager("secret", 1, 7), &stubUserService{})
	w := doGet(r, map[string]string{"Authorization": "Bearer " + signed})

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_ValidTokenLoadsUserIntoContext(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 1, 7)
	user := &model.User{ID: 7, Username: "zhangsan", Role: model.RoleManager}
	signed, err := jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	require.NoError(t, err)

	var seen *model.User
	r := gin.New()
	r.GET("/protected", AuthMiddleware(jwtManager, &stubUserService{user: user}), func(c *gin.Context) {
		u, _ := c.Get("user")
		seen = u.(*model.User)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := doGet(r, map[string]string{"Authorization": "Bearer " + signed})

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	require.Equal(t, uint(7), seen.ID)
	require.Equal(t, model.RoleManager, seen.Role)
}

func TestAuthMiddleware_DeletedUserRejected(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 1, 7)
	signed, err := jwtManager.GenerateToken(9, "ghost", model.RoleUser)
	require.NoError(t, err)

	r := newAuthTestRouter(jwtManager, &stubUserService{})
	w := doGet(r, map[string]string{"Authorization": "Bearer " + signed})

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "用户不存在")
}

func newAdminTestRouter(user *model.User) *gin.Engine {
	r := gin.New()
	inject := func(c *gin.Context) {
		if user != nil {
			c.Set("user", user)
		}
		c.Next()
	}
	r.GET("/admin", inject, AdminAuthMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestAdminAuthMiddleware_AdminAllowed(t *testing.T) {
	r := newAdminTestRouter(&model.User{ID: 1, Role: model.RoleAdmin})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuthMiddleware_ManagerStillForbidden(t *testing.T) {
	// MANAGER 只放宽 CRM 数据范围，不开放管理接口
	r := newAdminTestRouter(&model.User{ID: 1, Role: model.RoleManager})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminAuthMiddleware_MissingUserIsServerError(t *testing.T) {
	r := newAdminTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}
