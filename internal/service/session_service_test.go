package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sales-crm-go/internal/model"
)

type mockSessionRepo struct {
	latest    *model.ChatSession
	latestErr error
	sessions  []model.ChatSession
	listErr   error
	createErr error

	created []*model.ChatSession
}

func (m *mockSessionRepo) Create(session *model.ChatSession) error {
	m.created = append(m.created, session)
	return m.createErr
}

func (m *mockSessionRepo) FindLatestByUser(userID uint) (*model.ChatSession, error) {
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	if m.latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return m.latest, nil
}

func (m *mockSessionRepo) FindByUser(userID uint) ([]model.ChatSession, error) {
	return m.sessions, m.listErr
}

func TestResolve_SuppliedSessionIDTrusted(t *testing.T) {
	repo := &mockSessionRepo{}
	svc := NewSessionService(repo)

	got := svc.Resolve(1, "client-chosen-id")

	// 调用方给的 ID 原样返回，不查库也不新建会话
	require.Equal(t, "client-chosen-id", got)
	require.Empty(t, repo.created)
}

func TestResolve_ReusesLatestSession(t *testing.T) {
	repo := &mockSessionRepo{latest: &model.ChatSession{ID: "existing", UserID: 1}}
	svc := NewSessionService(repo)

	got := svc.Resolve(1, "")

	require.Equal(t, "existing", got)
	require.Empty(t, repo.created)
}

func TestResolve_CreatesSessionWhenNoneExists(t *testing.T) {
	repo := &mockSessionRepo{latestErr: gorm.ErrRecordNotFound}
	svc := NewSessionService(repo)

	got := svc.Resolve(9, "")

	require.NotEmpty(t, got)
	require.Len(t, repo.created, 1)
	require.Equal(t, got, repo.created[0].ID)
	require.Equal(t, uint(9), repo.created[0].UserID)
}

func TestResolve_CreateFailureStillYieldsUsableID(t *testing.T) {
	repo := &mockSessionRepo{
		latestErr: gorm.ErrRecordNotFound,
		createErr: errors.New("db down"),
	}
	svc := NewSessionService(repo)

	got := svc.Resolve(9, "")

	// 建会话失败不阻断本次请求
	require.NotEmpty(t, got)
}

func TestResolve_GeneratedIDsAreUnique(t *testing.T) {
	repo := &mockSessionRepo{latestErr: gorm.ErrRecordNotFound}
	svc := NewSessionService(repo)

	first := svc.Resolve(9, "")
	second := svc.Resolve(9, "")

	require.NotEqual(t, first, second)
}

func TestListByUser_DelegatesToRepository(t *testing.T) {
	repo := &mockSessionRepo{sessions: []model.ChatSession{{ID: "a"}, {ID: "b"}}}
	svc := NewSessionService(repo)

	sessions, err := svc.ListByUser(1)

	require.NoError(t, err)
	require.Len(t, sessions, 2)
}
