package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sales-crm-go/internal/model"
	"sales-crm-go/internal/repository"
	"sales-crm-go/pkg/tasks"
)

type mockUserRepo struct {
	users     map[uint]*model.User
	createErr error
	updateErr error

	created []*model.User
	updated []*model.User
}

func (m *mockUserRepo) Create(user *model.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	user.ID = uint(len(m.users) + len(m.created) + 1)
	m.created = append(m.created, user)
	return nil
}

func (m *mockUserRepo) FindByUsername(username string) (*model.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) Update(user *model.User) error {
	m.updated = append(m.updated, user)
	return m.updateErr
}

func (m *mockUserRepo) FindWithPagination(_, _ int) ([]model.User, int64, error) {
	users := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *u)
	}
	return users, int64(len(users)), nil
}

func (m *mockUserRepo) FindByID(userID uint) (*model.User, error) {
	u, ok := m.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

type mockIDLister struct {
	mockCrmRepo
	ids     map[string][]uint
	listErr map[string]error
}

func (m *mockIDLister) ListIDs(entity string) ([]uint, error) {
	if err := m.listErr[entity]; err != nil {
		return nil, err
	}
	return m.ids[entity], nil
}

func newAdminUnderTest(users *mockUserRepo, convs *mockConversationRepo, crm repository.CrmRepository) *adminService {
	return NewAdminService(users, convs, crm).(*adminService)
}

func TestSetUserRole_RejectsUnknownRole(t *testing.T) {
	svc := newAdminUnderTest(&mockUserRepo{}, &mockConversationRepo{}, &mockCrmRepo{})

	_, err := svc.SetUserRole(1, "SUPERVISOR")

	require.Error(t, err)
	require.Contains(t, err.Error(), "角色必须是")
}

func TestSetUserRole_UnknownUser(t *testing.T) {
	svc := newAdminUnderTest(&mockUserRepo{users: map[uint]*model.User{}}, &mockConversationRepo{}, &mockCrmRepo{})

	_, err := svc.SetUserRole(99, model.RoleManager)

	require.EqualError(t, err, "user not found")
}

func TestSetUserRole_PersistsNewRole(t *testing.T) {
	users := &mockUserRepo{users: map[uint]*model.User{
		5: {ID: 5, Username: "lisi", Role: model.RoleUser},
	}}
	svc := newAdminUnderTest(users, &mockConversationRepo{}, &mockCrmRepo{})

	updated, err := svc.SetUserRole(5, model.RoleManager)

	require.NoError(t, err)
	require.Equal(t, model.RoleManager, updated.Role)
	require.Len(t, users.updated, 1)
	require.Equal(t, model.RoleManager, users.updated[0].Role)
}

func TestGetAllConversations_FiltersByUserAndTime(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	users := &mockUserRepo{users: map[uint]*model.User{
		1: {ID: 1, Username: "zhangsan"},
		2: {ID: 2, Username: "lisi"},
	}}
	convs := &mockConversationRepo{
		refs: []repository.SessionRef{
			{UserID: 1, SessionID: "s1"},
			{UserID: 2, SessionID: "s2"},
		},
		histories: map[string][]model.ChatMessage{
			historyKey(1, "s1"): {
				{Role: model.RoleTurnUser, Content: "太早了", Timestamp: base.Add(-time.Hour)},
				{Role: model.RoleTurnUser, Content: "在窗口内", Timestamp: base},
			},
			historyKey(2, "s2"): {
				{Role: model.RoleTurnUser, Content: "别人的会话", Timestamp: base},
			},
		},
	}
	svc := newAdminUnderTest(users, convs, &mockCrmRepo{})

	uid := uint(1)
	start := base.Add(-time.Minute)
	rows, err := svc.GetAllConversations(context.Background(), &uid, &start, nil)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "zhangsan", rows[0]["username"])
	require.Equal(t, "在窗口内", rows[0]["content"])
	require.Equal(t, "s1", rows[0]["sessionId"])
}

func TestReindexSearch_PublishesTaskPerRow(t *testing.T) {
	crm := &mockIDLister{ids: map[string][]uint{
		"account":     {1, 2},
		"opportunity": {9},
	}}
	svc := newAdminUnderTest(&mockUserRepo{}, &mockConversationRepo{}, crm)

	var published []tasks.SearchSyncTask
	svc.produce = func(task tasks.SearchSyncTask) error {
		published = append(published, task)
		return nil
	}

	count, err := svc.ReindexSearch(context.Background())

	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Len(t, published, 3)
	for _, task := range published {
		require.Equal(t, tasks.ActionIndex, task.Action)
	}
	require.Equal(t, "account:1", published[0].Key())
}

func TestReindexSearch_EntityScanFailureSkipsEntity(t *testing.T) {
	crm := &mockIDLister{
		ids:     map[string][]uint{"contact": {3}},
		listErr: map[string]error{"account": errors.New("db down")},
	}
	svc := newAdminUnderTest(&mockUserRepo{}, &mockConversationRepo{}, crm)

	var published int
	svc.produce = func(tasks.SearchSyncTask) error {
		published++
		return nil
	}

	count, err := svc.ReindexSearch(context.Background())

	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, 1, published)
}

func TestReindexSearch_CancelledContextStopsPublishing(t *testing.T) {
	crm := &mockIDLister{ids: map[string][]uint{"account": {1, 2, 3}}}
	svc := newAdminUnderTest(&mockUserRepo{}, &mockConversationRepo{}, crm)
	svc.produce = func(tasks.SearchSyncTask) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	count, err := svc.ReindexSearch(ctx)

	require.Error(t, err)
	require.Zero(t, count)
}
