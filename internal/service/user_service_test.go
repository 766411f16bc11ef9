package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sachin844123/student-appointment-api/internal/models"
	appErrors "github.com/Sachin844123/student-appointment-api/pkg/errors"
)

type mockUserRepo struct {
	users       map[string]*models.User
	listResult  []models.User
	listTotal   int
	listCalls   int
	lastFilter  models.UserFilter
	emailExists bool
	created     *models.User
	updated     *models.User
	approvedID  string
	darkModeID  string
	darkMode    bool
	deletedID   string
	revokedID   string
	auditLogs   []*models.AuditLog
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.listCalls++
	m.lastFilter = filter
	return m.listResult, m.listTotal, nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (m *mockUserRepo) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	return m.emailExists, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = "generated-id"
	}
	m.created = user
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	m.updated = user
	return nil
}

func (m *mockUserRepo) SetApproved(ctx context.Context, id string, approved bool) error {
	m.approvedID = id
	if u, ok := m.users[id]; ok {
		u.Approved = approved
	}
	return nil
}

func (m *mockUserRepo) SetDarkMode(ctx context.Context, id string, enabled bool) error {
	m.darkModeID = id
	m.darkMode = enabled
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	m.deletedID = id
	delete(m.users, id)
	return nil
}

func (m *mockUserRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedID = userID
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type stubCacheRepo struct {
	store map[string][]byte
}

func (s *stubCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	if s.store == nil {
		return appErrors.ErrCacheMiss
	}
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *stubCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func (s *stubCacheRepo) DeleteByPattern(_ context.Context, _ string) error {
	return nil
}

func TestUserServiceCreateTeacherRequiresSubject(t *testing.T) {
	repo := &mockUserRepo{}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Name:       "Mr. Keating",
		Email:      "keating@example.com",
		Password:   "password",
		Role:       models.RoleTeacher,
		Department: "English",
	}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.created)
}

func TestUserServiceCreateTeacherAlwaysApproved(t *testing.T) {
	repo := &mockUserRepo{}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	user, err := svc.Create(context.Background(), CreateUserRequest{
		Name:       "Mr. Keating",
		Email:      "Keating@Example.com",
		Password:   "password",
		Role:       models.RoleTeacher,
		Department: "English",
		Subject:    strPtr("Poetry"),
	}, adminClaims())
	require.NoError(t, err)
	assert.True(t, user.Approved)
	assert.Equal(t, "keating@example.com", user.Email)
	assert.NotEmpty(t, repo.auditLogs)
}

func TestUserServiceCreateStudentApprovedFlag(t *testing.T) {
	repo := &mockUserRepo{}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	user, err := svc.Create(context.Background(), CreateUserRequest{
		Name:       "Todd Anderson",
		Email:      "todd@example.com",
		Password:   "password",
		Role:       models.RoleStudent,
		Department: "English",
	}, adminClaims())
	require.NoError(t, err)
	assert.False(t, user.Approved)

	approved := true
	user, err = svc.Create(context.Background(), CreateUserRequest{
		Name:       "Neil Perry",
		Email:      "neil@example.com",
		Password:   "password",
		Role:       models.RoleStudent,
		Department: "English",
		Approved:   &approved,
	}, adminClaims())
	require.NoError(t, err)
	assert.True(t, user.Approved)
}

func TestUserServiceCreateDuplicateEmail(t *testing.T) {
	repo := &mockUserRepo{emailExists: true}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Name:       "Todd Anderson",
		Email:      "todd@example.com",
		Password:   "password",
		Role:       models.RoleStudent,
		Department: "English",
	}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceUpdateProfile(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"u1": {ID: "u1", Name: "Old Name", Email: "old@example.com", Role: models.RoleStudent, Department: "Math"},
	}}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	user, err := svc.Update(context.Background(), "u1", UpdateUserRequest{
		Name:       "New Name",
		Email:      "new@example.com",
		Department: "Physics",
	}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, "New Name", user.Name)
	assert.Equal(t, "new@example.com", user.Email)
	require.NotNil(t, repo.updated)
}

func TestUserServiceApproveStudent(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"s1": {ID: "s1", Role: models.RoleStudent, Approved: false},
	}}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	err := svc.Approve(context.Background(), "s1", adminClaims())
	require.NoError(t, err)
	assert.Equal(t, "s1", repo.approvedID)
	assert.True(t, repo.users["s1"].Approved)
	assert.NotEmpty(t, repo.auditLogs)
}

func TestUserServiceApproveRejectsTeachers(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"t1": {ID: "t1", Role: models.RoleTeacher, Approved: true},
	}}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	err := svc.Approve(context.Background(), "t1", adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceApproveAlreadyApproved(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"s1": {ID: "s1", Role: models.RoleStudent, Approved: true},
	}}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	err := svc.Approve(context.Background(), "s1", adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceDeleteRevokesSessions(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"u1": {ID: "u1", Role: models.RoleStudent},
	}}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	err := svc.Delete(context.Background(), "u1", adminClaims())
	require.NoError(t, err)
	assert.Equal(t, "u1", repo.revokedID)
	assert.Equal(t, "u1", repo.deletedID)
}

func TestUserServiceDeleteNotFound(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{}}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	err := svc.Delete(context.Background(), "ghost", adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceListTeachersCaching(t *testing.T) {
	repo := &mockUserRepo{listResult: []models.User{{ID: "t1", Name: "Mr. Keating", Role: models.RoleTeacher}}}
	cacheSvc := NewCacheService(&stubCacheRepo{}, nil, time.Minute, zap.NewNop(), true)
	svc := NewUserService(repo, cacheSvc, nil, zap.NewNop(), time.Minute)

	teachers, err := svc.ListTeachers(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, teachers, 1)
	assert.Equal(t, 1, repo.listCalls)
	require.NotNil(t, repo.lastFilter.Role)
	assert.Equal(t, models.RoleTeacher, *repo.lastFilter.Role)

	cached, err := svc.ListTeachers(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, teachers, cached)
	assert.Equal(t, 1, repo.listCalls)
}

func TestUserServiceListTeachersSearchBypassesCache(t *testing.T) {
	repo := &mockUserRepo{listResult: []models.User{{ID: "t1", Name: "Mr. Keating", Role: models.RoleTeacher}}}
	cacheSvc := NewCacheService(&stubCacheRepo{}, nil, time.Minute, zap.NewNop(), true)
	svc := NewUserService(repo, cacheSvc, nil, zap.NewNop(), time.Minute)

	_, err := svc.ListTeachers(context.Background(), "keating")
	require.NoError(t, err)
	_, err = svc.ListTeachers(context.Background(), "keating")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
	assert.Equal(t, "keating", repo.lastFilter.Search)
}

func TestUserServicePreferencesRoundTrip(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"u1": {ID: "u1", Role: models.RoleStudent, DarkMode: false},
	}}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	prefs, err := svc.Preferences(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, prefs.DarkMode)

	err = svc.SetPreferences(context.Background(), "u1", models.Preferences{DarkMode: true})
	require.NoError(t, err)
	assert.Equal(t, "u1", repo.darkModeID)
	assert.True(t, repo.darkMode)
}

func TestUserServiceUpdateSelfCannotSetApproved(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"s1": {ID: "s1", Name: "Todd Anderson", Email: "todd@example.com", Role: models.RoleStudent, Department: "English"},
	}}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	approved := true
	_, err := svc.Update(context.Background(), "s1", UpdateUserRequest{
		Name:       "Todd Anderson",
		Email:      "todd@example.com",
		Department: "English",
		Approved:   &approved,
	}, studentClaims("s1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.updated)
	assert.False(t, repo.users["s1"].Approved)
}

func TestUserServiceUpdateAdminControlsApproved(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"s1": {ID: "s1", Name: "Todd Anderson", Email: "todd@example.com", Role: models.RoleStudent, Department: "English"},
	}}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	approved := true
	user, err := svc.Update(context.Background(), "s1", UpdateUserRequest{
		Name:       "Todd Anderson",
		Email:      "todd@example.com",
		Department: "English",
		Approved:   &approved,
	}, adminClaims())
	require.NoError(t, err)
	assert.True(t, user.Approved)
}

func TestUserServiceUpdateUnchangedApprovedAllowed(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"s1": {ID: "s1", Name: "Todd Anderson", Email: "todd@example.com", Role: models.RoleStudent, Department: "English"},
	}}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	approved := false
	user, err := svc.Update(context.Background(), "s1", UpdateUserRequest{
		Name:       "Todd Anderson",
		Email:      "todd@example.com",
		Department: "Physics",
		Approved:   &approved,
	}, studentClaims("s1"))
	require.NoError(t, err)
	assert.False(t, user.Approved)
	assert.Equal(t, "Physics", user.Department)
}

func TestUserServiceListClampsPageSize(t *testing.T) {
	repo := &mockUserRepo{listTotal: 500}
	svc := NewUserService(repo, nil, nil, zap.NewNop(), 0)

	_, pagination, err := svc.List(context.Background(), models.UserFilter{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 100, repo.lastFilter.PageSize)
	assert.Equal(t, 100, pagination.PageSize)
	assert.Equal(t, 1, pagination.Page)
}
