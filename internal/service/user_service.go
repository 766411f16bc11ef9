package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Sachin844123/student-appointment-api/internal/models"
	appErrors "github.com/Sachin844123/student-appointment-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	SetApproved(ctx context.Context, id string, approved bool) error
	SetDarkMode(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateUserRequest is the admin-side payload for creating accounts directly,
// mirroring the add-teacher and add-student flows of the admin panel.
type CreateUserRequest struct {
	Name       string          `json:"name" validate:"required,max=100"`
	Email      string          `json:"email" validate:"required,email"`
	Password   string          `json:"password" validate:"required,min=6"`
	Role       models.UserRole `json:"role" validate:"required,oneof=teacher student"`
	Department string          `json:"department" validate:"required,max=100"`
	Subject    *string         `json:"subject" validate:"omitempty,max=100"`
	Approved   *bool           `json:"approved"`
}

// UpdateUserRequest modifies directory profile fields.
type UpdateUserRequest struct {
	Name       string  `json:"name" validate:"required,max=100"`
	Email      string  `json:"email" validate:"required,email"`
	Department string  `json:"department" validate:"required,max=100"`
	Subject    *string `json:"subject" validate:"omitempty,max=100"`
	Approved   *bool   `json:"approved"`
}

// UserService orchestrates directory management.
type UserService struct {
	repo      userRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	dirTTL    time.Duration
}

// NewUserService constructs a UserService.
func NewUserService(repo userRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger, dirTTL time.Duration) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dirTTL <= 0 {
		dirTTL = 10 * time.Minute
	}
	return &UserService{repo: repo, cache: cache, validator: validate, logger: logger, dirTTL: dirTTL}
}

// List returns users plus pagination data.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return users, pagination, nil
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create registers an account on behalf of an admin. Teachers are always
// approved; students take the approved flag from the payload, defaulting to
// false.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actor *models.JWTClaims) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	if req.Role == models.RoleTeacher && (req.Subject == nil || strings.TrimSpace(*req.Subject) == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject is required for teachers")
	}

	exists, err := s.repo.ExistsByEmail(ctx, req.Email, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an account with this email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	approved := req.Role == models.RoleTeacher
	if req.Role == models.RoleStudent && req.Approved != nil {
		approved = *req.Approved
	}

	user := &models.User{
		Email:        strings.TrimSpace(strings.ToLower(req.Email)),
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(req.Name),
		Role:         req.Role,
		Department:   strings.TrimSpace(req.Department),
		Approved:     approved,
	}
	if req.Role == models.RoleTeacher {
		subject := strings.TrimSpace(*req.Subject)
		user.Subject = &subject
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.audit(ctx, actor, models.AuditActionUserCreate, user.ID, nil)
	s.invalidateDirectory(ctx)
	return user, nil
}

// Update modifies an existing user's profile.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actor *models.JWTClaims) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	exists, err := s.repo.ExistsByEmail(ctx, req.Email, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already used")
	}

	user.Email = strings.TrimSpace(strings.ToLower(req.Email))
	user.Name = strings.TrimSpace(req.Name)
	user.Department = strings.TrimSpace(req.Department)
	if user.Role == models.RoleTeacher && req.Subject != nil {
		subject := strings.TrimSpace(*req.Subject)
		user.Subject = &subject
	}
	if req.Approved != nil && *req.Approved != user.Approved {
		if actor == nil || actor.Role != models.RoleAdmin {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can change the approval flag")
		}
		user.Approved = *req.Approved
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	s.audit(ctx, actor, models.AuditActionUserUpdate, user.ID, nil)
	s.invalidateDirectory(ctx)
	return user, nil
}

// Approve sets the approved flag on a student account, unblocking login.
func (s *UserService) Approve(ctx context.Context, id string, actor *models.JWTClaims) error {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.Role != models.RoleStudent {
		return appErrors.Clone(appErrors.ErrValidation, "only student accounts require approval")
	}
	if user.Approved {
		return appErrors.Clone(appErrors.ErrConflict, "student is already approved")
	}
	if err := s.repo.SetApproved(ctx, id, true); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve student")
	}
	s.audit(ctx, actor, models.AuditActionUserApprove, id, []byte(`{"approved":true}`))
	s.invalidateDashboard(ctx)
	return nil
}

// Delete removes exactly the given user record, revoking any open sessions.
// Appointments referencing the user are intentionally left untouched.
func (s *UserService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, id); err != nil {
		s.logger.Warn("failed to revoke refresh tokens before deletion", zap.Error(err))
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}
	s.audit(ctx, actor, models.AuditActionUserDelete, id, nil)
	s.invalidateDirectory(ctx)
	s.invalidateDashboard(ctx)
	return nil
}

// ListTeachers returns the teacher directory for the student booking view,
// served from cache when possible.
func (s *UserService) ListTeachers(ctx context.Context, search string) ([]models.User, error) {
	if search == "" && s.cache.Enabled() {
		var cached []models.User
		if hit, _ := s.cache.Get(ctx, cacheKeyTeacherDirectory, &cached); hit {
			return cached, nil
		}
	}

	role := models.RoleTeacher
	teachers, _, err := s.repo.List(ctx, models.UserFilter{
		Role:     &role,
		Search:   search,
		PageSize: 100,
		SortBy:   "name",
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}

	if search == "" {
		_ = s.cache.Set(ctx, cacheKeyTeacherDirectory, teachers, s.dirTTL)
	}
	return teachers, nil
}

// Preferences returns the stored presentation preferences for a user.
func (s *UserService) Preferences(ctx context.Context, userID string) (*models.Preferences, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.Preferences{DarkMode: user.DarkMode}, nil
}

// SetPreferences persists presentation preferences for a user.
func (s *UserService) SetPreferences(ctx context.Context, userID string, prefs models.Preferences) error {
	if _, err := s.Get(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.SetDarkMode(ctx, userID, prefs.DarkMode); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save preferences")
	}
	return nil
}

func (s *UserService) audit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, values []byte) {
	log := &models.AuditLog{
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		NewValues:  values,
	}
	if actor != nil {
		log.UserID = &actor.UserID
	}
	if err := s.repo.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *UserService) invalidateDirectory(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, cacheKeyTeacherDirectory+"*")
}

func (s *UserService) invalidateDashboard(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, cacheKeyDashboardSummary+"*")
}
