package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Sachin844123/student-appointment-api/internal/models"
	appErrors "github.com/Sachin844123/student-appointment-api/pkg/errors"
)

type dashboardAppointmentRepository interface {
	CountByStatus(ctx context.Context) (map[models.AppointmentStatus]int, error)
}

type dashboardUserRepository interface {
	CountByRole(ctx context.Context) (map[models.UserRole]int, error)
	CountPendingApprovals(ctx context.Context) (int, error)
}

// DashboardService aggregates the counts shown on the admin landing page.
type DashboardService struct {
	appointments dashboardAppointmentRepository
	users        dashboardUserRepository
	cache        *CacheService
	logger       *zap.Logger
	ttl          time.Duration
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(appointments dashboardAppointmentRepository, users dashboardUserRepository, cache *CacheService, logger *zap.Logger, ttl time.Duration) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DashboardService{appointments: appointments, users: users, cache: cache, logger: logger, ttl: ttl}
}

// Summary returns appointment and directory counts, cached briefly to keep
// dashboard refreshes off the database.
func (s *DashboardService) Summary(ctx context.Context) (*models.DashboardSummary, error) {
	if s.cache.Enabled() {
		var cached models.DashboardSummary
		if hit, _ := s.cache.Get(ctx, cacheKeyDashboardSummary, &cached); hit {
			return &cached, nil
		}
	}

	byStatus, err := s.appointments.CountByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count appointments")
	}
	byRole, err := s.users.CountByRole(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count users")
	}
	pending, err := s.users.CountPendingApprovals(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count pending approvals")
	}

	total := 0
	for _, n := range byRole {
		total += n
	}

	summary := &models.DashboardSummary{
		Appointments:     byStatus,
		TotalUsers:       total,
		Teachers:         byRole[models.RoleTeacher],
		Students:         byRole[models.RoleStudent],
		PendingApprovals: pending,
		GeneratedAt:      time.Now().UTC(),
	}

	if err := s.cache.Set(ctx, cacheKeyDashboardSummary, summary, s.ttl); err != nil {
		s.logger.Debug("failed to cache dashboard summary", zap.Error(err))
	}
	return summary, nil
}
