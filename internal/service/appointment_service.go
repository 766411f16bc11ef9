package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Sachin844123/student-appointment-api/internal/models"
	appErrors "github.com/Sachin844123/student-appointment-api/pkg/errors"
)

type appointmentRepository interface {
	List(ctx context.Context, filter models.AppointmentFilter) ([]models.AppointmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.AppointmentDetail, error)
	Create(ctx context.Context, appointment *models.Appointment) error
	UpdateStatus(ctx context.Context, id string, status models.AppointmentStatus) error
	Delete(ctx context.Context, id string) error
	ListBetweenDates(ctx context.Context, from, to string) ([]models.AppointmentDetail, error)
}

type appointmentUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// BookAppointmentRequest is the student booking payload.
type BookAppointmentRequest struct {
	TeacherID string `json:"teacher_id" validate:"required,uuid4"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeFrom  string `json:"time_from" validate:"required"`
	TimeEnd   string `json:"time_end" validate:"required"`
	Message   string `json:"message" validate:"max=500"`
}

// SetStatusRequest is the admin payload for manual status changes.
type SetStatusRequest struct {
	Status models.AppointmentStatus `json:"status" validate:"required"`
}

var timeOfDayPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// AppointmentService owns the booking lifecycle.
type AppointmentService struct {
	repo      appointmentRepository
	users     appointmentUserRepository
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAppointmentService constructs an AppointmentService.
func NewAppointmentService(repo appointmentRepository, users appointmentUserRepository, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AppointmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppointmentService{repo: repo, users: users, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// Book creates a new appointment for the acting student. The status always
// starts at pending regardless of the payload.
func (s *AppointmentService) Book(ctx context.Context, req BookAppointmentRequest, actor *models.JWTClaims) (*models.AppointmentDetail, error) {
	if actor == nil || actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can book appointments")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}
	if !timeOfDayPattern.MatchString(req.TimeFrom) || !timeOfDayPattern.MatchString(req.TimeEnd) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "time must be in HH:MM format")
	}
	if req.TimeEnd <= req.TimeFrom {
		return nil, appErrors.Clone(appErrors.ErrValidation, "time_end must be after time_from")
	}

	teacher, err := s.users.FindByID(ctx, req.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if teacher.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrValidation, "selected user is not a teacher")
	}

	appointment := &models.Appointment{
		StudentID: actor.UserID,
		TeacherID: teacher.ID,
		Date:      req.Date,
		TimeFrom:  req.TimeFrom,
		TimeEnd:   req.TimeEnd,
		Message:   strings.TrimSpace(req.Message),
		Status:    models.StatusPending,
	}
	if err := s.repo.Create(ctx, appointment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create appointment")
	}

	s.audit(ctx, actor, models.AuditActionAppointmentCreate, appointment.ID,
		[]byte(fmt.Sprintf(`{"teacher_id":%q,"date":%q}`, teacher.ID, req.Date)))
	s.invalidateDashboard(ctx)
	s.recordTransition(models.StatusPending)

	detail := &models.AppointmentDetail{Appointment: *appointment}
	detail.StudentName = &actor.Name
	detail.TeacherName = &teacher.Name
	return detail, nil
}

// List returns appointments scoped to the acting role: admins see everything,
// teachers and students only their own side of the join.
func (s *AppointmentService) List(ctx context.Context, filter models.AppointmentFilter, actor *models.JWTClaims) ([]models.AppointmentDetail, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		filter.TeacherID = actor.UserID
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown appointment status")
	}
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)

	appointments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list appointments")
	}
	for i := range appointments {
		fillDisplayNames(&appointments[i])
	}
	return appointments, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a single appointment if the actor is a participant or an admin.
func (s *AppointmentService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.AppointmentDetail, error) {
	appointment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(appointment, actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you do not have access to this appointment")
	}
	fillDisplayNames(appointment)
	return appointment, nil
}

// Approve accepts a waiting appointment. Teachers move their own bookings to
// approved; admins move any booking to confirm.
func (s *AppointmentService) Approve(ctx context.Context, id string, actor *models.JWTClaims) (*models.AppointmentDetail, error) {
	target := models.StatusConfirm
	if actor != nil && actor.Role == models.RoleTeacher {
		target = models.StatusApproved
	}
	return s.transition(ctx, id, target, actor, func(a *models.AppointmentDetail) error {
		if !a.Status.Awaiting() {
			if a.Status.Terminal() {
				return appErrors.Clone(appErrors.ErrConflict, "appointment has been canceled")
			}
			return appErrors.Clone(appErrors.ErrConflict, "appointment was already decided")
		}
		return nil
	})
}

// Reject declines a waiting appointment, moving it to canceled.
func (s *AppointmentService) Reject(ctx context.Context, id string, actor *models.JWTClaims) (*models.AppointmentDetail, error) {
	return s.transition(ctx, id, models.StatusCanceled, actor, func(a *models.AppointmentDetail) error {
		if !a.Status.Awaiting() {
			if a.Status.Terminal() {
				return appErrors.Clone(appErrors.ErrConflict, "appointment has been canceled")
			}
			return appErrors.Clone(appErrors.ErrConflict, "appointment was already decided")
		}
		return nil
	})
}

// Cancel moves any live appointment to canceled. Students may cancel their own
// bookings, teachers theirs, admins any.
func (s *AppointmentService) Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.AppointmentDetail, error) {
	return s.transition(ctx, id, models.StatusCanceled, actor, func(a *models.AppointmentDetail) error {
		if a.Status.Terminal() {
			return appErrors.Clone(appErrors.ErrConflict, "appointment is already canceled")
		}
		return nil
	})
}

// SetStatus is the admin escape hatch for manual status management, covering
// the open and in-progress states the regular flow never produces.
func (s *AppointmentService) SetStatus(ctx context.Context, id string, req SetStatusRequest, actor *models.JWTClaims) (*models.AppointmentDetail, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can set the status directly")
	}
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown appointment status")
	}
	return s.transition(ctx, id, req.Status, actor, func(a *models.AppointmentDetail) error {
		if a.Status.Terminal() && req.Status != models.StatusCanceled {
			return appErrors.Clone(appErrors.ErrConflict, "canceled appointments cannot be reopened")
		}
		return nil
	})
}

// Delete removes the appointment record. Admins delete anything; students may
// delete their own bookings.
func (s *AppointmentService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	appointment, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if actor == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	if actor.Role != models.RoleAdmin && appointment.StudentID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot delete this appointment")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete appointment")
	}
	s.audit(ctx, actor, models.AuditActionAppointmentDelete, id, nil)
	s.invalidateDashboard(ctx)
	return nil
}

// Calendar groups a month of appointments by day for the actor's scope.
// The month parameter uses the YYYY-MM form; empty means the current month.
func (s *AppointmentService) Calendar(ctx context.Context, month string, actor *models.JWTClaims) ([]models.CalendarDay, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must be in YYYY-MM format")
	}
	from := start.Format("2006-01-02")
	to := start.AddDate(0, 1, 0).Add(-24 * time.Hour).Format("2006-01-02")

	appointments, err := s.repo.ListBetweenDates(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar")
	}

	days := make([]models.CalendarDay, 0)
	var current *models.CalendarDay
	for i := range appointments {
		a := appointments[i]
		if !canView(&a, actor) {
			continue
		}
		fillDisplayNames(&a)
		if current == nil || current.Date != a.Date {
			days = append(days, models.CalendarDay{Date: a.Date})
			current = &days[len(days)-1]
		}
		current.Appointments = append(current.Appointments, a)
	}
	return days, nil
}

func (s *AppointmentService) transition(ctx context.Context, id string, target models.AppointmentStatus, actor *models.JWTClaims, check func(*models.AppointmentDetail) error) (*models.AppointmentDetail, error) {
	appointment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canDecide(appointment, actor, target) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot change this appointment")
	}
	if err := check(appointment); err != nil {
		return nil, err
	}
	if appointment.Status == target {
		fillDisplayNames(appointment)
		return appointment, nil
	}

	if err := s.repo.UpdateStatus(ctx, id, target); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update appointment status")
	}

	s.audit(ctx, actor, models.AuditActionAppointmentStatus, id,
		[]byte(fmt.Sprintf(`{"from":%q,"to":%q}`, appointment.Status, target)))
	s.invalidateDashboard(ctx)
	s.recordTransition(target)

	appointment.Status = target
	appointment.UpdatedAt = time.Now().UTC()
	fillDisplayNames(appointment)
	return appointment, nil
}

func (s *AppointmentService) load(ctx context.Context, id string) (*models.AppointmentDetail, error) {
	appointment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointment")
	}
	return appointment, nil
}

func (s *AppointmentService) audit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, values []byte) {
	if s.users == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "appointments",
		ResourceID: &resourceID,
		NewValues:  values,
	}
	if actor != nil {
		log.UserID = &actor.UserID
	}
	if err := s.users.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *AppointmentService) recordTransition(status models.AppointmentStatus) {
	if s.metrics != nil {
		s.metrics.RecordTransition(string(status))
	}
}

func (s *AppointmentService) invalidateDashboard(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, cacheKeyDashboardSummary+"*")
	}
}

func canView(a *models.AppointmentDetail, actor *models.JWTClaims) bool {
	if actor == nil {
		return false
	}
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleTeacher:
		return a.TeacherID == actor.UserID
	case models.RoleStudent:
		return a.StudentID == actor.UserID
	}
	return false
}

// canDecide enforces who can drive which transition: teachers decide their own
// bookings, students may only cancel their own, admins decide everything.
func canDecide(a *models.AppointmentDetail, actor *models.JWTClaims, target models.AppointmentStatus) bool {
	if actor == nil {
		return false
	}
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleTeacher:
		return a.TeacherID == actor.UserID
	case models.RoleStudent:
		return a.StudentID == actor.UserID && target == models.StatusCanceled
	}
	return false
}

// fillDisplayNames substitutes a placeholder when a participant has been
// deleted and the join comes back empty.
func fillDisplayNames(a *models.AppointmentDetail) {
	unknown := "Unknown"
	if a.StudentName == nil || *a.StudentName == "" {
		a.StudentName = &unknown
	}
	if a.TeacherName == nil || *a.TeacherName == "" {
		a.TeacherName = &unknown
	}
}

// normalizePage bounds list pagination so the reported page size matches what
// the repository actually serves.
func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
