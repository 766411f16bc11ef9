package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Sachin844123/student-appointment-api/internal/models"
)

// AppointmentRepository manages persistence for appointment records.
type AppointmentRepository struct {
	db *sqlx.DB
}

// NewAppointmentRepository constructs an AppointmentRepository.
func NewAppointmentRepository(db *sqlx.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

const appointmentDetailColumns = `a.id, a.student_id, a.teacher_id, a.date, a.time_from, a.time_end, a.message, a.status, a.created_at, a.updated_at,
        s.name AS student_name, s.email AS student_email, t.name AS teacher_name, t.email AS teacher_email`

const appointmentJoin = `FROM appointments a
        LEFT JOIN users s ON s.id = a.student_id
        LEFT JOIN users t ON t.id = a.teacher_id`

// List returns appointments joined with participant names.
func (r *AppointmentRepository) List(ctx context.Context, filter models.AppointmentFilter) ([]models.AppointmentDetail, int, error) {
	base := appointmentJoin
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("a.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Date != "" {
		conditions = append(conditions, fmt.Sprintf("a.date = $%d", len(args)+1))
		args = append(args, filter.Date)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(COALESCE(s.name, '')) LIKE $%d OR LOWER(COALESCE(t.name, '')) LIKE $%d OR LOWER(a.message) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"date":       "a.date",
		"status":     "a.status",
		"created_at": "a.created_at",
	}
	if sortBy == "" {
		sortBy = "created_at"
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "a.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", appointmentDetailColumns, base, column, order, size, offset)

	var appointments []models.AppointmentDetail
	if err := r.db.SelectContext(ctx, &appointments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	return appointments, total, nil
}

// FindByID fetches an appointment detail by ID.
func (r *AppointmentRepository) FindByID(ctx context.Context, id string) (*models.AppointmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE a.id = $1", appointmentDetailColumns, appointmentJoin)
	var detail models.AppointmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find appointment by id: %w", err)
	}
	return &detail, nil
}

// Create inserts a new appointment record.
func (r *AppointmentRepository) Create(ctx context.Context, appointment *models.Appointment) error {
	if appointment.ID == "" {
		appointment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if appointment.CreatedAt.IsZero() {
		appointment.CreatedAt = now
	}
	appointment.UpdatedAt = now
	const query = `INSERT INTO appointments (id, student_id, teacher_id, date, time_from, time_end, message, status, created_at, updated_at)
VALUES (:id, :student_id, :teacher_id, :date, :time_from, :time_end, :message, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, appointment); err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

// UpdateStatus writes only the status column for the appointment.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id string, status models.AppointmentStatus) error {
	const query = `UPDATE appointments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	return nil
}

// Delete removes the appointment record.
func (r *AppointmentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM appointments WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	return nil
}

// CountByStatus aggregates appointment counts per lifecycle status.
func (r *AppointmentRepository) CountByStatus(ctx context.Context) (map[models.AppointmentStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS count FROM appointments GROUP BY status`
	rows := []struct {
		Status models.AppointmentStatus `db:"status"`
		Count  int                      `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count appointments by status: %w", err)
	}
	counts := make(map[models.AppointmentStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// ListBetweenDates returns joined appointments within the inclusive date range,
// ordered for calendar grouping. Dates use the YYYY-MM-DD text encoding so
// lexicographic comparison matches chronological order.
func (r *AppointmentRepository) ListBetweenDates(ctx context.Context, from, to string) ([]models.AppointmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE a.date >= $1 AND a.date <= $2 ORDER BY a.date ASC, a.time_from ASC", appointmentDetailColumns, appointmentJoin)
	var appointments []models.AppointmentDetail
	if err := r.db.SelectContext(ctx, &appointments, query, from, to); err != nil {
		return nil, fmt.Errorf("list appointments between dates: %w", err)
	}
	return appointments, nil
}
