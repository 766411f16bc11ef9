package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/Sachin844123/student-appointment-api/internal/models"
)

func newAppointmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func appointmentDetailRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "student_id", "teacher_id", "date", "time_from", "time_end", "message", "status", "created_at", "updated_at",
		"student_name", "student_email", "teacher_name", "teacher_email",
	})
}

func TestAppointmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newAppointmentRepoMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO appointments")).
		WithArgs(sqlmock.AnyArg(), "student-1", "teacher-1", "2026-09-01", "10:00", "10:30", "help with homework", "pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	appointment := &models.Appointment{
		StudentID: "student-1",
		TeacherID: "teacher-1",
		Date:      "2026-09-01",
		TimeFrom:  "10:00",
		TimeEnd:   "10:30",
		Message:   "help with homework",
		Status:    models.StatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), appointment))
	require.NotEmpty(t, appointment.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newAppointmentRepoMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	rows := appointmentDetailRows().
		AddRow("appt-1", "student-1", "teacher-1", "2026-09-01", "10:00", "10:30", "", "pending", time.Now(), time.Now(),
			"Sam Student", "sam@school.edu", "Tina Teacher", "tina@school.edu")
	mock.ExpectQuery("(?s)SELECT .+ FROM appointments a\\s+LEFT JOIN users s .+ WHERE a\\.id = \\$1").
		WithArgs("appt-1").
		WillReturnRows(rows)

	detail, err := repo.FindByID(context.Background(), "appt-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, detail.Status)
	require.Equal(t, "Sam Student", *detail.StudentName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryListScopedToTeacher(t *testing.T) {
	db, mock, cleanup := newAppointmentRepoMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	rows := appointmentDetailRows().
		AddRow("appt-1", "student-1", "teacher-1", "2026-09-01", "10:00", "10:30", "", "pending", time.Now(), time.Now(),
			"Sam Student", "sam@school.edu", "Tina Teacher", "tina@school.edu")
	mock.ExpectQuery("(?s)SELECT .+ WHERE 1=1 AND a\\.teacher_id = \\$1 ORDER BY a\\.created_at DESC LIMIT 20 OFFSET 0").
		WithArgs("teacher-1").
		WillReturnRows(rows)
	mock.ExpectQuery("(?s)SELECT COUNT\\(\\*\\) .+ WHERE 1=1 AND a\\.teacher_id = \\$1").
		WithArgs("teacher-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	appointments, total, err := repo.List(context.Background(), models.AppointmentFilter{TeacherID: "teacher-1"})
	require.NoError(t, err)
	require.Len(t, appointments, 1)
	require.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newAppointmentRepoMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE appointments SET status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("appt-1", models.StatusApproved, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "appt-1", models.StatusApproved))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newAppointmentRepoMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("pending", 3).
		AddRow("approved", 2).
		AddRow("canceled", 1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM appointments GROUP BY status")).
		WillReturnRows(rows)

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, counts[models.StatusPending])
	require.Equal(t, 1, counts[models.StatusCanceled])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryListBetweenDates(t *testing.T) {
	db, mock, cleanup := newAppointmentRepoMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	rows := appointmentDetailRows().
		AddRow("appt-1", "student-1", "teacher-1", "2026-09-01", "09:00", "09:30", "", "confirm", time.Now(), time.Now(),
			"Sam Student", "sam@school.edu", "Tina Teacher", "tina@school.edu").
		AddRow("appt-2", "student-2", "teacher-1", "2026-09-01", "10:00", "10:30", "", "pending", time.Now(), time.Now(),
			nil, nil, "Tina Teacher", "tina@school.edu")
	mock.ExpectQuery("(?s)SELECT .+ WHERE a\\.date >= \\$1 AND a\\.date <= \\$2 ORDER BY a\\.date ASC, a\\.time_from ASC").
		WithArgs("2026-09-01", "2026-09-30").
		WillReturnRows(rows)

	appointments, err := repo.ListBetweenDates(context.Background(), "2026-09-01", "2026-09-30")
	require.NoError(t, err)
	require.Len(t, appointments, 2)
	require.Nil(t, appointments[1].StudentName)
	require.NoError(t, mock.ExpectationsWereMet())
}
