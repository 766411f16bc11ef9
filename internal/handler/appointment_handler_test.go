package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sachin844123/student-appointment-api/internal/middleware"
	"github.com/Sachin844123/student-appointment-api/internal/models"
	"github.com/Sachin844123/student-appointment-api/internal/service"
)

type fakeAppointmentRepo struct {
	appointments map[string]*models.AppointmentDetail
	created      *models.Appointment
}

func (f *fakeAppointmentRepo) List(ctx context.Context, filter models.AppointmentFilter) ([]models.AppointmentDetail, int, error) {
	out := make([]models.AppointmentDetail, 0, len(f.appointments))
	for _, a := range f.appointments {
		out = append(out, *a)
	}
	return out, len(out), nil
}

func (f *fakeAppointmentRepo) FindByID(ctx context.Context, id string) (*models.AppointmentDetail, error) {
	a, ok := f.appointments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *a
	return &copied, nil
}

func (f *fakeAppointmentRepo) Create(ctx context.Context, appointment *models.Appointment) error {
	appointment.ID = "a-created"
	f.created = appointment
	return nil
}

func (f *fakeAppointmentRepo) UpdateStatus(ctx context.Context, id string, status models.AppointmentStatus) error {
	if a, ok := f.appointments[id]; ok {
		a.Status = status
	}
	return nil
}

func (f *fakeAppointmentRepo) Delete(ctx context.Context, id string) error {
	delete(f.appointments, id)
	return nil
}

func (f *fakeAppointmentRepo) ListBetweenDates(ctx context.Context, from, to string) ([]models.AppointmentDetail, error) {
	return nil, nil
}

type fakeUserLookup struct {
	users map[string]*models.User
}

func (f *fakeUserLookup) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeUserLookup) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

const fakeTeacherID = "2f37a78e-52cd-4e4a-8b11-9f6d5b7a1c02"

func newAppointmentHandlerFixture() (*AppointmentHandler, *fakeAppointmentRepo) {
	repo := &fakeAppointmentRepo{appointments: make(map[string]*models.AppointmentDetail)}
	users := &fakeUserLookup{users: map[string]*models.User{
		fakeTeacherID: {ID: fakeTeacherID, Name: "Mr. Keating", Role: models.RoleTeacher, Approved: true},
	}}
	svc := service.NewAppointmentService(repo, users, nil, nil, nil, nil)
	return NewAppointmentHandler(svc), repo
}

func withClaims(c *gin.Context, claims *models.JWTClaims) {
	c.Set(middleware.ContextUserKey, claims)
}

func TestAppointmentHandlerBookCreated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, repo := newAppointmentHandlerFixture()

	body := `{"teacher_id":"` + fakeTeacherID + `","date":"2026-09-10","time_from":"10:00","time_end":"10:30","message":"essay help"}`
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	withClaims(c, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent, Name: "Todd"})

	handler.Book(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, repo.created)
	assert.Equal(t, models.StatusPending, repo.created.Status)
}

func TestAppointmentHandlerBookInvalidPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newAppointmentHandlerFixture()

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader("{not json"))
	c.Request.Header.Set("Content-Type", "application/json")
	withClaims(c, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent})

	handler.Book(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppointmentHandlerBookUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newAppointmentHandlerFixture()

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader("{}"))

	handler.Book(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAppointmentHandlerApproveConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, repo := newAppointmentHandlerFixture()
	repo.appointments["a1"] = &models.AppointmentDetail{Appointment: models.Appointment{
		ID: "a1", StudentID: "s1", TeacherID: fakeTeacherID, Status: models.StatusCanceled,
	}}

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/appointments/a1/approve", nil)
	c.Params = gin.Params{{Key: "id", Value: "a1"}}
	withClaims(c, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.Approve(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAppointmentHandlerApproveSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, repo := newAppointmentHandlerFixture()
	repo.appointments["a1"] = &models.AppointmentDetail{Appointment: models.Appointment{
		ID: "a1", StudentID: "s1", TeacherID: fakeTeacherID, Status: models.StatusPending,
	}}

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/appointments/a1/approve", nil)
	c.Params = gin.Params{{Key: "id", Value: "a1"}}
	withClaims(c, &models.JWTClaims{UserID: fakeTeacherID, Role: models.RoleTeacher})

	handler.Approve(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "approved", envelope.Data["status"])
}

func TestAppointmentHandlerDeleteNoContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, repo := newAppointmentHandlerFixture()
	repo.appointments["a1"] = &models.AppointmentDetail{Appointment: models.Appointment{
		ID: "a1", StudentID: "s1", TeacherID: fakeTeacherID, Status: models.StatusPending,
	}}

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodDelete, "/appointments/a1", nil)
	c.Params = gin.Params{{Key: "id", Value: "a1"}}
	withClaims(c, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.Delete(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, repo.appointments)
}

func TestAppointmentHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newAppointmentHandlerFixture()

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/appointments/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	withClaims(c, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.Get(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
