package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sachin844123/student-appointment-api/internal/models"
	"github.com/Sachin844123/student-appointment-api/internal/repository"
	appErrors "github.com/Sachin844123/student-appointment-api/pkg/errors"
	"github.com/Sachin844123/student-appointment-api/pkg/export"
	"github.com/Sachin844123/student-appointment-api/pkg/jobs"
	"github.com/Sachin844123/student-appointment-api/pkg/storage"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
}

type exportAppointmentSource interface {
	List(ctx context.Context, filter models.AppointmentFilter) ([]models.AppointmentDetail, int, error)
}

type exportUserSource interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

// CreateExportRequest starts a background export.
type CreateExportRequest struct {
	Type   models.ExportType         `json:"type" validate:"required,oneof=appointments users"`
	Format models.ExportFormat       `json:"format" validate:"required,oneof=csv pdf"`
	Status *models.AppointmentStatus `json:"status,omitempty"`
	Role   *models.UserRole          `json:"role,omitempty"`
	From   string                    `json:"from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	To     string                    `json:"to,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// ExportOptions tunes worker pool and retention behaviour.
type ExportOptions struct {
	WorkerConcurrency int
	WorkerRetries     int
	CleanupInterval   time.Duration
	RetentionTTL      time.Duration
}

// ExportService runs report exports off the request path: jobs are persisted,
// queued, rendered by workers, and served back through signed download links.
type ExportService struct {
	store        exportJobStore
	appointments exportAppointmentSource
	users        exportUserSource
	files        *storage.LocalStorage
	signer       *storage.SignedURLSigner
	csv          *export.CSVExporter
	pdf          *export.PDFExporter
	validator    *validator.Validate
	logger       *zap.Logger
	opts         ExportOptions

	queue       *jobs.Queue
	cleanupStop chan struct{}
}

// NewExportService constructs an ExportService and its worker queue.
func NewExportService(store exportJobStore, appointments exportAppointmentSource, users exportUserSource, files *storage.LocalStorage, signer *storage.SignedURLSigner, validate *validator.Validate, logger *zap.Logger, opts ExportOptions) *ExportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WorkerConcurrency <= 0 {
		opts.WorkerConcurrency = 2
	}
	if opts.RetentionTTL <= 0 {
		opts.RetentionTTL = 7 * 24 * time.Hour
	}

	s := &ExportService{
		store:        store,
		appointments: appointments,
		users:        users,
		files:        files,
		signer:       signer,
		csv:          export.NewCSVExporter(),
		pdf:          export.NewPDFExporter(),
		validator:    validate,
		logger:       logger,
		opts:         opts,
		cleanupStop:  make(chan struct{}),
	}
	s.queue = jobs.NewQueue("exports", s.process, jobs.QueueConfig{
		Workers:    opts.WorkerConcurrency,
		MaxRetries: opts.WorkerRetries,
		Logger:     logger,
	})
	return s
}

// Start launches worker goroutines, requeues jobs that were still queued at
// the last shutdown, and begins the retention sweep.
func (s *ExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)

	queued, err := s.store.ListQueued(ctx, 100)
	if err != nil {
		s.logger.Warn("failed to recover queued export jobs", zap.Error(err))
	}
	for _, job := range queued {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("failed to requeue export job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	if s.opts.CleanupInterval > 0 {
		go s.cleanupLoop(ctx)
	}
}

// Stop drains the queue and stops the retention sweep.
func (s *ExportService) Stop() {
	close(s.cleanupStop)
	s.queue.Stop()
}

// CreateJob validates the request, persists job metadata and enqueues it.
func (s *ExportService) CreateJob(ctx context.Context, req CreateExportRequest, actor *models.JWTClaims) (*models.ExportJob, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can export data")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export request")
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown appointment status")
	}

	job := &models.ExportJob{
		ID:     uuid.NewString(),
		Type:   req.Type,
		Status: models.ExportStatusQueued,
		Params: models.ExportJobParams{
			Format: req.Format,
			Status: req.Status,
			Role:   req.Role,
			From:   req.From,
			To:     req.To,
		},
		CreatedBy: actor.UserID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	return job, nil
}

// GetJob returns job status for its creator (or any admin), attaching a signed
// download token once the export is finished.
func (s *ExportService) GetJob(ctx context.Context, id string, actor *models.JWTClaims) (*models.ExportJob, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if actor == nil || (actor.Role != models.RoleAdmin && job.CreatedBy != actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you do not have access to this export")
	}

	if job.Status == models.ExportStatusFinished && job.ResultURL != nil {
		token, _, err := s.signer.Generate(job.ID, *job.ResultURL)
		if err != nil {
			s.logger.Warn("failed to sign export download", zap.String("job_id", job.ID), zap.Error(err))
		} else {
			link := "/api/v1/exports/download/" + token
			job.ResultURL = &link
		}
	}
	return job, nil
}

// ResolveDownload validates a signed token and opens the exported file.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*os.File, string, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download link")
	}
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	if job.Status != models.ExportStatusFinished || job.ResultURL == nil || *job.ResultURL != relPath {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export is not available")
	}
	file, err := s.files.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export file is gone")
	}
	return file, relPath, nil
}

func (s *ExportService) process(ctx context.Context, job jobs.Job) error {
	record, err := s.store.GetByID(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", job.ID, err)
	}
	if record.Status == models.ExportStatusFinished {
		return nil
	}

	processing := models.ExportStatusProcessing
	if err := s.store.Update(ctx, record.ID, repository.UpdateExportJobParams{Status: &processing}); err != nil {
		return fmt.Errorf("mark export processing: %w", err)
	}

	dataset, err := s.buildDataset(ctx, record)
	if err != nil {
		s.fail(ctx, record.ID, err)
		return nil
	}

	var payload []byte
	var ext string
	switch record.Params.Format {
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, fmt.Sprintf("%s report", record.Type))
		ext = "pdf"
	default:
		payload, err = s.csv.Render(dataset)
		ext = "csv"
	}
	if err != nil {
		s.fail(ctx, record.ID, err)
		return nil
	}

	relPath := fmt.Sprintf("%s/%s.%s", record.Type, record.ID, ext)
	if _, err := s.files.Save(relPath, payload); err != nil {
		s.fail(ctx, record.ID, err)
		return nil
	}

	finished := models.ExportStatusFinished
	progress := 100
	now := time.Now().UTC()
	if err := s.store.Update(ctx, record.ID, repository.UpdateExportJobParams{
		Status:     &finished,
		Progress:   &progress,
		ResultURL:  &relPath,
		FinishedAt: &now,
	}); err != nil {
		return fmt.Errorf("mark export finished: %w", err)
	}
	s.logger.Info("export finished", zap.String("job_id", record.ID), zap.String("type", string(record.Type)), zap.Int("rows", len(dataset.Rows)))
	return nil
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ExportJob) (export.Dataset, error) {
	switch job.Type {
	case models.ExportTypeAppointments:
		return s.appointmentDataset(ctx, job.Params)
	case models.ExportTypeUsers:
		return s.userDataset(ctx, job.Params)
	default:
		return export.Dataset{}, fmt.Errorf("unsupported export type %q", job.Type)
	}
}

func (s *ExportService) appointmentDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, error) {
	filter := models.AppointmentFilter{Status: params.Status, PageSize: 100, SortBy: "date", SortOrder: "asc"}
	dataset := export.Dataset{Headers: []string{"ID", "Student", "Teacher", "Date", "From", "To", "Status", "Created"}}

	for page := 1; ; page++ {
		filter.Page = page
		rows, total, err := s.appointments.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, fmt.Errorf("list appointments: %w", err)
		}
		for i := range rows {
			a := rows[i]
			if params.From != "" && a.Date < params.From {
				continue
			}
			if params.To != "" && a.Date > params.To {
				continue
			}
			fillDisplayNames(&a)
			dataset.Rows = append(dataset.Rows, map[string]string{
				"ID":      a.ID,
				"Student": *a.StudentName,
				"Teacher": *a.TeacherName,
				"Date":    a.Date,
				"From":    a.TimeFrom,
				"To":      a.TimeEnd,
				"Status":  string(a.Status),
				"Created": a.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		if page*filter.PageSize >= total || len(rows) == 0 {
			break
		}
	}
	return dataset, nil
}

func (s *ExportService) userDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, error) {
	filter := models.UserFilter{Role: params.Role, PageSize: 100, SortBy: "name"}
	dataset := export.Dataset{Headers: []string{"ID", "Name", "Email", "Role", "Department", "Subject", "Approved"}}

	for page := 1; ; page++ {
		filter.Page = page
		rows, total, err := s.users.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, fmt.Errorf("list users: %w", err)
		}
		for _, u := range rows {
			subject := ""
			if u.Subject != nil {
				subject = *u.Subject
			}
			dataset.Rows = append(dataset.Rows, map[string]string{
				"ID":         u.ID,
				"Name":       u.Name,
				"Email":      u.Email,
				"Role":       string(u.Role),
				"Department": u.Department,
				"Subject":    subject,
				"Approved":   fmt.Sprintf("%t", u.Approved),
			})
		}
		if page*filter.PageSize >= total || len(rows) == 0 {
			break
		}
	}
	return dataset, nil
}

func (s *ExportService) fail(ctx context.Context, id string, cause error) {
	failed := models.ExportStatusFailed
	msg := cause.Error()
	now := time.Now().UTC()
	if err := s.store.Update(ctx, id, repository.UpdateExportJobParams{Status: &failed, ErrorMessage: &msg, FinishedAt: &now}); err != nil {
		s.logger.Error("failed to mark export job failed", zap.String("job_id", id), zap.Error(err))
	}
	s.logger.Warn("export failed", zap.String("job_id", id), zap.Error(cause))
}

func (s *ExportService) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExportService) sweep(ctx context.Context) {
	deleted, err := s.files.CleanupOlderThan(s.opts.RetentionTTL)
	if err != nil {
		s.logger.Warn("export file cleanup failed", zap.Error(err))
	} else if len(deleted) > 0 {
		s.logger.Info("expired export files removed", zap.Int("count", len(deleted)))
	}

	cutoff := time.Now().UTC().Add(-s.opts.RetentionTTL)
	stale, err := s.store.ListFinishedBefore(ctx, cutoff, 100)
	if err != nil {
		s.logger.Warn("failed to list stale export jobs", zap.Error(err))
		return
	}
	for _, job := range stale {
		if job.ResultURL == nil {
			continue
		}
		empty := ""
		if err := s.store.Update(ctx, job.ID, repository.UpdateExportJobParams{ResultURL: &empty}); err != nil {
			s.logger.Warn("failed to clear stale export link", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}
