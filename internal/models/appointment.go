package models

import "time"

// AppointmentStatus is the lifecycle state of an appointment. The set covers
// both inherited vocabularies: the booking flow uses pending/approved/canceled
// while the admin panel uses open/confirm/in-progress. The two are kept as-is
// rather than unified; pending and open are equivalent initial states.
type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "pending"
	StatusOpen       AppointmentStatus = "open"
	StatusApproved   AppointmentStatus = "approved"
	StatusConfirm    AppointmentStatus = "confirm"
	StatusInProgress AppointmentStatus = "in-progress"
	StatusCanceled   AppointmentStatus = "canceled"
)

// Valid reports whether the status belongs to the known set.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusOpen, StatusApproved, StatusConfirm, StatusInProgress, StatusCanceled:
		return true
	}
	return false
}

// Awaiting reports whether the appointment still waits for a decision.
func (s AppointmentStatus) Awaiting() bool {
	return s == StatusPending || s == StatusOpen
}

// Accepted reports whether the appointment was accepted by a teacher or admin.
func (s AppointmentStatus) Accepted() bool {
	return s == StatusApproved || s == StatusConfirm || s == StatusInProgress
}

// Terminal reports whether no further transition is allowed. Only canceled
// is terminal; an accepted appointment can still be canceled.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCanceled
}

// Appointment represents a booking stored in the appointments table.
// Date and the two time fields keep the text encoding of the booking form
// (YYYY-MM-DD and HH:MM). CreatedAt is set once at creation and never updated.
type Appointment struct {
	ID        string            `db:"id" json:"id"`
	StudentID string            `db:"student_id" json:"student_id"`
	TeacherID string            `db:"teacher_id" json:"teacher_id"`
	Date      string            `db:"date" json:"date"`
	TimeFrom  string            `db:"time_from" json:"time_from"`
	TimeEnd   string            `db:"time_end" json:"time_end"`
	Message   string            `db:"message" json:"message"`
	Status    AppointmentStatus `db:"status" json:"status"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

// AppointmentDetail joins participant names onto an appointment row.
// The joined columns are nullable: a deleted participant leaves the
// appointment readable and renders as "Unknown".
type AppointmentDetail struct {
	Appointment
	StudentName  *string `db:"student_name" json:"student_name,omitempty"`
	StudentEmail *string `db:"student_email" json:"student_email,omitempty"`
	TeacherName  *string `db:"teacher_name" json:"teacher_name,omitempty"`
	TeacherEmail *string `db:"teacher_email" json:"teacher_email,omitempty"`
}

// AppointmentFilter captures list criteria for appointments.
type AppointmentFilter struct {
	StudentID string
	TeacherID string
	Status    *AppointmentStatus
	Date      string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CalendarDay groups the appointments falling on a single date.
type CalendarDay struct {
	Date         string              `json:"date"`
	Appointments []AppointmentDetail `json:"appointments"`
}
