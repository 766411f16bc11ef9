package models

import "time"

// DashboardSummary aggregates counts for the admin panel landing view.
type DashboardSummary struct {
	Appointments     map[AppointmentStatus]int `json:"appointments"`
	TotalUsers       int                       `json:"total_users"`
	Teachers         int                       `json:"teachers"`
	Students         int                       `json:"students"`
	PendingApprovals int                       `json:"pending_approvals"`
	GeneratedAt      time.Time                 `json:"generated_at"`
}
