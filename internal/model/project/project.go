// Package project holds the advisory engagement a hearing session
// belongs to. Only the surface the session pipeline needs is modeled
// here; full project management lives elsewhere.
package project

import "time"

// Project references one M&A engagement.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CompanyName string    `json:"company_name,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
