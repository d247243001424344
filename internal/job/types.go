// Package job holds the job-application tracker: the [Application] record,
// the [Store] contract and the in-process backends.
//
// The voice assistant, the batch email reconciler, the MCP server and the
// UI API all read and write applications through a [Store]. Implementations
// serialise writes internally, so those callers may interleave freely.
//
// Backends:
//   - [MemStore]: in-memory, insertion order.
//   - [FileStore]: a YAML document rewritten atomically after every change.
//   - badgerstore.Store: embedded Badger database.
//   - postgres.Store: PostgreSQL through pgx with goose migrations.
package job

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the format of [Application.DateApplied].
const DateLayout = "2006-01-02"

// Application is one tracked job application.
type Application struct {
	// ID is assigned by the store on first save when empty.
	ID string `yaml:"id" json:"id"`

	Company string `yaml:"company" json:"company"`
	Role    string `yaml:"role" json:"role"`

	// Source is where the posting was found (LinkedIn, referral, ...).
	Source string `yaml:"source,omitempty" json:"source,omitempty"`

	// DateApplied is a calendar date in [DateLayout], or empty.
	DateApplied string `yaml:"date_applied,omitempty" json:"dateApplied,omitempty"`

	Status Status `yaml:"status" json:"status"`
	Notes  string `yaml:"notes,omitempty" json:"notes,omitempty"`

	CreatedAt time.Time `yaml:"created_at" json:"createdAt"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updatedAt"`
}

// Status is the pipeline stage of an application.
type Status string

const (
	StatusWishlist     Status = "Wishlist"
	StatusApplied      Status = "Applied"
	StatusInterviewing Status = "Interviewing"
	StatusOffer        Status = "Offer"
	StatusRejected     Status = "Rejected"
)

// DefaultStatus is applied on save when no status is given.
const DefaultStatus = StatusApplied

// Statuses lists every status in pipeline order.
var Statuses = []Status{StatusWishlist, StatusApplied, StatusInterviewing, StatusOffer, StatusRejected}

// IsValid reports whether s is a recognised status.
func (s Status) IsValid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseStatus resolves s case-insensitively to a [Status].
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	for _, v := range Statuses {
		if strings.EqualFold(s, string(v)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalid, s)
}

// StatusNames returns the statuses as plain strings, e.g. for schema enums.
func StatusNames() []string {
	out := make([]string, len(Statuses))
	for i, s := range Statuses {
		out[i] = string(s)
	}
	return out
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Company     *string `json:"company,omitempty"`
	Role        *string `json:"role,omitempty"`
	Source      *string `json:"source,omitempty"`
	DateApplied *string `json:"dateApplied,omitempty"`
	Status      *Status `json:"status,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// IsEmpty reports whether p changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Company == nil && p.Role == nil && p.Source == nil &&
		p.DateApplied == nil && p.Status == nil && p.Notes == nil
}

// Apply returns a copy of app with the patch applied.
func (p Patch) Apply(app Application) Application {
	if p.Company != nil {
		app.Company = *p.Company
	}
	if p.Role != nil {
		app.Role = *p.Role
	}
	if p.Source != nil {
		app.Source = *p.Source
	}
	if p.DateApplied != nil {
		app.DateApplied = *p.DateApplied
	}
	if p.Status != nil {
		app.Status = *p.Status
	}
	if p.Notes != nil {
		app.Notes = *p.Notes
	}
	return app
}

// Normalize trims text fields, canonicalises the status spelling and fills
// the default status.
func Normalize(app Application) Application {
	app.ID = strings.TrimSpace(app.ID)
	app.Company = strings.TrimSpace(app.Company)
	app.Role = strings.TrimSpace(app.Role)
	app.Source = strings.TrimSpace(app.Source)
	app.DateApplied = strings.TrimSpace(app.DateApplied)
	app.Notes = strings.TrimSpace(app.Notes)
	if app.Status == "" {
		app.Status = DefaultStatus
	} else if s, err := ParseStatus(string(app.Status)); err == nil {
		app.Status = s
	}
	return app
}
