package job

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Update when the requested application does not exist.
var ErrNotFound = errors.New("application not found")

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid application")

// Store manages tracked job applications.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Save inserts app, or replaces the stored application with the same ID.
	// An empty ID is filled with a generated one. created reports whether a
	// new record was inserted. CreatedAt survives replacement.
	// Returns an error wrapping [ErrInvalid] when app fails [Validate].
	Save(ctx context.Context, app Application) (saved Application, created bool, err error)

	// Update applies p to the application with the given ID and returns the
	// result. Returns [ErrNotFound] when no application has that ID.
	Update(ctx context.Context, id string, p Patch) (Application, error)

	// Delete removes the application with the given ID. It reports whether
	// anything was removed; deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) (bool, error)

	// List returns every application in creation order.
	List(ctx context.Context) ([]Application, error)

	// FindByCompanyFuzzy returns the first application, in creation order,
	// whose company contains name case-insensitively.
	FindByCompanyFuzzy(ctx context.Context, name string) (Application, bool, error)
}

// NewID returns a fresh application ID.
func NewID() string { return uuid.NewString() }

// PrepareSave normalises and validates app before it replaces prev (nil when
// inserting). It fills the ID and the timestamps. Every backend runs it
// inside its write path.
func PrepareSave(app Application, prev *Application, now time.Time) (Application, error) {
	app = Normalize(app)
	if err := Validate(app); err != nil {
		return Application{}, err
	}
	if app.ID == "" {
		app.ID = NewID()
	}
	app.UpdatedAt = now
	switch {
	case prev != nil:
		app.CreatedAt = prev.CreatedAt
	case app.CreatedAt.IsZero():
		app.CreatedAt = now
	}
	return app, nil
}

// PreparePatch applies p to prev and validates the result.
func PreparePatch(prev Application, p Patch, now time.Time) (Application, error) {
	next := Normalize(p.Apply(prev))
	if err := Validate(next); err != nil {
		return Application{}, err
	}
	next.ID = prev.ID
	next.CreatedAt = prev.CreatedAt
	next.UpdatedAt = now
	return next, nil
}
