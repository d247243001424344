package job

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks an [Application] for required fields and valid values.
//
// Rules:
//   - Company and Role must be non-empty.
//   - Status must be a recognised [Status].
//   - DateApplied, when set, must be a date in [DateLayout].
//
// The returned error wraps [ErrInvalid].
func Validate(app Application) error {
	var errs []error

	if app.Company == "" {
		errs = append(errs, errors.New("company must not be empty"))
	}
	if app.Role == "" {
		errs = append(errs, errors.New("role must not be empty"))
	}
	if !app.Status.IsValid() {
		errs = append(errs, fmt.Errorf("status %q is not a recognised status", app.Status))
	}
	if app.DateApplied != "" {
		if _, err := time.Parse(DateLayout, app.DateApplied); err != nil {
			errs = append(errs, fmt.Errorf("date applied %q is not a YYYY-MM-DD date", app.DateApplied))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
