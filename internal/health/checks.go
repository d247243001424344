package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/jobvoice/internal/job"
	"github.com/MrWong99/jobvoice/internal/resilience"
)

// Pinger is implemented by stores with a cheap connectivity probe, such as
// the postgres backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker probes the job store, using Ping when the store offers it and
// a List otherwise.
func StoreChecker(store job.Store) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if p, ok := store.(Pinger); ok {
				return p.Ping(ctx)
			}
			_, err := store.List(ctx)
			return err
		},
	}
}

// SecretChecker fails while value is empty. hint tells the operator how to
// provide it.
func SecretChecker(name, value, hint string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if strings.TrimSpace(value) == "" {
				return fmt.Errorf("not configured; %s", hint)
			}
			return nil
		},
	}
}

// FallbackChecker fails when every backend of g has an open breaker. The
// check is optional: an unavailable chain degrades the service.
func FallbackChecker[T any](name string, g *resilience.FallbackGroup[T]) Checker {
	return Checker{
		Name:     name,
		Optional: true,
		Check: func(context.Context) error {
			var open []string
			names := g.Names()
			for _, n := range names {
				if g.Breaker(n).State() == resilience.StateOpen {
					open = append(open, n)
				}
			}
			if len(open) == len(names) {
				return errors.New("all backends unavailable: " + strings.Join(open, ", "))
			}
			return nil
		},
	}
}

// FuncChecker wraps an arbitrary probe.
func FuncChecker(name string, fn func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: fn}
}
