package job

import (
	"context"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-session use and testing.
// The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	apps  map[string]Application
	order []string // ids in creation order

	// onChange, if set, runs under the write lock after every mutation.
	// Used by FileStore to persist the snapshot. An error rolls back.
	onChange func(snapshot []Application) error

	now func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{apps: make(map[string]Application)}
}

func (s *MemStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// Save implements [Store.Save].
func (s *MemStore) Save(ctx context.Context, app Application) (Application, bool, error) {
	if err := ctx.Err(); err != nil {
		return Application{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apps == nil {
		s.apps = make(map[string]Application)
	}

	var prev *Application
	if p, ok := s.apps[app.ID]; ok && app.ID != "" {
		prev = &p
	}
	saved, err := PrepareSave(app, prev, s.clock())
	if err != nil {
		return Application{}, false, err
	}

	created := prev == nil
	oldOrder := s.order
	s.apps[saved.ID] = saved
	if created {
		s.order = append(s.order, saved.ID)
	}
	if err := s.commitLocked(); err != nil {
		if created {
			delete(s.apps, saved.ID)
			s.order = oldOrder
		} else {
			s.apps[saved.ID] = *prev
		}
		return Application{}, false, err
	}
	return saved, created, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, id string, p Patch) (Application, error) {
	if err := ctx.Err(); err != nil {
		return Application{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.apps[id]
	if !ok {
		return Application{}, ErrNotFound
	}
	next, err := PreparePatch(prev, p, s.clock())
	if err != nil {
		return Application{}, err
	}
	s.apps[id] = next
	if err := s.commitLocked(); err != nil {
		s.apps[id] = prev
		return Application{}, err
	}
	return next, nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.apps[id]
	if !ok {
		return false, nil
	}
	oldOrder := append([]string(nil), s.order...)
	delete(s.apps, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if err := s.commitLocked(); err != nil {
		s.apps[id] = prev
		s.order = oldOrder
		return false, err
	}
	return true, nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context) ([]Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

// FindByCompanyFuzzy implements [Store.FindByCompanyFuzzy].
func (s *MemStore) FindByCompanyFuzzy(ctx context.Context, name string) (Application, bool, error) {
	apps, err := s.List(ctx)
	if err != nil {
		return Application{}, false, err
	}
	a, ok := MatchCompany(apps, name)
	return a, ok, nil
}

// Len returns the number of stored applications.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *MemStore) snapshotLocked() []Application {
	out := make([]Application, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.apps[id])
	}
	return out
}

func (s *MemStore) commitLocked() error {
	if s.onChange == nil {
		return nil
	}
	return s.onChange(s.snapshotLocked())
}

// replaceAll swaps in apps as the full contents, in order.
func (s *MemStore) replaceAll(apps []Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps = make(map[string]Application, len(apps))
	s.order = s.order[:0]
	for _, a := range apps {
		if _, dup := s.apps[a.ID]; !dup {
			s.order = append(s.order, a.ID)
		}
		s.apps[a.ID] = a
	}
}
