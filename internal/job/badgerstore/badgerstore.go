// Package badgerstore is an embedded, persistent [job.Store] backed by Badger.
//
// Layout:
//
//	app/<id>           -> JSON record {seq, application}
//	ord/<seq uint64be> -> <id>
//
// The ord/ index yields creation order on a forward prefix scan. Sequence
// numbers come from a Badger sequence and are never reused.
package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/MrWong99/jobvoice/internal/job"
)

// Compile-time assertion that Store satisfies the job.Store interface.
var _ job.Store = (*Store)(nil)

var (
	appPrefix = []byte("app/")
	ordPrefix = []byte("ord/")
	seqKey    = []byte("meta/seq")
)

type record struct {
	Seq uint64          `json:"seq"`
	App job.Application `json:"app"`
}

// Store is a Badger-backed job store. Writes are serialised by a mutex so
// concurrent callers never see transaction conflicts.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	wmu sync.Mutex
}

// Option configures [Open].
type Option func(*badger.Options)

// InMemory keeps all data in memory. The path passed to [Open] is ignored.
func InMemory() Option {
	return func(o *badger.Options) { *o = o.WithInMemory(true).WithDir("").WithValueDir("") }
}

// Open opens (or creates) the database rooted at dir.
func Open(dir string, opts ...Option) (*Store, error) {
	o := badger.DefaultOptions(dir).WithLogger(slogLogger{slog.Default().With("component", "badger")})
	for _, fn := range opts {
		fn(&o)
	}
	db, err := badger.Open(o)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %q: %w", dir, err)
	}
	seq, err := db.GetSequence(seqKey, 16)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badgerstore: sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

// Save implements [job.Store.Save].
func (s *Store) Save(ctx context.Context, app job.Application) (job.Application, bool, error) {
	if err := ctx.Err(); err != nil {
		return job.Application{}, false, err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var (
		saved   job.Application
		created bool
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		var prev *record
		if app.ID != "" {
			r, err := getRecord(txn, app.ID)
			switch {
			case errors.Is(err, job.ErrNotFound):
			case err != nil:
				return err
			default:
				prev = &r
			}
		}

		var prevApp *job.Application
		if prev != nil {
			prevApp = &prev.App
		}
		next, err := job.PrepareSave(app, prevApp, time.Now().UTC())
		if err != nil {
			return err
		}

		r := record{App: next}
		if prev != nil {
			r.Seq = prev.Seq
		} else {
			n, err := s.seq.Next()
			if err != nil {
				return fmt.Errorf("sequence: %w", err)
			}
			r.Seq = n
			if err := txn.Set(ordKey(n), []byte(next.ID)); err != nil {
				return err
			}
		}
		if err := putRecord(txn, r); err != nil {
			return err
		}
		saved, created = next, prev == nil
		return nil
	})
	if err != nil {
		return job.Application{}, false, wrap("save", err)
	}
	return saved, created, nil
}

// Update implements [job.Store.Update].
func (s *Store) Update(ctx context.Context, id string, p job.Patch) (job.Application, error) {
	if err := ctx.Err(); err != nil {
		return job.Application{}, err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var out job.Application
	err := s.db.Update(func(txn *badger.Txn) error {
		r, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		next, err := job.PreparePatch(r.App, p, time.Now().UTC())
		if err != nil {
			return err
		}
		r.App = next
		out = next
		return putRecord(txn, r)
	})
	if err != nil {
		return job.Application{}, wrap("update", err)
	}
	return out, nil
}

// Delete implements [job.Store.Delete].
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		r, err := getRecord(txn, id)
		if errors.Is(err, job.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(appKey(id)); err != nil {
			return err
		}
		removed = true
		return txn.Delete(ordKey(r.Seq))
	})
	if err != nil {
		return false, wrap("delete", err)
	}
	return removed, nil
}

// List implements [job.Store.List].
func (s *Store) List(ctx context.Context) ([]job.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []job.Application
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = ordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			r, err := getRecord(txn, string(id))
			if errors.Is(err, job.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, r.App)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list", err)
	}
	return out, nil
}

// FindByCompanyFuzzy implements [job.Store.FindByCompanyFuzzy].
func (s *Store) FindByCompanyFuzzy(ctx context.Context, name string) (job.Application, bool, error) {
	apps, err := s.List(ctx)
	if err != nil {
		return job.Application{}, false, err
	}
	a, ok := job.MatchCompany(apps, name)
	return a, ok, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func appKey(id string) []byte { return append(append([]byte(nil), appPrefix...), id...) }

func ordKey(seq uint64) []byte {
	k := make([]byte, len(ordPrefix)+8)
	copy(k, ordPrefix)
	binary.BigEndian.PutUint64(k[len(ordPrefix):], seq)
	return k
}

func getRecord(txn *badger.Txn, id string) (record, error) {
	item, err := txn.Get(appKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record{}, job.ErrNotFound
	}
	if err != nil {
		return record{}, err
	}
	var r record
	err = item.Value(func(v []byte) error { return json.Unmarshal(v, &r) })
	return r, err
}

func putRecord(txn *badger.Txn, r record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return txn.Set(appKey(r.App.ID), data)
}

// wrap keeps job sentinels matchable while prefixing storage failures.
func wrap(op string, err error) error {
	if errors.Is(err, job.ErrNotFound) || errors.Is(err, job.ErrInvalid) {
		return err
	}
	return fmt.Errorf("badgerstore: %s: %w", op, err)
}

// slogLogger routes Badger's logging through slog. Info and debug chatter
// is demoted to debug.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Errorf(f string, v ...any)   { s.l.Error(fmt.Sprintf(f, v...)) }
func (s slogLogger) Warningf(f string, v ...any) { s.l.Warn(fmt.Sprintf(f, v...)) }
func (s slogLogger) Infof(f string, v ...any)    { s.l.Debug(fmt.Sprintf(f, v...)) }
func (s slogLogger) Debugf(f string, v ...any)   { s.l.Debug(fmt.Sprintf(f, v...)) }
