package badgerstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrWong99/jobvoice/internal/job"
	"github.com/MrWong99/jobvoice/internal/job/badgerstore"
)

func openMem(t *testing.T) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.Open("", badgerstore.InMemory())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openMem(t)

	acme, created, err := s.Save(ctx, job.Application{Company: "Acme Corp", Role: "Backend Engineer", Source: "LinkedIn"})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, acme.ID)

	stripe, _, err := s.Save(ctx, job.Application{Company: "Stripe Inc.", Role: "SRE"})
	require.NoError(t, err)

	got, err := s.Update(ctx, stripe.ID, job.Patch{Status: ptr(job.StatusOffer)})
	require.NoError(t, err)
	require.Equal(t, job.StatusOffer, got.Status)
	require.Equal(t, "SRE", got.Role)

	replaced, created, err := s.Save(ctx, job.Application{ID: acme.ID, Company: "Acme Corp", Role: "Staff Engineer"})
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, replaced.CreatedAt.Equal(acme.CreatedAt))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Staff Engineer", all[0].Role, "replacement keeps creation position")
	require.Equal(t, stripe.ID, all[1].ID)

	m, ok, err := s.FindByCompanyFuzzy(ctx, "stripe")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, stripe.ID, m.ID)

	removed, err := s.Delete(ctx, acme.ID)
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = s.Delete(ctx, acme.ID)
	require.NoError(t, err)
	require.False(t, removed)

	all, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestStore_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openMem(t)

	_, err := s.Update(ctx, "ghost", job.Patch{Notes: ptr("x")})
	require.True(t, errors.Is(err, job.ErrNotFound), "got %v", err)

	_, _, err = s.Save(ctx, job.Application{Company: "A"})
	require.True(t, errors.Is(err, job.ErrInvalid), "got %v", err)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	s, err := badgerstore.Open(dir)
	require.NoError(t, err)
	var ids []string
	for _, c := range []string{"Zeta", "Alpha", "Mid"} {
		a, _, err := s.Save(ctx, job.Application{Company: c, Role: "Engineer"})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	require.NoError(t, s.Close())

	s, err = badgerstore.Open(dir)
	require.NoError(t, err)
	defer s.Close()

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, a := range all {
		require.Equal(t, ids[i], a.ID)
	}

	// New records sort after the reopened ones.
	d, _, err := s.Save(ctx, job.Application{Company: "Delta", Role: "Engineer"})
	require.NoError(t, err)
	all, err = s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, d.ID, all[len(all)-1].ID)
}

func ptr[T any](v T) *T { return &v }
