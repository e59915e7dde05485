package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

func sample(handle string, at time.Time, solved int64) *profile.Metrics {
	m := profile.New(profile.Codeforces, handle, "https://codeforces.com/profile/"+handle, at)
	m.Rating = profile.Int(1500)
	m.SetCounter(profile.CounterRating, 1500)
	m.SetCounter(profile.CounterProblemsSolved, solved)
	m.SetUnknown(profile.CounterAvgProblemRating)
	m.MarkPartial("approximate due to submission cap of 2500")
	m.Details = &profile.Details{Codeforces: &profile.CodeforcesDetails{Rank: "expert", RatingHistory: []profile.RatingChange{}}}
	return m
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	sq, err := OpenSQLite(ctx, filepath.Join(dir, "metrics.db"))
	require.NoError(t, err)
	disk, err := OpenDisk(filepath.Join(dir, "records"))
	require.NoError(t, err)

	all := map[string]Store{
		KindMemory: NewMemory(),
		KindSQLite: sq,
		KindDisk:   disk,
	}
	t.Cleanup(func() {
		for _, s := range all {
			_ = s.Close() //nolint:errcheck // test cleanup
		}
	})
	return all
}

func TestStoreContract(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2026, 5, 1, 10, 0, 0, 123456000, time.UTC)

			_, err := s.Get(ctx, "u1", profile.Codeforces)
			require.ErrorIs(t, err, ErrNotFound)

			want := sample("tourist", at, 10)
			require.NoError(t, s.Upsert(ctx, "u1", profile.Codeforces, want))

			got, err := s.Get(ctx, "u1", profile.Codeforces)
			require.NoError(t, err)
			assert.Equal(t, want.Handle, got.Handle)
			assert.True(t, want.FetchedAt.Equal(got.FetchedAt), "fetchedAt %v != %v", got.FetchedAt, want.FetchedAt)
			assert.True(t, got.Partial)
			assert.Equal(t, want.SourceNote, got.SourceNote)
			assert.Equal(t, 1500, *got.Rating)

			v, ok := got.Counter(profile.CounterProblemsSolved)
			assert.True(t, ok)
			assert.Equal(t, int64(10), v)

			nullCounter, present := got.Counters[profile.CounterAvgProblemRating]
			assert.True(t, present, "null counter dropped")
			assert.Nil(t, nullCounter)
			assert.Equal(t, "expert", got.Details.Codeforces.Rank)

			// Full replace, not merge.
			next := profile.New(profile.Codeforces, "tourist", "", at.Add(time.Minute))
			next.SetCounter(profile.CounterRating, 1600)
			require.NoError(t, s.Upsert(ctx, "u1", profile.Codeforces, next))

			got, err = s.Get(ctx, "u1", profile.Codeforces)
			require.NoError(t, err)
			_, stale := got.Counters[profile.CounterProblemsSolved]
			assert.False(t, stale, "old counter survived a replace")
			assert.False(t, got.Partial)
			assert.Nil(t, got.Details)

			// Keys are per user and per platform.
			_, err = s.Get(ctx, "u2", profile.Codeforces)
			require.ErrorIs(t, err, ErrNotFound)
			_, err = s.Get(ctx, "u1", profile.CodeChef)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	m := sample("a", time.Now(), 1)
	require.NoError(t, s.Upsert(ctx, "u", profile.Codeforces, m))

	m.SetCounter(profile.CounterProblemsSolved, 999)

	got, err := s.Get(ctx, "u", profile.Codeforces)
	require.NoError(t, err)
	v, _ := got.Counter(profile.CounterProblemsSolved)
	assert.Equal(t, int64(1), v)
}

func TestMemoryConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := []string{"a", "b"}[i%2]
			assert.NoError(t, s.Upsert(ctx, user, profile.Codeforces, sample("h", time.Now(), int64(i))))
		}()
	}
	wg.Wait()

	for _, user := range []string{"a", "b"} {
		_, err := s.Get(ctx, user, profile.Codeforces)
		assert.NoError(t, err)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now()

	require.NoError(t, s.Upsert(ctx, "u", profile.CodeChef, profile.New(profile.CodeChef, "c", "", now)))
	require.NoError(t, s.Upsert(ctx, "u", profile.GitHub, profile.New(profile.GitHub, "g", "", now)))
	require.NoError(t, s.Upsert(ctx, "other", profile.LeetCode, profile.New(profile.LeetCode, "l", "", now)))

	got, err := List(ctx, s, "u")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, profile.GitHub, got[0].Platform)
	assert.Equal(t, profile.CodeChef, got[1].Platform)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, "SQLite", filepath.Join(t.TempDir(), "nested", "m.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, "mongo", "")
	require.Error(t, err)

	_, err = Open(ctx, KindPostgres, "")
	require.Error(t, err)

	_, err = Open(ctx, KindRedis, "")
	require.Error(t, err)
}

func TestUpsertRejectsNil(t *testing.T) {
	require.Error(t, NewMemory().Upsert(context.Background(), "u", profile.GitHub, nil))
}
