package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"bites/internal/ledger"

	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every Store adapter must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "reviews", "r1", ledger.Document{"title": "good", "rating": 4}))
		doc, err := s.Get(ctx, "reviews", "r1")
		require.NoError(t, err)
		require.Equal(t, "good", doc.String("title"))
		require.Equal(t, "r1", doc.Key())
		rating, err := doc.Int("rating")
		require.NoError(t, err)
		require.Equal(t, int64(4), rating)

		// overwrite
		require.NoError(t, s.Put(ctx, "reviews", "r1", ledger.Document{"title": "meh"}))
		doc, err = s.Get(ctx, "reviews", "r1")
		require.NoError(t, err)
		require.Equal(t, "meh", doc.String("title"))
		require.NotContains(t, doc, "rating")
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "reviews", "nope")
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("InsertRefusesExisting", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Insert(ctx, "users", "u1", ledger.Document{"name": "Ana"}))
		err := s.Insert(ctx, "users", "u1", ledger.Document{"name": "Bo"})
		require.ErrorIs(t, err, ledger.ErrAlreadyExists)

		doc, err := s.Get(ctx, "users", "u1")
		require.NoError(t, err)
		require.Equal(t, "Ana", doc.String("name"))
	})

	t.Run("ConcurrentInsertHasOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.Insert(ctx, "user_emails", "ana@example.edu", ledger.Document{"user_id": fmt.Sprint(i)})
			}(i)
		}
		wg.Wait()
		close(errs)

		wins := 0
		for err := range errs {
			if err == nil {
				wins++
				continue
			}
			require.ErrorIs(t, err, ledger.ErrAlreadyExists)
		}
		require.Equal(t, 1, wins)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "user_emails", "a", ledger.Document{"user_id": "u1"}))
		require.NoError(t, s.Put(ctx, "user_emails", "b", ledger.Document{"user_id": "u2"}))
		require.NoError(t, s.Delete(ctx, "user_emails", "a"))
		require.NoError(t, s.Delete(ctx, "user_emails", "missing"))

		_, err := s.Get(ctx, "user_emails", "a")
		require.ErrorIs(t, err, ledger.ErrNotFound)

		docs, err := ledger.Collect(s.ScanAll(ctx, "user_emails"))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		require.Equal(t, "b", docs[0].Key())

		// the id is free again
		require.NoError(t, s.Insert(ctx, "user_emails", "a", ledger.Document{"user_id": "u3"}))
	})

	t.Run("UpdateMerges", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "users", "u1", ledger.Document{"name": "Ana", "bio": ""}))
		require.NoError(t, s.Update(ctx, "users", "u1", ledger.Document{"bio": "eats a lot"}))

		doc, err := s.Get(ctx, "users", "u1")
		require.NoError(t, err)
		require.Equal(t, "Ana", doc.String("name"))
		require.Equal(t, "eats a lot", doc.String("bio"))

		err = s.Update(ctx, "users", "ghost", ledger.Document{"bio": "x"})
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("ScanAllKeepsInsertionOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ids := []string{"c", "a", "b"}
		for _, id := range ids {
			require.NoError(t, s.Put(ctx, "dining", id, ledger.Document{"id": id}))
		}
		// overwriting must not move the document
		require.NoError(t, s.Put(ctx, "dining", "c", ledger.Document{"id": "c", "x": true}))

		seq := s.ScanAll(ctx, "dining")
		for pass := 0; pass < 2; pass++ {
			docs, err := ledger.Collect(seq)
			require.NoError(t, err)
			var got []string
			for _, d := range docs {
				require.Equal(t, d.Key(), d.String("id"))
				got = append(got, d.String("id"))
			}
			require.Equal(t, ids, got)
		}
	})

	t.Run("ScanWhere", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "reviews", "r1", ledger.Document{"venue_id": "north", "rating": 5}))
		require.NoError(t, s.Put(ctx, "reviews", "r2", ledger.Document{"venue_id": "south", "rating": 3}))
		require.NoError(t, s.Put(ctx, "reviews", "r3", ledger.Document{"venue_id": "north", "rating": 3}))

		docs, err := ledger.Collect(s.ScanWhere(ctx, "reviews", "venue_id", "north"))
		require.NoError(t, err)
		require.Len(t, docs, 2)

		docs, err = ledger.Collect(s.ScanWhere(ctx, "reviews", "rating", 3))
		require.NoError(t, err)
		require.Len(t, docs, 2)

		docs, err = ledger.Collect(s.ScanWhere(ctx, "reviews", "venue_id", "east"))
		require.NoError(t, err)
		require.Empty(t, docs)
	})

	t.Run("AppendIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "users", "u1", ledger.Document{"review_ids": []string{}}))
		require.NoError(t, s.Append(ctx, "users", "u1", "review_ids", "r1"))
		require.NoError(t, s.Append(ctx, "users", "u1", "review_ids", "r2"))
		require.NoError(t, s.Append(ctx, "users", "u1", "review_ids", "r1"))

		doc, err := s.Get(ctx, "users", "u1")
		require.NoError(t, err)
		require.Equal(t, []string{"r1", "r2"}, doc.Strings("review_ids"))

		err = s.Append(ctx, "users", "ghost", "review_ids", "r1")
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("ConcurrentAppend", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "users", "u1", ledger.Document{"attendance_ids": []string{}}))

		const n = 25
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.Append(ctx, "users", "u1", "attendance_ids", fmt.Sprintf("d%d", i))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		doc, err := s.Get(ctx, "users", "u1")
		require.NoError(t, err)
		require.Len(t, doc.Strings("attendance_ids"), n)
	})

	t.Run("IncrementCreatesAndDedups", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		total, err := s.Increment(ctx, "diningTotals", "north", "total", 1, "e1")
		require.NoError(t, err)
		require.Equal(t, int64(1), total)

		total, err = s.Increment(ctx, "diningTotals", "north", "total", 1, "e2")
		require.NoError(t, err)
		require.Equal(t, int64(2), total)

		// replay of e1
		total, err = s.Increment(ctx, "diningTotals", "north", "total", 1, "e1")
		require.NoError(t, err)
		require.Equal(t, int64(2), total)

		// the same key on another document is independent
		total, err = s.Increment(ctx, "diningTotals", "south", "total", 1, "e1")
		require.NoError(t, err)
		require.Equal(t, int64(1), total)
	})

	t.Run("ConcurrentIncrementLosesNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const n = 50
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Increment(ctx, "diningTotals", "north", "total", 1, fmt.Sprintf("e%d", i))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		doc, err := s.Get(ctx, "diningTotals", "north")
		require.NoError(t, err)
		total, err := doc.Int("total")
		require.NoError(t, err)
		require.Equal(t, int64(n), total)
	})
}
