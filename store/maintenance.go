package store

import (
	"context"

	"github.com/teranos/quadstore/storage"
)

// Flush makes every commit so far durable.
func (s *Store) Flush(ctx context.Context) error { return s.st.Flush(ctx) }

// Optimize refreshes planner statistics and truncates the write-ahead log.
func (s *Store) Optimize(ctx context.Context) error { return s.st.Optimize(ctx) }

// Backup writes an independent copy of the store into dir, which must not
// exist. The copy opens with Open.
func (s *Store) Backup(ctx context.Context, dir string) (*storage.Manifest, error) {
	return s.st.Backup(ctx, dir)
}

// Validate checks the database and the dictionary for corruption.
func (s *Store) Validate(ctx context.Context) error { return s.st.Validate(ctx) }

// Reclaim deletes dictionary terms nothing refers to any more and returns
// how many went. It does nothing while a write is in progress.
func (s *Store) Reclaim(ctx context.Context) (int64, error) { return s.st.Reclaim(ctx) }
