package storage

import (
	"context"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
)

// DefaultReclaimBatchSize bounds the ids deleted per statement.
const DefaultReclaimBatchSize = 500

// Reclaim deletes dictionary terms that no quad, registered graph or
// referenced triple term uses. It skips the run and returns 0 while a write
// is in progress.
func (s *Storage) Reclaim(ctx context.Context) (int64, error) {
	if err := s.checkWritable(); err != nil {
		return 0, err
	}
	if !s.writeMu.TryLock() {
		s.logger.Debugw("Reclaim deferred, writer busy")
		return 0, nil
	}
	tx, err := s.beginLocked(ctx, s.writer, s.writeMu.Unlock)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	start := time.Now()
	live, err := tx.referencedTerms(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := tx.tx.QueryContext(ctx, "SELECT id FROM terms")
	if err != nil {
		return 0, wrapSQL(err, "failed to scan terms")
	}
	var dead []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, wrapSQL(err, "failed to scan term id")
		}
		if !live.Contains(uint64(id)) {
			dead = append(dead, id)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return 0, wrapSQL(err, "failed to scan terms")
	}

	batch := s.opts.ReclaimBatchSize
	for i := 0; i < len(dead); i += batch {
		end := i + batch
		if end > len(dead) {
			end = len(dead)
		}
		chunk := dead[i:end]
		args := make([]interface{}, len(chunk))
		for j, id := range chunk {
			args[j] = id
		}
		query := "DELETE FROM terms WHERE id IN (?" + strings.Repeat(", ?", len(chunk)-1) + ")"
		if _, err := tx.tx.ExecContext(ctx, query, args...); err != nil {
			return 0, wrapSQL(err, "failed to delete unreferenced terms")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	for _, id := range dead {
		s.terms.Remove(id)
	}

	n := int64(len(dead))
	s.metrics.Reclaimed.Add(float64(n))
	s.logger.Infow("Dictionary reclaimed",
		logger.FieldReclaimed, n,
		logger.FieldCount, live.GetCardinality(),
		logger.FieldDurationMS, since(start),
	)
	return n, nil
}

// referencedTerms returns the closure of ids reachable from quads and the
// graph registry, following triple term components.
func (t *Transaction) referencedTerms(ctx context.Context) (*roaring64.Bitmap, error) {
	live := roaring64.New()

	rows, err := t.tx.QueryContext(ctx, "SELECT subject, predicate, object, graph_name FROM quads")
	if err != nil {
		return nil, wrapSQL(err, "failed to scan quads")
	}
	for rows.Next() {
		var s, p, o, g int64
		if err := rows.Scan(&s, &p, &o, &g); err != nil {
			rows.Close()
			return nil, wrapSQL(err, "failed to scan quad")
		}
		live.Add(uint64(s))
		live.Add(uint64(p))
		live.Add(uint64(o))
		live.Add(uint64(g))
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, wrapSQL(err, "failed to scan quads")
	}

	rows, err = t.tx.QueryContext(ctx, "SELECT graph_name FROM named_graphs")
	if err != nil {
		return nil, wrapSQL(err, "failed to scan named graphs")
	}
	for rows.Next() {
		var g int64
		if err := rows.Scan(&g); err != nil {
			rows.Close()
			return nil, wrapSQL(err, "failed to scan named graph")
		}
		live.Add(uint64(g))
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, wrapSQL(err, "failed to scan named graphs")
	}

	components, err := t.tripleComponents(ctx)
	if err != nil {
		return nil, err
	}

	// Walk triple terms until no new component is reached
	frontier := live.Clone()
	for !frontier.IsEmpty() {
		next := roaring64.New()
		it := frontier.Iterator()
		for it.HasNext() {
			id := it.Next()
			for _, c := range components[int64(id)] {
				if !live.Contains(uint64(c)) {
					live.Add(uint64(c))
					next.Add(uint64(c))
				}
			}
		}
		frontier = next
	}
	return live, nil
}

func (t *Transaction) tripleComponents(ctx context.Context) (map[int64][3]int64, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT id, subject_id, predicate_id, object_id FROM terms WHERE kind = ?", 4)
	if err != nil {
		return nil, wrapSQL(err, "failed to scan triple terms")
	}
	defer rows.Close()
	out := make(map[int64][3]int64)
	for rows.Next() {
		var id int64
		var c [3]int64
		if err := rows.Scan(&id, &c[0], &c[1], &c[2]); err != nil {
			return nil, wrapSQL(err, "failed to scan triple term")
		}
		out[id] = c
	}
	return out, wrapSQL(rows.Err(), "failed to scan triple terms")
}

// StartReclaimer runs Reclaim every interval until Close. A zero interval
// disables it.
func (s *Storage) StartReclaimer(interval time.Duration) {
	if interval <= 0 || !s.Writable() || s.reclaimStop != nil {
		return
	}
	s.reclaimStop = make(chan struct{})
	s.reclaimDone = make(chan struct{})
	go func() {
		defer close(s.reclaimDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.reclaimStop:
				return
			case <-ticker.C:
				if _, err := s.Reclaim(context.Background()); err != nil {
					s.logger.Warnw("Background reclaim failed", logger.FieldError, err)
				}
			}
		}
	}()
}

// StopReclaimer stops the background reclaimer, if any.
func (s *Storage) StopReclaimer() {
	if s.reclaimStop == nil {
		return
	}
	close(s.reclaimStop)
	<-s.reclaimDone
	s.reclaimStop = nil
}

// Optimize refreshes query planner statistics and truncates the WAL.
func (s *Storage) Optimize(ctx context.Context) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.writer.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return wrapSQL(err, "failed to optimize")
	}
	if _, err := s.writer.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return wrapSQL(err, "failed to checkpoint")
	}
	return nil
}

// Flush checkpoints the WAL into the database file so every commit so far
// is durable. It is a no-op on read-only handles.
func (s *Storage) Flush(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.Writable() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.writer.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)"); err != nil {
		return wrapSQL(err, "failed to flush")
	}
	return nil
}

// Validate checks SQLite's own integrity and that every id used by a quad,
// a registered graph or a triple term resolves in the dictionary.
func (s *Storage) Validate(ctx context.Context) error {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	defer snap.Close()

	rows, err := snap.tx.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return wrapSQL(err, "failed to check integrity")
	}
	var problems []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			rows.Close()
			return wrapSQL(err, "failed to check integrity")
		}
		if msg != "ok" {
			problems = append(problems, msg)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return wrapSQL(err, "failed to check integrity")
	}
	if len(problems) > 0 {
		return errors.WithDetail(
			errors.NewCorruptionError("integrity check failed with %d problems", len(problems)),
			strings.Join(problems, "\n"))
	}

	checks := []struct {
		what  string
		query string
	}{
		{"quad", `SELECT COUNT(*) FROM quads q WHERE
			NOT EXISTS (SELECT 1 FROM terms t WHERE t.id = q.subject) OR
			NOT EXISTS (SELECT 1 FROM terms t WHERE t.id = q.predicate) OR
			NOT EXISTS (SELECT 1 FROM terms t WHERE t.id = q.object) OR
			(q.graph_name <> 0 AND NOT EXISTS (SELECT 1 FROM terms t WHERE t.id = q.graph_name))`},
		{"named graph", `SELECT COUNT(*) FROM named_graphs g WHERE
			NOT EXISTS (SELECT 1 FROM terms t WHERE t.id = g.graph_name)`},
		{"triple term", `SELECT COUNT(*) FROM terms x WHERE x.kind = 4 AND (
			NOT EXISTS (SELECT 1 FROM terms t WHERE t.id = x.subject_id) OR
			NOT EXISTS (SELECT 1 FROM terms t WHERE t.id = x.predicate_id) OR
			NOT EXISTS (SELECT 1 FROM terms t WHERE t.id = x.object_id))`},
	}
	for _, c := range checks {
		var n int64
		if err := snap.tx.QueryRowContext(ctx, c.query).Scan(&n); err != nil {
			return wrapSQL(err, "failed to validate dictionary")
		}
		if n > 0 {
			return errors.NewCorruptionError("%d %s rows reference missing terms", n, c.what)
		}
	}
	return nil
}
