package storage

import (
	"context"
	"database/sql"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teranos/quadstore/db"
	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
	"github.com/teranos/quadstore/rdf"
)

// DefaultBulkBatchSize is the number of quads committed per bulk batch.
const DefaultBulkBatchSize = 10000

// QuadSource yields quads until io.EOF. rdfio decoders satisfy it.
type QuadSource interface {
	Next() (rdf.Quad, error)
}

// BulkOptions configures a bulk load.
type BulkOptions struct {
	BatchSize int // 0 = DefaultBulkBatchSize
	// Progress is called after each committed batch with the number of
	// quads loaded so far.
	Progress func(loaded int64)
	// OnParseError is called for each syntax error. The bad statement is
	// skipped and loading continues. Without it the first syntax error
	// ends the load.
	OnParseError func(err error)
}

// BulkLoad writes the quads of src in independent batches. It is not atomic:
// when it fails, the batches committed before the failure stay visible. It
// returns the number of quads written.
func (s *Storage) BulkLoad(ctx context.Context, src QuadSource, opts BulkOptions) (int64, error) {
	if err := s.checkWritable(); err != nil {
		return 0, err
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBulkBatchSize
	}

	conn, err := db.Open(s.DatabasePath(), db.Options{Mode: db.ModeBulk, BusyTimeoutMS: s.opts.BusyTimeoutMS}, nil)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	start := time.Now()
	batches := make(chan []rdf.Quad, 2)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)
		batch := make([]rdf.Quad, 0, batchSize)
		for {
			q, err := src.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				if opts.OnParseError != nil && errors.IsSyntaxError(err) {
					opts.OnParseError(err)
					continue
				}
				return errors.AsIO(err)
			}
			batch = append(batch, q)
			if len(batch) < batchSize {
				continue
			}
			select {
			case batches <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
			batch = make([]rdf.Quad, 0, batchSize)
		}
		if len(batch) > 0 {
			select {
			case batches <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	// Batches already parsed are still written after a parse failure, so
	// the writer uses ctx rather than gctx.
	var loaded int64
	g.Go(func() error {
		for batch := range batches {
			if err := s.writeBatch(ctx, conn, batch); err != nil {
				return err
			}
			loaded += int64(len(batch))
			s.metrics.BulkLoaded.Add(float64(len(batch)))
			if opts.Progress != nil {
				opts.Progress(loaded)
			}
		}
		return nil
	})

	err = g.Wait()
	s.logger.Infow("Bulk load finished",
		logger.FieldTotalCount, loaded,
		logger.FieldBatchSize, batchSize,
		logger.FieldDurationMS, since(start),
		logger.FieldError, err,
	)
	return loaded, err
}

// BulkExtend writes quads in batches, like BulkLoad.
func (s *Storage) BulkExtend(ctx context.Context, quads []rdf.Quad, opts BulkOptions) (int64, error) {
	return s.BulkLoad(ctx, &sliceSource{quads: quads}, opts)
}

func (s *Storage) writeBatch(ctx context.Context, conn *sql.DB, batch []rdf.Quad) error {
	s.writeMu.Lock()
	tx, err := s.beginLocked(ctx, conn, s.writeMu.Unlock)
	if err != nil {
		return err
	}
	for _, q := range batch {
		if _, err := tx.Insert(ctx, q); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit(ctx)
}

type sliceSource struct {
	quads []rdf.Quad
	pos   int
}

func (s *sliceSource) Next() (rdf.Quad, error) {
	if s.pos >= len(s.quads) {
		return rdf.Quad{}, io.EOF
	}
	q := s.quads[s.pos]
	s.pos++
	return q, nil
}
