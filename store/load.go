package store

import (
	"context"
	"io"
	"time"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
	"github.com/teranos/quadstore/rdf"
	"github.com/teranos/quadstore/rdfio"
	"github.com/teranos/quadstore/storage"
)

type loadConfig struct {
	base         string
	graph        rdf.Term
	batchSize    int
	progress     func(loaded int64)
	onParseError func(err error)
}

// LoadOption configures Load, BulkLoad and BulkExtend.
type LoadOption func(*loadConfig)

// WithBase resolves relative IRIs of the document against iri.
func WithBase(iri string) LoadOption {
	return func(c *loadConfig) { c.base = iri }
}

// ToGraph loads a triple format into g instead of the default graph. It is
// a constraint error with a quad format.
func ToGraph(g rdf.Term) LoadOption {
	return func(c *loadConfig) { c.graph = g }
}

// WithBatchSize sets the number of quads committed per bulk batch.
func WithBatchSize(n int) LoadOption {
	return func(c *loadConfig) { c.batchSize = n }
}

// WithProgress is called after each bulk batch with the quads loaded so far.
func WithProgress(fn func(loaded int64)) LoadOption {
	return func(c *loadConfig) { c.progress = fn }
}

// WithParseErrorHandler makes bulk loads skip bad statements, reporting
// each one to fn. Without it the first syntax error stops the load.
func WithParseErrorHandler(fn func(err error)) LoadOption {
	return func(c *loadConfig) { c.onParseError = fn }
}

func (s *Store) loadConfig(f *rdfio.Format, opts []LoadOption) (loadConfig, error) {
	c := loadConfig{batchSize: s.cfg.bulkBatchSize}
	for _, opt := range opts {
		opt(&c)
	}
	if c.graph != nil && f != nil && f.Dataset {
		return c, errors.NewConstraintError("cannot load %s data into a single graph", f.Name)
	}
	if c.graph != nil && !rdf.ValidGraphName(c.graph) {
		return c, errors.NewConstraintError("%v cannot name a graph", c.graph)
	}
	return c, nil
}

// targetGraph moves the quads of a triple format into the target graph.
type targetGraph struct {
	src   storage.QuadSource
	graph rdf.Term
}

func (t targetGraph) Next() (rdf.Quad, error) {
	q, err := t.src.Next()
	if err == nil && t.graph != nil {
		q.G = t.graph
	}
	return q, err
}

// Load parses the whole document and inserts it in one transaction. Nothing
// is written when the document is malformed. It returns the number of new
// quads.
func (s *Store) Load(ctx context.Context, r io.Reader, f rdfio.Format, opts ...LoadOption) (int64, error) {
	c, err := s.loadConfig(&f, opts)
	if err != nil {
		return 0, err
	}
	dec, err := rdfio.NewDecoder(f, r, rdfio.DecoderOptions{BaseIRI: c.base})
	if err != nil {
		return 0, err
	}
	var quads []rdf.Quad
	src := targetGraph{src: dec, graph: c.graph}
	for {
		q, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		quads = append(quads, q)
	}

	start := time.Now()
	n, err := s.Extend(ctx, quads)
	if err != nil {
		return 0, err
	}
	s.logger.Infow("Document loaded",
		logger.FieldFormat, f.Name,
		logger.FieldCount, len(quads),
		logger.FieldInserted, n,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return n, nil
}

// BulkLoad streams the document into the store in independent batches. It
// is not atomic: after a failure the batches committed before it stay. It
// returns the number of quads written.
func (s *Store) BulkLoad(ctx context.Context, r io.Reader, f rdfio.Format, opts ...LoadOption) (int64, error) {
	c, err := s.loadConfig(&f, opts)
	if err != nil {
		return 0, err
	}
	dec, err := rdfio.NewDecoder(f, r, rdfio.DecoderOptions{BaseIRI: c.base})
	if err != nil {
		return 0, err
	}
	return s.st.BulkLoad(ctx, targetGraph{src: dec, graph: c.graph}, c.bulkOptions())
}

// BulkExtend writes quads in independent batches, like BulkLoad.
func (s *Store) BulkExtend(ctx context.Context, quads []rdf.Quad, opts ...LoadOption) (int64, error) {
	c, err := s.loadConfig(nil, opts)
	if err != nil {
		return 0, err
	}
	if c.graph != nil {
		moved := make([]rdf.Quad, len(quads))
		for i, q := range quads {
			q.G = c.graph
			moved[i] = q
		}
		quads = moved
	}
	return s.st.BulkExtend(ctx, quads, c.bulkOptions())
}

func (c loadConfig) bulkOptions() storage.BulkOptions {
	return storage.BulkOptions{
		BatchSize:    c.batchSize,
		Progress:     c.progress,
		OnParseError: c.onParseError,
	}
}

// Dump serializes the store to w. A triple format writes one graph,
// fromGraph or the default graph when nil. A quad format writes every graph
// and rejects fromGraph.
func (s *Store) Dump(ctx context.Context, w io.Writer, f rdfio.Format, fromGraph rdf.Term) error {
	if f.Dataset && fromGraph != nil {
		return errors.NewConstraintError("%s dumps the whole dataset, a graph cannot be selected", f.Name)
	}
	if !f.Dataset && fromGraph == nil {
		fromGraph = rdf.DefaultGraph
	}
	enc, err := rdfio.NewEncoder(f, w)
	if err != nil {
		return err
	}
	return s.read(ctx, func(snap *storage.Snapshot) error {
		it, err := snap.Match(ctx, rdf.QuadPattern{G: fromGraph})
		if err != nil {
			return err
		}
		defer it.Close()
		for it.Next() {
			q := it.Quad()
			if !f.Dataset {
				q.G = rdf.DefaultGraph
			}
			if err := enc.Encode(q); err != nil {
				return err
			}
		}
		if err := it.Err(); err != nil {
			return err
		}
		return enc.Close()
	})
}
