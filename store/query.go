package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
	"github.com/teranos/quadstore/rdf"
	"github.com/teranos/quadstore/sparql"
	"github.com/teranos/quadstore/storage"
)

// QueryOption configures one query.
type QueryOption func(*sparql.Options)

// WithBaseIRI resolves relative IRIs of a query without BASE.
func WithBaseIRI(iri string) QueryOption {
	return func(o *sparql.Options) { o.BaseIRI = iri }
}

// WithUnionDefaultGraph makes the default graph the union of all graphs.
func WithUnionDefaultGraph() QueryOption {
	return func(o *sparql.Options) { o.UnionDefaultGraph = true }
}

// WithDefaultGraphs sets the default graph to the listed graphs,
// overriding FROM.
func WithDefaultGraphs(graphs ...rdf.Term) QueryOption {
	return func(o *sparql.Options) { o.DefaultGraphs = append([]rdf.Term{}, graphs...) }
}

// WithNamedGraphs restricts GRAPH to the listed graphs, overriding
// FROM NAMED.
func WithNamedGraphs(graphs ...rdf.Term) QueryOption {
	return func(o *sparql.Options) { o.NamedGraphs = append([]rdf.Term{}, graphs...) }
}

// WithSubstitution binds the variable name, without '?', before evaluation.
func WithSubstitution(name string, value rdf.Term) QueryOption {
	return func(o *sparql.Options) {
		if o.Substitutions == nil {
			o.Substitutions = make(map[string]rdf.Term)
		}
		o.Substitutions[name] = value
	}
}

// WithCustomFunction registers fn under iri for this query.
func WithCustomFunction(iri string, fn sparql.CustomFunction) QueryOption {
	return func(o *sparql.Options) {
		if o.Functions == nil {
			o.Functions = make(map[string]sparql.CustomFunction)
		}
		o.Functions[iri] = fn
	}
}

// WithCustomAggregate registers an aggregate under iri for this query.
func WithCustomAggregate(iri string, agg sparql.CustomAggregate) QueryOption {
	return func(o *sparql.Options) {
		if o.Aggregates == nil {
			o.Aggregates = make(map[string]sparql.CustomAggregate)
		}
		o.Aggregates[iri] = agg
	}
}

// UpdateOption configures one update request.
type UpdateOption func(*sparql.UpdateOptions)

// WithUpdateBaseIRI resolves relative IRIs of an update without BASE.
func WithUpdateBaseIRI(iri string) UpdateOption {
	return func(o *sparql.UpdateOptions) { o.BaseIRI = iri }
}

// WithUpdateFunction registers fn under iri for the WHERE clauses of an
// update.
func WithUpdateFunction(iri string, fn sparql.CustomFunction) UpdateOption {
	return func(o *sparql.UpdateOptions) {
		if o.Functions == nil {
			o.Functions = make(map[string]sparql.CustomFunction)
		}
		o.Functions[iri] = fn
	}
}

// WithUpdateAggregate registers an aggregate under iri for the WHERE
// clauses of an update.
func WithUpdateAggregate(iri string, agg sparql.CustomAggregate) UpdateOption {
	return func(o *sparql.UpdateOptions) {
		if o.Aggregates == nil {
			o.Aggregates = make(map[string]sparql.CustomAggregate)
		}
		o.Aggregates[iri] = agg
	}
}

// Query evaluates a SPARQL query on a snapshot taken now. SELECT and
// CONSTRUCT results hold the snapshot until they are consumed or closed.
func (s *Store) Query(ctx context.Context, text string, opts ...QueryOption) (sparql.QueryResults, error) {
	snap, err := s.st.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, snap, snap, text, opts)
}

// query evaluates text over r. A non-nil snap is released once the results
// are done with it.
func (s *Store) query(ctx context.Context, r sparql.QuadReader, snap *storage.Snapshot, text string, opts []QueryOption) (sparql.QueryResults, error) {
	m := s.st.Metrics()
	start := time.Now()
	m.Queries.Inc()
	log := logger.FromContext(ctx, s.logger)

	release := func() {
		if snap != nil {
			snap.Close()
		}
	}
	fail := func(err error) (sparql.QueryResults, error) {
		release()
		m.QueryErrors.Inc()
		log.Debugw("Query failed",
			logger.FieldQuery, text,
			logger.FieldErrorKind, errors.KindOf(err).String(),
			logger.FieldError, err,
		)
		return nil, err
	}

	options := sparql.Options{UnionDefaultGraph: s.cfg.unionDefault, Logger: log}
	for _, opt := range opts {
		opt(&options)
	}

	q, err := sparql.ParseQuery(text, options.BaseIRI)
	if err != nil {
		return fail(err)
	}

	cancel := context.CancelFunc(func() {})
	if s.cfg.queryTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.queryTimeout)
	}
	res, err := sparql.Evaluate(ctx, r, q, options)
	if err != nil {
		cancel()
		return fail(err)
	}
	m.QueryDuration.Observe(time.Since(start).Seconds())

	done := func(err error) {
		cancel()
		release()
		if err != nil && !errors.Is(err, context.Canceled) {
			m.QueryErrors.Inc()
		}
	}
	switch v := res.(type) {
	case *sparql.Solutions:
		v.OnClose(done)
	case *sparql.Triples:
		v.OnClose(done)
	default:
		done(nil)
	}
	log.Debugw("Query prepared", logger.FieldForm, q.Form().String(), logger.FieldDurationMS, time.Since(start).Milliseconds())
	return res, nil
}

// Update executes a SPARQL update in one write transaction. Either every
// operation applies or none does. Malformed text fails before the write
// transaction starts.
func (s *Store) Update(ctx context.Context, text string, opts ...UpdateOption) error {
	p, err := s.prepareUpdate(ctx, text, opts)
	if err != nil {
		return err
	}
	return s.Transaction(ctx, func(tx *Transaction) error {
		return p.execute(ctx, tx.tx)
	})
}

type preparedUpdate struct {
	store   *Store
	update  *sparql.Update
	options sparql.UpdateOptions
	log     *zap.SugaredLogger
}

// prepareUpdate parses text and resolves the options of one request.
func (s *Store) prepareUpdate(ctx context.Context, text string, opts []UpdateOption) (*preparedUpdate, error) {
	m := s.st.Metrics()
	m.Updates.Inc()
	log := logger.FromContext(ctx, s.logger)

	options := sparql.UpdateOptions{Fetcher: s.fetcher, Logger: log}
	for _, opt := range opts {
		opt(&options)
	}
	u, err := sparql.ParseUpdate(text, options.BaseIRI)
	if err != nil {
		m.QueryErrors.Inc()
		log.Debugw("Update rejected", logger.FieldErrorKind, errors.KindOf(err).String(), logger.FieldError, err)
		return nil, err
	}
	return &preparedUpdate{store: s, update: u, options: options, log: log}, nil
}

func (p *preparedUpdate) execute(ctx context.Context, w sparql.QuadWriter) error {
	if timeout := p.store.cfg.queryTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := sparql.Execute(ctx, w, p.update, p.options)
	if err != nil {
		p.store.st.Metrics().QueryErrors.Inc()
		p.log.Debugw("Update failed",
			logger.FieldCount, p.update.Len(),
			logger.FieldErrorKind, errors.KindOf(err).String(),
			logger.FieldError, err,
		)
	}
	return err
}
