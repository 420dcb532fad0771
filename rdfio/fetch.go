package rdfio

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	getter "github.com/hashicorp/go-getter"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
)

// Document is a fetched RDF document.
type Document struct {
	Body    io.ReadCloser
	Format  Format
	BaseIRI string
}

// Fetcher retrieves documents named by SPARQL LOAD. http and https go
// through a retrying client with content negotiation; every other scheme
// (file, s3, gcs, git, ...) goes through go-getter.
type Fetcher struct {
	client *retryablehttp.Client
	logger *zap.SugaredLogger
}

// NewFetcher creates a fetcher. A nil logger uses the rdfio component logger.
func NewFetcher(l *zap.SugaredLogger) *Fetcher {
	l = logger.OrComponent(l, "rdfio.fetch")
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = leveledLogger{l}
	return &Fetcher{client: client, logger: l}
}

// WithRetryMax returns f with a different retry budget.
func (f *Fetcher) WithRetryMax(n int) *Fetcher {
	f.client.RetryMax = n
	return f
}

// Fetch opens source. The format comes from the Content-Type header, then
// the file extension. Callers must close the document body.
func (f *Fetcher) Fetch(ctx context.Context, source string) (*Document, error) {
	lower := strings.ToLower(source)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return f.fetchHTTP(ctx, source)
	}
	return f.fetchGetter(ctx, source)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, source string) (*Document, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, errors.NewIOError(err, "invalid LOAD source %s", source)
	}
	req.Header.Set("Accept", acceptHeader())

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.NewIOError(err, "failed to fetch %s", source)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		err := errors.NewIOError(nil, "failed to fetch %s: HTTP %d", source, resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			err = errors.Mark(err, errors.ErrNotFound)
		}
		return nil, err
	}

	format, ok := FormatFromMediaType(resp.Header.Get("Content-Type"))
	if !ok {
		format, ok = FormatFromExtension(resp.Request.URL.Path)
	}
	if !ok {
		resp.Body.Close()
		return nil, errors.NewConstraintError("unsupported content type %q from %s", resp.Header.Get("Content-Type"), source)
	}

	f.logger.Debugw("Fetched document",
		logger.FieldSource, source,
		logger.FieldFormat, format.Name,
	)
	return &Document{Body: resp.Body, Format: format, BaseIRI: resp.Request.URL.String()}, nil
}

func (f *Fetcher) fetchGetter(ctx context.Context, source string) (*Document, error) {
	format, ok := FormatFromExtension(source)
	if !ok {
		return nil, errors.NewConstraintError("cannot infer RDF format of %s", source)
	}

	tempDir, err := os.MkdirTemp("", "quadstore-load-*")
	if err != nil {
		return nil, errors.NewIOError(err, "failed to create temp directory")
	}
	dst := filepath.Join(tempDir, "document")

	client := &getter.Client{
		Ctx:     ctx,
		Src:     source,
		Dst:     dst,
		Mode:    getter.ClientModeFile,
		Getters: getter.Getters,
	}
	if err := client.Get(); err != nil {
		os.RemoveAll(tempDir)
		return nil, errors.NewIOError(err, "failed to fetch %s", source)
	}

	file, err := os.Open(dst)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, errors.NewIOError(err, "failed to open fetched %s", source)
	}

	f.logger.Debugw("Fetched document",
		logger.FieldSource, source,
		logger.FieldFormat, format.Name,
	)
	return &Document{Body: &tempFile{File: file, dir: tempDir}, Format: format, BaseIRI: source}, nil
}

// tempFile removes its directory on close.
type tempFile struct {
	*os.File
	dir string
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	os.RemoveAll(t.dir)
	return err
}

func acceptHeader() string {
	formats := Formats()
	parts := make([]string, 0, len(formats)+1)
	for _, f := range formats {
		if f.MediaType != "" {
			parts = append(parts, f.MediaType)
		}
	}
	parts = append(parts, "*/*;q=0.1")
	return strings.Join(parts, ", ")
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	l *zap.SugaredLogger
}

func (z leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	z.l.Errorw(msg, keysAndValues...)
}

func (z leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	z.l.Infow(msg, keysAndValues...)
}

func (z leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	z.l.Debugw(msg, keysAndValues...)
}

func (z leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	z.l.Warnw(msg, keysAndValues...)
}
