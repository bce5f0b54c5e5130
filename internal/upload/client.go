package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"media-pipeline/internal/ledger"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediaerr"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/metrics"
)

var log = logging.Component("upload")

const (
	// DefaultThreshold is the size above which files are chunked.
	DefaultThreshold = 5 << 20
	// DefaultChunkSize is the fixed chunk length.
	DefaultChunkSize = 1 << 20
	// DefaultMaxRetries is how many times a failed file is retried.
	DefaultMaxRetries = 3
	// DefaultInitialBackoff is the first retry wait; each later wait doubles.
	DefaultInitialBackoff = time.Second
	// DefaultRequestTimeout bounds every HTTP request.
	DefaultRequestTimeout = 60 * time.Second
	// DefaultWorkers bounds UploadAll's parallel files.
	DefaultWorkers = 3
)

// ProgressFunc receives a file's progress as a percentage. Values never
// decrease for one Upload call.
type ProgressFunc func(percent float64)

// Config configures a Client. Zero values select the defaults above.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	// Ledger persists acknowledged chunks; nil keeps them in memory only.
	Ledger ledger.Ledger

	HTTPClient     *http.Client
	Threshold      int64
	ChunkSize      int64
	MaxRetries     int
	InitialBackoff time.Duration
	RequestTimeout time.Duration
	Workers        int

	// Timer drives retry waits; nil uses real time.
	Timer backoff.Timer
}

// Client uploads files using the single-request or resumable chunked
// protocol.
type Client struct {
	base   *url.URL
	ledger ledger.Ledger
	http   *http.Client
	cfg    Config
}

// NewClient validates cfg and returns a client.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, mediaerr.InvalidParameter("upload", "invalid server URL %q", cfg.BaseURL)
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Ledger == nil {
		cfg.Ledger = ledger.NewMemory()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{base: base, ledger: cfg.Ledger, http: httpClient, cfg: cfg}, nil
}

// Session reports the resumable state of path from the ledger.
func (c *Client) Session(ctx context.Context, path string) (*Session, error) {
	id, err := IdentityOf(path)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindSourceNotFound, "upload", err)
	}
	return c.loadSession(ctx, id)
}

func (c *Client) loadSession(ctx context.Context, id Identity) (*Session, error) {
	s := newSession(id, c.cfg.ChunkSize)
	indices, err := c.ledger.Load(ctx, id.LedgerKey(s.ChunkSize))
	if err != nil {
		return nil, err
	}
	for _, i := range indices {
		if err := s.MarkUploaded(i); err != nil {
			log.Warn("ignoring stale ledger entry for %s: %v", id.Name, err)
		}
	}
	if len(s.Uploaded) > 0 {
		s.Status = StatusUploading
	}
	return s, nil
}

// Resumable returns the interrupted chunked uploads recorded in the ledger,
// sorted by key. Entries that do not parse are skipped.
func (c *Client) Resumable(ctx context.Context) ([]*Session, error) {
	keys, err := c.ledger.Keys(ctx)
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(keys))
	for _, key := range keys {
		id, chunkSize, err := ParseLedgerKey(key)
		if err != nil {
			log.Debug("skipping ledger entry: %v", err)
			continue
		}
		indices, err := c.ledger.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		s := newSession(id, chunkSize)
		for _, i := range indices {
			if err := s.MarkUploaded(i); err != nil {
				log.Debug("skipping index in %s: %v", key, err)
			}
		}
		s.Status = StatusUploading
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Upload sends path to the server and returns the stored record. Failed
// attempts are retried with exponential backoff; acknowledged chunks are
// kept in the ledger across attempts and across process restarts.
func (c *Client) Upload(ctx context.Context, path string, meta mediatypes.UploadMetadata, progress ProgressFunc) (*mediatypes.MediaRecord, error) {
	id, err := IdentityOf(path)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindSourceNotFound, "upload", err)
	}

	mode := "single"
	if id.Size > c.cfg.Threshold {
		mode = "chunked"
	}
	report := monotonic(progress)

	var record *mediatypes.MediaRecord
	attempt := func() error {
		var err error
		if mode == "chunked" {
			record, err = c.uploadChunked(ctx, path, id, meta, report)
		} else {
			record, err = c.uploadSingle(ctx, path, id, meta, report)
		}
		if err != nil && !mediaerr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.UploadRetriesTotal.Inc()
		log.Warn("upload of %s failed, retrying in %v: %v", id.Name, wait, err)
	}

	err = backoff.RetryNotifyWithTimer(attempt, c.retryPolicy(ctx), notify, c.cfg.Timer)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(mode, "error").Inc()
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		log.Error("upload of %s failed: %v", id.Name, err)
		return nil, fmt.Errorf("upload %s: %w", id.Name, err)
	}

	metrics.UploadsTotal.WithLabelValues(mode, "success").Inc()
	report(100)
	log.Info("uploaded %s (%d bytes, %s) as %s", id.Name, id.Size, mode, record.ID)
	return record, nil
}

// retryPolicy waits InitialBackoff × 2^attempt, MaxRetries times.
func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.cfg.InitialBackoff << c.cfg.MaxRetries
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)
}

func (c *Client) uploadSingle(ctx context.Context, path string, id Identity, meta mediatypes.UploadMetadata, report ProgressFunc) (*mediatypes.MediaRecord, error) {
	report(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindSourceNotFound, "upload", err)
	}

	fields := map[string]string{FieldFileID: id.Key(), FieldFileName: id.Name}
	if !meta.IsZero() {
		b, _ := json.Marshal(meta)
		fields[FieldMetadata] = string(b)
	}
	body, contentType, err := multipartBody(fields, FieldFile, id.Name, data)
	if err != nil {
		return nil, err
	}

	var resp RecordResponse
	if err := c.do(ctx, "upload", http.MethodPost, PathSingle, contentType, body, &resp); err != nil {
		return nil, err
	}
	if resp.Record == nil {
		return nil, mediaerr.New(mediaerr.KindUpload, "upload", "server returned no record")
	}
	metrics.UploadBytesTotal.Add(float64(len(data)))
	return resp.Record, nil
}

func (c *Client) uploadChunked(ctx context.Context, path string, id Identity, meta mediatypes.UploadMetadata, report ProgressFunc) (*mediatypes.MediaRecord, error) {
	// Each attempt starts from the ledger, not from in-memory state.
	s, err := c.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Status = StatusUploading
	key := id.LedgerKey(s.ChunkSize)

	if skipped := len(s.Uploaded); skipped > 0 {
		metrics.UploadChunksTotal.WithLabelValues("skipped").Add(float64(skipped))
		log.Info("resuming %s: %d of %d chunks already uploaded", id.Name, skipped, s.TotalChunks)
	}
	report(s.Percent())

	f, err := os.Open(path)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindSourceNotFound, "upload", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn("failed to close %s: %v", path, err)
		}
	}()

	buf := make([]byte, s.ChunkSize)
	last := s.TotalChunks - 1
	for _, index := range s.Pending() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := f.ReadAt(buf[:s.chunkLen(index)], int64(index)*s.ChunkSize)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, mediaerr.Wrap(mediaerr.KindSourceNotFound, fmt.Sprintf("chunk %d", index), err)
		}
		chunk := buf[:n]

		fields := map[string]string{
			FieldChunkIndex:  strconv.Itoa(index),
			FieldTotalChunks: strconv.Itoa(s.TotalChunks),
			FieldFileID:      key,
			FieldFileName:    id.Name,
			FieldChunkHash:   ChunkHash(chunk),
		}
		if index == last && !meta.IsZero() {
			b, _ := json.Marshal(meta)
			fields[FieldMetadata] = string(b)
		}
		body, contentType, err := multipartBody(fields, FieldChunk, id.Name, chunk)
		if err != nil {
			return nil, err
		}

		var resp ChunkResponse
		if err := c.do(ctx, fmt.Sprintf("chunk %d", index), http.MethodPost, PathChunk, contentType, body, &resp); err != nil {
			metrics.UploadChunksTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		// Only an acknowledged and durably recorded chunk counts.
		if err := c.ledger.Append(ctx, key, index); err != nil {
			return nil, err
		}
		if err := s.MarkUploaded(index); err != nil {
			return nil, err
		}
		metrics.UploadChunksTotal.WithLabelValues("sent").Inc()
		metrics.UploadBytesTotal.Add(float64(n))
		report(s.Percent())

		if resp.Assembled && resp.Record != nil {
			s.Status = StatusCompleted
			c.clearLedger(ctx, key)
			return resp.Record, nil
		}
	}

	req := FinalizeRequest{FileID: key, TotalChunks: s.TotalChunks, FileName: id.Name, Metadata: meta}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var resp RecordResponse
	if err := c.do(ctx, "finalize", http.MethodPost, PathFinalize, "application/json", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Record == nil {
		return nil, mediaerr.New(mediaerr.KindUpload, "finalize", "server returned no record")
	}

	s.Status = StatusCompleted
	c.clearLedger(ctx, key)
	return resp.Record, nil
}

// clearLedger forgets a completed upload. A failure only leaves a stale
// entry that a later upload of a changed file will not match.
func (c *Client) clearLedger(ctx context.Context, key string) {
	if err := c.ledger.Clear(ctx, key); err != nil {
		log.Warn("failed to clear ledger for %s: %v", key, err)
	}
}

// Cancel drops local resume state for path and asks the server to discard
// any partial upload.
func (c *Client) Cancel(ctx context.Context, path string) error {
	id, err := IdentityOf(path)
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindSourceNotFound, "cancel", err)
	}
	key := id.LedgerKey(c.cfg.ChunkSize)
	if err := c.ledger.Clear(ctx, key); err != nil {
		return err
	}

	endpoint := PathSingle + "/" + url.PathEscape(key)
	if err := c.do(ctx, "cancel", http.MethodDelete, endpoint, "", nil, nil); err != nil {
		log.Warn("server did not discard partial upload of %s: %v", id.Name, err)
	}
	return nil
}

// Result is the outcome of one file in UploadAll.
type Result struct {
	Path   string
	Record *mediatypes.MediaRecord
	Err    error
}

// UploadAll uploads distinct files in parallel, at most Config.Workers at a
// time. Each file's chunks stay sequential. Results are in input order.
func (c *Client) UploadAll(ctx context.Context, paths []string, meta mediatypes.UploadMetadata, progress func(path string, percent float64)) []Result {
	results := make([]Result, len(paths))

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for i, path := range paths {
		g.Go(func() error {
			var fn ProgressFunc
			if progress != nil {
				fn = func(p float64) { progress(path, p) }
			}
			rec, err := c.Upload(ctx, path, meta, fn)
			results[i] = Result{Path: path, Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// do sends one request with the per-request timeout and decodes a JSON
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body []byte, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindInvalidParameter, op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return mediaerr.Wrap(mediaerr.KindNetwork, op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Debug("failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(readLimited(resp.Body, 4096))
		var e ErrorResponse
		if json.Unmarshal([]byte(msg), &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return mediaerr.New(mediaerr.KindUpload, op, fmt.Sprintf("server responded %d: %s", resp.StatusCode, msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return mediaerr.Wrap(mediaerr.KindUpload, op, fmt.Errorf("invalid response: %w", err))
	}
	return nil
}

func readLimited(r io.Reader, n int64) string {
	b, _ := io.ReadAll(io.LimitReader(r, n))
	return string(b)
}

func multipartBody(fields map[string]string, fileField, fileName string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile(fileField, fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// monotonic wraps fn so reported values never decrease.
func monotonic(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(float64) {}
	}
	var (
		mu   sync.Mutex
		last = -1.0
	)
	return func(p float64) {
		mu.Lock()
		defer mu.Unlock()
		p = max(0, min(100, p))
		if p < last {
			return
		}
		last = p
		fn(p)
	}
}
