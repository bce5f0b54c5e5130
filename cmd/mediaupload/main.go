package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/term"

	"media-pipeline/internal/ledger"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/upload"
)

const defaultServer = "http://localhost:8080"

func main() {
	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, progress is kept for the next run...")
		cancel()
	}()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	server    string
	ledger    string
	workers   int
	chunkSize int64
	threshold int64
	retries   int
	cancel    bool
	list      bool
	verbose   bool
	meta      mediatypes.UploadMetadata
	files     []string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var (
		opts options
		tags string
	)

	fs := flag.NewFlagSet("mediaupload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.server, "server", envOr("MEDIA_SERVER", defaultServer), "server base URL (env MEDIA_SERVER)")
	fs.StringVar(&opts.ledger, "ledger", defaultLedgerPath(), "resume ledger database; empty keeps progress in memory")
	fs.IntVar(&opts.workers, "workers", upload.DefaultWorkers, "files uploaded in parallel")
	fs.Int64Var(&opts.chunkSize, "chunk-size", upload.DefaultChunkSize, "chunk length in bytes")
	fs.Int64Var(&opts.threshold, "threshold", upload.DefaultThreshold, "files larger than this are chunked")
	fs.IntVar(&opts.retries, "retries", upload.DefaultMaxRetries, "retries per file; negative disables retrying")
	fs.BoolVar(&opts.cancel, "cancel", false, "discard partial uploads of the given files instead of uploading")
	fs.BoolVar(&opts.list, "list", false, "list interrupted uploads recorded in the ledger and exit")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	fs.StringVar(&opts.meta.Title, "title", "", "title stored with each file")
	fs.StringVar(&opts.meta.Category, "category", "", "category stored with each file")
	fs.StringVar(&tags, "tags", "", "comma-separated tags stored with each file")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: mediaupload [flags] <file>...")
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "Uploads files to a media pipeline server. Interrupted chunked uploads")
		fmt.Fprintln(stderr, "resume from the last acknowledged chunk on the next run.")
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "Flags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.meta.Tags = parseTags(tags)
	opts.files = fs.Args()
	if len(opts.files) == 0 && !opts.list {
		fs.Usage()
		return opts, errors.New("no files given")
	}
	if opts.retries == 0 {
		// The client treats zero as "use the default".
		opts.retries = -1
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if opts.verbose {
		logging.SetLevel(logging.LevelDebug)
	} else {
		logging.SetLevel(logging.LevelWarn)
	}

	var store ledger.Ledger
	if opts.ledger != "" {
		sqlite, err := ledger.OpenSQLite(ctx, opts.ledger)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open ledger: %v\n", err)
			return 1
		}
		store = sqlite
		defer func() {
			if err := sqlite.Close(); err != nil {
				fmt.Fprintf(stderr, "Warning: failed to close ledger: %v\n", err)
			}
		}()
	}

	client, err := upload.NewClient(upload.Config{
		BaseURL:    opts.server,
		Ledger:     store,
		Threshold:  opts.threshold,
		ChunkSize:  opts.chunkSize,
		MaxRetries: opts.retries,
		Workers:    opts.workers,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if opts.list {
		return listResumable(ctx, client, stdout, stderr)
	}
	if opts.cancel {
		return cancelAll(ctx, client, opts.files, stdout, stderr)
	}

	progress := newProgress(stdout, opts.files)
	results := client.UploadAll(ctx, opts.files, opts.meta, progress.update)
	progress.finish()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(stderr, "FAILED  %s: %v\n", res.Path, res.Err)
			continue
		}
		fmt.Fprintf(stdout, "OK      %s -> %s (%s, %d bytes)\n", res.Path, res.Record.ID, res.Record.Kind, res.Record.SizeBytes)
	}
	if failed > 0 {
		fmt.Fprintf(stderr, "%d of %d uploads failed\n", failed, len(results))
		return 1
	}
	return 0
}

func cancelAll(ctx context.Context, client *upload.Client, files []string, stdout, stderr io.Writer) int {
	code := 0
	for _, path := range files {
		if err := client.Cancel(ctx, path); err != nil {
			fmt.Fprintf(stderr, "FAILED  %s: %v\n", path, err)
			code = 1
			continue
		}
		fmt.Fprintf(stdout, "CANCELLED %s\n", path)
	}
	return code
}

func listResumable(ctx context.Context, client *upload.Client, stdout, stderr io.Writer) int {
	sessions, err := client.Resumable(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Fprintln(stdout, "No interrupted uploads")
		return 0
	}
	for _, s := range sessions {
		fmt.Fprintf(stdout, "%5.1f%%  %s (%d of %d chunks, %d byte chunks)\n",
			s.Percent(), s.Identity.Name, len(s.Uploaded), s.TotalChunks, s.ChunkSize)
	}
	return 0
}

func parseTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultLedgerPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mediaupload", "ledger.db")
}

// progress renders per-file percentages. On a terminal it redraws one
// status line; otherwise it prints a line at each quarter.
type progress struct {
	out         io.Writer
	interactive bool
	width       int

	mu      sync.Mutex
	percent map[string]float64
	logged  map[string]int
}

func newProgress(out io.Writer, files []string) *progress {
	p := &progress{
		out:     out,
		percent: make(map[string]float64, len(files)),
		logged:  make(map[string]int, len(files)),
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.interactive = true
		p.width = 80
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			p.width = w
		}
	}
	return p
}

func (p *progress) update(path string, percent float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.percent[path] = percent
	if p.interactive {
		fmt.Fprintf(p.out, "\r%-*s", p.width-1, statusLine(p.percent, p.width-1))
		return
	}

	quarter := int(percent) / 25
	if last, ok := p.logged[path]; ok && quarter <= last {
		return
	}
	p.logged[path] = quarter
	fmt.Fprintf(p.out, "%5.1f%%  %s\n", percent, path)
}

func (p *progress) finish() {
	if p.interactive {
		fmt.Fprintln(p.out)
	}
}

// statusLine summarises progress as "name 42% | name 7%" within width.
func statusLine(percent map[string]float64, width int) string {
	paths := make([]string, 0, len(percent))
	for path := range percent {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	parts := make([]string, 0, len(paths))
	for _, path := range paths {
		parts = append(parts, fmt.Sprintf("%s %.0f%%", filepath.Base(path), percent[path]))
	}
	line := []rune(strings.Join(parts, " | "))
	if width > 3 && len(line) > width {
		return string(line[:width-3]) + "..."
	}
	return string(line)
}
