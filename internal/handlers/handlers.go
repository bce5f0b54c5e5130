package handlers

import (
	"context"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/orchestrator"
	"media-pipeline/internal/transcoder"
)

var log = logging.Component("handlers")

// Recorder persists uploaded files and the derivatives made from them.
type Recorder interface {
	CreateRecord(ctx context.Context, rec mediatypes.MediaRecord) (mediatypes.MediaRecord, error)
	GetRecord(ctx context.Context, id string) (mediatypes.MediaRecord, error)
	ListRecords(ctx context.Context, kind mediatypes.MediaKind, limit, offset int) ([]mediatypes.MediaRecord, error)
	AddDerivative(ctx context.Context, sourcePath string, result mediatypes.ProcessResult) (database.Derivative, error)
	ListDerivatives(ctx context.Context, recordID string) ([]database.Derivative, error)
	Stats(ctx context.Context) (database.Stats, error)
	Ping(ctx context.Context) error
}

// Processor runs transform requests.
type Processor interface {
	Process(ctx context.Context, req orchestrator.Request) (mediatypes.ProcessResult, error)
	ProcessBatch(ctx context.Context, reqs []orchestrator.Request) []mediatypes.ProcessResult
	Inspect(ctx context.Context, src string, budget *orchestrator.Budget) (orchestrator.Inspection, error)
	Thumbnails(ctx context.Context, src string, opts transcoder.ThumbnailOptions) ([]string, error)
}

// Options configures the handlers.
type Options struct {
	UploadDir string
	OutputDir string
	// ChunkDir holds partial chunked uploads.
	ChunkDir       string
	AutoAssemble   bool
	MaxUploadBytes int64
}

type Handlers struct {
	db        Recorder
	processor Processor
	chunks    *chunkStore
	opts      Options
	startTime time.Time
}

func New(db Recorder, processor Processor, opts Options) *Handlers {
	return &Handlers{
		db:        db,
		processor: processor,
		chunks:    newChunkStore(opts.ChunkDir),
		opts:      opts,
		startTime: time.Now(),
	}
}
