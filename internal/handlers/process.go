package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"media-pipeline/internal/database"
	"media-pipeline/internal/mediaerr"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/orchestrator"
	"media-pipeline/internal/transcoder"
)

// maxRequestBody bounds process API bodies.
const maxRequestBody = 1 << 20

// maxBatch bounds the number of requests in one batch.
const maxBatch = 64

// ProcessResponse is the process API reply: the transform outcome and, on
// success, the stored derivative's ID.
type ProcessResponse struct {
	mediatypes.ProcessResult
	DerivativeID string `json:"derivativeId,omitempty"`
}

// ProcessMedia runs one transform.
// POST /api/process
func (h *Handlers) ProcessMedia(w http.ResponseWriter, r *http.Request) {
	req, err := orchestrator.DecodeRequest(io.LimitReader(r.Body, maxRequestBody))
	if err == nil {
		err = h.confine(&req)
	}
	if err != nil {
		writeJSONStatus(w, statusFor(err), ProcessResponse{ProcessResult: failure(req, err)})
		return
	}

	result, err := h.processor.Process(r.Context(), req)
	if err != nil {
		writeJSONStatus(w, statusFor(err), ProcessResponse{ProcessResult: result})
		return
	}
	writeJSONStatus(w, http.StatusOK, h.recordResult(r.Context(), req.SourcePath, result))
}

// ProcessBatch runs several transforms concurrently and replies with their
// results in request order. A failed item does not fail the batch.
// POST /api/process/batch
func (h *Handlers) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var raws []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&raws); err != nil {
		writeJSONError(w, "request body must be a JSON array of process requests", http.StatusBadRequest)
		return
	}
	if len(raws) == 0 || len(raws) > maxBatch {
		writeJSONError(w, "batch must hold between 1 and "+strconv.Itoa(maxBatch)+" requests", http.StatusBadRequest)
		return
	}

	responses := make([]ProcessResponse, len(raws))
	reqs := make([]orchestrator.Request, 0, len(raws))
	slots := make([]int, 0, len(raws))
	for i, raw := range raws {
		req, err := orchestrator.DecodeRequest(bytes.NewReader(raw))
		if err == nil {
			err = h.confine(&req)
		}
		if err != nil {
			responses[i] = ProcessResponse{ProcessResult: failure(req, err)}
			continue
		}
		reqs = append(reqs, req)
		slots = append(slots, i)
	}

	results := h.processor.ProcessBatch(r.Context(), reqs)
	for j, result := range results {
		if result.Success {
			responses[slots[j]] = h.recordResult(r.Context(), reqs[j].SourcePath, result)
		} else {
			responses[slots[j]] = ProcessResponse{ProcessResult: result}
		}
	}
	writeJSONStatus(w, http.StatusOK, responses)
}

func failure(req orchestrator.Request, err error) mediatypes.ProcessResult {
	return mediatypes.ProcessResult{Operation: req.Operation()}.Fail(err)
}

// recordResult stores a successful result. A storage failure is logged; the
// derivative exists on disk either way.
func (h *Handlers) recordResult(ctx context.Context, source string, result mediatypes.ProcessResult) ProcessResponse {
	resp := ProcessResponse{ProcessResult: result}
	der, err := h.db.AddDerivative(ctx, source, result)
	if err != nil {
		log.Error("failed to record derivative %s: %v", result.OutputPath, err)
		return resp
	}
	resp.DerivativeID = der.ID
	return resp
}

// confine resolves request paths and keeps them inside the upload and
// output directories. Sources may come from either; outputs and thumbnails
// always land in the output directory.
func (h *Handlers) confine(req *orchestrator.Request) error {
	op := string(req.Operation())

	src, ok := resolvePath(req.SourcePath, h.opts.UploadDir, h.opts.UploadDir, h.opts.OutputDir)
	if !ok {
		return mediaerr.InvalidParameter(op, "source must be inside the upload or output directory")
	}
	req.SourcePath = src

	if req.OutputPath != "" {
		out, ok := resolvePath(req.OutputPath, h.opts.OutputDir, h.opts.OutputDir)
		if !ok {
			return mediaerr.InvalidParameter(op, "output must be inside the output directory")
		}
		req.OutputPath = out
	}
	req.OutputDir = h.opts.OutputDir
	req.Thumbnails.Dir = h.opts.OutputDir

	if wm := req.Effects.Watermark; wm != nil {
		path, ok := resolvePath(wm.Path, h.opts.UploadDir, h.opts.UploadDir, h.opts.OutputDir)
		if !ok {
			return mediaerr.InvalidParameter(op, "watermark must be inside the upload or output directory")
		}
		copied := *wm
		copied.Path = path
		req.Effects.Watermark = &copied
	}
	return nil
}

// InspectMedia reports the probe, analysis and encoding plan for a video.
// GET /api/inspect?path=...&targetSize=...&maxSeconds=...
func (h *Handlers) InspectMedia(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	src, ok := resolvePath(q.Get("path"), h.opts.UploadDir, h.opts.UploadDir, h.opts.OutputDir)
	if !ok {
		writeJSONError(w, "path must be inside the upload or output directory", http.StatusBadRequest)
		return
	}

	var budget *orchestrator.Budget
	if q.Has("targetSize") || q.Has("maxSeconds") {
		budget = &orchestrator.Budget{}
		var errSize, errSeconds error
		if v := q.Get("targetSize"); v != "" {
			budget.TargetSizeBytes, errSize = strconv.ParseInt(v, 10, 64)
		}
		if v := q.Get("maxSeconds"); v != "" {
			budget.MaxProcessingSeconds, errSeconds = strconv.ParseFloat(v, 64)
		}
		if errSize != nil || errSeconds != nil || budget.TargetSizeBytes < 0 || budget.MaxProcessingSeconds < 0 {
			writeJSONError(w, "invalid budget", http.StatusBadRequest)
			return
		}
	}

	insp, err := h.processor.Inspect(r.Context(), src, budget)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	writeJSONStatus(w, http.StatusOK, insp)
}

// ThumbnailRequest asks for poster frames of an uploaded video. Count
// defaults to one frame.
type ThumbnailRequest struct {
	Source string `json:"source"`
	transcoder.ThumbnailOptions
}

// ThumbnailResponse lists the extracted frames, primary first.
type ThumbnailResponse struct {
	Thumbnails []string `json:"thumbnails"`
}

// ExtractThumbnails writes poster frames into the output directory.
// POST /api/thumbnails
func (h *Handlers) ExtractThumbnails(w http.ResponseWriter, r *http.Request) {
	var req ThumbnailRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	src, ok := resolvePath(req.Source, h.opts.UploadDir, h.opts.UploadDir, h.opts.OutputDir)
	if !ok {
		writeJSONError(w, "source must be inside the upload or output directory", http.StatusBadRequest)
		return
	}
	opts := req.ThumbnailOptions
	if opts.Count == 0 {
		opts.Count = 1
	}
	opts.Dir = h.opts.OutputDir

	paths, err := h.processor.Thumbnails(r.Context(), src, opts)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	writeJSONStatus(w, http.StatusOK, ThumbnailResponse{Thumbnails: paths})
}

// RecordResponse is a record with its derivatives.
type RecordResponse struct {
	Record      mediatypes.MediaRecord `json:"record"`
	Derivatives []database.Derivative  `json:"derivatives"`
}

// ListRecords pages through stored records, newest first.
// GET /api/records?kind=...&limit=...&offset=...
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	kind := mediatypes.MediaKind(q.Get("kind"))
	switch kind {
	case "", mediatypes.KindImage, mediatypes.KindVideo, mediatypes.KindAudio, mediatypes.KindOther:
	default:
		writeJSONError(w, "unknown kind "+strconv.Quote(string(kind)), http.StatusBadRequest)
		return
	}

	records, err := h.db.ListRecords(r.Context(), kind, limit, offset)
	if err != nil {
		log.Error("failed to list records: %v", err)
		writeJSONError(w, "failed to list records", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []mediatypes.MediaRecord{}
	}
	writeJSONStatus(w, http.StatusOK, records)
}

// GetRecord returns one record with its derivatives.
// GET /api/records/{id}
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.db.GetRecord(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeJSONError(w, "record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error("failed to get record %s: %v", id, err)
		writeJSONError(w, "failed to get record", http.StatusInternalServerError)
		return
	}

	derivatives, err := h.db.ListDerivatives(r.Context(), id)
	if err != nil {
		log.Error("failed to list derivatives of %s: %v", id, err)
		writeJSONError(w, "failed to get record", http.StatusInternalServerError)
		return
	}
	if derivatives == nil {
		derivatives = []database.Derivative{}
	}
	writeJSONStatus(w, http.StatusOK, RecordResponse{Record: rec, Derivatives: derivatives})
}

// GetStats summarises stored records and derivatives.
// GET /api/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		log.Error("failed to compute stats: %v", err)
		writeJSONError(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, stats)
}
