package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/upload"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// UploadFile stores a file sent in one request.
// POST /api/upload
func (h *Handlers) UploadFile(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}

	name, ok := safeFileName(firstNonEmpty(r.FormValue(upload.FieldFileName), fileHeaderName(r, upload.FieldFile)))
	if !ok {
		writeJSONError(w, "invalid file name", http.StatusBadRequest)
		return
	}
	meta, err := parseMetadata(r.FormValue(upload.FieldMetadata))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile(upload.FieldFile)
	if err != nil {
		writeJSONError(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	dest, err := h.uploadDest(name)
	if err != nil {
		log.Error("failed to choose destination for %s: %v", name, err)
		writeJSONError(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	size, err := writeStaged(dest, file)
	if err != nil {
		release(dest)
		log.Error("failed to store upload %s: %v", name, err)
		writeJSONError(w, "failed to store upload", http.StatusInternalServerError)
		return
	}

	rec, err := h.recordUpload(r.Context(), dest, size, meta)
	if err != nil {
		release(dest)
		log.Error("failed to record upload %s: %v", dest, err)
		writeJSONError(w, "failed to record upload", http.StatusInternalServerError)
		return
	}

	log.Info("stored %s (%d bytes) as record %s", dest, size, rec.ID)
	writeJSONStatus(w, http.StatusCreated, upload.RecordResponse{Record: &rec})
}

// UploadChunk stores one chunk of a resumable upload.
// POST /api/upload/chunk
func (h *Handlers) UploadChunk(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}

	fileID := r.FormValue(upload.FieldFileID)
	index, errIndex := strconv.Atoi(r.FormValue(upload.FieldChunkIndex))
	total, errTotal := strconv.Atoi(r.FormValue(upload.FieldTotalChunks))
	switch {
	case fileID == "":
		h.rejectChunk(w, "missing file_id")
		return
	case errIndex != nil || errTotal != nil || total < 1 || index < 0 || index >= total:
		h.rejectChunk(w, fmt.Sprintf("invalid chunk index %q of %q", r.FormValue(upload.FieldChunkIndex), r.FormValue(upload.FieldTotalChunks)))
		return
	}

	file, _, err := r.FormFile(upload.FieldChunk)
	if err != nil {
		h.rejectChunk(w, "missing chunk")
		return
	}
	data, err := io.ReadAll(file)
	_ = file.Close()
	if err != nil {
		h.rejectChunk(w, "failed to read chunk")
		return
	}
	if !verifyChunk(data, r.FormValue(upload.FieldChunkHash)) {
		h.rejectChunk(w, fmt.Sprintf("chunk %d failed checksum verification", index))
		return
	}

	unlock := h.chunks.lock(fileID)
	defer unlock()

	stored, err := h.chunks.put(fileID, index, data)
	if err != nil {
		log.Error("failed to store chunk %d of %s: %v", index, fileID, err)
		metrics.ReceivedChunksTotal.WithLabelValues("rejected").Inc()
		writeJSONError(w, "failed to store chunk", http.StatusInternalServerError)
		return
	}
	if stored {
		metrics.ReceivedChunksTotal.WithLabelValues("stored").Inc()
	} else {
		metrics.ReceivedChunksTotal.WithLabelValues("duplicate").Inc()
		log.Debug("chunk %d of %s already held", index, fileID)
	}

	resp := upload.ChunkResponse{ChunkIndex: index}
	if h.opts.AutoAssemble {
		ready, err := h.chunks.complete(fileID, total)
		if err != nil {
			log.Warn("failed to check chunks of %s: %v", fileID, err)
		}
		if ready {
			meta, err := parseMetadata(r.FormValue(upload.FieldMetadata))
			if err != nil {
				writeJSONError(w, err.Error(), http.StatusBadRequest)
				return
			}
			name := firstNonEmpty(r.FormValue(upload.FieldFileName), fileHeaderName(r, upload.FieldChunk))
			rec, status, err := h.assemble(r.Context(), "auto", fileID, total, name, meta)
			if err != nil {
				writeJSONError(w, err.Error(), status)
				return
			}
			resp.Assembled = true
			resp.Record = &rec
		}
	}

	writeJSONStatus(w, http.StatusOK, resp)
}

func (h *Handlers) rejectChunk(w http.ResponseWriter, msg string) {
	metrics.ReceivedChunksTotal.WithLabelValues("rejected").Inc()
	writeJSONError(w, msg, http.StatusBadRequest)
}

// FinalizeUpload assembles a chunked upload once every chunk is held.
// POST /api/upload/finalize
func (h *Handlers) FinalizeUpload(w http.ResponseWriter, r *http.Request) {
	var req upload.FinalizeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, "invalid finalize request", http.StatusBadRequest)
		return
	}
	if req.FileID == "" || req.TotalChunks < 1 {
		writeJSONError(w, "file ID and chunk count are required", http.StatusBadRequest)
		return
	}

	unlock := h.chunks.lock(req.FileID)
	defer unlock()

	rec, status, err := h.assemble(r.Context(), "finalize", req.FileID, req.TotalChunks, req.FileName, req.Metadata)
	if err != nil {
		writeJSONError(w, err.Error(), status)
		return
	}
	writeJSONStatus(w, http.StatusCreated, upload.RecordResponse{Record: &rec})
}

// assemble builds and records a chunked upload. The caller holds the
// upload's lock.
func (h *Handlers) assemble(ctx context.Context, trigger, fileID string, total int, fileName string, meta mediatypes.UploadMetadata) (mediatypes.MediaRecord, int, error) {
	fail := func(status int, err error) (mediatypes.MediaRecord, int, error) {
		metrics.AssembledUploadsTotal.WithLabelValues(trigger, "error").Inc()
		return mediatypes.MediaRecord{}, status, err
	}

	name, ok := safeFileName(fileName)
	if !ok {
		return fail(http.StatusBadRequest, errors.New("invalid file name"))
	}
	dest, err := h.uploadDest(name)
	if err != nil {
		log.Error("failed to choose destination for %s: %v", name, err)
		return fail(http.StatusInternalServerError, errors.New("failed to assemble upload"))
	}

	size, err := h.chunks.assemble(fileID, total, dest)
	if err != nil {
		release(dest)
	}
	if errors.Is(err, errIncomplete) {
		have, _ := h.chunks.indices(fileID)
		return fail(http.StatusConflict, fmt.Errorf("upload is incomplete: %d of %d chunks received", len(have), total))
	}
	if err != nil {
		log.Error("failed to assemble %s: %v", fileID, err)
		return fail(http.StatusInternalServerError, errors.New("failed to assemble upload"))
	}
	if size > h.opts.MaxUploadBytes {
		release(dest)
		return fail(http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", h.opts.MaxUploadBytes))
	}

	rec, err := h.recordUpload(ctx, dest, size, meta)
	if err != nil {
		release(dest)
		log.Error("failed to record upload %s: %v", dest, err)
		return fail(http.StatusInternalServerError, errors.New("failed to record upload"))
	}

	metrics.AssembledUploadsTotal.WithLabelValues(trigger, "success").Inc()
	log.Info("assembled %s from %d chunks (%d bytes) as record %s", dest, total, size, rec.ID)
	return rec, http.StatusCreated, nil
}

// UploadStatus lists the chunks held for an upload.
// GET /api/upload/status?file_id=...
func (h *Handlers) UploadStatus(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get(upload.FieldFileID)
	if fileID == "" {
		writeJSONError(w, "missing file_id", http.StatusBadRequest)
		return
	}

	chunks, err := h.chunks.indices(fileID)
	if err != nil {
		log.Error("failed to list chunks of %s: %v", fileID, err)
		writeJSONError(w, "failed to read upload status", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, upload.StatusResponse{FileID: fileID, Chunks: chunks})
}

// CancelUpload discards a partial upload.
// DELETE /api/upload/{id}
func (h *Handlers) CancelUpload(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["id"]
	if fileID == "" {
		writeJSONError(w, "missing upload id", http.StatusBadRequest)
		return
	}

	unlock := h.chunks.lock(fileID)
	defer unlock()

	if err := h.chunks.discard(fileID); err != nil {
		log.Error("failed to discard upload %s: %v", fileID, err)
		writeJSONError(w, "failed to discard upload", http.StatusInternalServerError)
		return
	}
	log.Info("discarded partial upload %s", fileID)
	writeJSONStatus(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// parseMultipart bounds and parses a multipart body, writing the error
// response itself when it fails.
func (h *Handlers) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, fmt.Sprintf("upload exceeds %d bytes", h.opts.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return false
		}
		writeJSONError(w, "invalid multipart body", http.StatusBadRequest)
		return false
	}
	return true
}

// uploadDest reserves a free path for name in the upload directory, adding
// a numeric suffix when the name is taken. The reservation is an empty file
// that the caller replaces or removes.
func (h *Handlers) uploadDest(name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		path := filepath.Join(h.opts.UploadDir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		return path, f.Close()
	}
	return "", fmt.Errorf("no free name for %s", name)
}

func release(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove %s: %v", path, err)
	}
}

func (h *Handlers) recordUpload(ctx context.Context, path string, size int64, meta mediatypes.UploadMetadata) (mediatypes.MediaRecord, error) {
	rec := mediatypes.MediaRecord{
		FileName:  filepath.Base(path),
		Path:      path,
		Kind:      mediatypes.KindFromPath(path),
		MimeType:  mediatypes.GetMimeType(strings.ToLower(filepath.Ext(path))),
		SizeBytes: size,
		Metadata:  meta,
	}
	return h.db.CreateRecord(ctx, rec)
}

func writeStaged(dest string, src io.Reader) (int64, error) {
	staged, err := filesystem.NewStagedOutput(dest)
	if err != nil {
		return 0, err
	}
	defer staged.Discard()

	f, err := os.OpenFile(staged.Path(), os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, src)
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return n, staged.Commit()
}

func parseMetadata(raw string) (mediatypes.UploadMetadata, error) {
	var meta mediatypes.UploadMetadata
	if strings.TrimSpace(raw) == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return meta, fmt.Errorf("invalid metadata: %v", err)
	}
	return meta, nil
}

func fileHeaderName(r *http.Request, field string) string {
	if r.MultipartForm == nil {
		return ""
	}
	if files := r.MultipartForm.File[field]; len(files) > 0 {
		return files[0].Filename
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
