package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"media-pipeline/internal/database"
	"media-pipeline/internal/mediaerr"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/orchestrator"
	"media-pipeline/internal/transcoder"
	"media-pipeline/internal/upload"
)

// =============================================================================
// Test fixtures
// =============================================================================

type fakeProcessor struct {
	mu       sync.Mutex
	requests []orchestrator.Request
	result   func(req orchestrator.Request) (mediatypes.ProcessResult, error)
}

func (f *fakeProcessor) Process(_ context.Context, req orchestrator.Request) (mediatypes.ProcessResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.result != nil {
		return f.result(req)
	}
	return mediatypes.ProcessResult{
		Success:           true,
		Operation:         req.Operation(),
		OutputPath:        filepath.Join(req.OutputDir, "out.webp"),
		SizeBytes:         100,
		OriginalSizeBytes: 400,
	}, nil
}

func (f *fakeProcessor) ProcessBatch(ctx context.Context, reqs []orchestrator.Request) []mediatypes.ProcessResult {
	out := make([]mediatypes.ProcessResult, len(reqs))
	for i, req := range reqs {
		res, err := f.Process(ctx, req)
		if err != nil {
			res = res.Fail(err)
		}
		out[i] = res
	}
	return out
}

func (f *fakeProcessor) Inspect(_ context.Context, src string, budget *orchestrator.Budget) (orchestrator.Inspection, error) {
	if strings.HasSuffix(src, ".jpg") {
		return orchestrator.Inspection{}, mediaerr.InvalidParameter("inspect", "not a video")
	}
	return orchestrator.Inspection{}, nil
}

func (f *fakeProcessor) Thumbnails(_ context.Context, src string, opts transcoder.ThumbnailOptions) ([]string, error) {
	if strings.HasSuffix(src, ".jpg") {
		return nil, mediaerr.InvalidParameter("thumbnail", "not a video")
	}
	if opts.Count > transcoder.MaxThumbnails {
		return nil, mediaerr.InvalidParameter("thumbnail", "too many thumbnails")
	}
	paths := make([]string, opts.Count)
	for i := range paths {
		paths[i] = filepath.Join(opts.Dir, fmt.Sprintf("thumb_%02d.jpg", i+1))
	}
	return paths, nil
}

func (f *fakeProcessor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type testEnv struct {
	h         *Handlers
	db        *database.Database
	processor *fakeProcessor
	opts      Options
}

func setupTestHandlers(t *testing.T, autoAssemble bool) *testEnv {
	t.Helper()

	root := t.TempDir()
	opts := Options{
		UploadDir:      filepath.Join(root, "uploads"),
		OutputDir:      filepath.Join(root, "output"),
		ChunkDir:       filepath.Join(root, "uploads", ".chunks"),
		AutoAssemble:   autoAssemble,
		MaxUploadBytes: 1 << 20,
	}
	for _, dir := range []string{opts.UploadDir, opts.OutputDir, filepath.Join(root, "db")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll(%s) failed: %v", dir, err)
		}
	}

	db, err := database.New(context.Background(), filepath.Join(root, "db", "media.db"))
	if err != nil {
		t.Fatalf("database.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	processor := &fakeProcessor{}
	return &testEnv{h: New(db, processor, opts), db: db, processor: processor, opts: opts}
}

func multipartRequest(t *testing.T, path string, fields map[string]string, fileField, fileName string, data []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		_, _ = part.Write(data)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("multipart Close failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func chunkRequest(t *testing.T, fileID, name string, index, total int, data []byte) *http.Request {
	t.Helper()
	return multipartRequest(t, upload.PathChunk, map[string]string{
		upload.FieldFileID:      fileID,
		upload.FieldFileName:    name,
		upload.FieldChunkIndex:  strconv.Itoa(index),
		upload.FieldTotalChunks: strconv.Itoa(total),
		upload.FieldChunkHash:   upload.ChunkHash(data),
	}, upload.FieldChunk, name, data)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// =============================================================================
// Single uploads
// =============================================================================

func TestUploadFile(t *testing.T) {
	env := setupTestHandlers(t, true)

	req := multipartRequest(t, upload.PathSingle, map[string]string{
		upload.FieldMetadata: `{"title":"Beach","tags":["summer"]}`,
	}, upload.FieldFile, "photo.jpg", []byte("jpeg bytes"))
	w := httptest.NewRecorder()
	env.h.UploadFile(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	resp := decode[upload.RecordResponse](t, w)
	if resp.Record == nil {
		t.Fatal("response has no record")
	}
	rec := resp.Record
	if rec.ID == "" {
		t.Error("record has no ID")
	}
	if rec.Kind != mediatypes.KindImage {
		t.Errorf("Kind = %q, want %q", rec.Kind, mediatypes.KindImage)
	}
	if rec.MimeType != "image/jpeg" {
		t.Errorf("MimeType = %q, want image/jpeg", rec.MimeType)
	}
	if rec.Metadata.Title != "Beach" || len(rec.Metadata.Tags) != 1 {
		t.Errorf("Metadata = %+v, want title and one tag", rec.Metadata)
	}

	got, err := os.ReadFile(filepath.Join(env.opts.UploadDir, "photo.jpg"))
	if err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}
	if string(got) != "jpeg bytes" {
		t.Errorf("uploaded content = %q", got)
	}
}

func TestUploadFileKeepsExistingNames(t *testing.T) {
	env := setupTestHandlers(t, true)

	var paths []string
	for i := 0; i < 3; i++ {
		req := multipartRequest(t, upload.PathSingle, nil, upload.FieldFile, "clip.mp4", []byte{byte(i)})
		w := httptest.NewRecorder()
		env.h.UploadFile(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("upload %d: status = %d: %s", i, w.Code, w.Body.String())
		}
		paths = append(paths, filepath.Base(decode[upload.RecordResponse](t, w).Record.Path))
	}

	want := []string{"clip.mp4", "clip_1.mp4", "clip_2.mp4"}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("upload %d stored as %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestUploadFileRejects(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		fileName string
		noFile   bool
		want     int
	}{
		{name: "dotfile name", fileName: ".env", want: http.StatusBadRequest},
		{name: "bad metadata", fields: map[string]string{upload.FieldMetadata: "{"}, fileName: "a.jpg", want: http.StatusBadRequest},
		{name: "missing file", fields: map[string]string{upload.FieldFileName: "a.jpg"}, noFile: true, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestHandlers(t, true)
			field := upload.FieldFile
			if tt.noFile {
				field = ""
			}
			req := multipartRequest(t, upload.PathSingle, tt.fields, field, tt.fileName, []byte("x"))
			w := httptest.NewRecorder()
			env.h.UploadFile(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if resp := decode[upload.ErrorResponse](t, w); resp.Error == "" {
				t.Error("error response has no message")
			}
		})
	}
}

func TestUploadFileNotMultipart(t *testing.T) {
	env := setupTestHandlers(t, true)
	w := httptest.NewRecorder()
	env.h.UploadFile(w, jsonRequest(http.MethodPost, upload.PathSingle, `{}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// =============================================================================
// Chunked uploads
// =============================================================================

func TestUploadChunkAutoAssemble(t *testing.T) {
	env := setupTestHandlers(t, true)
	chunks := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}

	// Out of order: the upload completes on the last chunk to arrive.
	order := []int{2, 0, 1}
	var last upload.ChunkResponse
	for n, i := range order {
		w := httptest.NewRecorder()
		env.h.UploadChunk(w, chunkRequest(t, "song.mp3:18:1", "song.mp3", i, len(chunks), chunks[i]))
		if w.Code != http.StatusOK {
			t.Fatalf("chunk %d: status = %d: %s", i, w.Code, w.Body.String())
		}
		last = decode[upload.ChunkResponse](t, w)
		if last.ChunkIndex != i {
			t.Errorf("ChunkIndex = %d, want %d", last.ChunkIndex, i)
		}
		if n < len(order)-1 && last.Assembled {
			t.Fatalf("assembled after %d of %d chunks", n+1, len(chunks))
		}
	}

	if !last.Assembled || last.Record == nil {
		t.Fatalf("final chunk response = %+v, want assembled record", last)
	}
	if last.Record.Kind != mediatypes.KindAudio {
		t.Errorf("Kind = %q, want audio", last.Record.Kind)
	}
	if last.Record.SizeBytes != 18 {
		t.Errorf("SizeBytes = %d, want 18", last.Record.SizeBytes)
	}
	got, err := os.ReadFile(last.Record.Path)
	if err != nil {
		t.Fatalf("assembled file missing: %v", err)
	}
	if string(got) != "first-second-third" {
		t.Errorf("assembled content = %q", got)
	}

	entries, _ := os.ReadDir(env.opts.ChunkDir)
	if len(entries) != 0 {
		t.Errorf("chunk directory still holds %d entries after assembly", len(entries))
	}
}

func TestUploadChunkDuplicate(t *testing.T) {
	env := setupTestHandlers(t, false)
	data := []byte("same bytes")

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		env.h.UploadChunk(w, chunkRequest(t, "dup", "a.bin", 0, 2, data))
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d: %s", i, w.Code, w.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodGet, upload.PathStatus+"?file_id=dup", nil)
	w := httptest.NewRecorder()
	env.h.UploadStatus(w, req)

	resp := decode[upload.StatusResponse](t, w)
	if len(resp.Chunks) != 1 || resp.Chunks[0] != 0 {
		t.Errorf("Chunks = %v, want [0]", resp.Chunks)
	}
}

func TestUploadChunkRejects(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{name: "missing file id", fields: map[string]string{upload.FieldChunkIndex: "0", upload.FieldTotalChunks: "1"}},
		{name: "index past total", fields: map[string]string{upload.FieldFileID: "x", upload.FieldChunkIndex: "3", upload.FieldTotalChunks: "3"}},
		{name: "negative index", fields: map[string]string{upload.FieldFileID: "x", upload.FieldChunkIndex: "-1", upload.FieldTotalChunks: "3"}},
		{name: "zero total", fields: map[string]string{upload.FieldFileID: "x", upload.FieldChunkIndex: "0", upload.FieldTotalChunks: "0"}},
		{name: "non-numeric index", fields: map[string]string{upload.FieldFileID: "x", upload.FieldChunkIndex: "a", upload.FieldTotalChunks: "3"}},
		{name: "checksum mismatch", fields: map[string]string{
			upload.FieldFileID: "x", upload.FieldChunkIndex: "0", upload.FieldTotalChunks: "1",
			upload.FieldChunkHash: upload.ChunkHash([]byte("other")),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestHandlers(t, true)
			w := httptest.NewRecorder()
			env.h.UploadChunk(w, multipartRequest(t, upload.PathChunk, tt.fields, upload.FieldChunk, "a.bin", []byte("data")))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d: %s", w.Code, http.StatusBadRequest, w.Body.String())
			}
		})
	}
}

func TestFinalizeUpload(t *testing.T) {
	env := setupTestHandlers(t, false)
	finalize := func() *httptest.ResponseRecorder {
		body, _ := json.Marshal(upload.FinalizeRequest{
			FileID:      "movie",
			TotalChunks: 2,
			FileName:    "movie.mkv",
			Metadata:    mediatypes.UploadMetadata{Category: "film"},
		})
		w := httptest.NewRecorder()
		env.h.FinalizeUpload(w, jsonRequest(http.MethodPost, upload.PathFinalize, string(body)))
		return w
	}

	w := httptest.NewRecorder()
	env.h.UploadChunk(w, chunkRequest(t, "movie", "movie.mkv", 0, 2, []byte("aa")))
	if resp := decode[upload.ChunkResponse](t, w); resp.Assembled {
		t.Fatal("assembled without auto-assemble")
	}

	if w := finalize(); w.Code != http.StatusConflict {
		t.Fatalf("incomplete finalize: status = %d, want %d", w.Code, http.StatusConflict)
	}
	if _, err := os.Stat(filepath.Join(env.opts.UploadDir, "movie.mkv")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("incomplete finalize left a file behind: %v", err)
	}

	w = httptest.NewRecorder()
	env.h.UploadChunk(w, chunkRequest(t, "movie", "movie.mkv", 1, 2, []byte("bb")))

	w = finalize()
	if w.Code != http.StatusCreated {
		t.Fatalf("finalize: status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	rec := decode[upload.RecordResponse](t, w).Record
	if rec == nil || rec.Kind != mediatypes.KindVideo || rec.Metadata.Category != "film" {
		t.Errorf("record = %+v, want video with category", rec)
	}
}

func TestFinalizeUploadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "not json", body: "{", want: http.StatusBadRequest},
		{name: "missing file id", body: `{"totalChunks":1,"fileName":"a.jpg"}`, want: http.StatusBadRequest},
		{name: "zero chunks", body: `{"fileId":"a","fileName":"a.jpg"}`, want: http.StatusBadRequest},
		{name: "bad name", body: `{"fileId":"a","totalChunks":1,"fileName":".."}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestHandlers(t, false)
			w := httptest.NewRecorder()
			env.h.FinalizeUpload(w, jsonRequest(http.MethodPost, upload.PathFinalize, tt.body))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestFinalizeUploadTooLarge(t *testing.T) {
	env := setupTestHandlers(t, false)
	env.h.opts.MaxUploadBytes = 3

	for i, data := range [][]byte{[]byte("ab"), []byte("cd")} {
		w := httptest.NewRecorder()
		env.h.UploadChunk(w, chunkRequest(t, "big", "big.wav", i, 2, data))
	}

	w := httptest.NewRecorder()
	env.h.FinalizeUpload(w, jsonRequest(http.MethodPost, upload.PathFinalize, `{"fileId":"big","totalChunks":2,"fileName":"big.wav"}`))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
	if _, err := os.Stat(filepath.Join(env.opts.UploadDir, "big.wav")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("oversized upload left a file behind: %v", err)
	}
}

func TestUploadStatus(t *testing.T) {
	env := setupTestHandlers(t, false)

	w := httptest.NewRecorder()
	env.h.UploadStatus(w, httptest.NewRequest(http.MethodGet, upload.PathStatus, nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing file_id: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = httptest.NewRecorder()
	env.h.UploadStatus(w, httptest.NewRequest(http.MethodGet, upload.PathStatus+"?file_id=unknown", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"chunks":[]`) {
		t.Errorf("unknown upload body = %s, want empty chunk list", w.Body.String())
	}
}

func TestCancelUpload(t *testing.T) {
	env := setupTestHandlers(t, false)
	fileID := "a.bin:4:1700000000000"

	w := httptest.NewRecorder()
	env.h.UploadChunk(w, chunkRequest(t, fileID, "a.bin", 0, 2, []byte("ab")))

	req := httptest.NewRequest(http.MethodDelete, upload.PathSingle+"/x", nil)
	req = mux.SetURLVars(req, map[string]string{"id": fileID})
	w = httptest.NewRecorder()
	env.h.CancelUpload(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	have, err := env.h.chunks.indices(fileID)
	if err != nil {
		t.Fatalf("indices() failed: %v", err)
	}
	if len(have) != 0 {
		t.Errorf("chunks after cancel = %v, want none", have)
	}
}

// =============================================================================
// Processing
// =============================================================================

func TestProcessMedia(t *testing.T) {
	env := setupTestHandlers(t, true)

	body := `{"source":"photo.jpg","operation":"resize","params":{"width":320,"height":240},"thumbnails":{"count":1,"dir":"/etc"}}`
	w := httptest.NewRecorder()
	env.h.ProcessMedia(w, jsonRequest(http.MethodPost, "/api/process", body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decode[ProcessResponse](t, w)
	if !resp.Success || resp.DerivativeID == "" {
		t.Errorf("response = %+v, want success with derivative ID", resp)
	}
	if resp.SavedBytes() != 300 {
		t.Errorf("SavedBytes() = %d, want 300", resp.SavedBytes())
	}

	req := env.processor.requests[0]
	if want := filepath.Join(env.opts.UploadDir, "photo.jpg"); req.SourcePath != want {
		t.Errorf("SourcePath = %q, want %q", req.SourcePath, want)
	}
	if req.OutputDir != env.opts.OutputDir || req.Thumbnails.Dir != env.opts.OutputDir {
		t.Errorf("OutputDir = %q, Thumbnails.Dir = %q, want both %q", req.OutputDir, req.Thumbnails.Dir, env.opts.OutputDir)
	}

	stats, err := env.db.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Derivatives != 1 {
		t.Errorf("Derivatives = %d, want 1", stats.Derivatives)
	}
}

func TestProcessMediaRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "unknown operation", body: `{"source":"a.jpg","operation":"explode"}`},
		{name: "source escapes", body: `{"source":"../../etc/passwd","operation":"optimize"}`},
		{name: "absolute source elsewhere", body: `{"source":"/etc/passwd","operation":"optimize"}`},
		{name: "output outside output dir", body: `{"source":"a.jpg","output":"../uploads/b.jpg","operation":"optimize"}`},
		{name: "watermark escapes", body: `{"source":"a.jpg","operation":"optimize","effects":{"watermark":{"path":"/etc/logo.png"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestHandlers(t, true)
			w := httptest.NewRecorder()
			env.h.ProcessMedia(w, jsonRequest(http.MethodPost, "/api/process", tt.body))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d: %s", w.Code, http.StatusBadRequest, w.Body.String())
			}
			resp := decode[ProcessResponse](t, w)
			if resp.Success || resp.ErrorKind != mediaerr.KindInvalidParameter.String() {
				t.Errorf("response = %+v, want invalid parameter failure", resp)
			}
			if env.processor.calls() != 0 {
				t.Error("processor was called for a rejected request")
			}
		})
	}
}

func TestProcessMediaFailure(t *testing.T) {
	env := setupTestHandlers(t, true)
	env.processor.result = func(req orchestrator.Request) (mediatypes.ProcessResult, error) {
		err := mediaerr.New(mediaerr.KindSourceNotFound, "optimize", "no such file")
		return mediatypes.ProcessResult{Operation: req.Operation()}.Fail(err), err
	}

	w := httptest.NewRecorder()
	env.h.ProcessMedia(w, jsonRequest(http.MethodPost, "/api/process", `{"source":"gone.jpg","operation":"optimize"}`))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if resp := decode[ProcessResponse](t, w); resp.DerivativeID != "" {
		t.Error("failed result was recorded")
	}
}

func TestProcessBatch(t *testing.T) {
	env := setupTestHandlers(t, true)

	body := `[
		{"source":"a.jpg","operation":"optimize"},
		{"source":"/etc/passwd","operation":"optimize"},
		{"source":"b.mp4","operation":"trim","params":{"start":1,"duration":2}}
	]`
	w := httptest.NewRecorder()
	env.h.ProcessBatch(w, jsonRequest(http.MethodPost, "/api/process/batch", body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decode[[]ProcessResponse](t, w)
	if len(resp) != 3 {
		t.Fatalf("len(response) = %d, want 3", len(resp))
	}
	if !resp[0].Success || resp[1].Success || !resp[2].Success {
		t.Errorf("success = [%v %v %v], want [true false true]", resp[0].Success, resp[1].Success, resp[2].Success)
	}
	if resp[1].Operation != mediatypes.OpOptimize {
		t.Errorf("rejected item operation = %q, want optimize", resp[1].Operation)
	}
	if resp[2].Operation != mediatypes.OpTrim {
		t.Errorf("third item operation = %q, want trim", resp[2].Operation)
	}
	if env.processor.calls() != 2 {
		t.Errorf("processor calls = %d, want 2", env.processor.calls())
	}
}

func TestProcessBatchRejects(t *testing.T) {
	tooMany := "[" + strings.TrimSuffix(strings.Repeat(`{"source":"a.jpg","operation":"optimize"},`, maxBatch+1), ",") + "]"
	tests := []struct {
		name string
		body string
	}{
		{name: "not an array", body: `{"source":"a.jpg"}`},
		{name: "empty", body: `[]`},
		{name: "too many", body: tooMany},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestHandlers(t, true)
			w := httptest.NewRecorder()
			env.h.ProcessBatch(w, jsonRequest(http.MethodPost, "/api/process/batch", tt.body))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestInspectMedia(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "video", query: "?path=clip.mp4&targetSize=1000000", want: http.StatusOK},
		{name: "no budget", query: "?path=clip.mp4", want: http.StatusOK},
		{name: "not a video", query: "?path=a.jpg", want: http.StatusBadRequest},
		{name: "missing path", query: "", want: http.StatusBadRequest},
		{name: "escaping path", query: "?path=../../secret.mp4", want: http.StatusBadRequest},
		{name: "negative budget", query: "?path=clip.mp4&maxSeconds=-1", want: http.StatusBadRequest},
		{name: "invalid budget", query: "?path=clip.mp4&targetSize=big", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestHandlers(t, true)
			w := httptest.NewRecorder()
			env.h.InspectMedia(w, httptest.NewRequest(http.MethodGet, "/api/inspect"+tt.query, nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestExtractThumbnails(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		want      int
		wantCount int
	}{
		{name: "default count", body: `{"source":"clip.mp4"}`, want: http.StatusOK, wantCount: 1},
		{name: "spaced frames", body: `{"source":"clip.mp4","count":4,"width":320}`, want: http.StatusOK, wantCount: 4},
		{name: "not a video", body: `{"source":"a.jpg"}`, want: http.StatusBadRequest},
		{name: "too many", body: `{"source":"clip.mp4","count":99}`, want: http.StatusBadRequest},
		{name: "escaping path", body: `{"source":"../../secret.mp4"}`, want: http.StatusBadRequest},
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestHandlers(t, true)
			w := httptest.NewRecorder()
			env.h.ExtractThumbnails(w, jsonRequest(http.MethodPost, "/api/thumbnails", tt.body))
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			resp := decode[ThumbnailResponse](t, w)
			if len(resp.Thumbnails) != tt.wantCount {
				t.Errorf("got %d thumbnails, want %d", len(resp.Thumbnails), tt.wantCount)
			}
			for _, p := range resp.Thumbnails {
				if filepath.Dir(p) != env.opts.OutputDir {
					t.Errorf("thumbnail %s written outside %s", p, env.opts.OutputDir)
				}
			}
		})
	}
}

// =============================================================================
// Records
// =============================================================================

func TestRecords(t *testing.T) {
	env := setupTestHandlers(t, true)

	req := multipartRequest(t, upload.PathSingle, nil, upload.FieldFile, "photo.jpg", []byte("jpeg"))
	w := httptest.NewRecorder()
	env.h.UploadFile(w, req)
	rec := decode[upload.RecordResponse](t, w).Record

	w = httptest.NewRecorder()
	env.h.ProcessMedia(w, jsonRequest(http.MethodPost, "/api/process", `{"source":"photo.jpg","operation":"optimize"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("process: status = %d: %s", w.Code, w.Body.String())
	}

	t.Run("get", func(t *testing.T) {
		r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/records/"+rec.ID, nil), map[string]string{"id": rec.ID})
		w := httptest.NewRecorder()
		env.h.GetRecord(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		resp := decode[RecordResponse](t, w)
		if resp.Record.ID != rec.ID {
			t.Errorf("record ID = %q, want %q", resp.Record.ID, rec.ID)
		}
		if len(resp.Derivatives) != 1 || resp.Derivatives[0].RecordID != rec.ID {
			t.Errorf("derivatives = %+v, want one linked derivative", resp.Derivatives)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/records/nope", nil), map[string]string{"id": "nope"})
		w := httptest.NewRecorder()
		env.h.GetRecord(w, r)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("list", func(t *testing.T) {
		tests := []struct {
			query string
			code  int
			count int
		}{
			{query: "", code: http.StatusOK, count: 1},
			{query: "?kind=image", code: http.StatusOK, count: 1},
			{query: "?kind=video", code: http.StatusOK, count: 0},
			{query: "?kind=sculpture", code: http.StatusBadRequest},
		}
		for _, tt := range tests {
			w := httptest.NewRecorder()
			env.h.ListRecords(w, httptest.NewRequest(http.MethodGet, "/api/records"+tt.query, nil))
			if w.Code != tt.code {
				t.Errorf("%q: status = %d, want %d", tt.query, w.Code, tt.code)
				continue
			}
			if tt.code != http.StatusOK {
				continue
			}
			if got := decode[[]mediatypes.MediaRecord](t, w); len(got) != tt.count {
				t.Errorf("%q: %d records, want %d", tt.query, len(got), tt.count)
			}
		}
	})

	t.Run("stats", func(t *testing.T) {
		w := httptest.NewRecorder()
		env.h.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
		stats := decode[database.Stats](t, w)
		if stats.Records[mediatypes.KindImage] != 1 || stats.Derivatives != 1 || stats.BytesSaved != 300 {
			t.Errorf("stats = %+v", stats)
		}
	})
}

// =============================================================================
// Health and version
// =============================================================================

func TestHealthEndpoints(t *testing.T) {
	env := setupTestHandlers(t, true)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		method  string
		want    int
	}{
		{name: "health", handler: env.h.HealthCheck, method: http.MethodGet, want: http.StatusOK},
		{name: "liveness", handler: env.h.LivenessCheck, method: http.MethodGet, want: http.StatusOK},
		{name: "liveness head", handler: env.h.LivenessCheck, method: http.MethodHead, want: http.StatusOK},
		{name: "readiness", handler: env.h.ReadinessCheck, method: http.MethodGet, want: http.StatusOK},
		{name: "version", handler: env.h.GetVersion, method: http.MethodGet, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.handler(w, httptest.NewRequest(tt.method, "/", nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.method == http.MethodHead && w.Body.Len() != 0 {
				t.Errorf("HEAD response has a body: %q", w.Body.String())
			}
		})
	}
}

func TestHealthCheckDatabaseDown(t *testing.T) {
	env := setupTestHandlers(t, true)
	_ = env.db.Close()

	w := httptest.NewRecorder()
	env.h.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if resp := decode[HealthResponse](t, w); resp.Status != statusDegraded || resp.Ready {
		t.Errorf("response = %+v, want degraded and not ready", resp)
	}

	w = httptest.NewRecorder()
	env.h.ReadinessCheck(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// =============================================================================
// Client round trip
// =============================================================================

func TestClientRoundTrip(t *testing.T) {
	for _, autoAssemble := range []bool{true, false} {
		t.Run("autoAssemble="+strconv.FormatBool(autoAssemble), func(t *testing.T) {
			env := setupTestHandlers(t, autoAssemble)

			r := mux.NewRouter()
			r.HandleFunc(upload.PathSingle, env.h.UploadFile).Methods(http.MethodPost)
			r.HandleFunc(upload.PathChunk, env.h.UploadChunk).Methods(http.MethodPost)
			r.HandleFunc(upload.PathFinalize, env.h.FinalizeUpload).Methods(http.MethodPost)
			r.HandleFunc(upload.PathStatus, env.h.UploadStatus).Methods(http.MethodGet)
			r.HandleFunc(upload.PathSingle+"/{id}", env.h.CancelUpload).Methods(http.MethodDelete)
			srv := httptest.NewServer(r)
			defer srv.Close()

			client, err := upload.NewClient(upload.Config{BaseURL: srv.URL, Threshold: 64, ChunkSize: 50})
			if err != nil {
				t.Fatalf("NewClient() failed: %v", err)
			}

			local := t.TempDir()
			small := filepath.Join(local, "small.png")
			large := filepath.Join(local, "large.mov")
			largeData := bytes.Repeat([]byte("0123456789"), 23)
			if err := os.WriteFile(small, []byte("tiny"), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(large, largeData, 0o644); err != nil {
				t.Fatal(err)
			}

			meta := mediatypes.UploadMetadata{Title: "trip", Tags: []string{"a", "b"}}
			results := client.UploadAll(context.Background(), []string{small, large}, meta, nil)
			for _, res := range results {
				if res.Err != nil {
					t.Fatalf("upload of %s failed: %v", res.Path, res.Err)
				}
				if res.Record == nil || res.Record.Metadata.Title != "trip" {
					t.Errorf("record for %s = %+v, want metadata", res.Path, res.Record)
				}
			}

			got, err := os.ReadFile(results[1].Record.Path)
			if err != nil {
				t.Fatalf("assembled file missing: %v", err)
			}
			if !bytes.Equal(got, largeData) {
				t.Error("assembled content differs from the source file")
			}

			if err := client.Cancel(context.Background(), large); err != nil {
				t.Errorf("Cancel() failed: %v", err)
			}
		})
	}
}

// =============================================================================
// Helpers
// =============================================================================

func TestSafeFileName(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "photo.jpg", want: "photo.jpg", wantOK: true},
		{in: "../../etc/passwd", want: "passwd", wantOK: true},
		{in: `C:\Users\me\clip.mp4`, want: "clip.mp4", wantOK: true},
		{in: "dir/song.mp3", want: "song.mp3", wantOK: true},
		{in: "", wantOK: false},
		{in: ".", wantOK: false},
		{in: "..", wantOK: false},
		{in: "/", wantOK: false},
		{in: ".bashrc", wantOK: false},
		{in: "bad\x00name.jpg", wantOK: false},
		{in: "tab\tname.jpg", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := safeFileName(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("safeFileName(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestResolvePath(t *testing.T) {
	uploads := "/data/uploads"
	output := "/data/output"

	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "a.jpg", want: "/data/uploads/a.jpg", wantOK: true},
		{in: "sub/a.jpg", want: "/data/uploads/sub/a.jpg", wantOK: true},
		{in: "/data/output/x.webp", want: "/data/output/x.webp", wantOK: true},
		{in: "/data/uploads", want: "/data/uploads", wantOK: true},
		{in: "../output/x.webp", want: "/data/output/x.webp", wantOK: true},
		{in: "../../etc/passwd", wantOK: false},
		{in: "/data/uploads-other/a.jpg", wantOK: false},
		{in: "/etc/passwd", wantOK: false},
		{in: "", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := resolvePath(tt.in, uploads, uploads, output)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("resolvePath(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid", err: mediaerr.InvalidParameter("resize", "bad"), want: http.StatusBadRequest},
		{name: "not found", err: mediaerr.New(mediaerr.KindSourceNotFound, "probe", "gone"), want: http.StatusNotFound},
		{name: "unprobable", err: mediaerr.New(mediaerr.KindUnprobableSource, "probe", "junk"), want: http.StatusUnprocessableEntity},
		{name: "timeout", err: mediaerr.New(mediaerr.KindTimeout, "transcode", "slow"), want: http.StatusGatewayTimeout},
		{name: "encode", err: mediaerr.New(mediaerr.KindEncode, "convert", "broken"), want: http.StatusInternalServerError},
		{name: "canceled", err: context.Canceled, want: http.StatusServiceUnavailable},
		{name: "plain", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVerifyChunk(t *testing.T) {
	data := []byte("payload")
	sum := upload.ChunkHash(data)

	if !verifyChunk(data, sum) {
		t.Error("matching digest rejected")
	}
	if !verifyChunk(data, strings.ToUpper(sum)) {
		t.Error("upper-case digest rejected")
	}
	if !verifyChunk(data, "") {
		t.Error("empty digest rejected")
	}
	if verifyChunk([]byte("other"), sum) {
		t.Error("mismatched digest accepted")
	}
}
