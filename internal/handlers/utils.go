package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediaerr"
	"media-pipeline/internal/upload"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONStatus writes v with the given status code.
func writeJSONStatus(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatus(w, statusCode, upload.ErrorResponse{Error: message})
}

// statusFor maps a pipeline error onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch mediaerr.KindOf(err) {
	case mediaerr.KindInvalidParameter:
		return http.StatusBadRequest
	case mediaerr.KindSourceNotFound:
		return http.StatusNotFound
	case mediaerr.KindUnprobableSource:
		return http.StatusUnprocessableEntity
	case mediaerr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// isSubPath reports whether child lies inside parent. Both must be clean
// absolute paths.
func isSubPath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// resolvePath anchors a client-supplied path at base when it is relative and
// confirms it stays inside one of roots.
func resolvePath(p, base string, roots ...string) (string, bool) {
	if p == "" {
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	p = filepath.Clean(p)
	for _, root := range roots {
		if isSubPath(root, p) {
			return p, true
		}
	}
	return "", false
}

// safeFileName reduces a client file name to a plain base name.
func safeFileName(name string) (string, bool) {
	name = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if name == "/" || name == "." || strings.HasPrefix(name, ".") {
		return "", false
	}
	if strings.ContainsFunc(name, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return "", false
	}
	return name, true
}
