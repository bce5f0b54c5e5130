package metrics

// InitializeMetrics pre-populates the expected label combinations so that
// every series is exported from the first scrape.
func InitializeMetrics() {
	kindOps := map[string][]string{
		"image": {"resize", "crop", "rotate", "convert", "optimize"},
		"video": {"resize", "convert", "optimize", "trim"},
		"audio": {"convert", "trim", "normalize"},
	}
	for kind, ops := range kindOps {
		for _, op := range ops {
			TransformsTotal.WithLabelValues(kind, op, "success")
			TransformDuration.WithLabelValues(kind, op)
		}
		TransformBytesSaved.WithLabelValues(kind)
		MediaRecordsTotal.WithLabelValues(kind)
	}

	for _, tool := range []string{"ffmpeg", "ffprobe"} {
		for _, status := range []string{"ok", "error", "timeout", "canceled"} {
			FFmpegExitsTotal.WithLabelValues(tool, status)
		}
	}

	for _, status := range []string{"sent", "skipped", "error"} {
		UploadChunksTotal.WithLabelValues(status)
	}
	for _, mode := range []string{"single", "chunked"} {
		UploadsTotal.WithLabelValues(mode, "success")
		UploadsTotal.WithLabelValues(mode, "error")
	}
	for _, status := range []string{"stored", "duplicate", "rejected"} {
		ReceivedChunksTotal.WithLabelValues(status)
	}
	for _, trigger := range []string{"auto", "finalize"} {
		AssembledUploadsTotal.WithLabelValues(trigger, "success")
		AssembledUploadsTotal.WithLabelValues(trigger, "error")
	}

	for _, op := range []string{"stat", "open"} {
		FilesystemRetryAttempts.WithLabelValues(op)
		FilesystemRetryFailures.WithLabelValues(op)
		FilesystemStaleErrors.WithLabelValues(op)
	}
}
