package filesystem

// Observer records retry metrics. The metrics package provides the
// implementation to break the import cycle between filesystem and metrics.
type Observer interface {
	ObserveRetryAttempt(op string)
	ObserveRetryFailure(op string)
	ObserveStaleError(op string)
}

// defaultObserver is nil until SetObserver is called; recording is skipped
// in that case, which keeps tests free of metric side effects.
var defaultObserver Observer

// SetObserver sets the package-level metrics observer.
func SetObserver(o Observer) {
	defaultObserver = o
}

func observeAttempt(op string) {
	if defaultObserver != nil {
		defaultObserver.ObserveRetryAttempt(op)
	}
}

func observeFailure(op string) {
	if defaultObserver != nil {
		defaultObserver.ObserveRetryFailure(op)
	}
}

func observeStale(op string) {
	if defaultObserver != nil {
		defaultObserver.ObserveStaleError(op)
	}
}
