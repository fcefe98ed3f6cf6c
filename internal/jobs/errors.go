package jobs

import "errors"

var (
	ErrInfoNotReady   = errors.New("video info not ready")
	ErrInvalidFormat  = errors.New("invalid format")
	ErrInvalidQuality = errors.New("invalid quality for format")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobNotReady    = errors.New("job not ready")
	ErrJobFailed      = errors.New("job failed")
	ErrStreamBusy     = errors.New("job already streaming")
)

// Messages published on jobs that never reached the Executor.
const (
	msgServerBusy   = "Server busy, please try again"
	msgShuttingDown = "Server is shutting down"
	msgNoSource     = "No playable source was produced"
)
