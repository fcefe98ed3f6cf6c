package models

import (
	"time"
)

// Format is the media kind a client asked for.
type Format string

const (
	FormatVideo Format = "video"
	FormatAudio Format = "audio"
)

// JobStatus tracks a Job through its lifecycle:
// starting -> processing -> (finished | error); finished -> streaming -> (finished | removed).
type JobStatus string

const (
	JobStarting   JobStatus = "starting"
	JobProcessing JobStatus = "processing"
	JobFinished   JobStatus = "finished"
	JobStreaming  JobStatus = "streaming"
	JobError      JobStatus = "error"
	JobRemoved    JobStatus = "removed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobError || s == JobRemoved
}

// IsRunning reports whether the Executor still owns the job.
func (s JobStatus) IsRunning() bool {
	return s == JobStarting || s == JobProcessing
}

// StagingPolicy says where the bytes of a finished job come from.
type StagingPolicy int

const (
	// StagingDirect jobs are relayed from the upstream locator at stream time.
	StagingDirect StagingPolicy = iota
	// StagingServer jobs produce a local file that is deleted after one stream.
	StagingServer
)

func (p StagingPolicy) String() string {
	if p == StagingServer {
		return "server"
	}
	return "direct"
}

// PolicyFor maps a requested format to its staging policy.
func PolicyFor(f Format) StagingPolicy {
	if f == FormatAudio {
		return StagingServer
	}
	return StagingDirect
}

// Progress is one published progress snapshot.
type Progress struct {
	Percent  float64
	ETA      string
	Speed    string
	Filename string
}

// Job is one download/transcode operation. Values are published whole and
// never mutated after publication.
type Job struct {
	ID       string
	InfoID   string
	Format   Format
	Quality  string
	Policy   StagingPolicy
	Status   JobStatus
	Progress Progress
	Error    string

	DownloadReady bool
	Locator       Locator
	StagedPath    string
	MimeType      string

	// Filename is the sanitized download name; OriginalFilename keeps the
	// title as the provider reported it.
	Filename         string
	OriginalFilename string

	// Source fields copied from the descriptor so the job outlives it.
	SourceURL string
	Title     string
	Duration  time.Duration

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasSource reports whether the job has something to stream.
func (j Job) HasSource() bool {
	if j.Policy == StagingServer {
		return j.StagedPath != ""
	}
	return j.Locator.Streamable()
}
