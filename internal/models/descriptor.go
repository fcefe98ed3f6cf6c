package models

import "time"

// DescriptorStatus is the resolution state of a MediaDescriptor.
type DescriptorStatus string

const (
	DescriptorPending DescriptorStatus = "pending"
	DescriptorReady   DescriptorStatus = "ready"
	DescriptorError   DescriptorStatus = "error"
)

// LocatorKind tells the Executor and Stream Responder how to fetch a source.
type LocatorKind string

const (
	LocatorDirect LocatorKind = "direct"
	LocatorHLS    LocatorKind = "hls"
	// LocatorOpaque carries a provider id that must be re-resolved first.
	LocatorOpaque LocatorKind = "opaque"
)

// Locator points at the playable bytes of a media item.
type Locator struct {
	Kind    LocatorKind
	URL     string
	Headers map[string]string
}

// Streamable reports whether bytes can be fetched from the locator as-is.
func (l Locator) Streamable() bool {
	return l.URL != "" && (l.Kind == LocatorDirect || l.Kind == LocatorHLS)
}

// MediaDescriptor is the resolved metadata for one submitted URL.
type MediaDescriptor struct {
	ID     string
	Status DescriptorStatus
	Error  string

	Title            string
	Duration         time.Duration // zero when unknown
	Uploader         string
	ViewCount        int64
	Thumbnail        string
	Description      string
	Filename         string
	OriginalFilename string
	Ext              string
	FormatNote       string
	Height           int
	Qualities        []string // e.g. "1080p 60fps", best first

	Locator   Locator
	SourceURL string

	CreatedAt time.Time
}

// Ready reports whether jobs may be started from the descriptor.
func (d MediaDescriptor) Ready() bool {
	return d.Status == DescriptorReady
}
