package media

import (
	"context"

	"github.com/mediarelay/fetchbot/internal/model"
)

// Metadata is the display information resolved for a source locator
// before any bytes move. VideoOptions feeds the quality menu.
type Metadata struct {
	Title           string
	ApproxSizeBytes int64
	DurationSeconds int
	VideoOptions    []VideoOption
}

// VideoOption is one selectable video rendition, deduplicated by height.
type VideoOption struct {
	FormatID  string
	Height    int
	SizeBytes int64
}

// Artifact is a fetched file on local disk.
type Artifact struct {
	Path      string
	SizeBytes int64
}

// ProgressFunc receives fractional progress from a fetch in flight. It may
// be called from the fetcher's own goroutine.
type ProgressFunc func(fraction float64, rateLabel, etaLabel string)

// Resolver turns a source locator into display metadata.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (Metadata, error)
}

// Fetcher acquires the artifact described by a task spec into destDir,
// reporting progress through onProgress.
type Fetcher interface {
	Fetch(ctx context.Context, spec model.TaskSpec, destDir string, onProgress ProgressFunc) (Artifact, error)
}
