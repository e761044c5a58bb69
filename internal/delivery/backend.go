package delivery

import "context"

// Backend accepts a local file and returns a public retrieval link. Each
// implementation owns its endpoint, request format and response parsing;
// the chain only sees this surface.
type Backend interface {
	Name() string
	Upload(ctx context.Context, path string) (string, error)
}
