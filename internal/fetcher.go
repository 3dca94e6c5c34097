package internal

import (
	"context"
	"io"
)

// Fetcher returns the rendered page for a URL, retrying internally as configured.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (RawPage, error)
}

// Engine opens a fresh Session for each fetch attempt. Nothing is shared between sessions,
// so a broken browser or cookie jar never outlives the attempt that produced it.
type Engine interface {
	// Name identifies the engine in logs (e.g. "render", "http").
	Name() string
	Open(ctx context.Context) (Session, error)
}

// Session loads a single page. Close must be called on every path once Open succeeded.
type Session interface {
	Load(ctx context.Context, url string) (string, error)

	io.Closer
}
