// Package browser defines how the CLI obtains a live page for the resolver.
// Drivers live in subpackages: cdppage (chromedp) and rodpage (go-rod). Both
// expose the page through the jsbridge node registry.
package browser

import (
	"context"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

// Tab is one open page.
type Tab interface {
	Page() schemas.PageAccessor
	Close() error
}

// Host owns a browser process or connection.
type Host interface {
	// Open creates a tab and navigates it to url.
	Open(ctx context.Context, url string) (Tab, error)
	Close() error
}
