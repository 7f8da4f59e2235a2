package cdppage

import "context"

// combineContext derives from tabCtx, which carries the chromedp target, and
// is cancelled as soon as either tabCtx or callCtx is done.
func combineContext(tabCtx, callCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tabCtx)
	go func() {
		select {
		case <-callCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
