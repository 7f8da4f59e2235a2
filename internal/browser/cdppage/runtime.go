package cdppage

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/browser/jsbridge"
)

// cdpRuntime drives one chromedp tab for the JS bridge.
type cdpRuntime struct {
	tabCtx context.Context
}

var _ jsbridge.Runtime = (*cdpRuntime)(nil)

// run executes actions against the tab, bounded by the caller's context.
func (r *cdpRuntime) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(r.tabCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (r *cdpRuntime) Evaluate(ctx context.Context, expression string) ([]byte, error) {
	var res []byte
	err := r.run(ctx, chromedp.Evaluate(expression, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *cdpRuntime) DispatchMouse(ctx context.Context, x, y float64) error {
	return r.run(ctx,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithButtons(1).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1),
	)
}

// Screenshot converts the viewport-relative clip to page coordinates before capture.
func (r *cdpRuntime) Screenshot(ctx context.Context, clip schemas.Rect) ([]byte, error) {
	raw, err := r.Evaluate(ctx, "[window.scrollX, window.scrollY]")
	if err != nil {
		return nil, err
	}
	var scroll [2]float64
	if err := jsoniter.Unmarshal(raw, &scroll); err != nil {
		return nil, fmt.Errorf("decode scroll offset: %w", err)
	}

	var img []byte
	err = r.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		img, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{
				X:      clip.X + scroll[0],
				Y:      clip.Y + scroll[1],
				Width:  clip.Width,
				Height: clip.Height,
				Scale:  1,
			}).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return img, nil
}
