package rodpage

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/browser/jsbridge"
)

// rodRuntime drives one rod page for the JS bridge.
type rodRuntime struct {
	page *rod.Page
}

var _ jsbridge.Runtime = (*rodRuntime)(nil)

// asFunction turns an expression into the function form rod evaluates.
func asFunction(expression string) string {
	body := strings.TrimRight(strings.TrimSpace(expression), ";")
	return "() => (\n" + body + "\n)"
}

func (r *rodRuntime) Evaluate(ctx context.Context, expression string) ([]byte, error) {
	res, err := r.page.Context(ctx).Eval(asFunction(expression))
	if err != nil {
		return nil, err
	}
	return res.Value.MarshalJSON()
}

func (r *rodRuntime) DispatchMouse(ctx context.Context, x, y float64) error {
	p := r.page.Context(ctx)
	events := []proto.InputDispatchMouseEvent{
		{Type: proto.InputDispatchMouseEventTypeMouseMoved, X: x, Y: y},
		{Type: proto.InputDispatchMouseEventTypeMousePressed, X: x, Y: y, Button: proto.InputMouseButtonLeft, ClickCount: 1},
		{Type: proto.InputDispatchMouseEventTypeMouseReleased, X: x, Y: y, Button: proto.InputMouseButtonLeft, ClickCount: 1},
	}
	for _, ev := range events {
		if err := ev.Call(p); err != nil {
			return fmt.Errorf("dispatch %s: %w", ev.Type, err)
		}
	}
	return nil
}

// Screenshot converts the viewport-relative clip to page coordinates before capture.
func (r *rodRuntime) Screenshot(ctx context.Context, clip schemas.Rect) ([]byte, error) {
	raw, err := r.Evaluate(ctx, "[window.scrollX, window.scrollY]")
	if err != nil {
		return nil, err
	}
	var scroll [2]float64
	if err := jsoniter.Unmarshal(raw, &scroll); err != nil {
		return nil, fmt.Errorf("decode scroll offset: %w", err)
	}

	res, err := proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X:      clip.X + scroll[0],
			Y:      clip.Y + scroll[1],
			Width:  clip.Width,
			Height: clip.Height,
			Scale:  1,
		},
	}.Call(r.page.Context(ctx))
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}
