// Package jsbridge implements schemas.PageAccessor on top of any driver that can
// evaluate JavaScript in a page. All DOM work happens inside an injected node
// registry; the driver only needs to evaluate expressions, move the mouse and
// capture screenshots.
package jsbridge

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

//go:embed registry.js
var registrySource string

// Error codes the registry returns in place of a message.
const (
	codeStale       = "stale"
	codeNotFound    = "not_found"
	codeUninstalled = "uninstalled"
)

const callerTemplate = `(function (op, args) {
  var p = window.__pinpoint;
  return p ? p.call(op, args) : { ok: false, error: %q };
})(%s, %s)`

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Runtime is the driver surface the bridge needs.
type Runtime interface {
	// Evaluate runs a JavaScript expression and returns its JSON-encoded value.
	Evaluate(ctx context.Context, expression string) ([]byte, error)
	// DispatchMouse presses and releases the primary button at viewport coordinates.
	DispatchMouse(ctx context.Context, x, y float64) error
	// Screenshot captures a viewport region as PNG.
	Screenshot(ctx context.Context, clip schemas.Rect) ([]byte, error)
}

// RegistrySource returns the script that installs the node registry. Drivers
// may register it to run on every new document.
func RegistrySource() string {
	return registrySource
}

type response struct {
	OK    bool                `json:"ok"`
	Value jsoniter.RawMessage `json:"value"`
	Error string              `json:"error"`
}

// Bridge is a PageAccessor backed by a Runtime.
type Bridge struct {
	rt     Runtime
	logger *zap.Logger
}

var _ schemas.PageAccessor = (*Bridge)(nil)

// New returns a Bridge. The registry is installed lazily on first use and
// again whenever a navigation drops it.
func New(rt Runtime, logger *zap.Logger) *Bridge {
	return &Bridge{rt: rt, logger: logger.Named("jsbridge")}
}

func (b *Bridge) BeginSnapshot(ctx context.Context) error {
	return b.call(ctx, "begin", nil, nil)
}

func (b *Bridge) URL(ctx context.Context) (string, error) {
	var u string
	err := b.call(ctx, "url", nil, &u)
	return u, err
}

func (b *Bridge) Viewport(ctx context.Context) (schemas.Viewport, error) {
	var vp schemas.Viewport
	err := b.call(ctx, "viewport", nil, &vp)
	return vp, err
}

func (b *Bridge) Query(ctx context.Context, scope schemas.NodeRef, selector string) ([]schemas.NodeRef, error) {
	var refs []schemas.NodeRef
	err := b.call(ctx, "query", map[string]any{"scope": scope, "selector": selector}, &refs)
	return refs, err
}

func (b *Bridge) Describe(ctx context.Context, ref schemas.NodeRef) (schemas.ElementSnapshot, error) {
	var el schemas.ElementSnapshot
	err := b.call(ctx, "describe", refArgs(ref), &el)
	return el, err
}

func (b *Bridge) Parent(ctx context.Context, ref schemas.NodeRef) (schemas.NodeRef, error) {
	var parent schemas.NodeRef
	err := b.call(ctx, "parent", refArgs(ref), &parent)
	return parent, err
}

func (b *Bridge) Children(ctx context.Context, ref schemas.NodeRef) ([]schemas.NodeRef, error) {
	var refs []schemas.NodeRef
	err := b.call(ctx, "children", refArgs(ref), &refs)
	return refs, err
}

func (b *Bridge) ScrollIntoView(ctx context.Context, ref schemas.NodeRef) error {
	return b.call(ctx, "scroll", refArgs(ref), nil)
}

func (b *Bridge) Invoke(ctx context.Context, ref schemas.NodeRef) error {
	return b.call(ctx, "invoke", refArgs(ref), nil)
}

func (b *Bridge) Focus(ctx context.Context, ref schemas.NodeRef) error {
	return b.call(ctx, "focus", refArgs(ref), nil)
}

func (b *Bridge) DispatchPointer(ctx context.Context, x, y float64) error {
	if err := b.rt.DispatchMouse(ctx, x, y); err != nil {
		return b.hostError(ctx, "dispatch pointer", err)
	}
	return nil
}

func (b *Bridge) SetChecked(ctx context.Context, ref schemas.NodeRef, checked bool) error {
	return b.call(ctx, "setChecked", map[string]any{"ref": ref, "checked": checked}, nil)
}

func (b *Bridge) SelectOption(ctx context.Context, ref schemas.NodeRef, value string) error {
	return b.call(ctx, "selectOption", map[string]any{"ref": ref, "value": value}, nil)
}

func (b *Bridge) SetValue(ctx context.Context, ref schemas.NodeRef, value string) error {
	return b.call(ctx, "setValue", map[string]any{"ref": ref, "value": value}, nil)
}

func (b *Bridge) Screenshot(ctx context.Context, clip schemas.Rect) ([]byte, error) {
	if clip.Empty() {
		return nil, fmt.Errorf("screenshot clip is empty")
	}
	img, err := b.rt.Screenshot(ctx, clip)
	if err != nil {
		return nil, b.hostError(ctx, "screenshot", err)
	}
	return img, nil
}

// -- internals --

func refArgs(ref schemas.NodeRef) map[string]any {
	return map[string]any{"ref": ref}
}

// call runs one registry operation, installing the registry and retrying once
// if the page does not have it.
func (b *Bridge) call(ctx context.Context, op string, args any, out any) error {
	expr, err := callerExpression(op, args)
	if err != nil {
		return err
	}
	resp, err := b.evaluate(ctx, op, expr)
	if err != nil {
		return err
	}
	if !resp.OK && resp.Error == codeUninstalled {
		b.logger.Debug("Installing node registry.", zap.String("op", op))
		if _, err := b.rt.Evaluate(ctx, registrySource); err != nil {
			return b.hostError(ctx, "install registry", err)
		}
		if resp, err = b.evaluate(ctx, op, expr); err != nil {
			return err
		}
	}
	if !resp.OK {
		return opError(op, args, resp.Error)
	}
	if out == nil || len(resp.Value) == 0 || string(resp.Value) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Value, out); err != nil {
		return fmt.Errorf("decode %s result: %w", op, err)
	}
	return nil
}

func (b *Bridge) evaluate(ctx context.Context, op, expr string) (response, error) {
	var resp response
	raw, err := b.rt.Evaluate(ctx, expr)
	if err != nil {
		return resp, b.hostError(ctx, op, err)
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, fmt.Errorf("%w: decode %s response: %v", schemas.ErrHostUnavailable, op, err)
	}
	return resp, nil
}

func callerExpression(op string, args any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	opJSON, err := json.Marshal(op)
	if err != nil {
		return "", err
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode %s arguments: %w", op, err)
	}
	return fmt.Sprintf(callerTemplate, codeUninstalled, opJSON, argsJSON), nil
}

// hostError maps a driver failure. A cancelled or expired call context is
// returned as is so the caller can tell a timeout from a lost page.
func (b *Bridge) hostError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", schemas.ErrHostUnavailable, op, err)
}

func opError(op string, args any, code string) error {
	target := ""
	if m, ok := args.(map[string]any); ok {
		if ref, ok := m["ref"]; ok {
			target = fmt.Sprintf(" %v", ref)
		}
	}
	switch code {
	case codeStale:
		return fmt.Errorf("%s%s: %w", op, target, schemas.ErrStaleNode)
	case codeNotFound:
		return fmt.Errorf("%s%s: %w", op, target, schemas.ErrNotFound)
	case codeUninstalled:
		return fmt.Errorf("%w: %s: node registry could not be installed", schemas.ErrHostUnavailable, op)
	}
	if strings.Contains(code, "is not a valid selector") {
		return fmt.Errorf("%s: invalid selector: %s", op, code)
	}
	return fmt.Errorf("%s%s: %s", op, target, code)
}
