package schemas

import "context"

// -- Page Snapshot Accessor --

// PageAccessor is the resolver's only view of the host browser. Implementations
// wrap a live document owned by an external driver; the resolver never opens,
// closes or navigates it.
//
//go:generate mockery --name PageAccessor --output ../../internal/mocks --outpkg mocks
type PageAccessor interface {
	// BeginSnapshot starts a new read generation. Refs issued earlier become stale.
	BeginSnapshot(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	Viewport(ctx context.Context) (Viewport, error)
	// Query returns matches for a CSS selector in document order. An empty scope
	// searches the whole document. Open shadow roots are pierced.
	Query(ctx context.Context, scope NodeRef, selector string) ([]NodeRef, error)
	Describe(ctx context.Context, ref NodeRef) (ElementSnapshot, error)
	// Parent returns "" at the document root and crosses shadow boundaries to the host.
	Parent(ctx context.Context, ref NodeRef) (NodeRef, error)
	// Children includes the children of an attached open shadow root.
	Children(ctx context.Context, ref NodeRef) ([]NodeRef, error)
	// ScrollIntoView starts a smooth scroll that centres the node. It does not wait for it to settle.
	ScrollIntoView(ctx context.Context, ref NodeRef) error
	// Invoke performs the node's native activation (element.click()).
	Invoke(ctx context.Context, ref NodeRef) error
	Focus(ctx context.Context, ref NodeRef) error
	// DispatchPointer sends mousedown, mouseup and click at viewport coordinates.
	DispatchPointer(ctx context.Context, x, y float64) error
	// SetChecked sets the checked property and dispatches input and change events.
	SetChecked(ctx context.Context, ref NodeRef, checked bool) error
	// SelectOption picks the option whose value or text equals value and dispatches change.
	SelectOption(ctx context.Context, ref NodeRef, value string) error
	// SetValue replaces a field's value and dispatches input and change events.
	SetValue(ctx context.Context, ref NodeRef, value string) error
	// Screenshot captures a viewport region as PNG.
	Screenshot(ctx context.Context, clip Rect) ([]byte, error)
}

// VisualVerifier is the optional OCR collaborator. Returning ErrVisualUnavailable
// means the check could not run and is not treated as a failure.
//
//go:generate mockery --name VisualVerifier --output ../../internal/mocks --outpkg mocks
type VisualVerifier interface {
	VerifyVisually(ctx context.Context, image []byte, expected string) (VisualVerdict, error)
}

// DiagnosticsSink receives every finished Result.
type DiagnosticsSink interface {
	Record(ctx context.Context, result *Result) error
}
