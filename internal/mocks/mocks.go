// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Resolver() config.ResolverConfig {
	args := m.Called()
	return args.Get(0).(config.ResolverConfig)
}

func (m *MockConfig) OCR() config.OCRConfig {
	args := m.Called()
	return args.Get(0).(config.OCRConfig)
}

func (m *MockConfig) SetBrowserHeadless(b bool) { m.Called(b) }
func (m *MockConfig) SetBrowserDriver(d string) { m.Called(d) }
func (m *MockConfig) SetResolverMaxActionsPerCall(n int) {
	m.Called(n)
}
func (m *MockConfig) SetResolverCallTimeout(d time.Duration) {
	m.Called(d)
}

// -- Page Accessor Mock --

// MockPageAccessor mocks schemas.PageAccessor.
type MockPageAccessor struct {
	mock.Mock
}

// NewMockPageAccessor returns a mock that fails the test on unexpected calls
// and asserts expectations at cleanup.
func NewMockPageAccessor(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPageAccessor {
	m := &MockPageAccessor{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPageAccessor) BeginSnapshot(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPageAccessor) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPageAccessor) Viewport(ctx context.Context) (schemas.Viewport, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Viewport), args.Error(1)
}

func (m *MockPageAccessor) Query(ctx context.Context, scope schemas.NodeRef, selector string) ([]schemas.NodeRef, error) {
	args := m.Called(ctx, scope, selector)
	var refs []schemas.NodeRef
	if v := args.Get(0); v != nil {
		refs = v.([]schemas.NodeRef)
	}
	return refs, args.Error(1)
}

func (m *MockPageAccessor) Describe(ctx context.Context, ref schemas.NodeRef) (schemas.ElementSnapshot, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(schemas.ElementSnapshot), args.Error(1)
}

func (m *MockPageAccessor) Parent(ctx context.Context, ref schemas.NodeRef) (schemas.NodeRef, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(schemas.NodeRef), args.Error(1)
}

func (m *MockPageAccessor) Children(ctx context.Context, ref schemas.NodeRef) ([]schemas.NodeRef, error) {
	args := m.Called(ctx, ref)
	var refs []schemas.NodeRef
	if v := args.Get(0); v != nil {
		refs = v.([]schemas.NodeRef)
	}
	return refs, args.Error(1)
}

func (m *MockPageAccessor) ScrollIntoView(ctx context.Context, ref schemas.NodeRef) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *MockPageAccessor) Invoke(ctx context.Context, ref schemas.NodeRef) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *MockPageAccessor) Focus(ctx context.Context, ref schemas.NodeRef) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *MockPageAccessor) DispatchPointer(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockPageAccessor) SetChecked(ctx context.Context, ref schemas.NodeRef, checked bool) error {
	return m.Called(ctx, ref, checked).Error(0)
}

func (m *MockPageAccessor) SelectOption(ctx context.Context, ref schemas.NodeRef, value string) error {
	return m.Called(ctx, ref, value).Error(0)
}

func (m *MockPageAccessor) SetValue(ctx context.Context, ref schemas.NodeRef, value string) error {
	return m.Called(ctx, ref, value).Error(0)
}

func (m *MockPageAccessor) Screenshot(ctx context.Context, clip schemas.Rect) ([]byte, error) {
	args := m.Called(ctx, clip)
	var data []byte
	if v := args.Get(0); v != nil {
		data = v.([]byte)
	}
	return data, args.Error(1)
}

// -- Visual Verifier Mock --

// MockVisualVerifier mocks schemas.VisualVerifier.
type MockVisualVerifier struct {
	mock.Mock
}

func (m *MockVisualVerifier) VerifyVisually(ctx context.Context, image []byte, expected string) (schemas.VisualVerdict, error) {
	args := m.Called(ctx, image, expected)
	return args.Get(0).(schemas.VisualVerdict), args.Error(1)
}

// -- Diagnostics Sink Mock --

// MockDiagnosticsSink mocks schemas.DiagnosticsSink.
type MockDiagnosticsSink struct {
	mock.Mock
}

func (m *MockDiagnosticsSink) Record(ctx context.Context, result *schemas.Result) error {
	return m.Called(ctx, result).Error(0)
}
