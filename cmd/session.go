package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/browser"
	"github.com/xkilldash9x/pinpoint/internal/browser/cdppage"
	"github.com/xkilldash9x/pinpoint/internal/browser/htmlpage"
	"github.com/xkilldash9x/pinpoint/internal/browser/rodpage"
	"github.com/xkilldash9x/pinpoint/internal/config"
	"github.com/xkilldash9x/pinpoint/internal/observability"
	"github.com/xkilldash9x/pinpoint/internal/ocr"
	"github.com/xkilldash9x/pinpoint/internal/resolver"
	"github.com/xkilldash9x/pinpoint/internal/store"
)

// pageSource says where the page comes from. HTMLFile wins over URL.
type pageSource struct {
	URL      string
	HTMLFile string
}

// session owns everything a command needs for one page. close releases it in
// reverse order of acquisition.
type session struct {
	engine  *resolver.Engine
	closers []func() error
	logger  *zap.Logger
}

// hostLauncher is swapped in tests.
var hostLauncher = launchHost

func launchHost(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Host, error) {
	switch cfg.Driver {
	case config.DriverRod:
		return rodpage.Launch(ctx, cfg, logger)
	default:
		return cdppage.Launch(ctx, cfg, logger)
	}
}

func newSession(ctx context.Context, cfg *config.Config, src pageSource) (_ *session, err error) {
	s := &session{logger: observability.Component("session")}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	page, err := s.openPage(ctx, cfg, src)
	if err != nil {
		return nil, err
	}

	sinks := []schemas.DiagnosticsSink{store.NewLogSink(observability.GetLogger())}
	if url := cfg.Database().URL; url != "" {
		st, pool, err := store.Open(ctx, url, observability.GetLogger())
		if err != nil {
			return nil, fmt.Errorf("failed to open diagnostics store: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		sinks = append(sinks, st)
	}

	opts := []resolver.Option{
		resolver.WithSinks(sinks...),
		resolver.WithMetrics(observability.DefaultMetrics()),
	}
	if cfg.OCR().Enabled {
		v, err := ocr.New(ctx, cfg.OCR(), observability.GetLogger())
		if err != nil {
			return nil, fmt.Errorf("failed to create visual verifier: %w", err)
		}
		opts = append(opts, resolver.WithVisualVerifier(v))
	}

	s.engine = resolver.New(page, cfg.Resolver(), observability.GetLogger(), opts...)
	return s, nil
}

func (s *session) openPage(ctx context.Context, cfg *config.Config, src pageSource) (schemas.PageAccessor, error) {
	if src.HTMLFile != "" {
		body, err := os.ReadFile(src.HTMLFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read html file: %w", err)
		}
		location := src.URL
		if location == "" {
			abs, err := filepath.Abs(src.HTMLFile)
			if err != nil {
				return nil, err
			}
			location = "file://" + filepath.ToSlash(abs)
		}
		page, err := htmlpage.New(string(body), htmlpage.WithURL(location))
		if err != nil {
			return nil, fmt.Errorf("failed to parse html file: %w", err)
		}
		s.closers = append(s.closers, func() error { page.Close(); return nil })
		s.logger.Debug("Loaded offline page.", zap.String("file", src.HTMLFile), zap.String("url", location))
		return page, nil
	}

	if src.URL == "" {
		return nil, fmt.Errorf("either --url or --html is required")
	}
	host, err := hostLauncher(ctx, cfg.Browser(), observability.GetLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	s.closers = append(s.closers, host.Close)

	tab, err := host.Open(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", src.URL, err)
	}
	s.closers = append(s.closers, tab.Close)
	s.logger.Info("Page opened.", zap.String("url", src.URL), zap.String("driver", cfg.Browser().Driver))
	return tab.Page(), nil
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("Error during session cleanup.", zap.Error(err))
		}
	}
	s.closers = nil
}
