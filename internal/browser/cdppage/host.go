// Package cdppage hosts resolver pages in Chrome through chromedp.
package cdppage

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/browser"
	"github.com/xkilldash9x/pinpoint/internal/browser/jsbridge"
	"github.com/xkilldash9x/pinpoint/internal/config"
)

const defaultNavigationTimeout = 30 * time.Second

// Host is a chromedp browser, launched locally or attached through ControlURL.
type Host struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var _ browser.Host = (*Host)(nil)

// Launch starts or attaches to Chrome. The browser lives until Close or until ctx is cancelled.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Host, error) {
	logger = logger.Named("cdppage")

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.ControlURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.ControlURL)
		logger.Info("Attaching to remote browser.", zap.String("url", cfg.ControlURL))
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)
	// The first Run allocates the browser; it must not carry a deadline.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	logger.Debug("Browser started.", zap.Bool("headless", cfg.Headless), zap.Bool("stealth", cfg.Stealth))

	return &Host{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Open creates a tab with the node registry preinstalled and navigates it.
func (h *Host) Open(ctx context.Context, url string) (browser.Tab, error) {
	tabCtx, cancel := chromedp.NewContext(h.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("create tab: %w", err)
	}

	var tasks chromedp.Tasks
	if h.cfg.Stealth {
		tasks = append(tasks, applyPersona(DefaultPersona, h.logger))
	}
	if w, hgt := h.cfg.Viewport["width"], h.cfg.Viewport["height"]; w > 0 && hgt > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(w), int64(hgt)))
	}
	tasks = append(tasks,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(jsbridge.RegistrySource()).Do(ctx)
			return err
		}),
		chromedp.Navigate(url),
	)

	timeout := h.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	navCtx, navCancel := context.WithTimeout(ctx, timeout)
	defer navCancel()
	runCtx, runCancel := combineContext(tabCtx, navCtx)
	defer runCancel()

	if err := chromedp.Run(runCtx, tasks); err != nil {
		cancel()
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := sleep(ctx, h.cfg.PostLoadWait); err != nil {
		cancel()
		return nil, err
	}
	h.logger.Info("Page loaded.", zap.String("url", url))

	return &tab{
		bridge: jsbridge.New(&cdpRuntime{tabCtx: tabCtx}, h.logger),
		ctx:    tabCtx,
		cancel: cancel,
	}, nil
}

// Close shuts the browser down, or detaches from a remote one.
func (h *Host) Close() error {
	h.browserCancel()
	h.allocCancel()
	return nil
}

type tab struct {
	bridge *jsbridge.Bridge
	ctx    context.Context
	cancel context.CancelFunc
}

func (t *tab) Page() schemas.PageAccessor { return t.bridge }

func (t *tab) Close() error {
	err := chromedp.Cancel(t.ctx)
	t.cancel()
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
