// Package rodpage hosts resolver pages in Chrome through go-rod, with
// go-rod/stealth applied when configured.
package rodpage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/browser"
	"github.com/xkilldash9x/pinpoint/internal/browser/jsbridge"
	"github.com/xkilldash9x/pinpoint/internal/config"
)

const defaultNavigationTimeout = 30 * time.Second

// Host is a rod browser, launched locally or attached through ControlURL.
type Host struct {
	cfg     config.BrowserConfig
	logger  *zap.Logger
	browser *rod.Browser
	lnch    *launcher.Launcher
}

var _ browser.Host = (*Host)(nil)

// newLauncher builds the local launcher from the browser config.
func newLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().Headless(cfg.Headless).Set("disable-blink-features", "AutomationControlled")
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", w, h))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if found {
			l = l.Set(flags.Flag(key), value)
		} else {
			l = l.Set(flags.Flag(key))
		}
	}
	return l
}

// Launch starts or attaches to Chrome.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Host, error) {
	logger = logger.Named("rodpage")
	h := &Host{cfg: cfg, logger: logger}

	wsURL := cfg.ControlURL
	if wsURL != "" {
		logger.Info("Attaching to remote browser.", zap.String("url", wsURL))
	} else {
		h.lnch = newLauncher(cfg).Context(ctx)
		u, err := h.lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		wsURL = u
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		if h.lnch != nil {
			h.lnch.Kill()
		}
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	h.browser = b
	logger.Debug("Browser started.", zap.Bool("headless", cfg.Headless), zap.Bool("stealth", cfg.Stealth))
	return h, nil
}

// Open creates a tab with the node registry preinstalled and navigates it.
func (h *Host) Open(ctx context.Context, url string) (browser.Tab, error) {
	var page *rod.Page
	var err error
	if h.cfg.Stealth {
		page, err = stealth.Page(h.browser)
	} else {
		page, err = h.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("create tab: %w", err)
	}

	if err := h.prepare(page); err != nil {
		_ = page.Close()
		return nil, err
	}

	timeout := h.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		h.logger.Warn("Page load did not finish.", zap.String("url", url), zap.Error(err))
	}
	if err := sleep(ctx, h.cfg.PostLoadWait); err != nil {
		_ = page.Close()
		return nil, err
	}
	h.logger.Info("Page loaded.", zap.String("url", url))

	return &tab{page: page, bridge: jsbridge.New(&rodRuntime{page: page}, h.logger)}, nil
}

func (h *Host) prepare(page *rod.Page) error {
	if w, hgt := h.cfg.Viewport["width"], h.cfg.Viewport["height"]; w > 0 && hgt > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             w,
			Height:            hgt,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	if _, err := page.EvalOnNewDocument(jsbridge.RegistrySource()); err != nil {
		return fmt.Errorf("register node registry: %w", err)
	}
	return nil
}

// Close shuts a locally launched browser down. A remote browser is left running.
func (h *Host) Close() error {
	if h.lnch == nil {
		return nil
	}
	err := h.browser.Close()
	h.lnch.Kill()
	h.lnch.Cleanup()
	return err
}

type tab struct {
	page   *rod.Page
	bridge *jsbridge.Bridge
}

func (t *tab) Page() schemas.PageAccessor { return t.bridge }

func (t *tab) Close() error { return t.page.Close() }

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
