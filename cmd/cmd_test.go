package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/browser"
	"github.com/xkilldash9x/pinpoint/internal/browser/htmlpage"
	"github.com/xkilldash9x/pinpoint/internal/config"
	"github.com/xkilldash9x/pinpoint/internal/observability"
)

const testConfigYAML = `
logger:
  level: fatal
  log_file: ""
resolver:
  action:
    scroll_settle: 0s
    tactic_interval: 0s
  verify:
    post_action_wait: 0s
`

const productPage = `<form class="product-form">
	<label for="size">Size</label>
	<select id="size" name="size">
		<option value="">Choose a size</option>
		<option value="sz-s">S</option>
		<option value="sz-l">L</option>
	</select>
	<button type="submit">Add to cart</button>
</form>`

// writeFixtures creates a config file and an HTML page in a temp dir.
func writeFixtures(t *testing.T, page string) (cfgPath, htmlPath string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "pinpoint.yaml")
	htmlPath = filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfigYAML), 0o600))
	require.NoError(t, os.WriteFile(htmlPath, []byte(page), 0o600))
	return cfgPath, htmlPath
}

// run executes a fresh command tree and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, jsoniter.UnmarshalFromString(out, &m), "output: %s", out)
	return m
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "pinpoint "+Version+"\n", out)
}

func TestResolveCommand(t *testing.T) {
	t.Run("acts on an offline page", func(t *testing.T) {
		cfgPath, htmlPath := writeFixtures(t, productPage)
		out, err := run(t, "resolve", "-c", cfgPath, "--html", htmlPath,
			"--kind", "variant", "--attribute", "size", "--value", "L")
		require.NoError(t, err)

		res := decode(t, out)
		assert.Equal(t, true, res["success"])
		assert.Equal(t, string(schemas.StrategyPatternMatch), res["strategyUsed"])
		assert.Contains(t, res["pageUrl"], "file://")
	})

	t.Run("prints the failed result and returns an error", func(t *testing.T) {
		cfgPath, htmlPath := writeFixtures(t, productPage)
		out, err := run(t, "resolve", "-c", cfgPath, "--html", htmlPath,
			"--kind", "button", "--value", "Checkout now")
		require.Error(t, err)
		assert.Contains(t, err.Error(), string(schemas.FailureNoCandidateFound))

		res := decode(t, out)
		assert.Equal(t, false, res["success"])
		assert.Equal(t, string(schemas.FailureNoCandidateFound), res["failure"])
	})

	t.Run("rejects an unknown kind before opening a page", func(t *testing.T) {
		cfgPath, _ := writeFixtures(t, productPage)
		out, err := run(t, "resolve", "-c", cfgPath, "--html", "does-not-exist.html",
			"--kind", "hover", "--value", "L")
		assert.ErrorIs(t, err, schemas.ErrInvalidTarget)
		assert.Empty(t, out)
	})

	t.Run("requires a page source", func(t *testing.T) {
		cfgPath, _ := writeFixtures(t, productPage)
		_, err := run(t, "resolve", "-c", cfgPath, "--kind", "button", "--value", "Add to cart")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--url or --html")
	})

	t.Run("rejects a zero call budget", func(t *testing.T) {
		cfgPath, htmlPath := writeFixtures(t, productPage)
		_, err := run(t, "resolve", "-c", cfgPath, "--html", htmlPath,
			"--kind", "button", "--value", "Add to cart", "--calls", "0")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--calls")
	})
}

func TestInspectCommand(t *testing.T) {
	cfgPath, htmlPath := writeFixtures(t, productPage)
	out, err := run(t, "inspect", "-c", cfgPath, "--html", htmlPath,
		"--kind", "variant", "--attribute", "size", "--value", "L")
	require.NoError(t, err)

	ins := decode(t, out)
	strategies, ok := ins["strategies"].([]any)
	require.True(t, ok)
	assert.Len(t, strategies, 3)
	assert.NotNil(t, ins["winner"])
}

// fakeHost serves an in-memory page in place of a browser.
type fakeHost struct {
	page   *htmlpage.Page
	opened []string
	closed bool
}

type fakeTab struct{ page *htmlpage.Page }

func (t fakeTab) Page() schemas.PageAccessor { return t.page }
func (t fakeTab) Close() error               { return nil }

func (h *fakeHost) Open(ctx context.Context, url string) (browser.Tab, error) {
	h.opened = append(h.opened, url)
	h.page.SetURL(url)
	return fakeTab{page: h.page}, nil
}

func (h *fakeHost) Close() error {
	h.closed = true
	return nil
}

func TestResolveThroughBrowserHost(t *testing.T) {
	page, err := htmlpage.New(`<div class="product-actions"><button id="add">Add to cart</button></div>`)
	require.NoError(t, err)
	host := &fakeHost{page: page}

	var driver string
	hostLauncher = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Host, error) {
		driver = cfg.Driver
		return host, nil
	}
	t.Cleanup(func() { hostLauncher = launchHost })

	cfgPath, _ := writeFixtures(t, productPage)
	out, err := run(t, "resolve", "-c", cfgPath, "--url", "https://shop.example/p/tee",
		"--driver", "rod", "--kind", "button", "--value", "Add to cart")
	require.NoError(t, err)

	assert.Equal(t, config.DriverRod, driver)
	assert.Equal(t, []string{"https://shop.example/p/tee"}, host.opened)
	assert.True(t, host.closed, "the session closes the host")
	assert.Equal(t, "https://shop.example/p/tee", decode(t, out)["pageUrl"])
}

func TestInitializeConfig(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{Use: "test"}
		c.Flags().Int("max-actions", 0, "")
		c.Flags().Duration("timeout", 0, "")
		c.Flags().String("unrelated", "", "")
		return c
	}
	cfgPath, _ := writeFixtures(t, productPage)

	t.Run("environment overrides the file", func(t *testing.T) {
		t.Setenv("PINPOINT_RESOLVER_MAX_ACTIONS_PER_CALL", "3")
		v := viper.New()
		config.SetDefaults(v)
		require.NoError(t, initializeConfig(newCmd(), v, cfgPath))

		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Resolver().MaxActionsPerCall)
		assert.Equal(t, "fatal", cfg.Logger().Level)
	})

	t.Run("changed flags override the environment", func(t *testing.T) {
		t.Setenv("PINPOINT_RESOLVER_MAX_ACTIONS_PER_CALL", "3")
		c := newCmd()
		require.NoError(t, c.Flags().Parse([]string{"--max-actions", "2", "--timeout", "4s"}))

		v := viper.New()
		config.SetDefaults(v)
		require.NoError(t, initializeConfig(c, v, cfgPath))

		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Resolver().MaxActionsPerCall)
		assert.Equal(t, 4*time.Second, cfg.Resolver().CallTimeout)
	})

	t.Run("unset flags keep defaults", func(t *testing.T) {
		v := viper.New()
		config.SetDefaults(v)
		require.NoError(t, initializeConfig(newCmd(), v, cfgPath))
		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 1, cfg.Resolver().MaxActionsPerCall)
		assert.Equal(t, 30*time.Second, cfg.Resolver().CallTimeout)
	})

	t.Run("a missing explicit file is an error", func(t *testing.T) {
		v := viper.New()
		err := initializeConfig(newCmd(), v, filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
