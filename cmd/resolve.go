package cmd

import (
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/observability"
)

// targetFlags are shared by every command that names a target on a page.
type targetFlags struct {
	kind      string
	attribute string
	value     string
	scope     string
	url       string
	htmlFile  string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.kind, "kind", "k", "", "target kind: variant, button, field or quantity")
	fl.StringVarP(&f.attribute, "attribute", "a", "", "variant dimension or field name (e.g. size, email)")
	fl.StringVar(&f.value, "value", "", "option, button text, text to type, or quantity")
	fl.StringVar(&f.scope, "scope", "", "CSS selector restricting the search")
	fl.StringVarP(&f.url, "url", "u", "", "page to open")
	fl.StringVar(&f.htmlFile, "html", "", "resolve against a saved HTML file instead of a browser")

	fl.String("driver", "", "browser driver (chromedp or rod)")
	fl.Bool("headless", true, "run the browser headless")
	fl.Bool("stealth", false, "apply browser fingerprint evasions")
	fl.String("control-url", "", "DevTools endpoint of an already running browser")
	fl.Bool("ocr", false, "fall back to screenshot transcription when discovery finds nothing")

	_ = cmd.MarkFlagRequired("kind")
}

func (f *targetFlags) target() (schemas.TargetDescriptor, error) {
	kind, err := schemas.ParseTargetKind(f.kind)
	if err != nil {
		return schemas.TargetDescriptor{}, err
	}
	t := schemas.TargetDescriptor{
		Kind:          kind,
		Attribute:     f.attribute,
		Value:         f.value,
		ScopeSelector: f.scope,
	}
	return t, t.Validate()
}

func (f *targetFlags) source() pageSource {
	return pageSource{URL: f.url, HTMLFile: f.htmlFile}
}

func newResolveCmd() *cobra.Command {
	var (
		flags targetFlags
		calls int
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Find a target on a page, act on it and verify the effect",
		Long: `Resolve locates a semantic target (a variant option, a button, a form field or
a quantity stepper) on a product page, acts on it and verifies that the page
reacted. The result, including diagnostics, is printed as JSON.

With --calls greater than one, a call whose action could not be verified is
retried; each retry escalates to the next discovery strategy.`,
		Example: `  pinpoint resolve --url https://shop.example/p/tee --kind variant --attribute size --value L
  pinpoint resolve --html page.html --kind button --value "Add to cart"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			target, err := flags.target()
			if err != nil {
				return err
			}
			if calls < 1 {
				return fmt.Errorf("--calls must be at least 1")
			}

			s, err := newSession(ctx, cfg, flags.source())
			if err != nil {
				return err
			}
			defer s.close()

			logger := observability.Component("resolve")
			var result *schemas.Result
			for i := 1; i <= calls; i++ {
				result, err = s.engine.ResolveAndAct(ctx, target, 0)
				if err != nil {
					if result != nil {
						_ = writeJSON(cmd.OutOrStdout(), result)
					}
					return fmt.Errorf("resolution aborted: %w", err)
				}
				logger.Info("Resolution call finished.",
					zap.Int("call", i),
					zap.Bool("success", result.Success),
					zap.String("failure", string(result.Failure)),
					zap.Duration("duration", result.Duration.Round(time.Millisecond)))
				if result.Success || result.Failure != schemas.FailureVerificationFailed {
					break
				}
			}

			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("target %s not resolved: %s", target, result.Failure)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&calls, "calls", 1, "maximum number of resolution calls")
	cmd.Flags().Duration("timeout", 0, "per-call timeout (default from config)")
	cmd.Flags().Int("max-actions", 0, "candidates one call may act on (default from config)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
