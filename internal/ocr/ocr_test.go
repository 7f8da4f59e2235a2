package ocr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/config"
)

type scriptedGenerator struct {
	replies []string
	errs    []error
	calls   int
}

func (g *scriptedGenerator) Transcribe(ctx context.Context, image []byte) (string, error) {
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i < len(g.replies) {
		return g.replies[i], nil
	}
	return "", nil
}

func noRetryDelay() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

func newVerifier(t *testing.T, gen Generator) *Verifier {
	t.Helper()
	v, err := New(context.Background(), config.OCRConfig{Enabled: true, Timeout: time.Second, FuzzyThreshold: 0.8},
		zaptest.NewLogger(t), WithGenerator(gen), WithBackoff(noRetryDelay))
	require.NoError(t, err)
	return v
}

func TestMatchTiers(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		expected   string
		want       string
	}{
		{"strict ignores case and punctuation", "Colour:\nMIDNIGHT-BLUE\nAdd to bag", "Midnight Blue", TierStrict},
		{"strict across spaces", "Size  X L", "XL", TierStrict},
		{"fuzzy tolerates a misread glyph", "Co1our: Medlum Blue", "Medium Blue", TierFuzzy},
		{"fuzzy does not apply to short values", "Size: M", "XL", ""},
		{"words in any order", "Blue, in the Deep shade", "Deep Blue", TierWords},
		{"every longer word must appear", "Navy Stripe", "a Navy Stripe top", ""},
		{"absent", "Add to cart", "Large", ""},
		{"empty expected never matches", "anything", "  -- ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.transcript, tt.expected, 0.8))
		})
	}
}

func TestApproximateDistance(t *testing.T) {
	assert.Equal(t, 0, approximateDistance([]rune("blue"), []rune("navybluestripe")))
	assert.Equal(t, 1, approximateDistance([]rune("blue"), []rune("navyblvestripe")))
	assert.Equal(t, 4, approximateDistance([]rune("blue"), []rune("")))
}

func TestVerifyVisually(t *testing.T) {
	t.Run("verified transcript", func(t *testing.T) {
		gen := &scriptedGenerator{replies: []string{"Selected size: L"}}
		verdict, err := newVerifier(t, gen).VerifyVisually(context.Background(), []byte("png"), "Size: L")
		require.NoError(t, err)
		assert.True(t, verdict.Verified)
		assert.Equal(t, TierStrict, verdict.Tier)
		assert.Equal(t, "Selected size: L", verdict.Transcript)
	})

	t.Run("not found is a verdict, not an error", func(t *testing.T) {
		gen := &scriptedGenerator{replies: []string{"Add to cart"}}
		verdict, err := newVerifier(t, gen).VerifyVisually(context.Background(), []byte("png"), "Large")
		require.NoError(t, err)
		assert.False(t, verdict.Verified)
		assert.Empty(t, verdict.Tier)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		gen := &scriptedGenerator{
			errs:    []error{errors.New("503 unavailable"), nil},
			replies: []string{"", "Large"},
		}
		verdict, err := newVerifier(t, gen).VerifyVisually(context.Background(), []byte("png"), "Large")
		require.NoError(t, err)
		assert.True(t, verdict.Verified)
		assert.Equal(t, 2, gen.calls)
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		boom := errors.New("quota exceeded")
		gen := &scriptedGenerator{errs: []error{boom, boom, boom, boom}}
		_, err := newVerifier(t, gen).VerifyVisually(context.Background(), []byte("png"), "Large")
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, gen.calls)
	})

	t.Run("rejects an empty image", func(t *testing.T) {
		gen := &scriptedGenerator{}
		_, err := newVerifier(t, gen).VerifyVisually(context.Background(), nil, "Large")
		assert.Error(t, err)
		assert.Zero(t, gen.calls)
	})
}

func TestUnavailableWithoutModel(t *testing.T) {
	for name, cfg := range map[string]config.OCRConfig{
		"disabled":       {Enabled: false, APIKey: "key"},
		"missing apikey": {Enabled: true},
	} {
		t.Run(name, func(t *testing.T) {
			v, err := New(context.Background(), cfg, zaptest.NewLogger(t))
			require.NoError(t, err)
			_, err = v.VerifyVisually(context.Background(), []byte("png"), "Large")
			assert.ErrorIs(t, err, schemas.ErrVisualUnavailable)
		})
	}
}
