// Package ocr is the visual verification collaborator. It transcribes a
// screenshot with a multimodal model and checks whether the expected text
// appears in the transcript.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/config"
)

// Match tiers, strongest first.
const (
	TierStrict = "strict"
	TierFuzzy  = "fuzzy"
	TierWords  = "words"
)

const (
	defaultTimeout        = 20 * time.Second
	defaultFuzzyThreshold = 0.8
	// Values shorter than this never take the fuzzy tier; one edit would be most of the word.
	minFuzzyLength     = 4
	maxTranscriptRunes = 2000

	transcribePrompt = "Transcribe every piece of visible text in this screenshot, one line per visual line. " +
		"Output only the text, with no commentary."
)

// Generator turns an image into text.
type Generator interface {
	Transcribe(ctx context.Context, image []byte) (string, error)
}

// Verifier implements schemas.VisualVerifier.
type Verifier struct {
	gen        Generator
	cfg        config.OCRConfig
	logger     *zap.Logger
	newBackoff func() backoff.BackOff
}

var _ schemas.VisualVerifier = (*Verifier)(nil)

// Option configures a Verifier.
type Option func(*Verifier)

// WithGenerator replaces the model client.
func WithGenerator(g Generator) Option {
	return func(v *Verifier) { v.gen = g }
}

// WithBackoff sets the retry policy for transcription calls.
func WithBackoff(f func() backoff.BackOff) Option {
	return func(v *Verifier) { v.newBackoff = f }
}

// New builds a Verifier. When OCR is disabled or no API key is configured the
// Verifier still works but every check reports ErrVisualUnavailable.
func New(ctx context.Context, cfg config.OCRConfig, logger *zap.Logger, opts ...Option) (*Verifier, error) {
	v := &Verifier{
		cfg:    cfg,
		logger: logger.Named("ocr"),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return backoff.WithMaxRetries(b, 2)
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.gen != nil || !cfg.Enabled {
		return v, nil
	}
	if cfg.APIKey == "" {
		v.logger.Warn("OCR is enabled but no API key is configured; visual checks are unavailable.")
		return v, nil
	}

	gen, err := newGenAIGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	v.gen = gen
	return v, nil
}

// VerifyVisually transcribes image and looks for expected in the transcript.
func (v *Verifier) VerifyVisually(ctx context.Context, image []byte, expected string) (schemas.VisualVerdict, error) {
	if v.gen == nil {
		return schemas.VisualVerdict{}, schemas.ErrVisualUnavailable
	}
	if len(image) == 0 {
		return schemas.VisualVerdict{}, fmt.Errorf("empty image")
	}

	timeout := v.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var transcript string
	attempt := 0
	op := func() error {
		attempt++
		text, err := v.gen.Transcribe(ctx, image)
		if err != nil {
			if errors.Is(err, schemas.ErrVisualUnavailable) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			v.logger.Warn("Transcription failed, retrying.", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		transcript = text
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(v.newBackoff(), ctx)); err != nil {
		return schemas.VisualVerdict{}, fmt.Errorf("transcribe screenshot: %w", err)
	}

	threshold := v.cfg.FuzzyThreshold
	if threshold <= 0 {
		threshold = defaultFuzzyThreshold
	}
	tier := Match(transcript, expected, threshold)
	v.logger.Debug("Visual check finished.",
		zap.String("expected", expected),
		zap.String("tier", tier),
		zap.Int("transcript_length", len(transcript)))

	if r := []rune(transcript); len(r) > maxTranscriptRunes {
		transcript = string(r[:maxTranscriptRunes])
	}
	return schemas.VisualVerdict{Verified: tier != "", Transcript: transcript, Tier: tier}, nil
}

// Match reports the strongest tier at which expected appears in transcript, or "".
//
// strict: expected occurs with case, punctuation and spaces ignored.
// fuzzy: expected occurs within an edit budget of (1 - threshold) of its length.
// words: every word of expected longer than two characters occurs somewhere.
func Match(transcript, expected string, threshold float64) string {
	needle := strict(expected)
	if needle == "" {
		return ""
	}
	hay := strict(transcript)
	if strings.Contains(hay, needle) {
		return TierStrict
	}

	needleRunes := []rune(needle)
	if len(needleRunes) >= minFuzzyLength {
		dist := approximateDistance(needleRunes, []rune(hay))
		if 1-float64(dist)/float64(len(needleRunes)) >= threshold {
			return TierFuzzy
		}
	}

	words := loose(transcript)
	found := 0
	for _, w := range strings.Fields(loose(expected)) {
		if len([]rune(w)) <= 2 {
			continue
		}
		if !strings.Contains(words, w) {
			return ""
		}
		found++
	}
	if found > 0 {
		return TierWords
	}
	return ""
}

// strict keeps only lowercased letters and digits.
func strict(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// loose lowercases s and turns every other rune into a word break.
func loose(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

// approximateDistance is the smallest edit distance between needle and any
// substring of hay.
func approximateDistance(needle, hay []rune) int {
	m := len(needle)
	prev := make([]int, m+1)
	cur := make([]int, m+1)
	for i := range prev {
		prev[i] = i
	}
	best := prev[m]
	for j := 1; j <= len(hay); j++ {
		cur[0] = 0
		for i := 1; i <= m; i++ {
			cost := 1
			if needle[i-1] == hay[j-1] {
				cost = 0
			}
			cur[i] = min(prev[i]+1, cur[i-1]+1, prev[i-1]+cost)
		}
		best = min(best, cur[m])
		prev, cur = cur, prev
	}
	return best
}

// -- genai --

type genaiGenerator struct {
	client *genai.Client
	model  string
}

func newGenAIGenerator(ctx context.Context, cfg config.OCRConfig) (*genaiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &genaiGenerator{client: client, model: cfg.Model}, nil
}

func (g *genaiGenerator) Transcribe(ctx context.Context, image []byte) (string, error) {
	temperature := float32(0)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcribePrompt),
			genai.NewPartFromBytes(image, "image/png"),
		}, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: &temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
