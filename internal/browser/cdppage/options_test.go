package cdppage

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/pinpoint/internal/config"
)

func TestAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions) + 3

	tests := []struct {
		name string
		cfg  config.BrowserConfig
		want int
	}{
		{"defaults", config.BrowserConfig{Headless: true}, base},
		{"headful", config.BrowserConfig{Headless: false}, base},
		{"stealth", config.BrowserConfig{Stealth: true}, base + 1},
		{"viewport", config.BrowserConfig{Viewport: map[string]int{"width": 1440, "height": 900}}, base + 1},
		{"partial viewport is ignored", config.BrowserConfig{Viewport: map[string]int{"width": 1440}}, base},
		{"custom args", config.BrowserConfig{Args: []string{"--lang=de-DE", "mute-audio"}}, base + 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, AllocatorOptions(tt.cfg), tt.want)
		})
	}

	t.Run("defaults are not mutated", func(t *testing.T) {
		before := len(chromedp.DefaultExecAllocatorOptions)
		_ = AllocatorOptions(config.BrowserConfig{Stealth: true, Args: []string{"a", "b", "c"}})
		assert.Equal(t, before, len(chromedp.DefaultExecAllocatorOptions))
	})
}
