package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ResolverConfig holds the tunable policy of the resolution engine. The numeric
// weights were tuned empirically and are deliberately exposed here rather than
// hard-coded.
type ResolverConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	// MaxActionsPerCall bounds how many candidates one call may act on. After a
	// verification failure the next strategy runs in the same call only while
	// this budget remains; otherwise the escalation is deferred to the next call.
	MaxActionsPerCall int `mapstructure:"max_actions_per_call" yaml:"max_actions_per_call"`

	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Exclusion ExclusionConfig `mapstructure:"exclusion" yaml:"exclusion"`
	Scoring   ScoringConfig   `mapstructure:"scoring" yaml:"scoring"`
	Action    ActionConfig    `mapstructure:"action" yaml:"action"`
	Verify    VerifyConfig    `mapstructure:"verify" yaml:"verify"`
	Ledger    LedgerConfig    `mapstructure:"ledger" yaml:"ledger"`
}

// DiscoveryConfig bounds the candidate discovery strategies.
type DiscoveryConfig struct {
	TreeDepth         int      `mapstructure:"tree_depth" yaml:"tree_depth"`
	AncestorHops      int      `mapstructure:"ancestor_hops" yaml:"ancestor_hops"`
	MaxCandidates     int      `mapstructure:"max_candidates" yaml:"max_candidates"`
	MaxShortTextLen   int      `mapstructure:"max_short_text_len" yaml:"max_short_text_len"`
	ProductContainers []string `mapstructure:"product_containers" yaml:"product_containers"`
	// SkipMarkers are class/id/aria fragments of subtrees the tree search never enters.
	SkipMarkers []string `mapstructure:"skip_markers" yaml:"skip_markers"`
	// CartKeywords keep quantity steppers from being confused with purchase buttons.
	CartKeywords []string `mapstructure:"cart_keywords" yaml:"cart_keywords"`
}

// ExclusionConfig defines decoy regions.
type ExclusionConfig struct {
	DecoyMarkers []string `mapstructure:"decoy_markers" yaml:"decoy_markers"`
	// HeaderThresholdPx is the document offset above which links inside
	// navigation or header chrome are excluded.
	HeaderThresholdPx float64 `mapstructure:"header_threshold_px" yaml:"header_threshold_px"`
	MaxAncestorDepth  int     `mapstructure:"max_ancestor_depth" yaml:"max_ancestor_depth"`
}

// ScoringConfig holds the confidence weights.
type ScoringConfig struct {
	Floor            int `mapstructure:"floor" yaml:"floor"`
	ExactScore       int `mapstructure:"exact_score" yaml:"exact_score"`
	PhraseScore      int `mapstructure:"phrase_score" yaml:"phrase_score"`
	AllWordsScore    int `mapstructure:"all_words_score" yaml:"all_words_score"`
	PartialScore     int `mapstructure:"partial_score" yaml:"partial_score"`
	InteractiveBonus int `mapstructure:"interactive_bonus" yaml:"interactive_bonus"`
	SelectedBonus    int `mapstructure:"selected_bonus" yaml:"selected_bonus"`
	// StructuralDiscount is subtracted from every raw text score; the bonuses
	// earn it back so that only a natively interactive, selected exact match reaches 100.
	StructuralDiscount int `mapstructure:"structural_discount" yaml:"structural_discount"`
	// SignalStep is the penalty per position down the signal priority list.
	SignalStep         int `mapstructure:"signal_step" yaml:"signal_step"`
	MaxDataValueLength int `mapstructure:"max_data_value_length" yaml:"max_data_value_length"`
	MinNumericIDDigits int `mapstructure:"min_numeric_id_digits" yaml:"min_numeric_id_digits"`
}

// ActionConfig tunes the tactic cascade.
type ActionConfig struct {
	ScrollSettle   time.Duration `mapstructure:"scroll_settle" yaml:"scroll_settle"`
	ClimbLimit     int           `mapstructure:"climb_limit" yaml:"climb_limit"`
	TacticInterval time.Duration `mapstructure:"tactic_interval" yaml:"tactic_interval"`
	TacticTimeout  time.Duration `mapstructure:"tactic_timeout" yaml:"tactic_timeout"`
}

// VerifyConfig tunes post-action verification.
type VerifyConfig struct {
	// PostActionWait lets the page react before state is read back.
	PostActionWait   time.Duration `mapstructure:"post_action_wait" yaml:"post_action_wait"`
	MarkerSelectors  []string      `mapstructure:"marker_selectors" yaml:"marker_selectors"`
	ReadoutSelectors []string      `mapstructure:"readout_selectors" yaml:"readout_selectors"`
	MaxEvidence      int           `mapstructure:"max_evidence" yaml:"max_evidence"`
}

// LedgerConfig sizes the cross-call escalation ledger.
type LedgerConfig struct {
	Size int           `mapstructure:"size" yaml:"size"`
	TTL  time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

func setResolverDefaults(v *viper.Viper) {
	v.SetDefault("resolver.call_timeout", "30s")
	v.SetDefault("resolver.max_actions_per_call", 1)

	v.SetDefault("resolver.discovery.tree_depth", 10)
	v.SetDefault("resolver.discovery.ancestor_hops", 3)
	v.SetDefault("resolver.discovery.max_candidates", 200)
	v.SetDefault("resolver.discovery.max_short_text_len", 30)
	v.SetDefault("resolver.discovery.product_containers", []string{
		`[data-testid="product-container"]`,
		".product-detail",
		".product-main",
		"#product-main",
		".pdp-main",
		".product-info-main",
		`[class*="product"]`,
		"main",
		"form",
	})
	v.SetDefault("resolver.discovery.skip_markers", []string{
		"country", "localization", "locale", "currency", "language", "region",
		"shipping", "search", "filter", "sort", "breadcrumb", "navigation",
	})
	v.SetDefault("resolver.discovery.cart_keywords", []string{
		"add to cart", "add to bag", "add to basket", "buy now", "checkout",
	})

	v.SetDefault("resolver.exclusion.decoy_markers", []string{
		"recommend", "similar", "related", "carousel", "frequently", "also-bought",
		"also-viewed", "alsobought", "upsell", "cross-sell", "crosssell",
		"recently-viewed", "recentlyviewed", "you-may-also", "complete-the-look",
	})
	v.SetDefault("resolver.exclusion.header_threshold_px", 200.0)
	v.SetDefault("resolver.exclusion.max_ancestor_depth", 30)

	v.SetDefault("resolver.scoring.floor", 50)
	v.SetDefault("resolver.scoring.exact_score", 100)
	v.SetDefault("resolver.scoring.phrase_score", 80)
	v.SetDefault("resolver.scoring.all_words_score", 70)
	v.SetDefault("resolver.scoring.partial_score", 60)
	v.SetDefault("resolver.scoring.interactive_bonus", 10)
	v.SetDefault("resolver.scoring.selected_bonus", 10)
	v.SetDefault("resolver.scoring.structural_discount", 20)
	v.SetDefault("resolver.scoring.signal_step", 2)
	v.SetDefault("resolver.scoring.max_data_value_length", 30)
	v.SetDefault("resolver.scoring.min_numeric_id_digits", 5)

	v.SetDefault("resolver.action.scroll_settle", "1200ms")
	v.SetDefault("resolver.action.climb_limit", 8)
	v.SetDefault("resolver.action.tactic_interval", "150ms")
	v.SetDefault("resolver.action.tactic_timeout", "5s")

	v.SetDefault("resolver.verify.post_action_wait", "500ms")
	v.SetDefault("resolver.verify.marker_selectors", []string{
		`[aria-selected="true"]`,
		`[aria-pressed="true"]`,
		`[aria-checked="true"]`,
		".selected",
		".active",
		".is-selected",
		".is-active",
		".chosen",
	})
	v.SetDefault("resolver.verify.readout_selectors", []string{
		`[class*="selected-value"]`,
		`[class*="current-value"]`,
		`[class*="chosen"]`,
		`[class*="display-value"]`,
		`[class*="selection"]`,
		"[data-selected-value]",
	})
	v.SetDefault("resolver.verify.max_evidence", 25)

	v.SetDefault("resolver.ledger.size", 256)
	v.SetDefault("resolver.ledger.ttl", "10m")
}

// DefaultResolverConfig returns the resolver defaults without going through a config file.
func DefaultResolverConfig() ResolverConfig {
	return NewDefaultConfig().ResolverCfg
}

// Validate checks the resolver policy for values that would disable the cascade.
func (r ResolverConfig) Validate() error {
	if r.MaxActionsPerCall <= 0 {
		return fmt.Errorf("max_actions_per_call must be a positive integer")
	}
	if r.Scoring.Floor < 0 || r.Scoring.Floor > 100 {
		return fmt.Errorf("scoring.floor must be between 0 and 100")
	}
	if r.Scoring.ExactScore < r.Scoring.PhraseScore || r.Scoring.PhraseScore < r.Scoring.AllWordsScore ||
		r.Scoring.AllWordsScore < r.Scoring.PartialScore {
		return fmt.Errorf("scoring weights must satisfy exact >= phrase >= all_words >= partial")
	}
	if r.Discovery.TreeDepth <= 0 {
		return fmt.Errorf("discovery.tree_depth must be a positive integer")
	}
	if r.Action.ClimbLimit < 0 {
		return fmt.Errorf("action.climb_limit must not be negative")
	}
	if r.Action.ScrollSettle < 0 {
		return fmt.Errorf("action.scroll_settle must not be negative")
	}
	if r.Ledger.Size <= 0 {
		return fmt.Errorf("ledger.size must be a positive integer")
	}
	return nil
}
