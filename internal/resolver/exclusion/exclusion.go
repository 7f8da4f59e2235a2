// Package exclusion drops candidates that sit inside decoy regions of the page
// before they can be scored.
package exclusion

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/config"
	"github.com/xkilldash9x/pinpoint/internal/observability"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
)

// Zone names reported in diagnostics.
const (
	ZoneDecoy      = "decoy"
	ZoneNavigation = "navigation"
)

var navigationTags = map[string]bool{"nav": true, "header": true}
var navigationRoles = map[string]bool{"navigation": true, "banner": true, "menubar": true}
var navigationClasses = map[string]bool{
	"nav": true, "navbar": true, "navigation": true, "header": true,
	"site-header": true, "site-nav": true, "global-header": true, "global-nav": true, "main-nav": true,
}

// Zone is a stateless predicate over a candidate and its ancestor chain
// (nearest first, the candidate itself at index 0).
type Zone struct {
	Name string
	// LinksOnly restricts the zone to link-type candidates.
	LinksOnly bool
	Match     func(chain []schemas.ElementSnapshot, docY float64) (marker string, ok bool)
}

// Verdict explains why a candidate was excluded.
type Verdict struct {
	Excluded bool
	Zone     string
	Marker   string
}

// Filter applies the configured zones.
type Filter struct {
	zones    []Zone
	maxDepth int
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// New builds the decoy zone and the navigation zone from cfg.
func New(cfg config.ExclusionConfig, logger *zap.Logger, metrics *observability.Metrics) *Filter {
	return &Filter{
		zones:    []Zone{DecoyZone(cfg.DecoyMarkers), NavigationZone(cfg.HeaderThresholdPx)},
		maxDepth: cfg.MaxAncestorDepth,
		logger:   logger.Named("exclusion"),
		metrics:  metrics,
	}
}

// DecoyZone matches any node in the chain whose class, id, role or test id
// contains one of the markers.
func DecoyZone(markers []string) Zone {
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}
	return Zone{
		Name: ZoneDecoy,
		Match: func(chain []schemas.ElementSnapshot, _ float64) (string, bool) {
			for _, el := range chain {
				tokens := pagewalk.MarkerTokens(el)
				for _, m := range lowered {
					if strings.Contains(tokens, m) {
						return m, true
					}
				}
			}
			return "", false
		},
	}
}

// NavigationZone matches link-type candidates inside nav/header chrome whose
// top edge lies within thresholdPx of the top of the document.
func NavigationZone(thresholdPx float64) Zone {
	return Zone{
		Name:      ZoneNavigation,
		LinksOnly: true,
		Match: func(chain []schemas.ElementSnapshot, docY float64) (string, bool) {
			if docY >= thresholdPx {
				return "", false
			}
			for _, el := range chain {
				if navigationTags[el.Tag] {
					return el.Tag, true
				}
				if role := strings.ToLower(el.Attr("role")); navigationRoles[role] {
					return "role=" + role, true
				}
				for _, c := range strings.Fields(strings.ToLower(el.Attr("class"))) {
					if navigationClasses[c] {
						return "class:" + c, true
					}
				}
			}
			return "", false
		},
	}
}

// Check evaluates every zone against one element.
func (f *Filter) Check(ctx context.Context, w *pagewalk.Walker, el schemas.ElementSnapshot, vp schemas.Viewport) (Verdict, error) {
	ancestors, err := w.Ancestors(ctx, el.Ref, f.maxDepth)
	if err != nil && !errors.Is(err, schemas.ErrStaleNode) {
		return Verdict{}, err
	}
	chain := append([]schemas.ElementSnapshot{el}, ancestors...)
	docY := el.Box.Y + vp.ScrollY

	for _, z := range f.zones {
		if z.LinksOnly && !pagewalk.IsLinkLike(el) {
			continue
		}
		if marker, ok := z.Match(chain, docY); ok {
			return Verdict{Excluded: true, Zone: z.Name, Marker: marker}, nil
		}
	}
	return Verdict{}, nil
}

// Apply splits candidates into kept and excluded. Excluded candidates are
// never scored; they are returned only for diagnostics.
func (f *Filter) Apply(ctx context.Context, w *pagewalk.Walker, candidates []schemas.CandidateElement, vp schemas.Viewport) ([]schemas.CandidateElement, []schemas.ExcludedCandidate, error) {
	kept := make([]schemas.CandidateElement, 0, len(candidates))
	var excluded []schemas.ExcludedCandidate
	for _, c := range candidates {
		v, err := f.Check(ctx, w, c.Element, vp)
		if err != nil {
			return nil, nil, err
		}
		if !v.Excluded {
			kept = append(kept, c)
			continue
		}
		f.logger.Debug("Candidate excluded.",
			zap.String("ref", string(c.Element.Ref)),
			zap.String("zone", v.Zone),
			zap.String("marker", v.Marker))
		f.metrics.ObserveExcluded(v.Zone)
		excluded = append(excluded, schemas.ExcludedCandidate{
			Element:  c.Summary(),
			Strategy: c.Strategy,
			Zone:     v.Zone,
			Marker:   v.Marker,
		})
	}
	return kept, excluded, nil
}

// InZone reports whether el sits in any zone. The verifier uses it to ignore
// selected markers inside recommendation rails.
func (f *Filter) InZone(ctx context.Context, w *pagewalk.Walker, el schemas.ElementSnapshot, vp schemas.Viewport) bool {
	v, err := f.Check(ctx, w, el, vp)
	return err == nil && v.Excluded
}
