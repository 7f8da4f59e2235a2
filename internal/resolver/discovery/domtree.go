package discovery

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
)

const maxTreeRoots = 5

// treeSearch descends from the product containers, crossing open shadow
// roots, and offers every interactive node (or interactive ancestor within the
// hop limit) whose own signals match the target.
func treeSearch(ctx context.Context, d *Discoverer, w *pagewalk.Walker, req Request) ([]schemas.CandidateElement, error) {
	roots, err := d.productRoots(ctx, w, req.Scope)
	if err != nil {
		return nil, err
	}
	c := d.newCollector(w, req, schemas.StrategyDOMTree)
	visited := make(map[schemas.NodeRef]bool)
	for _, root := range roots {
		if err := d.descend(ctx, c, visited, root, 0); err != nil {
			return nil, err
		}
		if c.full() {
			break
		}
	}
	return c.out, nil
}

// productRoots returns the matches of the first product container selector
// that matches anything, falling back to the scope or the body.
func (d *Discoverer) productRoots(ctx context.Context, w *pagewalk.Walker, scope schemas.NodeRef) ([]schemas.NodeRef, error) {
	for _, sel := range d.cfg.ProductContainers {
		els, err := query(ctx, w, scope, sel)
		if err != nil {
			if errors.Is(err, schemas.ErrHostUnavailable) {
				return nil, err
			}
			d.logger.Debug("Skipping product container selector.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		var roots []schemas.NodeRef
		for _, el := range els {
			if d.skipSubtree(el) {
				continue
			}
			roots = append(roots, el.Ref)
			if len(roots) == maxTreeRoots {
				break
			}
		}
		if len(roots) > 0 {
			return roots, nil
		}
	}
	if scope != "" {
		return []schemas.NodeRef{scope}, nil
	}
	return w.Page().Query(ctx, "", "body")
}

func (d *Discoverer) skipSubtree(el schemas.ElementSnapshot) bool {
	if el.Tag == "nav" || el.Tag == "header" || el.Tag == "footer" {
		return true
	}
	tokens := pagewalk.MarkerTokens(el)
	for _, m := range d.cfg.SkipMarkers {
		if m != "" && strings.Contains(tokens, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func (d *Discoverer) descend(ctx context.Context, c *collector, visited map[schemas.NodeRef]bool, ref schemas.NodeRef, depth int) error {
	if depth > d.cfg.TreeDepth || visited[ref] || c.full() {
		return nil
	}
	visited[ref] = true
	if err := ctx.Err(); err != nil {
		return err
	}

	el, err := c.w.Describe(ctx, ref)
	if errors.Is(err, schemas.ErrStaleNode) {
		return nil
	}
	if err != nil {
		return err
	}
	if depth > 0 && d.skipSubtree(el) {
		return nil
	}

	if el.Visible && d.matches(c, el) {
		if pagewalk.IsClickable(el) {
			// The first interactive match on a branch wins over its descendants.
			c.add(ctx, el, "", nil, nil)
			return nil
		}
		anc, err := nearestClickable(ctx, c.w, el.Ref, d.cfg.AncestorHops)
		if err != nil {
			return err
		}
		if anc != nil {
			origin := el
			c.add(ctx, *anc, "", &origin, nil)
		}
	}

	children, err := c.w.Page().Children(ctx, ref)
	if errors.Is(err, schemas.ErrStaleNode) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := d.descend(ctx, c, visited, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (d *Discoverer) matches(c *collector, el schemas.ElementSnapshot) bool {
	cand := schemas.CandidateElement{Element: el}
	return d.scorer.BestSignal(c.req.Target, cand).Level != schemas.MatchNone
}
