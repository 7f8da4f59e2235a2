// Package pagewalk reads the live page through a PageAccessor for the duration
// of one resolution pass. It memoizes node descriptions and parent links so the
// strategies, the exclusion filter and the executor do not repeat round trips,
// and it must be discarded as soon as the page may have changed.
package pagewalk

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

// Walker is a per-pass, memoizing reader over a PageAccessor. It is not safe
// for concurrent use; a resolution is single-threaded by contract.
type Walker struct {
	page      schemas.PageAccessor
	snapshots map[schemas.NodeRef]schemas.ElementSnapshot
	parents   map[schemas.NodeRef]schemas.NodeRef
}

// New returns a Walker with empty caches.
func New(page schemas.PageAccessor) *Walker {
	return &Walker{
		page:      page,
		snapshots: make(map[schemas.NodeRef]schemas.ElementSnapshot),
		parents:   make(map[schemas.NodeRef]schemas.NodeRef),
	}
}

// Page exposes the underlying accessor for dispatch operations.
func (w *Walker) Page() schemas.PageAccessor { return w.page }

// Invalidate drops every memoized read. Call it after anything that may have mutated the page.
func (w *Walker) Invalidate() {
	clear(w.snapshots)
	clear(w.parents)
}

// Describe returns the node's snapshot, reading it once per pass.
func (w *Walker) Describe(ctx context.Context, ref schemas.NodeRef) (schemas.ElementSnapshot, error) {
	if el, ok := w.snapshots[ref]; ok {
		return el, nil
	}
	el, err := w.page.Describe(ctx, ref)
	if err != nil {
		return schemas.ElementSnapshot{}, fmt.Errorf("describe %s: %w", ref, err)
	}
	if el.Ref == "" {
		el.Ref = ref
	}
	w.snapshots[ref] = el
	return el, nil
}

// Refresh re-reads a node, bypassing the cache. Used after scrolling.
func (w *Walker) Refresh(ctx context.Context, ref schemas.NodeRef) (schemas.ElementSnapshot, error) {
	delete(w.snapshots, ref)
	return w.Describe(ctx, ref)
}

// Parent returns the parent ref, "" at the root.
func (w *Walker) Parent(ctx context.Context, ref schemas.NodeRef) (schemas.NodeRef, error) {
	if p, ok := w.parents[ref]; ok {
		return p, nil
	}
	p, err := w.page.Parent(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("parent of %s: %w", ref, err)
	}
	w.parents[ref] = p
	return p, nil
}

// Ancestors returns up to limit ancestors of ref, nearest first. A limit of
// zero or less walks to the root.
func (w *Walker) Ancestors(ctx context.Context, ref schemas.NodeRef, limit int) ([]schemas.ElementSnapshot, error) {
	var chain []schemas.ElementSnapshot
	current := ref
	for limit <= 0 || len(chain) < limit {
		parent, err := w.Parent(ctx, current)
		if err != nil {
			return chain, err
		}
		if parent == "" {
			break
		}
		el, err := w.Describe(ctx, parent)
		if err != nil {
			return chain, err
		}
		chain = append(chain, el)
		current = parent
	}
	return chain, nil
}

// Fingerprint identifies a node by its own shape and that of its three nearest
// ancestors, so that identical buttons in different containers stay distinct
// across snapshots.
func (w *Walker) Fingerprint(ctx context.Context, el schemas.ElementSnapshot) string {
	ancestors, _ := w.Ancestors(ctx, el.Ref, 3)
	return Fingerprint(el, ancestors...)
}
