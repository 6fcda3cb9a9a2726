// internal/extraction/resolver.go
package extraction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

// Resolver walks ordered candidate queries until one matches a visible node.
type Resolver struct {
	page   Page
	logger *zap.Logger
}

// NewResolver creates a resolver over page.
func NewResolver(page Page, logger *zap.Logger) *Resolver {
	return &Resolver{page: page, logger: logger.Named("resolver")}
}

// Resolve returns a handle for the first candidate that matches a visible
// node. Text constraints are compared exactly on a first pass over every
// candidate, then folded (whitespace collapsed, case and Unicode form
// ignored) on a second pass. ErrNotFound is returned when nothing matched.
func (r *Resolver) Resolve(ctx context.Context, name string, candidates ...schemas.ElementQuery) (schemas.ElementHandle, error) {
	if len(candidates) == 0 {
		return schemas.ElementHandle{}, fmt.Errorf("%s: no candidates: %w", name, ErrNotFound)
	}

	h, ok, err := r.pass(ctx, name, candidates)
	if err != nil || ok {
		return h, err
	}

	folded := make([]schemas.ElementQuery, 0, len(candidates))
	for _, c := range candidates {
		if c.Text != "" && !c.FoldText {
			folded = append(folded, c.Folded())
		}
	}
	if len(folded) > 0 {
		h, ok, err = r.pass(ctx, name, folded)
		if err != nil || ok {
			if ok {
				r.logger.Info("Element matched on relaxed text comparison.", zap.String("element", name), zap.Stringer("query", h.Query))
			}
			return h, err
		}
	}

	r.logger.Debug("No candidate matched a visible element.", zap.String("element", name), zap.Int("candidates", len(candidates)))
	return schemas.ElementHandle{}, fmt.Errorf("%s: %w", name, ErrNotFound)
}

func (r *Resolver) pass(ctx context.Context, name string, candidates []schemas.ElementQuery) (schemas.ElementHandle, bool, error) {
	for _, q := range candidates {
		if err := ctx.Err(); err != nil {
			return schemas.ElementHandle{}, false, err
		}
		h, found, err := r.page.Locate(ctx, q)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return schemas.ElementHandle{}, false, ctxErr
			}
			// A broken candidate is a miss; the next one may still work.
			r.logger.Debug("Candidate evaluation failed.", zap.String("element", name), zap.Stringer("query", q), zap.Error(err))
			continue
		}
		if found {
			r.logger.Debug("Candidate matched.", zap.String("element", name), zap.Stringer("query", q))
			return h, true, nil
		}
	}
	return schemas.ElementHandle{}, false, nil
}
