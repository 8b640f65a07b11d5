package locator

import (
	"context"
	"log/slog"

	"github.com/ormasoftchile/intentrun/pkg/kernel/driver"
	"github.com/ormasoftchile/intentrun/pkg/kernel/fault"
)

// Hint describes a target in human terms, used after explicit locators.
type Hint struct {
	Text string
	Role string
}

// Match is a resolved element and the locator expression that found it.
type Match struct {
	Element driver.Element
	Locator string
}

// Resolver turns ordered locator candidates into a single element.
type Resolver struct {
	driver driver.Driver
	logger *slog.Logger
}

// NewResolver creates a resolver over d. A nil logger discards output.
func NewResolver(d driver.Driver, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{driver: d, logger: logger}
}

// Resolve tries each locator in order and returns the first whose first
// match is visible. Candidates are not scored: the first hit wins. When
// all locators miss and hint carries text, an exact-text match and then a
// label-containing-text match are tried.
//
// A query error on one candidate is logged and the next is tried. The
// returned error is non-nil only when ctx is done or every candidate
// failed with a driver error.
func (r *Resolver) Resolve(ctx context.Context, locators []string, hint *Hint) (Match, bool, error) {
	candidates := make([]string, 0, len(locators)+2)
	candidates = append(candidates, locators...)
	if hint != nil && hint.Text != "" {
		candidates = append(candidates,
			Text(hint.Text, hint.Role).String(),
			Label(hint.Text, hint.Role).String(),
		)
	}

	var lastErr error
	failed := 0
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Match{}, false, fault.FromContext(err, "resolve")
		}
		el, ok, err := r.try(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return Match{}, false, fault.FromContext(ctx.Err(), "resolve %q", c)
			}
			r.logger.Debug("locator query failed", "locator", c, "error", err)
			lastErr = err
			failed++
			continue
		}
		if ok {
			return Match{Element: el, Locator: c}, true, nil
		}
	}
	if failed > 0 && failed == len(candidates) {
		return Match{}, false, fault.FromContext(lastErr, "resolve")
	}
	return Match{}, false, nil
}

func (r *Resolver) try(ctx context.Context, query string) (driver.Element, bool, error) {
	els, err := r.driver.Query(ctx, query)
	if err != nil {
		return driver.Element{}, false, err
	}
	if len(els) == 0 {
		return driver.Element{}, false, nil
	}
	visible, err := r.driver.IsVisible(ctx, els[0])
	if err != nil {
		return driver.Element{}, false, err
	}
	return els[0], visible, nil
}

// Exists reports whether any locator resolves to a visible element.
func (r *Resolver) Exists(ctx context.Context, locators ...string) (bool, error) {
	_, ok, err := r.Resolve(ctx, locators, nil)
	return ok, err
}
