// Package driver defines the browser driver contract the engine runs
// against. Concrete drivers live under pkg/providers.
package driver

import (
	"context"
	"errors"
	"time"
)

// Element is an opaque handle to a node found by Query.
type Element struct {
	Ref  string // driver-specific node reference
	Tag  string
	Text string
}

// ConditionKind selects what WaitFor waits on.
type ConditionKind string

const (
	CondVisible    ConditionKind = "visible"
	CondHidden     ConditionKind = "hidden"
	CondURLMatches ConditionKind = "urlMatches"
	CondLoad       ConditionKind = "load"
)

// Condition is a page condition for WaitFor. Selector is a locator
// expression for visible and hidden; Pattern is a regular expression for
// urlMatches.
type Condition struct {
	Kind     ConditionKind
	Selector string
	Pattern  string
}

// Driver is the minimal browser surface needed to carry out intent steps.
// Implementations need not be safe for concurrent use; one run owns one
// driver.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// Query returns every node matching the locator expression, in
	// document order. No match is not an error.
	Query(ctx context.Context, locator string) ([]Element, error)
	IsVisible(ctx context.Context, el Element) (bool, error)
	Click(ctx context.Context, el Element) error
	Fill(ctx context.Context, el Element, value string) error
	SelectOption(ctx context.Context, el Element, value string) error
	CurrentURL(ctx context.Context) (string, error)
	WaitFor(ctx context.Context, cond Condition, timeout time.Duration) error
}

// Screenshotter is implemented by drivers able to capture the viewport.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// PageSourcer is implemented by drivers able to serialize the current
// document. Recorders use it to capture pages for replay.
type PageSourcer interface {
	PageSource(ctx context.Context) (string, error)
}

// ScreenshotComparer decides whether a captured screenshot matches the
// reference named by a validation's expected value.
type ScreenshotComparer interface {
	Compare(ctx context.Context, screenshot []byte, reference string) (bool, error)
}

// ErrUnsupportedLocator is returned by drivers for locator kinds they
// cannot evaluate.
var ErrUnsupportedLocator = errors.New("unsupported locator")
