package governance

import (
	"context"
	"fmt"

	"github.com/ormasoftchile/intentrun/pkg/kernel/driver"
	"github.com/ormasoftchile/intentrun/pkg/kernel/fault"
)

// Guard wraps d so Navigate refuses hosts the policy rejects. A nil
// engine returns d unchanged.
func Guard(d driver.Driver, g *Engine) driver.Driver {
	if g == nil || (len(g.allowedHosts) == 0 && len(g.deniedHosts) == 0) {
		return d
	}
	return &guarded{Driver: d, g: g}
}

type guarded struct {
	driver.Driver
	g *Engine
}

func (d *guarded) Navigate(ctx context.Context, url string) error {
	if err := d.g.CheckURL(url); err != nil {
		return fault.Denied(err, "navigate %s", url)
	}
	return d.Driver.Navigate(ctx, url)
}

// Screenshot and PageSource keep optional capabilities visible through the
// wrapper.
func (d *guarded) Screenshot(ctx context.Context) ([]byte, error) {
	if s, ok := d.Driver.(driver.Screenshotter); ok {
		return s.Screenshot(ctx)
	}
	return nil, fmt.Errorf("driver %T cannot capture screenshots", d.Driver)
}

func (d *guarded) PageSource(ctx context.Context) (string, error) {
	if s, ok := d.Driver.(driver.PageSourcer); ok {
		return s.PageSource(ctx)
	}
	return "", fmt.Errorf("driver %T cannot serialize pages", d.Driver)
}
