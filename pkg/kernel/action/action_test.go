package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ormasoftchile/intentrun/pkg/kernel/driver"
	"github.com/ormasoftchile/intentrun/pkg/kernel/fault"
	"github.com/ormasoftchile/intentrun/pkg/kernel/locator"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
	"github.com/ormasoftchile/intentrun/pkg/providers/htmldoc"
)

type mockDriver struct {
	navErrs   []error // consumed per Navigate call
	navCalls  int
	elements  map[string][]driver.Element
	clicked   []string
	filled    map[string]string
	selected  map[string]string
	block     bool // Click blocks until ctx is done
	waits     []driver.Condition
	url       string
	clickErr  error
}

func (m *mockDriver) Navigate(_ context.Context, url string) error {
	m.navCalls++
	if len(m.navErrs) > 0 {
		err := m.navErrs[0]
		m.navErrs = m.navErrs[1:]
		if err != nil {
			return err
		}
	}
	m.url = url
	return nil
}

func (m *mockDriver) Query(_ context.Context, loc string) ([]driver.Element, error) {
	return m.elements[loc], nil
}

func (m *mockDriver) IsVisible(context.Context, driver.Element) (bool, error) { return true, nil }

func (m *mockDriver) Click(ctx context.Context, el driver.Element) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.clickErr != nil {
		return m.clickErr
	}
	m.clicked = append(m.clicked, el.Ref)
	return nil
}

func (m *mockDriver) Fill(_ context.Context, el driver.Element, v string) error {
	if m.filled == nil {
		m.filled = map[string]string{}
	}
	m.filled[el.Ref] = v
	return nil
}

func (m *mockDriver) SelectOption(_ context.Context, el driver.Element, v string) error {
	if m.selected == nil {
		m.selected = map[string]string{}
	}
	m.selected[el.Ref] = v
	return nil
}

func (m *mockDriver) CurrentURL(context.Context) (string, error) { return m.url, nil }

func (m *mockDriver) WaitFor(_ context.Context, c driver.Condition, _ time.Duration) error {
	m.waits = append(m.waits, c)
	return nil
}

func newPrims(d *mockDriver) (*Primitives, *[]time.Duration) {
	p := New(d, locator.NewResolver(d, nil))
	var slept []time.Duration
	p.Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return p, &slept
}

func TestNavigate_RetriesWithFixedBackoff(t *testing.T) {
	boom := errors.New("net::ERR_CONNECTION_RESET")
	d := &mockDriver{navErrs: []error{boom, boom, nil}}
	p, slept := newPrims(d)

	err := p.Navigate(context.Background(), "https://example.com", DefaultNavigateOptions())
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if d.navCalls != 3 {
		t.Errorf("navigate calls = %d, want 3", d.navCalls)
	}
	if len(*slept) != 2 || (*slept)[0] != 2*time.Second || (*slept)[1] != 2*time.Second {
		t.Errorf("backoff = %v, want [2s 2s]", *slept)
	}
}

func TestNavigate_ExhaustedIsDriverError(t *testing.T) {
	boom := errors.New("down")
	d := &mockDriver{navErrs: []error{boom, boom, boom, boom}}
	p, _ := newPrims(d)

	err := p.Navigate(context.Background(), "https://example.com", DefaultNavigateOptions())
	if fault.KindOf(err) != fault.KindDriver {
		t.Fatalf("err = %v, want driver-error", err)
	}
	if d.navCalls != 3 {
		t.Errorf("navigate calls = %d, want 3", d.navCalls)
	}
}

func TestNavigate_PolicyDeniedNotRetried(t *testing.T) {
	denied := fault.Denied(errors.New("host not allowed"), "navigate")
	d := &mockDriver{navErrs: []error{denied, nil}}
	p, slept := newPrims(d)

	err := p.Navigate(context.Background(), "https://example.com", DefaultNavigateOptions())
	if fault.KindOf(err) != fault.KindPolicyDenied {
		t.Fatalf("err = %v, want policy-denied", err)
	}
	if d.navCalls != 1 || len(*slept) != 0 {
		t.Errorf("calls = %d, slept = %v", d.navCalls, *slept)
	}
}

func TestClick_NotFound(t *testing.T) {
	d := &mockDriver{}
	p, _ := newPrims(d)
	_, err := p.Click(context.Background(), []string{"#missing"}, nil, time.Second)
	if fault.KindOf(err) != fault.KindLocatorNotFound {
		t.Errorf("err = %v, want locator-not-found", err)
	}
	if len(d.clicked) != 0 {
		t.Error("click must not be attempted without an element")
	}
}

func TestClick_Timeout(t *testing.T) {
	d := &mockDriver{
		elements: map[string][]driver.Element{"#slow": {{Ref: "slow"}}},
		block:    true,
	}
	p, _ := newPrims(d)
	_, err := p.Click(context.Background(), []string{"#slow"}, nil, 20*time.Millisecond)
	if fault.KindOf(err) != fault.KindTimeout {
		t.Errorf("err = %v, want timeout", err)
	}
}

func TestClick_DriverError(t *testing.T) {
	d := &mockDriver{
		elements: map[string][]driver.Element{"#a": {{Ref: "a"}}},
		clickErr: errors.New("node detached"),
	}
	p, _ := newPrims(d)
	_, err := p.Click(context.Background(), []string{"#a"}, nil, time.Second)
	if fault.KindOf(err) != fault.KindDriver {
		t.Errorf("err = %v, want driver-error", err)
	}
}

func TestFillAndSelect(t *testing.T) {
	d := &mockDriver{elements: map[string][]driver.Element{
		"#email":  {{Ref: "email"}},
		"#region": {{Ref: "region"}},
	}}
	p, _ := newPrims(d)
	ctx := context.Background()
	if _, err := p.Fill(ctx, []string{"#email"}, nil, "a@b.com", time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := p.SelectOption(ctx, []string{"#region"}, nil, "eu", time.Second); err != nil {
		t.Fatal(err)
	}
	if d.filled["email"] != "a@b.com" {
		t.Errorf("filled = %v", d.filled)
	}
	if d.selected["region"] != "eu" {
		t.Errorf("selected = %v", d.selected)
	}
}

func TestWait(t *testing.T) {
	d := &mockDriver{}
	p, slept := newPrims(d)
	ctx := context.Background()

	if err := p.Wait(ctx, schema.WaitCondition{Kind: schema.WaitDelay, Value: "150"}, nil); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 1 || (*slept)[0] != 150*time.Millisecond {
		t.Errorf("slept = %v", *slept)
	}

	if err := p.Wait(ctx, schema.WaitCondition{Kind: schema.WaitVisible}, []string{"#ready"}); err != nil {
		t.Fatal(err)
	}
	if err := p.Wait(ctx, schema.WaitCondition{Kind: schema.WaitURLMatches, Value: "/done$"}, nil); err != nil {
		t.Fatal(err)
	}
	if len(d.waits) != 2 {
		t.Fatalf("waits = %v", d.waits)
	}
	if d.waits[0].Kind != driver.CondVisible || d.waits[0].Selector != "#ready" {
		t.Errorf("visible wait = %+v", d.waits[0])
	}
	if d.waits[1].Kind != driver.CondURLMatches || d.waits[1].Pattern != "/done$" {
		t.Errorf("url wait = %+v", d.waits[1])
	}

	if err := p.Wait(ctx, schema.WaitCondition{Kind: schema.WaitDelay, Value: "soon"}, nil); err == nil {
		t.Error("expected error for invalid delay")
	}
}

func TestWait_LocatorList(t *testing.T) {
	d := htmldoc.New(htmldoc.Site{
		"https://app.test/": `<html><body><div id="toast">Saved</div><div id="spinner" hidden>...</div></body></html>`,
	})
	ctx := context.Background()
	if err := d.Navigate(ctx, "https://app.test/"); err != nil {
		t.Fatal(err)
	}
	p := New(d, locator.NewResolver(d, nil))

	if err := p.Wait(ctx, schema.WaitCondition{Kind: schema.WaitVisible, TimeoutMs: 100}, []string{"#old-toast", "#toast"}); err != nil {
		t.Errorf("visible via second locator: %v", err)
	}
	if err := p.Wait(ctx, schema.WaitCondition{Kind: schema.WaitHidden, TimeoutMs: 100}, []string{"#spinner", "#old-spinner"}); err != nil {
		t.Errorf("hidden across list: %v", err)
	}
	if err := p.Wait(ctx, schema.WaitCondition{Kind: schema.WaitHidden, TimeoutMs: 100}, []string{"#spinner", "#toast"}); err == nil {
		t.Error("hidden should fail while #toast is visible")
	}
	if err := p.Wait(ctx, schema.WaitCondition{Kind: schema.WaitVisible, TimeoutMs: 100}, []string{"#a", "#b"}); err == nil {
		t.Error("visible should fail when no locator matches")
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep = %v, want context.Canceled", err)
	}
}
