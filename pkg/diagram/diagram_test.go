package diagram

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

func sampleSpec() *schema.IntentSpec {
	return &schema.IntentSpec{
		Name: "checkout",
		URL:  "https://shop.example.test/",
		Steps: []schema.Step{
			{
				Name:           "dismiss banner",
				Action:         schema.ActionClick,
				Prefer:         schema.PathSnippet,
				Fallback:       schema.PathNone,
				SkipConditions: []schema.SkipCondition{{Kind: schema.SkipElementExists, Value: "#returning"}},
			},
			{
				Name:       "add to cart",
				Action:     schema.ActionClick,
				Prefer:     schema.PathSnippet,
				Fallback:   schema.PathAI,
				Validation: &schema.Validation{Kind: schema.ValidateURLMatches, Expected: "/cart$"},
			},
			{
				Name:          "newsletter",
				Action:        schema.ActionClick,
				Prefer:        schema.PathAI,
				Fallback:      schema.PathNone,
				ErrorHandling: &schema.ErrorHandling{SkipOnError: true},
			},
		},
	}
}

func TestGenerateMermaid_LinearFlow(t *testing.T) {
	out, err := Generate(sampleSpec(), FormatMermaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "flowchart TD") {
		t.Error("missing flowchart header")
	}
	for _, want := range []string{"s1 --> s2", "s2 --> s3", "s3 --> END", "END([Done])"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q, got:\n%s", want, out)
		}
	}
}

func TestGenerateMermaid_Fallback(t *testing.T) {
	out, _ := Generate(sampleSpec(), FormatMermaid)
	if !strings.Contains(out, `s2 -.->|"on failure"| s2_fb`) {
		t.Errorf("missing fallback edge, got:\n%s", out)
	}
	if strings.Contains(out, "s1_fb") {
		t.Error("step without fallback should have no fallback node")
	}
}

func TestGenerateMermaid_SkipAndValidation(t *testing.T) {
	out, _ := Generate(sampleSpec(), FormatMermaid)
	if !strings.Contains(out, "skip: elementExists #returning") {
		t.Errorf("missing skip edge, got:\n%s", out)
	}
	if !strings.Contains(out, "✓ urlMatches /cart$") {
		t.Errorf("missing validation label, got:\n%s", out)
	}
	if !strings.Contains(out, "style s3 fill:#2a1a4a") {
		t.Error("ai-preferred step should be styled")
	}
	if !strings.Contains(out, `s3{{"`) {
		t.Error("optional step should use the hexagon shape")
	}
}

func TestGenerateMermaid_Escaping(t *testing.T) {
	spec := &schema.IntentSpec{Name: "q", Steps: []schema.Step{{Name: `say "hi"`, Action: schema.ActionWait}}}
	out, _ := Generate(spec, FormatMermaid)
	if !strings.Contains(out, "#quot;hi#quot;") {
		t.Errorf("quotes not escaped:\n%s", out)
	}
}

func TestGenerateASCII(t *testing.T) {
	out, err := Generate(sampleSpec(), FormatASCII)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"checkout", "dismiss banner", "click via snippet → ai", "skip if elementExists #returning", "(optional)"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestGenerateASCII_BoxesAligned(t *testing.T) {
	out, _ := Generate(sampleSpec(), FormatASCII)
	width := -1
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		if !strings.HasPrefix(trimmed, "│") && !strings.HasPrefix(trimmed, "┌") && !strings.HasPrefix(trimmed, "╔") {
			continue
		}
		if strings.TrimSpace(trimmed) == "│" {
			continue
		}
		w := runewidth.StringWidth(line)
		if width == -1 {
			width = w
		} else if w != width {
			t.Errorf("line width %d != %d: %q", w, width, line)
		}
	}
}

func TestGenerateASCII_Empty(t *testing.T) {
	out, _ := Generate(&schema.IntentSpec{Name: "nothing"}, FormatASCII)
	if out != "nothing (empty)\n" {
		t.Errorf("got %q", out)
	}
}

func TestGenerate_Errors(t *testing.T) {
	if _, err := Generate(nil, FormatASCII); err == nil {
		t.Error("expected error for nil spec")
	}
	if _, err := Generate(sampleSpec(), "svg"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefghij", 8); got != "abcde..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 8); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}
