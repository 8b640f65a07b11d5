package eval

import (
	"reflect"
	"sync"
	"testing"
)

func TestSubstitute_Literal(t *testing.T) {
	if got := Substitute("hello world", nil); got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestSubstitute_SimpleVar(t *testing.T) {
	got := Substitute("https://{{HOST}}/login", map[string]string{"HOST": "example.com"})
	if got != "https://example.com/login" {
		t.Errorf("got %q", got)
	}
}

func TestSubstitute_MultipleAndRepeated(t *testing.T) {
	vars := map[string]string{"A": "1", "B": "2"}
	got := Substitute("{{A}}-{{B}}-{{A}}", vars)
	if got != "1-2-1" {
		t.Errorf("got %q", got)
	}
}

func TestSubstitute_UnknownKeyUntouched(t *testing.T) {
	got := Substitute("{{EMAIL}} / {{MISSING}}", map[string]string{"EMAIL": "a@b.com"})
	if got != "a@b.com / {{MISSING}}" {
		t.Errorf("got %q", got)
	}
}

func TestSubstitute_SinglePass(t *testing.T) {
	vars := map[string]string{"A": "{{B}}", "B": "boom"}
	got := Substitute("{{A}}", vars)
	if got != "{{B}}" {
		t.Errorf("value was rescanned: got %q", got)
	}
}

func TestSubstitute_Idempotent(t *testing.T) {
	vars := map[string]string{"EMAIL": "a@b.com", "NAME": "Ada"}
	tmpls := []string{
		"fill {{EMAIL}}",
		"{{NAME}} <{{EMAIL}}>",
		"no placeholders",
		"{{UNKNOWN}} stays",
		"{{",
		"}}{{",
	}
	for _, tmpl := range tmpls {
		once := Substitute(tmpl, vars)
		twice := Substitute(once, vars)
		if once != twice {
			t.Errorf("Substitute(%q) not idempotent: %q then %q", tmpl, once, twice)
		}
	}
}

func TestSubstitute_MalformedDelimiters(t *testing.T) {
	vars := map[string]string{"X": "x"}
	cases := map[string]string{
		"{{X":      "{{X",
		"X}}":      "X}}",
		"{{}}":     "{{}}",
		"{{{{X}}":  "{{x",
		"a{{X}}b":  "axb",
		"{{ X }}!": "{{ X }}!",
		"{{X }}":   "{{X }}",
	}
	for in, want := range cases {
		if got := Substitute(in, vars); got != want {
			t.Errorf("Substitute(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSubstitutor_OnlyDeclared(t *testing.T) {
	s := New([]string{"EMAIL"})
	vars := map[string]string{"EMAIL": "a@b.com", "OTHER": "nope"}
	got := s.Apply("{{EMAIL}} {{OTHER}}", vars)
	if got != "a@b.com {{OTHER}}" {
		t.Errorf("got %q", got)
	}
	if !s.Declared("EMAIL") || s.Declared("OTHER") {
		t.Error("Declared mismatch")
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{{B}} and {{A}} and {{B}} and {{C}} but not {{ D }}")
	want := []string{"B", "A", "C"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Placeholders = %v, want %v", got, want)
	}
	if got := Placeholders("plain"); len(got) != 0 {
		t.Errorf("Placeholders(plain) = %v", got)
	}
}

func TestMissing(t *testing.T) {
	vars := map[string]string{"A": "1"}
	got := Missing(vars, "{{A}} {{Z}}", "{{B}}", "")
	want := []string{"B", "Z"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Missing = %v, want %v", got, want)
	}
}

func TestCache_MatchURL(t *testing.T) {
	c := NewCache(0)
	ok, err := c.MatchURL(`/dashboard$`, "https://app.example.com/dashboard")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected match")
	}
	ok, err = c.MatchURL(`/dashboard$`, "https://app.example.com/login")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("unexpected match")
	}
	if _, err := c.MatchURL(`([`, "x"); err == nil {
		t.Error("expected compile error")
	}
}

func TestCache_EvalBool(t *testing.T) {
	c := NewCache(8)
	env := Env{URL: "https://example.com/home", Vars: map[string]string{"MODE": "fast"}}

	ok, err := c.EvalBool(`vars.MODE == "fast" && url contains "/home"`, env)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected true")
	}

	ok, err = c.EvalBool("", env)
	if err != nil || !ok {
		t.Errorf("empty expression = %v, %v; want true, nil", ok, err)
	}

	if _, err := c.EvalBool("url +", env); err == nil {
		t.Error("expected compile error")
	}
}

func TestCache_ConcurrentUse(t *testing.T) {
	c := NewCache(4)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.MatchURL(`example\.com`, "https://example.com"); err != nil {
				t.Error(err)
			}
			if _, err := c.EvalBool(`url != ""`, Env{URL: "x"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}
