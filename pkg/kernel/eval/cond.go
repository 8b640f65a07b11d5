package eval

import (
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of compiled patterns kept by a Cache.
const DefaultCacheSize = 256

// Env is the environment exposed to boolean expressions.
type Env struct {
	URL  string
	Vars map[string]string
}

func (e Env) toMap() map[string]any {
	vars := e.Vars
	if vars == nil {
		vars = map[string]string{}
	}
	return map[string]any{
		"url":  e.URL,
		"vars": vars,
	}
}

// Cache memoises compiled URL patterns and expr programs. It is safe for
// concurrent use, so one Cache may back many simultaneous runs.
type Cache struct {
	patterns *lru.Cache[string, *regexp.Regexp]
	programs *lru.Cache[string, *vm.Program]
}

// NewCache creates a cache holding up to size entries of each kind.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// lru.New only fails on a non-positive size.
	patterns, _ := lru.New[string, *regexp.Regexp](size)
	programs, _ := lru.New[string, *vm.Program](size)
	return &Cache{patterns: patterns, programs: programs}
}

// Pattern returns the compiled form of a urlMatches pattern.
func (c *Cache) Pattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.patterns.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	c.patterns.Add(pattern, re)
	return re, nil
}

// MatchURL reports whether url matches the regular expression pattern.
func (c *Cache) MatchURL(pattern, url string) (bool, error) {
	re, err := c.Pattern(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(url), nil
}

// Program compiles a boolean expression against the Env shape.
func (c *Cache) Program(expression string) (*vm.Program, error) {
	if p, ok := c.programs.Get(expression); ok {
		return p, nil
	}
	p, err := CompileBool(expression)
	if err != nil {
		return nil, err
	}
	c.programs.Add(expression, p)
	return p, nil
}

// EvalBool evaluates expression against env. An empty expression is true.
func (c *Cache) EvalBool(expression string, env Env) (bool, error) {
	if expression == "" {
		return true, nil
	}
	program, err := c.Program(expression)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env.toMap())
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", expression, out)
	}
	return b, nil
}

// CompileBool compiles a boolean expression without caching it. Validation
// uses it to report syntax errors before a run starts.
func CompileBool(expression string) (*vm.Program, error) {
	program, err := expr.Compile(expression, expr.Env(Env{}.toMap()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}
	return program, nil
}
