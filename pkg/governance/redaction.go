package governance

import (
	"fmt"
	"regexp"
)

// RedactionRule replaces every match of Pattern with Replace. Replace may
// reference capture groups as $1.
type RedactionRule struct {
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Replace string `mapstructure:"replace" yaml:"replace"`
}

// CompiledRedaction is a pre-compiled redaction rule.
type CompiledRedaction struct {
	Pattern *regexp.Regexp
	Replace string
}

// CompileRedactionRules compiles rules in order.
func CompileRedactionRules(rules []RedactionRule) ([]*CompiledRedaction, error) {
	var compiled []*CompiledRedaction
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", r.Pattern, err)
		}
		replace := r.Replace
		if replace == "" {
			replace = "<REDACTED>"
		}
		compiled = append(compiled, &CompiledRedaction{Pattern: re, Replace: replace})
	}
	return compiled, nil
}

// RedactOutput applies all compiled rules to output.
func RedactOutput(output string, rules []*CompiledRedaction) string {
	for _, r := range rules {
		output = r.Pattern.ReplaceAllString(output, r.Replace)
	}
	return output
}
