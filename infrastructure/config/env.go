package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	domainconfig "github.com/felixgeelhaar/asynctrain/domain/config"
)

var (
	// ${VAR}, ${VAR:-default}, ${VAR:?error}
	bracketPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*|:\?[^}]*)?\}`)
	// $VAR
	simplePattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// envExpander expands environment variables in configuration text.
type envExpander struct {
	strict  bool
	missing []string
}

// Expand expands environment variables in the input string.
// Supported patterns:
//   - ${VAR} expands to the value of VAR
//   - ${VAR:-default} expands to VAR or "default" if unset or empty
//   - ${VAR:?message} fails if VAR is unset or empty
//   - $VAR simple expansion
//   - $$ is a literal dollar sign
func (e *envExpander) Expand(input string) (string, error) {
	e.missing = nil

	const escaped = "\x00dollar\x00"
	result := strings.ReplaceAll(input, "$$", escaped)

	result = bracketPattern.ReplaceAllStringFunc(result, func(match string) string {
		sub := bracketPattern.FindStringSubmatch(match)
		name, modifier := sub[1], sub[2]
		value, exists := os.LookupEnv(name)

		switch {
		case strings.HasPrefix(modifier, ":-"):
			if !exists || value == "" {
				return modifier[2:]
			}
		case strings.HasPrefix(modifier, ":?"):
			if !exists || value == "" {
				e.missing = append(e.missing, fmt.Sprintf("%s: %s", name, modifier[2:]))
				return match
			}
		default:
			if !exists {
				if e.strict {
					e.missing = append(e.missing, name)
				}
				return ""
			}
		}
		return value
	})

	result = simplePattern.ReplaceAllStringFunc(result, func(match string) string {
		name := match[1:]
		value, exists := os.LookupEnv(name)
		if !exists {
			if e.strict {
				e.missing = append(e.missing, name)
			}
			return ""
		}
		return value
	})

	if len(e.missing) > 0 {
		return "", fmt.Errorf("%w: %s", domainconfig.ErrMissingEnvVar, strings.Join(e.missing, ", "))
	}

	return strings.ReplaceAll(result, escaped, "$"), nil
}

// ExpandEnv expands environment variables, leaving missing ones empty.
func ExpandEnv(input string) string {
	e := &envExpander{}
	result, _ := e.Expand(input)
	return result
}

// ExpandEnvStrict expands environment variables and returns an error for missing vars.
func ExpandEnvStrict(input string) (string, error) {
	e := &envExpander{strict: true}
	return e.Expand(input)
}
