// Package config loads the loupe.yaml configuration file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:[-?])([^}]*))?\}`)

// ExpandEnv replaces environment references in input.
//
// A set, non-empty variable always wins. Otherwise ${VAR:-default} yields
// the default, ${VAR:?message} is an error naming the variable, and ${VAR}
// yields the empty string.
func ExpandEnv(input string) (string, error) {
	var (
		b    strings.Builder
		last int
	)
	for _, m := range envRef.FindAllStringSubmatchIndex(input, -1) {
		b.WriteString(input[last:m[0]])
		last = m[1]

		name := input[m[2]:m[3]]
		if v, ok := os.LookupEnv(name); ok && v != "" {
			b.WriteString(v)
			continue
		}
		if m[4] < 0 {
			continue
		}
		arg := input[m[6]:m[7]]
		if input[m[4]:m[5]] == ":?" {
			if arg == "" {
				arg = "required but not set"
			}
			return "", fmt.Errorf("${%s}: %s", name, arg)
		}
		b.WriteString(arg)
	}
	b.WriteString(input[last:])
	return b.String(), nil
}
