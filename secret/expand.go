package secret

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// ExpandEnv replaces $VAR and ${VAR} with their values. Unlike os.ExpandEnv
// an unset variable is an error listing every missing name. "$$" yields a
// literal "$".
func ExpandEnv(s string) (string, error) {
	var missing []string
	out := os.Expand(s, func(name string) string {
		if name == "$" {
			return "$"
		}
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(slices.Compact(missing), ", "))
	}
	return out, nil
}
