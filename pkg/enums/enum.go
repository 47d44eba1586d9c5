// Package enums holds the string enums shared by the database, the outbox
// envelope and the HTTP layer.
package enums

import (
	"fmt"
	"slices"
)

func parse[T ~string](kind, raw string, valid []T) (T, error) {
	if v := T(raw); slices.Contains(valid, v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, raw)
}
