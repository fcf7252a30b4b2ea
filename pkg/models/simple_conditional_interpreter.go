package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Truthy converts a rendered condition into a boolean. Empty strings and nil are false.
func Truthy(exp any) (bool, error) {
	switch v := exp.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" || trimmed == "<no value>" {
			return false, nil
		}

		result, err := strconv.ParseBool(trimmed)
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to boolean: %w", v, err)
		}

		return result, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case []any:
		return len(v) > 0, nil
	case map[string]any:
		return len(v) > 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", exp)
	}
}
