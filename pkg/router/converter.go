package router

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

var errNotAFunction = errors.New("conversion source does not evaluate to a function")

// Converter runs JavaScript conversion functions. A conversion is either a function
// expression taking the payload, or a function body referring to `data`:
//
//	(data) => ({ total: data.amount * 2 })
//	return { total: data.amount * 2 }
type Converter struct {
	timeout time.Duration
}

func NewConverter(timeout time.Duration) *Converter {
	return &Converter{timeout: timeout}
}

// Convert evaluates source against data. Each call gets its own runtime.
func (c *Converter) Convert(source string, data map[string]any) (map[string]any, error) {
	vm := goja.New()

	if c.timeout > 0 {
		timer := time.AfterFunc(c.timeout, func() {
			vm.Interrupt("conversion timed out")
		})
		defer timer.Stop()
	}

	value, err := vm.RunString(wrap(source))
	if err != nil {
		return nil, err
	}

	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil, errNotAFunction
	}

	result, err := fn(goja.Undefined(), vm.ToValue(data))
	if err != nil {
		return nil, err
	}

	if goja.IsUndefined(result) || goja.IsNull(result) {
		return map[string]any{}, nil
	}

	switch exported := result.Export().(type) {
	case map[string]any:
		return exported, nil
	default:
		return map[string]any{"result": exported}, nil
	}
}

func wrap(source string) string {
	trimmed := strings.TrimSpace(source)
	if strings.HasPrefix(trimmed, "function") || (strings.HasPrefix(trimmed, "(") && strings.Contains(trimmed, "=>")) {
		return "(" + trimmed + ")"
	}

	if param, _, ok := strings.Cut(trimmed, "=>"); ok && isIdentifier(strings.TrimSpace(param)) {
		return "(" + trimmed + ")"
	}

	return fmt.Sprintf("(function(data) {\n%s\n})", trimmed)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}

	return true
}
