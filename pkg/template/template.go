// Package template renders text/template expressions against node execution data.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/loom/pkg/protocol"
)

// ContextData builds the template data exposed to node expressions.
func ContextData(execCtx protocol.NodeExecutionContext) map[string]any {
	data := map[string]any{
		"input":     execCtx.Input,
		"variables": execCtx.Variables,
		"vars":      execCtx.Variables,
		"trigger":   execCtx.TriggerPayload,
		"env":       getEnvVars(),
		"execution": map[string]any{
			"id":          execCtx.ExecutionID,
			"workflow_id": execCtx.WorkflowID,
			"attempt":     execCtx.Attempt,
		},
	}

	if execCtx.Node != nil {
		data["node"] = map[string]any{
			"id":      execCtx.Node.ID,
			"name":    execCtx.Node.Name,
			"type":    string(execCtx.Node.Type),
			"subtype": execCtx.Node.Subtype,
		}
	}

	return data
}

// RenderWithContext renders input against the node context and coerces the result.
func RenderWithContext(input string, execCtx protocol.NodeExecutionContext) (any, error) {
	return Render(input, ContextData(execCtx))
}

// RenderStringWithContext renders input against the node context without coercion.
func RenderStringWithContext(input string, execCtx protocol.NodeExecutionContext) (string, error) {
	return RenderString(input, ContextData(execCtx))
}

// Render executes the template and converts JSON, numeric and boolean output into
// their Go values.
func Render(templateStr string, data any) (any, error) {
	rendered, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(rendered)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return result, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderString executes the template and returns its raw output.
func RenderString(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("node").
		Funcs(funcs()).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"rand": func(max int) int {
			if max <= 0 {
				return 0
			}

			num := make([]byte, 1)

			_, err := rand.Read(num)
			if err != nil {
				return 0
			}

			return int(num[0]) % max
		},
		"json": func(v any) (string, error) {
			raw, err := json.Marshal(v)

			return string(raw), err
		},
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"contains": func(s, substr string) bool {
			return strings.Contains(s, substr)
		},
	}
}

func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
