package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return validate
}

type ManualTriggerConfig struct {
	Description string `json:"description,omitempty"`
}

type CronTriggerConfig struct {
	CronExpression string `json:"cron_expression" validate:"required"`
	Timezone       string `json:"timezone,omitempty"`
}

type WebhookTriggerConfig struct {
	Path   string `json:"path" validate:"required,startswith=/"`
	Method string `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Filter string `json:"filter,omitempty"`
}

type EmailTriggerConfig struct {
	Address         string `json:"address" validate:"required,email"`
	SubjectContains string `json:"subject_contains,omitempty"`
	FromContains    string `json:"from_contains,omitempty"`
	Filter          string `json:"filter,omitempty"`
}

type GithubTriggerConfig struct {
	Repository string   `json:"repository" validate:"required,contains=/"`
	Events     []string `json:"events,omitempty"`
	Branches   []string `json:"branches,omitempty"`
	Filter     string   `json:"filter,omitempty"`
}

type SlackTriggerConfig struct {
	WorkspaceID string   `json:"workspace_id" validate:"required"`
	ChannelID   string   `json:"channel_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
	Filter      string   `json:"filter,omitempty"`
}

type IfConfig struct {
	Condition string `json:"condition" validate:"required"`
}

type SwitchCase struct {
	Value  string `json:"value" validate:"required"`
	Output string `json:"output" validate:"required"`
}

type SwitchConfig struct {
	Value string       `json:"value" validate:"required"`
	Cases []SwitchCase `json:"cases" validate:"required,min=1,dive"`
}

type FilterConfig struct {
	ItemsKey  string `json:"items_key,omitempty"`
	Condition string `json:"condition" validate:"required"`
}

type LoopConfig struct {
	ItemsKey      string `json:"items_key,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty" validate:"gte=0"`
}

type MergeConfig struct {
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=combine passthrough"`
}

type HILConfig struct {
	Channel         ChannelType    `json:"channel" validate:"required,oneof=slack email webhook in_app"`
	Target          string         `json:"target" validate:"required"`
	Message         string         `json:"message" validate:"required"`
	Options         []string       `json:"options,omitempty"`
	TimeoutSeconds  int            `json:"timeout_seconds,omitempty" validate:"gte=0"`
	TimeoutAction   TimeoutAction  `json:"timeout_action,omitempty" validate:"omitempty,oneof=fail continue default_response"`
	DefaultResponse map[string]any `json:"default_response,omitempty"`
}

type LogConfig struct {
	Message string `json:"message" validate:"required"`
	Level   string `json:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

type TransformConfig struct {
	Expression string `json:"expression" validate:"required"`
}

type SetConfig struct {
	Values map[string]any `json:"values" validate:"required"`
}

type ExternalActionConfig struct {
	Operation  string         `json:"operation" validate:"required"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type AgentConfig struct {
	Model         string `json:"model" validate:"required"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
	Prompt        string `json:"prompt" validate:"required"`
	MaxIterations int    `json:"max_iterations,omitempty" validate:"gte=0"`
}

type ToolConfig struct {
	Tool        string         `json:"tool" validate:"required"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type MemoryConfig struct {
	Namespace  string `json:"namespace" validate:"required"`
	Operation  string `json:"operation,omitempty" validate:"omitempty,oneof=read write"`
	Key        string `json:"key,omitempty"`
	MaxEntries int    `json:"max_entries,omitempty" validate:"gte=0"`
}

// DecodeConfig decodes a node configuration map into target, rejecting unknown
// fields, and validates the result against its struct tags.
func DecodeConfig(configuration map[string]any, target any) error {
	if configuration == nil {
		configuration = map[string]any{}
	}

	raw, err := json.Marshal(configuration)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	err = decoder.Decode(target)
	if err != nil {
		return fmt.Errorf("decode configuration: %w", err)
	}

	return ValidateConfig(target)
}

// ValidateConfig runs struct tag validation and reports one error per failing field.
func ValidateConfig(target any) error {
	err := configValidator.Struct(target)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	errs := make([]error, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		errs = append(errs, fmt.Errorf("configuration field %q failed %q validation", fieldError.Field(), fieldError.Tag()))
	}

	return errors.Join(errs...)
}
