// Package config provides configuration management for the check engine.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// ValidationError represents a single validation error with user-friendly message.
type ValidationError struct {
	Field   string // 配置键路径，如 agent.port
	Tag     string // 未通过的校验规则，如 required、url
	Value   any    // 实际值
	Message string // 友好的错误信息
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("config validation failed:\n")
	for _, err := range e {
		fmt.Fprintf(&sb, "  - %s: %s\n", err.Field, err.Message)
	}
	return sb.String()
}

var validate = newValidator()

// newValidator reports fields by their configuration keys instead of Go names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	_ = v.RegisterValidation("timezone", func(fl validator.FieldLevel) bool {
		tz := fl.Field().String()
		if tz == "" {
			return true
		}
		_, err := time.LoadLocation(tz)
		return err == nil
	})
	return v
}

// Validate validates the configuration and returns user-friendly error messages.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	var fieldErrors validator.ValidationErrors
	if err := validate.Struct(cfg); errors.As(err, &fieldErrors) {
		for _, fe := range fieldErrors {
			errs = append(errs, &ValidationError{
				Field:   fieldPath(fe.Namespace()),
				Tag:     fe.Tag(),
				Value:   fe.Value(),
				Message: translateError(fe),
			})
		}
	}

	errs = append(errs, validateDependencies(cfg)...)
	errs = append(errs, validateSchedule(cfg)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateDependencies checks settings that are only required when a feature is enabled.
func validateDependencies(cfg *Config) ValidationErrors {
	var errs ValidationErrors

	required := func(field, value, reason string) {
		if value != "" {
			return
		}
		errs = append(errs, &ValidationError{
			Field:   field,
			Tag:     "required_when_enabled",
			Value:   "",
			Message: fmt.Sprintf("this field is required when %s", reason),
		})
	}

	if cfg.Prediction.Enabled {
		required("datasources.victoriametrics.endpoint", cfg.Datasources.VictoriaMetrics.Endpoint, "prediction is enabled")
		if cfg.Prediction.Cache == "redis" {
			required("prediction.redis.addr", cfg.Prediction.Redis.Addr, "prediction cache is redis")
		}
	}

	if cfg.Crash.Object.Enabled {
		required("crash.object.endpoint", cfg.Crash.Object.Endpoint, "crash upload is enabled")
		required("crash.object.bucket", cfg.Crash.Object.Bucket, "crash upload is enabled")
	}

	if cfg.ValueStore.Backend != "memory" {
		required("value_store.path", cfg.ValueStore.Path, "value store backend is "+cfg.ValueStore.Backend)
	}

	if cfg.Fetch.UseOnlyCache && cfg.Fetch.DisableCache {
		errs = append(errs, &ValidationError{
			Field:   "fetch.use_only_cache",
			Tag:     "conflict",
			Value:   true,
			Message: "use_only_cache cannot be combined with disable_cache",
		})
	}

	return errs
}

// validateSchedule validates the cron expression of the schedule command.
func validateSchedule(cfg *Config) ValidationErrors {
	if cfg.Schedule.Cron == "" {
		return nil
	}
	if _, err := cron.ParseStandard(cfg.Schedule.Cron); err != nil {
		return ValidationErrors{{
			Field:   "schedule.cron",
			Tag:     "cron",
			Value:   cfg.Schedule.Cron,
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		}}
	}
	return nil
}

// fieldPath drops the root struct from a validator namespace.
// Example: "config.value_store.backend" -> "value_store.backend"
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// translateError converts a validator.FieldError to a user-friendly message.
func translateError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "url":
		return fmt.Sprintf("invalid URL format: %v", fe.Value())
	case "gte":
		return fmt.Sprintf("value must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("value must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("value must be one of: %s (got %v)", fe.Param(), fe.Value())
	case "timezone":
		return fmt.Sprintf("invalid timezone: %v", fe.Value())
	default:
		return fmt.Sprintf("validation failed on '%s' tag for field '%s'", fe.Tag(), fieldPath(fe.Namespace()))
	}
}
