// Package templating binds Home Assistant templates to the objects that
// consume their renderings.
//
// A Renderer delivers a Result every time a template's inputs change. An
// Attribute forwards each Result to a Sink, and an Entity groups the
// attributes of one entity and republishes it after every update.
package templating

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZephireNZ/home-assistant-core/internal/ha"
)

// Result is a single template rendering: a value, or an error marker.
type Result struct {
	Value interface{}
	Err   error
}

// IsError reports whether the rendering failed.
func (r Result) IsError() bool {
	return r.Err != nil
}

// Error is the error marker carried by failed renderings.
type Error struct {
	Template string
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("template error: %s", e.Message)
}

// IsTemplateError reports whether err is (or wraps) a template Error.
func IsTemplateError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// FromHA converts a websocket rendering into a Result.
func FromHA(template string, r ha.TemplateResult) Result {
	if r.Error != "" {
		return Result{Err: &Error{Template: template, Message: r.Error}}
	}
	v, err := r.Decode()
	if err != nil {
		return Result{Err: &Error{Template: template, Message: err.Error()}}
	}
	return Result{Value: v}
}

// ResultAsBoolean coerces a rendered value to a boolean the way Home
// Assistant does: booleans as-is, non-zero numbers, and the strings
// 1/true/yes/on/enable are true. Everything else is false.
func ResultAsBoolean(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on", "enable":
			return true
		}
	}
	return false
}

// ResultAsString renders a value for icon, picture and similar attributes.
func ResultAsString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
