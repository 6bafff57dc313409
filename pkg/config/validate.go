package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/phasekit/pkg/engine"
)

// newValidator creates a validator that reads field names from json tags
// and knows the notretry rule.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for an empty tag or a nil func.
	_ = v.RegisterValidation("notretry", func(fl validator.FieldLevel) bool {
		return fl.Field().String() != string(engine.RepairRetry)
	})
	return v
}

// DefinitionError reports every problem found in a workflow definition.
type DefinitionError struct {
	Errors []ValidationError
}

func (e *DefinitionError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.String())
	}
	return fmt.Sprintf("invalid workflow definition: %s", strings.Join(msgs, "; "))
}

// String formats the error as file:line:column: path: message.
func (ve ValidationError) String() string {
	var b strings.Builder
	if ve.File != "" {
		b.WriteString(ve.File)
		if ve.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", ve.Line, ve.Column)
		}
		b.WriteString(": ")
	}
	if ve.Path != "" {
		b.WriteString(ve.Path)
		b.WriteString(": ")
	}
	b.WriteString(ve.Message)
	return b.String()
}

// ValidateDefinition checks a definition's struct constraints and the
// cross-field rules the tags cannot express.
func ValidateDefinition(def *WorkflowDefinition) []ValidationError {
	return validateDefinition(newValidator(), def)
}

func validateDefinition(v *validator.Validate, def *WorkflowDefinition) []ValidationError {
	if def == nil {
		return []ValidationError{{Message: "definition is empty", Severity: "error"}}
	}

	var out []ValidationError
	if err := v.Struct(def); err != nil {
		out = append(out, convertValidatorErrors(err)...)
	}

	names := make(map[string]int)
	for i, p := range def.Phases {
		if p.Name == "" {
			continue
		}
		if j, dup := names[p.Name]; dup {
			out = append(out, ValidationError{
				Path:     fmt.Sprintf("phases[%d].name", i),
				Message:  fmt.Sprintf("duplicate phase name %q, first used by phases[%d]", p.Name, j),
				Severity: "error",
			})
			continue
		}
		names[p.Name] = i
	}

	check := func(path string, defs []StrategyDefinition) {
		for i, s := range defs {
			if s.RepairActionCode != string(engine.RepairRetry) && (s.RetryCount > 0 || len(s.RetryIntervals) > 0) {
				out = append(out, ValidationError{
					Path:     fmt.Sprintf("%s[%d]", path, i),
					Message:  fmt.Sprintf("retry settings given for %s strategy", s.RepairActionCode),
					Severity: "warning",
				})
			}
		}
	}
	check("failureStrategies", def.FailureStrategies)
	for i, p := range def.Phases {
		check(fmt.Sprintf("phases[%d].failureStrategies", i), p.FailureStrategies)
	}

	seen := make(map[string]bool)
	for i, s := range def.Services {
		if s.ID == "" {
			out = append(out, ValidationError{Path: fmt.Sprintf("services[%d].id", i), Message: "is required", Severity: "error"})
			continue
		}
		if seen[s.ID] {
			out = append(out, ValidationError{Path: fmt.Sprintf("services[%d].id", i), Message: fmt.Sprintf("duplicate service %q", s.ID), Severity: "error"})
		}
		seen[s.ID] = true
		if err := s.DeploymentType.Validate(); err != nil {
			out = append(out, ValidationError{Path: fmt.Sprintf("services[%d].deploymentType", i), Message: err.Error(), Severity: "error"})
		}
	}
	return out
}

// HasErrors returns true if any entry has error severity.
func HasErrors(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// convertValidatorErrors converts validator field errors to ValidationErrors.
func convertValidatorErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Message: err.Error(), Severity: "error"}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:     fieldPath(fe.Namespace()),
			Message:  fieldMessage(fe),
			Severity: "error",
		})
	}
	return out
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("%v is not one of [%s]", fe.Value(), fe.Param())
	case "notretry":
		return fmt.Sprintf("must not be %s", engine.RepairRetry)
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
