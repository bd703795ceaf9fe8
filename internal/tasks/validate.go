package tasks

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/academyhub/backend/internal/models"
)

// CreateParams is what an agent submits to propose a task.
type CreateParams struct {
	AgentID          string              `json:"agentId" validate:"required"`
	OrganizationID   string              `json:"organizationId" validate:"required"`
	Title            string              `json:"title" validate:"required,min=3"`
	Description      string              `json:"description" validate:"required,min=10"`
	Category         models.TaskCategory `json:"category" validate:"required,category"`
	ActionType       models.ActionType   `json:"actionType" validate:"required,actiontype"`
	TargetEntity     string              `json:"targetEntity,omitempty"`
	ActionPayload    map[string]any      `json:"actionPayload" validate:"required"`
	Reasoning        *models.Reasoning   `json:"reasoning,omitempty"`
	RequiresApproval *bool               `json:"requiresApproval,omitempty"`
	AutoExecute      *bool               `json:"autoExecute,omitempty"`
	Priority         models.Priority     `json:"priority,omitempty" validate:"omitempty,priority"`
	DueDate          *time.Time          `json:"dueDate,omitempty"`
}

// ValidationResult reports whether CreateParams may be persisted.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return models.TaskCategory(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("actiontype", func(fl validator.FieldLevel) bool {
		return models.ActionType(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		return models.Priority(fl.Field().String()).Valid()
	})
}

// ValidateParams checks required fields and minimum lengths. It touches no
// store and can be called before submitting.
func ValidateParams(p CreateParams) ValidationResult {
	if err := validate.Struct(p); err != nil {
		return ValidationResult{Error: describe(err)}
	}
	return ValidationResult{Valid: true}
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "category", "actiontype", "priority":
		return fmt.Sprintf("%s has invalid value %q", fe.Field(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
