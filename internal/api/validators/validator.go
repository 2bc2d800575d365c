// Package validators centraliza a validação de payloads da API com
// mensagens de erro amigáveis por campo.
package validators

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Validator envolve o validador de structs com as regras do gateway
type Validator struct {
	validate *validator.Validate
}

// ValidationError descreve a falha de um campo específico
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// ValidationErrorResponse é o envelope de erro de validação da API
type ValidationErrorResponse struct {
	ErrorCode string            `json:"error"`
	Message   string            `json:"message"`
	Fields    []ValidationError `json:"fields,omitempty"`
	Status    int               `json:"status"`
}

func (v *ValidationErrorResponse) Error() string {
	return v.Message
}

func NewValidator() *Validator {
	v := validator.New()

	v.RegisterValidation("session_id", func(fl validator.FieldLevel) bool {
		return sessionIDPattern.MatchString(fl.Field().String())
	})

	// Nomes de campo nas mensagens seguem as tags JSON
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{validate: v}
}

// ValidateStruct valida uma estrutura já populada
func (v *Validator) ValidateStruct(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return v.formatValidationError(err)
	}
	return nil
}

// ValidateAndBindJSON faz o parse do corpo e valida o resultado
func (v *Validator) ValidateAndBindJSON(c *fiber.Ctx, obj interface{}) error {
	if err := c.BodyParser(obj); err != nil {
		return &ValidationErrorResponse{
			ErrorCode: "INVALID_JSON",
			Message:   "Invalid JSON format",
			Status:    fiber.StatusBadRequest,
		}
	}
	return v.ValidateStruct(obj)
}

// ValidateSessionID valida o identificador vindo da URL
func (v *Validator) ValidateSessionID(sessionID string) error {
	if !sessionIDPattern.MatchString(sessionID) {
		return &ValidationErrorResponse{
			ErrorCode: "INVALID_SESSION_ID",
			Message:   "Session ID must be 1-128 characters of letters, digits, underscore or hyphen",
			Status:    fiber.StatusBadRequest,
		}
	}
	return nil
}

func (v *Validator) formatValidationError(err error) error {
	var fields []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldErr := range validationErrs {
			fields = append(fields, ValidationError{
				Field:   fieldErr.Field(),
				Tag:     fieldErr.Tag(),
				Message: validationMessage(fieldErr),
				Value:   fmt.Sprintf("%v", fieldErr.Value()),
			})
		}
	}

	return &ValidationErrorResponse{
		ErrorCode: "VALIDATION_ERROR",
		Message:   "Request validation failed",
		Fields:    fields,
		Status:    fiber.StatusBadRequest,
	}
}

func validationMessage(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("Field '%s' is required", field)
	case "min":
		return fmt.Sprintf("Field '%s' must be at least %s characters long", field, param)
	case "max":
		return fmt.Sprintf("Field '%s' must be at most %s characters long", field, param)
	case "url":
		return fmt.Sprintf("Field '%s' must be a valid URL", field)
	case "oneof":
		return fmt.Sprintf("Field '%s' must be one of: %s", field, param)
	case "session_id":
		return fmt.Sprintf("Field '%s' must be a valid session ID", field)
	default:
		return fmt.Sprintf("Field '%s' is invalid", field)
	}
}
