// Package validator wraps go-playground/validator for request DTOs.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator is injected into handlers that validate request bodies.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	return &Validator{
		v: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (val *Validator) Struct(s interface{}) error {
	return val.v.Struct(s)
}

func (val *Validator) Var(field interface{}, tag string) error {
	return val.v.Var(field, tag)
}

func (val *Validator) RegisterValidation(tag string, fn validator.Func) error {
	return val.v.RegisterValidation(tag, fn)
}

// FieldErrors flattens validation errors into field -> rule pairs suitable
// for an error response's details.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule = fmt.Sprintf("%s=%s", rule, fe.Param())
		}
		out[strings.ToLower(fe.Field()[:1])+fe.Field()[1:]] = rule
	}
	return out
}
