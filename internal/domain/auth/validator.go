// internal/domain/auth/validator.go
package auth

import (
	"github.com/go-playground/validator/v10"
)

type ValidatorWrapper struct {
	validate *validator.Validate
}

// NewValidator wraps v and registers the "keyid" tag.
func NewValidator(v *validator.Validate) Validator {
	_ = v.RegisterValidation("keyid", func(fl validator.FieldLevel) bool {
		_, err := ParseKeyID(fl.Field().String())
		return err == nil
	})
	return &ValidatorWrapper{
		validate: v,
	}
}

func (v *ValidatorWrapper) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
