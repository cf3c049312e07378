package util

import (
	"time"

	"github.com/bwise1/quickpoll_api/internal/similarity"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("notblank", validateNotBlank)
	validate.RegisterValidation("future", validateFuture)
	validate.RegisterValidation("descriptor", validateDescriptor)
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return NotBlank(fl.Field().String())
}

func validateFuture(fl validator.FieldLevel) bool {
	t, ok := fl.Field().Interface().(time.Time)
	return ok && t.After(time.Now())
}

func validateDescriptor(fl validator.FieldLevel) bool {
	v, ok := fl.Field().Interface().([]float64)
	return ok && similarity.ValidateDescriptor(v) == nil
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}
