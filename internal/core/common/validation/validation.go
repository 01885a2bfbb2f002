package validation

import (
	"fmt"
	"time"

	errors "github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/shopspring/decimal"
)

type ValidatorFunc func(interface{}) *errors.AppError

type FieldValidator struct {
	FieldName  string
	Value      interface{}
	Validators []ValidatorFunc
}

type ValidationBuilder struct {
	fields []FieldValidator
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{
		fields: make([]FieldValidator, 0),
	}
}

func (v *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	fv := FieldValidator{
		FieldName:  name,
		Value:      value,
		Validators: make([]ValidatorFunc, 0),
	}
	v.fields = append(v.fields, fv)
	return &v.fields[len(v.fields)-1]
}

func (fv *FieldValidator) Required() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		missing := false
		switch v := value.(type) {
		case string:
			missing = v == ""
		case *string:
			missing = v == nil || *v == ""
		case decimal.Decimal:
			missing = v.IsZero()
		}
		if missing {
			return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s is required", fv.FieldName), errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

// Positive requires a decimal strictly greater than zero.
func (fv *FieldValidator) Positive(code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(decimal.Decimal); ok && !v.IsPositive() {
			return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must be greater than 0", fv.FieldName), code)
		}
		return nil
	})
	return fv
}

// Between bounds a decimal inclusively.
func (fv *FieldValidator) Between(min, max decimal.Decimal, code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(decimal.Decimal); ok {
			if v.LessThan(min) || v.GreaterThan(max) {
				message := fmt.Sprintf("%s must be between %s and %s", fv.FieldName, min.String(), max.String())
				return errors.NewValidationFieldError(fv.FieldName, message, code)
			}
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MinDuration(min time.Duration, code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(time.Duration); ok && v < min {
			message := fmt.Sprintf("%s must be at least %s", fv.FieldName, min)
			return errors.NewValidationFieldError(fv.FieldName, message, code)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MaxDuration(max time.Duration, code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(time.Duration); ok && max > 0 && v > max {
			message := fmt.Sprintf("%s must not exceed %s", fv.FieldName, max)
			return errors.NewValidationFieldError(fv.FieldName, message, code)
		}
		return nil
	})
	return fv
}

func (v *ValidationBuilder) Validate() *errors.AppError {
	var validationErrors []errors.ValidationError

	for _, field := range v.fields {
		for _, validator := range field.Validators {
			appErr := validator(field.Value)
			if appErr == nil {
				continue
			}
			if details, ok := appErr.Details.(errors.ValidationErrors); ok {
				validationErrors = append(validationErrors, details.Errors...)
				continue
			}
			validationErrors = append(validationErrors, errors.ValidationError{
				Field:   field.FieldName,
				Message: appErr.Message,
				Code:    string(appErr.Code),
			})
		}
	}

	if len(validationErrors) > 0 {
		return errors.NewValidationError("Validation failed", errors.ErrCodeValidationFailed).
			WithDetails(errors.ValidationErrors{Errors: validationErrors})
	}

	return nil
}

var hundred = decimal.NewFromInt(100)

// ValidatePercentage checks a split percentage is a plain decimal in [0,100].
func ValidatePercentage(percentage decimal.Decimal) *errors.AppError {
	validator := NewValidator()
	validator.Field("percentage", percentage).
		Between(decimal.Zero, hundred, errors.ErrCodeInvalidAmount)
	return validator.Validate()
}

func ValidateChargeValue(value decimal.Decimal) *errors.AppError {
	validator := NewValidator()
	validator.Field("value", value).
		Positive(errors.ErrCodeInvalidAmount)
	return validator.Validate()
}

// ValidatePollWindow bounds client-supplied poll cadence and deadline.
func ValidatePollWindow(interval, timeout, maxTimeout time.Duration) *errors.AppError {
	validator := NewValidator()
	validator.Field("interval", interval).
		MinDuration(100*time.Millisecond, errors.ErrCodeInvalidPollRequest)
	validator.Field("timeout", timeout).
		MinDuration(interval, errors.ErrCodeInvalidPollRequest).
		MaxDuration(maxTimeout, errors.ErrCodeInvalidPollRequest)
	return validator.Validate()
}
