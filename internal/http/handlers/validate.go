package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"orderrec/internal/ledger"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Identifier formats accepted by the order endpoint.
var idPatterns = map[string]*regexp.Regexp{
	"warehouse_id": regexp.MustCompile(`^WH\d+$`),
	"customer_id":  regexp.MustCompile(`^CUST\d+$`),
	"product_id":   regexp.MustCompile(`^Product_\d+$`),
	"sku_id":       regexp.MustCompile(`^SKU_\d+$`),
}

var idMessages = map[string]string{
	"warehouse_id": "%s must start with 'WH' followed by digits",
	"customer_id":  "%s must start with 'CUST' followed by digits",
	"product_id":   "%s must start with 'Product_' followed by digits",
	"sku_id":       "%s must start with 'SKU_' followed by digits",
	"order_date":   "%s must be a date such as 2024-02-10",
}

// getValidator returns the request validator with the identifier and date
// tags registered. Field names in errors are the JSON names.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		for tag, re := range idPatterns {
			_ = validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
				return re.MatchString(fl.Field().String())
			})
		}
		_ = validate.RegisterValidation("order_date", func(fl validator.FieldLevel) bool {
			_, err := ledger.ParseDate(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// FieldError is one failed constraint in a request body.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// validationErrors converts a validator error into field errors.
func validationErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}
	}
	out := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		out[i] = FieldError{Field: fe.Field(), Tag: fe.Tag(), Message: translateError(fe)}
	}
	return out
}

func translateError(fe validator.FieldError) string {
	field := fe.Field()
	if tmpl, ok := idMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
