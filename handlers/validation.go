package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// useJSONFieldNames makes validation errors report json names.
func useJSONFieldNames() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
}

// FieldError is one entry of a 400 response produced by request binding.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// bindingDetail renders a binding error as the "detail" of a 400 response.
func bindingDetail(err error) any {
	if fes := fieldErrors(err); fes != nil {
		return fes
	}
	return "Invalid request body: " + err.Error()
}

func fieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return out
}

// itemErrors validates every element and prefixes field names with the
// element index.
func itemErrors[T any](items []T) []FieldError {
	out := []FieldError{}
	for i := range items {
		err := binding.Validator.ValidateStruct(&items[i])
		if err == nil {
			continue
		}
		fes := fieldErrors(err)
		if fes == nil {
			fes = []FieldError{{Message: err.Error()}}
		}
		for _, fe := range fes {
			fe.Field = fmt.Sprintf("[%d].%s", i, fe.Field)
			out = append(out, fe)
		}
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	default:
		return fmt.Sprintf("failed on the '%s' rule", fe.Tag())
	}
}

// badRequest aborts with 400 and the rendered binding error.
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": bindingDetail(err)})
}
