package validate

import (
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Years lists the academic years a student record may carry.
var Years = []string{"1st Year", "2nd Year", "3rd Year", "4th Year"}

// New returns a validator that reports json field names and knows the portal's custom tags:
// academic_year, semester, cgpa and percent.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("academic_year", func(fl validator.FieldLevel) bool {
		return YearIndex(fl.Field().String()) > 0
	})
	_ = v.RegisterValidation("semester", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(strings.TrimSpace(fl.Field().String()))
		return err == nil && n >= 1 && n <= 8
	})
	_ = v.RegisterValidation("cgpa", func(fl validator.FieldLevel) bool {
		f, ok := finite(fl.Field().String())
		return ok && f >= 0 && f <= 10
	})
	_ = v.RegisterValidation("percent", func(fl validator.FieldLevel) bool {
		_, ok := Percent(fl.Field().String())
		return ok
	})
	return v
}

// YearIndex maps "1st Year".."4th Year" to 1..4 and anything else to 0.
func YearIndex(year string) int {
	for i, y := range Years {
		if y == year {
			return i + 1
		}
	}
	return 0
}

// Percent parses a percentage with or without a trailing '%' and checks it lies in [0,100].
func Percent(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return 0, false
	}
	f, ok := finite(s)
	if !ok || f < 0 || f > 100 {
		return 0, false
	}
	return f, true
}

// finite parses s as a float, refusing NaN and the infinities ParseFloat accepts.
func finite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
