package collector

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/i474232898/weather-collector/internal/weather"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("weather_attr", func(fl validator.FieldLevel) bool {
		return weather.IsAttribute(fl.Field().String())
	})
	_ = v.RegisterValidation("cron_spec", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})

	v.RegisterStructValidation(validateConfigStruct, Config{})
	return v
}

func validateConfigStruct(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	if cfg.LocationType == LocationCoordinates && !cfg.Coordinates.Complete() {
		sl.ReportError(cfg.Coordinates, "coordinates", "Coordinates", "lat_lon_required", "")
	}
	if cfg.Interval == 0 && cfg.CronExpression == "" {
		sl.ReportError(cfg.Interval, "interval", "Interval", "schedule_required", "")
	}
	if len(cfg.Attributes) > 0 && !slices.ContainsFunc(cfg.Attributes, weather.IsMeasurement) {
		sl.ReportError(cfg.Attributes, "attributes", "Attributes", "measurement_required", "")
	}
}

// Validate checks cfg against the collector invariants and returns the first
// violation as a *ValidationError.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Reason: reason(fe)}
	}
	return &ValidationError{Field: "config", Reason: err.Error()}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "cron_spec":
		return "is not a valid cron expression"
	case "timezone":
		return "is not a known timezone"
	case "weather_attr":
		return fmt.Sprintf("unknown attribute %q", fe.Value())
	case "lat_lon_required":
		return `lat and lon are required for location type "coordinates"`
	case "schedule_required":
		return "interval or cronExpression is required"
	case "measurement_required":
		return "must include a measurement or weather_condition"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
