package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"recurplan/internal/calendar"
	logx "recurplan/pkg/logx"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		return logx.ValidLevel(fl.Field().String())
	})
	return v
}

// Validate checks struct tags and the string-encoded fields (durations,
// timezone, holidays). It does not check the tick spec; that belongs to the
// scheduler parser.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var problems []string
	if err := validate.Struct(cfg); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return err
		}
		for _, fe := range ves {
			problems = append(problems, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
	}
	if _, err := cfg.Scheduler.Location(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := cfg.Scheduler.Lead(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := cfg.Engine(); err != nil {
		problems = append(problems, err.Error())
	}
	for i, s := range cfg.Calendar.ExtraHolidays {
		if _, err := calendar.ParseMonthDay(s); err != nil {
			problems = append(problems, fmt.Sprintf("calendar.extra_holidays[%d]: %v", i, err))
		}
	}
	if st := cfg.Storage; st != nil {
		d := strings.ToLower(strings.TrimSpace(st.Driver))
		if d != "" && d != "none" && strings.TrimSpace(st.Path) == "" {
			problems = append(problems, "storage.path: required for driver "+d)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if h := cfg.HTTP; h != nil {
		for field, raw := range map[string]string{
			"http.read_timeout":  h.ReadTimeout,
			"http.write_timeout": h.WriteTimeout,
			"http.idle_timeout":  h.IdleTimeout,
		} {
			if _, err := ParseDurationField(field, raw); err != nil {
				problems = append(problems, err.Error())
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
