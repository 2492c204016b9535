package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator names fields after their configuration keys, so errors read
// "server.grpc.port" rather than Go field paths.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	v.RegisterStructValidation(validateStorage, StorageConfig{})
	v.RegisterStructValidation(validateTracing, TracingConfig{})
	v.RegisterStructValidation(validateServer, ServerConfig{})
	return v
}

// ConfigError is one rejected setting. Field is the dotted key.
type ConfigError struct {
	Field   string
	Message string
	Value   any
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors lists every rejected setting of a configuration.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	lines := make([]string, 0, len(e)+1)
	lines = append(lines, "invalid configuration:")
	for _, ce := range e {
		lines = append(lines, "  - "+ce.Error())
	}
	return strings.Join(lines, "\n")
}

// ValidateWithDetails validates cfg and reports the failures as
// ValidationErrors.
func ValidateWithDetails(cfg *Config) error {
	err := validate.Struct(cfg)
	var fes validator.ValidationErrors
	if !errors.As(err, &fes) {
		return err
	}
	details := make(ValidationErrors, 0, len(fes))
	for _, fe := range fes {
		details = append(details, ConfigError{
			Field:   keyOf(fe.Namespace()),
			Message: describe(fe.Tag(), fe.Param()),
			Value:   fe.Value(),
		})
	}
	return details
}

// keyOf drops the root type from a validator namespace.
func keyOf(ns string) string {
	if _, key, ok := strings.Cut(ns, "."); ok {
		return key
	}
	return ns
}

var messages = map[string]string{
	"required":             "is required",
	"required_for_backend": "is required by the %s backend",
	"min":                  "must be at least %s",
	"max":                  "must be at most %s",
	"oneof":                "must be one of [%s]",
	"port_conflict":        "must differ from the %s port",
	"hostname_rfc1123|ip":  "must be a hostname or an IP address",
}

func describe(tag, param string) string {
	format, ok := messages[tag]
	if !ok {
		return "failed on " + tag
	}
	if strings.Contains(format, "%s") {
		return fmt.Sprintf(format, param)
	}
	return format
}

func validateStorage(sl validator.StructLevel) {
	s := sl.Current().Interface().(StorageConfig)
	switch {
	case s.Type == "badger" && s.Badger.Path == "" && !s.Badger.InMemory:
		sl.ReportError(s.Badger.Path, "badger.path", "Path", "required_for_backend", "badger")
	case s.Type == "redis" && s.Redis.Address == "":
		sl.ReportError(s.Redis.Address, "redis.address", "Address", "required_for_backend", "redis")
	}
}

// validateTracing only constrains the otlp exporter; stdout needs nothing.
func validateTracing(sl validator.StructLevel) {
	t := sl.Current().Interface().(TracingConfig)
	if !t.Enabled || t.Exporter != "otlp" {
		return
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		sl.ReportError(t.Endpoint, "endpoint", "Endpoint", "required_for_backend", "otlp")
	}
	if t.Timeout <= 0 {
		sl.ReportError(t.Timeout, "timeout", "Timeout", "min", "1ns")
	}
}

func validateServer(sl validator.StructLevel) {
	s := sl.Current().Interface().(ServerConfig)
	g := s.GRPC
	if g.Enabled && g.Port != 0 && g.Port == s.Port {
		sl.ReportError(g.Port, "grpc.port", "Port", "port_conflict", "http")
	}
	if g.TLS.Enabled && (g.TLS.CertFile == "" || g.TLS.KeyFile == "") {
		sl.ReportError(g.TLS.CertFile, "grpc.tls.cert_file", "CertFile", "required_for_backend", "tls")
	}
	if g.ProbeInterval < 0 {
		sl.ReportError(g.ProbeInterval, "grpc.probe_interval", "ProbeInterval", "min", "0")
	}
}
