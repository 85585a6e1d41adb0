package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both uppercase and lowercase levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that can't be expressed in tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Exports.Entries) == 0 && len(cfg.Exports.Sources) == 0 {
		return fmt.Errorf("exports: at least one entry or source must be configured")
	}

	seen := make(map[string]bool)
	for i := range cfg.Exports.Entries {
		e := &cfg.Exports.Entries[i]
		if err := e.Validate(); err != nil {
			return fmt.Errorf("exports.entries[%d]: %w", i, err)
		}
		k := e.Client + " " + e.Path
		if seen[k] {
			return fmt.Errorf("exports.entries[%d]: duplicate export of %s to %s", i, e.Path, e.Client)
		}
		seen[k] = true
	}

	for i := range cfg.Exports.Sources {
		if _, err := decodeSourceOptions(&cfg.Exports.Sources[i]); err != nil {
			return fmt.Errorf("exports.sources[%d]: %w", i, err)
		}
	}

	clients := make(map[string]bool)
	for i, name := range cfg.Clients {
		if clients[name] {
			return fmt.Errorf("clients[%d]: duplicate client %q", i, name)
		}
		clients[name] = true
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
