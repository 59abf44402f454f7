package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/wopihost/pkg/ability"
	"github.com/marmos91/wopihost/pkg/cache"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	if err := cfg.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if cfg.Cache.Type == cache.TypeBadger && !cfg.Cache.Badger.InMemory && cfg.Cache.Badger.Dir == "" {
		return fmt.Errorf("cache.badger.dir: required unless in_memory is set")
	}

	clients := make(map[string]bool)
	for i, c := range cfg.Clients {
		if clients[c.Name] {
			return fmt.Errorf("clients[%d]: duplicate client name %q", i, c.Name)
		}
		clients[c.Name] = true

		if c.ProofKeys.Current.IsZero() && !c.ProofKeys.Previous.IsZero() {
			return fmt.Errorf("clients[%d]: proof_keys.previous requires proof_keys.current", i)
		}
	}

	mounts := make(map[string]bool)
	for i, m := range cfg.Mounts {
		if mounts[m.ID] {
			return fmt.Errorf("mounts[%d]: duplicate mount id %q", i, m.ID)
		}
		if m.ID == ability.ItemsScope || m.ID == ability.AnyScope {
			return fmt.Errorf("mounts[%d]: mount id %q is reserved", i, m.ID)
		}
		mounts[m.ID] = true

		// Type is already checked by the oneof tag.
		if err := validate.Struct(m.ProviderConfig()); err != nil {
			return fmt.Errorf("mounts[%d] (%s): %w", i, m.Type, formatValidationError(err))
		}
	}

	for i, r := range cfg.Abilities.Rules {
		switch r.Scope {
		case ability.ItemsScope, ability.AnyScope:
		default:
			if !mounts[r.Scope] {
				return fmt.Errorf("abilities.rules[%d]: unknown mount %q", i, r.Scope)
			}
		}
		if r.PathPrefix != "" && r.Scope == ability.ItemsScope {
			return fmt.Errorf("abilities.rules[%d]: path_prefix does not apply to items", i)
		}
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
