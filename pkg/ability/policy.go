package ability

import (
	"context"
	"fmt"
	"path"

	"github.com/marmos91/wopihost/pkg/store"
)

// Wildcard user or resource selector in a rule.
const (
	AnyUser       = "*"
	AnonymousUser = "anonymous"
	ItemsScope    = "items"
	AnyScope      = "*"
)

// Rule grants abilities to a user on a scope.
type Rule struct {
	// User is a user name, "*" for anyone, or "anonymous".
	User string `mapstructure:"user" validate:"required" yaml:"user"`

	// Scope is "items", a mount id, or "*".
	Scope string `mapstructure:"scope" validate:"required" yaml:"scope"`

	// PathPrefix limits a mount rule to paths under the prefix.
	PathPrefix string `mapstructure:"path_prefix" yaml:"path_prefix,omitempty"`

	Abilities []string `mapstructure:"abilities" validate:"required,min=1,dive,oneof=retrieve write rename" yaml:"abilities"`
}

// PolicyConfig is the ability section of the configuration.
type PolicyConfig struct {
	// OwnerFullAccess grants every ability to the store-reported owner.
	OwnerFullAccess bool `mapstructure:"owner_full_access" yaml:"owner_full_access"`

	Rules []Rule `mapstructure:"rules" validate:"dive" yaml:"rules"`
}

type compiledRule struct {
	Rule
	set Set
}

// Policy is a first-match rule list.
type Policy struct {
	rules     []compiledRule
	ownerFull bool
	stats     store.ResourceStore
}

var _ Oracle = (*Policy)(nil)

// NewPolicy compiles cfg. stats is consulted for ownership when
// OwnerFullAccess is set; it may be nil otherwise.
func NewPolicy(cfg PolicyConfig, stats store.ResourceStore) (*Policy, error) {
	p := &Policy{ownerFull: cfg.OwnerFullAccess, stats: stats}
	if p.ownerFull && stats == nil {
		return nil, fmt.Errorf("owner_full_access requires a resource store")
	}
	for i, r := range cfg.Rules {
		set, err := ParseSet(r.Abilities)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		p.rules = append(p.rules, compiledRule{Rule: r, set: set})
	}
	return p, nil
}

func (r compiledRule) matches(ref store.ResourceRef, user *string) bool {
	switch r.User {
	case AnyUser:
	case AnonymousUser:
		if user != nil {
			return false
		}
	default:
		if user == nil || *user != r.User {
			return false
		}
	}

	switch r.Scope {
	case AnyScope:
	case ItemsScope:
		if ref.Kind != store.KindItem {
			return false
		}
	default:
		if ref.Kind != store.KindMount || ref.MountID != r.Scope {
			return false
		}
	}

	if r.PathPrefix != "" {
		if ref.Kind != store.KindMount {
			return false
		}
		prefix := path.Clean("/" + r.PathPrefix)
		if ref.Path != prefix && !hasDirPrefix(ref.Path, prefix) {
			return false
		}
	}
	return true
}

func hasDirPrefix(p, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return len(p) > len(prefix) && p[:len(prefix)] == prefix && p[len(prefix)] == '/'
}

// Abilities implements Oracle.
func (p *Policy) Abilities(ctx context.Context, ref store.ResourceRef, user *string) (Set, error) {
	if p.ownerFull && user != nil {
		st, err := p.stats.Stat(ctx, ref)
		if err != nil && !store.IsNotFound(err) {
			return Set{}, err
		}
		if st != nil && st.Owner != "" && st.Owner == *user {
			return All, nil
		}
	}
	for _, r := range p.rules {
		if r.matches(ref, user) {
			return r.set, nil
		}
	}
	return Set{}, nil
}
