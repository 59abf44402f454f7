// Package ability answers "may this user do X to this resource?".
//
// The engine treats the answer as an opaque yes/no set; Policy is the
// configuration-driven implementation shipped with wopid.
package ability

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/wopihost/pkg/store"
)

// Ability names one permission on a resource.
type Ability string

const (
	Retrieve Ability = "retrieve"
	Write    Ability = "write"
	Rename   Ability = "rename"
)

// Set is the abilities a user holds on one resource.
type Set struct {
	Retrieve bool `json:"retrieve"`
	Write    bool `json:"write"`
	Rename   bool `json:"rename"`
}

// All grants every ability.
var All = Set{Retrieve: true, Write: true, Rename: true}

// Has reports whether a is granted.
func (s Set) Has(a Ability) bool {
	switch a {
	case Retrieve:
		return s.Retrieve
	case Write:
		return s.Write
	case Rename:
		return s.Rename
	}
	return false
}

// ParseSet builds a Set from ability names.
func ParseSet(names []string) (Set, error) {
	var s Set
	for _, n := range names {
		switch Ability(strings.ToLower(strings.TrimSpace(n))) {
		case Retrieve:
			s.Retrieve = true
		case Write:
			s.Write = true
		case Rename:
			s.Rename = true
		default:
			return Set{}, fmt.Errorf("unknown ability %q", n)
		}
	}
	return s, nil
}

// Oracle computes abilities. It must be free of side effects.
// A nil user is the anonymous user.
type Oracle interface {
	Abilities(ctx context.Context, ref store.ResourceRef, user *string) (Set, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, ref store.ResourceRef, user *string) (Set, error)

// Abilities implements Oracle.
func (f OracleFunc) Abilities(ctx context.Context, ref store.ResourceRef, user *string) (Set, error) {
	return f(ctx, ref, user)
}

// Static grants the same set to everyone.
func Static(s Set) Oracle {
	return OracleFunc(func(context.Context, store.ResourceRef, *string) (Set, error) {
		return s, nil
	})
}
