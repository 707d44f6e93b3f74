package ledger

import (
	"fmt"
	"sort"

	"github.com/chainsafe/liquid-stake/pkg/asset"
)

// Caller is the set of principals that authorized an operation.
// It is passed explicitly into every ledger operation.
type Caller struct {
	principals map[asset.Name]struct{}
}

// NewCaller returns a Caller holding the authority of each given principal.
func NewCaller(principals ...asset.Name) Caller {
	c := Caller{principals: make(map[asset.Name]struct{}, len(principals))}
	for _, p := range principals {
		if !p.IsZero() {
			c.principals[p] = struct{}{}
		}
	}
	return c
}

// Has reports whether the caller carries the authority of name.
func (c Caller) Has(name asset.Name) bool {
	_, ok := c.principals[name]
	return ok
}

// Principals returns the authorizing principals in sorted order.
func (c Caller) Principals() []asset.Name {
	out := make([]asset.Name, 0, len(c.principals))
	for p := range c.principals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Require fails with ErrUnauthorized unless the caller carries the authority of name.
func (c Caller) Require(name asset.Name) error {
	if !c.Has(name) {
		return fmt.Errorf("%w of %s", ErrUnauthorized, name)
	}
	return nil
}
