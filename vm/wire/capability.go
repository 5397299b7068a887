package wire

import (
	"fmt"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
)

// CapabilityPolicy controls which builtins a restored module may reference.
// A nil Allowed means "allow all".
type CapabilityPolicy struct {
	Allowed map[string]bool // nil = allow all
	Denied  map[string]bool
}

// NewPermissivePolicy creates a policy that allows every builtin.
func NewPermissivePolicy() *CapabilityPolicy {
	return &CapabilityPolicy{}
}

// NewRestrictedPolicy creates a policy that only allows the named builtins.
func NewRestrictedPolicy(allowed []string) *CapabilityPolicy {
	m := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		m[name] = true
	}
	return &CapabilityPolicy{Allowed: m}
}

// Check verifies that every builtin the module references is allowed.
func (p *CapabilityPolicy) Check(m *vm.Module) error {
	if p == nil || m == nil {
		return nil
	}
	for _, name := range m.Builtins {
		if p.Denied[name] {
			return fmt.Errorf("wire: builtin %q is explicitly denied", name)
		}
		if p.Allowed != nil && !p.Allowed[name] {
			return fmt.Errorf("wire: builtin %q is not allowed", name)
		}
	}
	return nil
}

// Deny adds a builtin to the deny list.
func (p *CapabilityPolicy) Deny(name string) {
	if p.Denied == nil {
		p.Denied = make(map[string]bool)
	}
	p.Denied[name] = true
}
