package access

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/runferry/portal/model"
)

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// RolePolicy grants capabilities on every boat by role, independent of
// ownership. It is loaded from a YAML file mapping roles to capabilities.
type RolePolicy struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

// DefaultRolePolicy gives developers full access to every boat.
func DefaultRolePolicy() *RolePolicy {
	return &RolePolicy{policy: policyFile{Roles: map[string][]string{
		model.RoleDeveloper: {"*"},
	}}}
}

// LoadRolePolicy reads the policy from path.
func LoadRolePolicy(path string) (*RolePolicy, error) {
	p := &RolePolicy{path: path}
	if err := p.Sync(); err != nil {
		return nil, err
	}
	return p, nil
}

// Capabilities returns the union of capabilities for the roles in rctx.
func (p *RolePolicy) Capabilities(rctx *model.RequestContext) model.CapabilitySet {
	p.mu.RLock()
	defer p.mu.RUnlock()

	caps := make(model.CapabilitySet)
	for _, role := range rctx.Roles {
		for _, c := range p.policy.Roles[role] {
			caps[c] = true
		}
	}
	return caps
}

// Sync reloads the policy file from disk. Policies built by
// DefaultRolePolicy have no file and never change.
func (p *RolePolicy) Sync() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("access: reading policy file %s: %w", p.path, err)
	}

	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("access: parsing policy file %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.policy = f
	p.mu.Unlock()
	return nil
}
