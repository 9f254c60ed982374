package guard

import (
	"net"
	"path/filepath"
	"strings"
)

// PolicyConfig configures the host's startup interceptor.
type PolicyConfig struct {
	// DenyRead lists path prefixes that may not be read.
	DenyRead []string
	// DenyWrite lists path prefixes that may not be written or deleted.
	DenyWrite []string
	// AllowExec restricts which executables may be started. Entries match
	// either the full path or the base name. Empty allows everything.
	AllowExec []string
	// DenyPermissions lists permission names that are always refused.
	DenyPermissions []string
}

// Policy is a configurable host interceptor. It permits process exit, so a
// Delegate layered over it is what keeps an agent from terminating the host.
type Policy struct {
	denyRead  []string
	denyWrite []string
	allowExec map[string]struct{}
	denyPerms map[string]struct{}
}

var _ Interceptor = (*Policy)(nil)

// NewPolicy builds a Policy from cfg.
func NewPolicy(cfg PolicyConfig) *Policy {
	p := &Policy{
		denyRead:  cleanPaths(cfg.DenyRead),
		denyWrite: cleanPaths(cfg.DenyWrite),
		allowExec: make(map[string]struct{}, len(cfg.AllowExec)),
		denyPerms: make(map[string]struct{}, len(cfg.DenyPermissions)),
	}
	for _, e := range cfg.AllowExec {
		p.allowExec[e] = struct{}{}
	}
	for _, name := range cfg.DenyPermissions {
		p.denyPerms[name] = struct{}{}
	}
	return p
}

func cleanPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		out = append(out, filepath.Clean(p))
	}
	return out
}

func underAny(name string, prefixes []string) bool {
	name = filepath.Clean(name)
	for _, prefix := range prefixes {
		if name == prefix || strings.HasPrefix(name, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (p *Policy) CheckPermission(perm Permission) error {
	if _, denied := p.denyPerms[perm.Name]; denied {
		return &PermissionDeniedError{Operation: "permission", Target: perm.String()}
	}
	return nil
}

func (p *Policy) CheckRead(name string) error {
	if underAny(name, p.denyRead) {
		return &PermissionDeniedError{Operation: "read", Target: name}
	}
	return nil
}

func (p *Policy) CheckWrite(name string) error {
	if underAny(name, p.denyWrite) {
		return &PermissionDeniedError{Operation: "write", Target: name}
	}
	return nil
}

func (p *Policy) CheckDelete(name string) error {
	if underAny(name, p.denyWrite) {
		return &PermissionDeniedError{Operation: "delete", Target: name}
	}
	return nil
}

func (p *Policy) CheckExec(cmd string) error {
	if len(p.allowExec) == 0 {
		return nil
	}
	if _, ok := p.allowExec[cmd]; ok {
		return nil
	}
	if _, ok := p.allowExec[filepath.Base(cmd)]; ok {
		return nil
	}
	return &PermissionDeniedError{Operation: "exec", Target: cmd}
}

func (p *Policy) CheckLink(string) error { return nil }
func (p *Policy) CheckConnect(string, int) error { return nil }
func (p *Policy) CheckListen(int) error { return nil }
func (p *Policy) CheckAccept(string, int) error { return nil }
func (p *Policy) CheckMulticast(net.IP) error { return nil }
func (p *Policy) CheckGoroutineAccess(uint64) error { return nil }
func (p *Policy) CheckPropertyAccess(string) error { return nil }
func (p *Policy) CheckExit(int) error { return nil }
