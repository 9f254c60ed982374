package guard

import (
	"errors"
	"testing"
)

func TestPolicy_PathPrefixes(t *testing.T) {
	p := NewPolicy(PolicyConfig{
		DenyRead:  []string{"/var/secrets/", ""},
		DenyWrite: []string{"/usr"},
	})

	tests := []struct {
		name    string
		check   func() error
		blocked bool
	}{
		{"read exact", func() error { return p.CheckRead("/var/secrets") }, true},
		{"read nested", func() error { return p.CheckRead("/var/secrets/a/b") }, true},
		{"read unclean", func() error { return p.CheckRead("/var/tmp/../secrets/x") }, true},
		{"read sibling prefix", func() error { return p.CheckRead("/var/secrets-old/x") }, false},
		{"read elsewhere", func() error { return p.CheckRead("/tmp/x") }, false},
		{"write denied", func() error { return p.CheckWrite("/usr/bin/x") }, true},
		{"delete denied", func() error { return p.CheckDelete("/usr/lib") }, true},
		{"write allowed", func() error { return p.CheckWrite("/tmp/x") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check()
			if tt.blocked && !errors.Is(err, ErrPermissionDenied) {
				t.Fatalf("expected permission denied, got %v", err)
			}
			if !tt.blocked && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestPolicy_Exec(t *testing.T) {
	open := NewPolicy(PolicyConfig{})
	if err := open.CheckExec("/anything"); err != nil {
		t.Fatalf("empty allow-list should permit exec: %v", err)
	}

	restricted := NewPolicy(PolicyConfig{AllowExec: []string{"/opt/leakwatch/bin/leakwatch", "java"}})
	for _, cmd := range []string{"/opt/leakwatch/bin/leakwatch", "/usr/lib/jvm/bin/java"} {
		if err := restricted.CheckExec(cmd); err != nil {
			t.Errorf("CheckExec(%q) = %v, want nil", cmd, err)
		}
	}

	err := restricted.CheckExec("/bin/sh")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if err.Error() != "exec denied: /bin/sh" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestPolicy_PermitsExit(t *testing.T) {
	p := NewPolicy(PolicyConfig{DenyPermissions: []string{"exit"}})
	if err := p.CheckExit(1); err != nil {
		t.Fatalf("policy should permit exit: %v", err)
	}
	if err := p.CheckPermission(Permission{Name: "exit", Actions: "now"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denied permission, got %v", err)
	}
	if err := p.CheckPermission(Permission{Name: "dump"}); err != nil {
		t.Fatalf("unlisted permission should pass: %v", err)
	}
}
