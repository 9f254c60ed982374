package attach

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/agent"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/diagnostics"
)

func TestIsLaunchSession(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"launch-6f1c", true},
		{"launch-", true},
		{"", false},
		{"6f1c-launch-", false},
	}
	for _, tt := range tests {
		if got := IsLaunchSession(tt.id); got != tt.want {
			t.Errorf("IsLaunchSession(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestSessions_AdmitOnlyWhileOpen(t *testing.T) {
	s := NewSessions()

	if _, ok := s.Admit("launch-a"); ok {
		t.Fatal("unknown session should not admit")
	}

	closeSession := s.Open("launch-a")
	done, ok := s.Admit("launch-a")
	if !ok {
		t.Fatal("open session should admit")
	}
	done()
	done() // second call is a no-op

	closeSession()
	if _, ok := s.Admit("launch-a"); ok {
		t.Fatal("closed session should not admit")
	}
}

func TestSessions_CloseWaitsForAdmittedRuns(t *testing.T) {
	s := NewSessions()
	closeSession := s.Open("launch-b")
	done, ok := s.Admit("launch-b")
	if !ok {
		t.Fatal("open session should admit")
	}

	closed := make(chan struct{})
	go func() {
		closeSession()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("close returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	// Closing already hid the session from new runs.
	if _, ok := s.Admit("launch-b"); ok {
		t.Error("closing session should not admit")
	}

	done()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return after the run finished")
	}
}

func TestListener_LaunchSessions(t *testing.T) {
	reg := agent.NewRegistry()
	var runs atomic.Int32
	if err := reg.RegisterEntryPoint("echo", func(_ string, out io.Writer) error {
		runs.Add(1)
		_, _ = fmt.Fprintln(out, "agent started")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	sessions := NewSessions()
	l := startListener(t, ListenerConfig{Registry: reg, PID: 16, Sessions: sessions})
	dir := filepath.Dir(l.Path())

	closeSession := sessions.Open("launch-open")
	resp, err := Dial(context.Background(), dir, 16, Request{Agent: "echo", Session: "launch-open"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.OK || resp.Output != "agent started\n" {
		t.Fatalf("open launch session: got %+v", resp)
	}
	closeSession()

	resp, err = Dial(context.Background(), dir, 16, Request{Agent: "echo", Session: "launch-open"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.OK || !strings.Contains(resp.Error, "launch session launch-open is closed") {
		t.Fatalf("closed launch session: got %+v", resp)
	}

	// Manual attaches are not session-bound.
	resp, err = Dial(context.Background(), dir, 16, Request{Agent: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.OK {
		t.Fatalf("manual attach: got %+v", resp)
	}

	if got := runs.Load(); got != 2 {
		t.Errorf("entry point ran %d times, want 2", got)
	}
}

func TestListener_ConcurrentPanicsKeepTheirAgent(t *testing.T) {
	reg := agent.NewRegistry()
	betaDone := make(chan struct{})
	if err := reg.RegisterEntryPoint("alpha", func(string, io.Writer) error {
		<-betaDone
		time.Sleep(10 * time.Millisecond)
		panic("alpha bug")
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterEntryPoint("beta", func(string, io.Writer) error {
		panic("beta bug")
	}); err != nil {
		t.Fatal(err)
	}

	dumpDir := t.TempDir()
	dumps := diagnostics.NewCrashDumpWriter(dumpDir, 5, false, false, nil, nil)
	l := startListener(t, ListenerConfig{Registry: reg, PID: 17, Dumps: dumps})
	dir := filepath.Dir(l.Path())

	alpha := make(chan *Response, 1)
	go func() {
		resp, _ := Dial(context.Background(), dir, 17, Request{Agent: "alpha"})
		alpha <- resp
	}()

	// Let alpha reach its entry point before beta runs and finishes.
	time.Sleep(20 * time.Millisecond)
	if _, err := Dial(context.Background(), dir, 17, Request{Agent: "beta"}); err != nil {
		t.Fatal(err)
	}
	close(betaDone)

	if resp := <-alpha; resp == nil || !strings.Contains(resp.Error, "alpha bug") {
		t.Fatalf("alpha response: %+v", resp)
	}

	dump, err := diagnostics.LoadLatestCrashDump(dumpDir)
	if err != nil {
		t.Fatal(err)
	}
	if dump.PanicValue != "alpha bug" {
		t.Fatalf("latest dump is %q, want alpha's", dump.PanicValue)
	}
	if dump.Agent != "alpha" || dump.Operation != "attach" {
		t.Errorf("alpha dump context = %q/%q, want alpha/attach", dump.Agent, dump.Operation)
	}
}
