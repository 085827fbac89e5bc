package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/clinical-cds/orchestrator/internal/errs"
	"github.com/clinical-cds/orchestrator/internal/rpc"
)

func TestOpenAllSucceed(t *testing.T) {
	r := New()
	warnings, err := r.Open(context.Background(), []rpc.ServerSpec{
		{ID: "a", Command: "cat"},
		{ID: "b", Command: "cat"},
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
	defer r.CloseAll()

	if len(r.Sessions()) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(r.Sessions()))
	}
	if _, err := r.Session("a"); err != nil {
		t.Errorf("Session(a) error = %v", err)
	}
}

func TestOpenPartialFailureIsNotFatal(t *testing.T) {
	r := New()
	warnings, err := r.Open(context.Background(), []rpc.ServerSpec{
		{ID: "good", Command: "cat"},
		{ID: "bad", Command: ""},
	})
	if err != nil {
		t.Fatalf("Open() error = %v, want nil since one server succeeded", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
	defer r.CloseAll()

	if len(r.Sessions()) != 1 {
		t.Fatalf("expected 1 session, got %d", len(r.Sessions()))
	}
	if _, err := r.Session("bad"); !errors.Is(err, errs.ErrUnknownServer) {
		t.Errorf("Session(bad) error = %v, want ErrUnknownServer", err)
	}
}

func TestOpenAllFail(t *testing.T) {
	r := New()
	_, err := r.Open(context.Background(), []rpc.ServerSpec{
		{ID: "bad1", Command: ""},
		{ID: "bad2", Command: ""},
	})
	if !errors.Is(err, errs.ErrTransport) {
		t.Fatalf("Open() error = %v, want ErrTransport", err)
	}
}

func TestSessionUnknownServer(t *testing.T) {
	r := New()
	if _, err := r.Session("nope"); !errors.Is(err, errs.ErrUnknownServer) {
		t.Errorf("Session() error = %v, want ErrUnknownServer", err)
	}
}

func TestCloseAllClearsSessions(t *testing.T) {
	r := New()
	if _, err := r.Open(context.Background(), []rpc.ServerSpec{{ID: "a", Command: "cat"}}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	r.CloseAll()
	if len(r.Sessions()) != 0 {
		t.Errorf("expected 0 sessions after CloseAll, got %d", len(r.Sessions()))
	}
}
