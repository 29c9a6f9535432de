package scripts

import (
	"errors"
	"testing"

	"github.com/martokk/jobqueued/internal/jobqueue/jqerrors"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("noop", Script{
		Run: func(meta map[string]any) (Result, error) {
			return Result{Success: true, Message: "ok"}, nil
		},
	})

	s, err := r.Get("noop")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	res, err := s.Run(map[string]any{"job_id": "abc"})
	if err != nil {
		t.Fatalf("script run failed: %v", err)
	}
	if !res.Success || res.Message != "ok" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestGetUnknownScript(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	if err == nil {
		t.Fatal("expected error for unknown script")
	}
	if !errors.Is(err, jqerrors.ErrUnknownScript) {
		t.Errorf("expected ErrUnknownScript, got %v", err)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register("dup", Script{Run: func(meta map[string]any) (Result, error) { return Result{}, nil }})

	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on duplicate registration")
		}
	}()
	r.Register("dup", Script{Run: func(meta map[string]any) (Result, error) { return Result{}, nil }})
}

func TestValidateRejectsInput(t *testing.T) {
	r := NewRegistry()
	r.Register("picky", Script{
		Validate: func(meta map[string]any) bool {
			_, ok := meta["required_field"]
			return ok
		},
		Run: func(meta map[string]any) (Result, error) {
			return Result{Success: true}, nil
		},
	})

	s, err := r.Get("picky")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if s.Validate(map[string]any{"job_id": "abc"}) {
		t.Errorf("expected Validate to reject meta missing required_field")
	}
	if !s.Validate(map[string]any{"job_id": "abc", "required_field": 1}) {
		t.Errorf("expected Validate to accept meta with required_field")
	}
}
