package services_test

import (
	"errors"
	"strings"
	"testing"

	"narrasync/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrGenerationFailed, "regen", "generate", "voice request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrGenerationFailed) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"regen", "generate", "voice request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
		kind string
	}{
		{"nil", nil, false, ""},
		{"generation", services.Wrap(services.ErrGenerationFailed, "regen", "generate", "", nil), true, "generation_failed"},
		{"transient", errors.New("io"), true, "transient"},
		{"order", services.Wrap(services.ErrOrderConflict, "segments", "reorder", "", nil), false, "order_conflict"},
		{"timing", services.Wrap(services.ErrInvalidTiming, "segments", "complete", "", nil), false, "invalid_timing"},
		{"not found", services.Wrap(services.ErrNotFound, "segments", "edit", "", nil), false, "not_found"},
	}
	for _, tc := range cases {
		if got := services.IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
		if got := services.ErrorKind(tc.err); got != tc.kind {
			t.Fatalf("%s: ErrorKind = %q, want %q", tc.name, got, tc.kind)
		}
	}
}
