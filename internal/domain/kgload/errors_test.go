package kgload

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestExitCodeByCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "plain", err: errors.New("x"), want: ExitFailure},
		{name: "missing", err: MissingInputs{{Role: "primary", Path: "a.csv"}}, want: ExitMissingInput},
		{name: "malformed", err: AtStage(StageJoin, &MalformedRowError{File: "a.csv", Line: 3, Got: 2, Want: 4}), want: ExitMalformedRows},
		{name: "import", err: fmt.Errorf("run: %w", &ImportFailure{ExitCode: 1}), want: ExitImportFailure},
		{name: "verify", err: &VerificationFailure{Artifact: "node store", Path: "x", Reason: "empty"}, want: ExitVerificationFailure},
		{name: "startup", err: &StartupTimeout{Endpoint: "http://x", Waited: time.Second}, want: ExitStartupTimeout},
		{name: "confirm", err: AtStage(StageImport, ErrConfirmationRequired), want: ExitConfiguration},
		{name: "config", err: fmt.Errorf("manifest: %w", ErrInvalidConfig), want: ExitConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Fatalf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAtStageKeepsInnermostLabel(t *testing.T) {
	err := AtStage(StageImport, AtStage(StageJoin, errors.New("boom")))
	if got := StageOf(err); got != StageJoin {
		t.Fatalf("StageOf() = %q, want %q", got, StageJoin)
	}
	if AtStage(StageJoin, nil) != nil {
		t.Fatalf("AtStage(nil) must return nil")
	}
}

func TestImportFailureKeepsOutputTail(t *testing.T) {
	err := &ImportFailure{ExitCode: 1, Output: "a\nb\nc\nd\ne\nf\ng\n"}
	want := "bulk import exited with code 1: c | d | e | f | g"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
