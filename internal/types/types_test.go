package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		input   string
		want    State
		wantErr bool
	}{
		{input: "ready", want: StateReady},
		{input: "blocked", want: StateBlocked},
		{input: "in_progress", want: StateInProgress},
		{input: "in-progress", want: StateInProgress},
		{input: " Closed ", want: StateClosed},
		{input: "done", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseState(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseState(%q) succeeded, want error", tt.input)
				}
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("error %v is not ErrInvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseState(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseState(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseStates(t *testing.T) {
	got, err := ParseStates("ready, blocked,ready,,closed")
	if err != nil {
		t.Fatalf("ParseStates failed: %v", err)
	}
	want := []State{StateReady, StateBlocked, StateClosed}
	if len(got) != len(want) {
		t.Fatalf("ParseStates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("states[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	empty, err := ParseStates("")
	if err != nil {
		t.Fatalf("ParseStates(\"\") failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ParseStates(\"\") = %v, want empty", empty)
	}

	if _, err := ParseStates("ready,bogus"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ParseStates with bogus state: err = %v, want ErrInvalidArgument", err)
	}
}

func TestListFilter_Matches(t *testing.T) {
	all := ListFilter{}
	for _, s := range AllStates {
		if !all.Matches(s) {
			t.Errorf("empty filter rejected %q", s)
		}
	}

	readyOnly := ListFilter{States: []State{StateReady}}
	if !readyOnly.Matches(StateReady) {
		t.Error("ready filter rejected ready")
	}
	if readyOnly.Matches(StateBlocked) {
		t.Error("ready filter accepted blocked")
	}
}

func TestMetadataUpdate_IsEmpty(t *testing.T) {
	if !(MetadataUpdate{}).IsEmpty() {
		t.Error("zero update should be empty")
	}
	p := int64(3)
	if (MetadataUpdate{Priority: &p}).IsEmpty() {
		t.Error("update with priority should not be empty")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not found", &NotFoundError{ID: 7}, CodeNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", &NotFoundError{ID: 7}), CodeNotFound},
		{"invalid", fmt.Errorf("%w: bad id", ErrInvalidArgument), CodeInvalidArgument},
		{"storage", &StorageError{Op: "insert task", Err: errors.New("disk full")}, CodeStorage},
		{"lock", &LockError{Path: "/tmp/x.lock", Err: errors.New("EBADF")}, CodeLock},
		{"other", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotFoundError_Message(t *testing.T) {
	err := &NotFoundError{ID: 42}
	if err.Error() != "task 42 not found" {
		t.Errorf("Error() = %q", err.Error())
	}
}
