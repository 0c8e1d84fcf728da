package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/pearls-dev/pearls/internal/types"
)

func sampleTask() *types.Task {
	return &types.Task{
		ID:          3,
		Title:       "Write docs",
		Description: "README",
		Priority:    2,
		State:       types.StateBlocked,
		StoredState: types.StateReady,
		Parents:     []int64{1, 2},
		Children:    []int64{},
	}
}

// TestFormatLine tests the display line format
func TestFormatLine(t *testing.T) {
	got := FormatLine(sampleTask())
	want := "#3 [blocked] p2 Write docs - README parents=[1,2] children=[]"
	if got != want {
		t.Errorf("FormatLine() = %q, want %q", got, want)
	}
}

// TestPrinter_PlainMatchesFormatLine tests that non-terminal output is uncoloured
func TestPrinter_PlainMatchesFormatLine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	if err := p.Task(sampleTask()); err != nil {
		t.Fatalf("Task() failed: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != FormatLine(sampleTask()) {
		t.Errorf("output = %q, want %q", got, FormatLine(sampleTask()))
	}
}

// TestPrinter_JSON tests JSON output for tasks and lists
func TestPrinter_JSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	if err := p.Task(sampleTask()); err != nil {
		t.Fatalf("Task() failed: %v", err)
	}
	out := gjson.Parse(buf.String())
	if out.Get("desc").String() != "README" || out.Get("state").String() != "blocked" {
		t.Errorf("json = %s", buf.String())
	}
	if out.Get("stored_state").String() != "ready" {
		t.Errorf("stored_state missing: %s", buf.String())
	}

	buf.Reset()
	if err := p.Tasks(nil); err != nil {
		t.Fatalf("Tasks() failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty list = %q, want []", buf.String())
	}
}

// TestPrinter_Status tests the status message in both modes
func TestPrinter_Status(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPrinter(&buf, true).Status("no_ready_tasks", "No ready tasks"); err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if gjson.Get(buf.String(), "status").String() != "no_ready_tasks" {
		t.Errorf("json status = %s", buf.String())
	}

	buf.Reset()
	if err := NewPrinter(&buf, false).Status("no_ready_tasks", "No ready tasks"); err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "No ready tasks" {
		t.Errorf("plain status = %q", buf.String())
	}
}

// TestFormatIDs tests id list rendering
func TestFormatIDs(t *testing.T) {
	tests := []struct {
		ids  []int64
		want string
	}{
		{nil, "[]"},
		{[]int64{7}, "[7]"},
		{[]int64{1, 20, 300}, "[1,20,300]"},
	}
	for _, tt := range tests {
		if got := FormatIDs(tt.ids); got != tt.want {
			t.Errorf("FormatIDs(%v) = %q, want %q", tt.ids, got, tt.want)
		}
	}
}
