package migrate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pearls-dev/pearls/internal/lock"
	"github.com/pearls-dev/pearls/internal/store"
	"github.com/pearls-dev/pearls/internal/tracker"
	"github.com/pearls-dev/pearls/internal/types"
)

func openService(t *testing.T) (*tracker.Service, *store.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pearls.db")
	db, err := store.OpenAndInit(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenAndInit() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	svc := tracker.New(db, lock.New(path), &tracker.Config{Logger: log.New(io.Discard, "", 0)})
	return svc, db
}

// seed builds: 1 (in_progress) -> 2 (ready, so blocked), 3 closed, and a
// dangling edge 99 -> 3.
func seed(t *testing.T, svc *tracker.Service) {
	t.Helper()
	ctx := context.Background()
	p1, p3 := int64(1), int64(4)

	one, err := svc.Add(ctx, tracker.AddRequest{Title: "one", Description: "first"})
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if _, err := svc.Add(ctx, tracker.AddRequest{Title: "two", Description: "second", ChildOf: &one.Task.ID, Priority: &p1}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	three, err := svc.Add(ctx, tracker.AddRequest{Title: "three", Description: "", Priority: &p3})
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	inProgress, closed := types.StateInProgress, types.StateClosed
	if _, _, err := svc.UpdateMetadata(ctx, one.Task.ID, types.MetadataUpdate{State: &inProgress}); err != nil {
		t.Fatalf("UpdateMetadata() failed: %v", err)
	}
	if _, _, err := svc.UpdateMetadata(ctx, three.Task.ID, types.MetadataUpdate{State: &closed}); err != nil {
		t.Fatalf("UpdateMetadata() failed: %v", err)
	}
	if _, err := svc.UpdateDependency(ctx, three.Task.ID, types.DependencyUpdate{AddParents: []int64{99}}); err != nil {
		t.Fatalf("UpdateDependency() failed: %v", err)
	}
}

// TestRoundTrip tests export then import for each format
func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSONL, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			ctx := context.Background()
			srcSvc, srcDB := openService(t)
			seed(t, srcSvc)

			snap, err := Collect(ctx, srcDB)
			if err != nil {
				t.Fatalf("Collect() failed: %v", err)
			}

			path := filepath.Join(t.TempDir(), "export."+string(format))
			if err := WriteFile(path, snap, format); err != nil {
				t.Fatalf("WriteFile() failed: %v", err)
			}

			read, err := ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile() failed: %v", err)
			}
			if !reflect.DeepEqual(read, snap) {
				t.Fatalf("decoded snapshot differs:\n got %+v\nwant %+v", read, snap)
			}

			dstSvc, dstDB := openService(t)
			stats, err := Import(ctx, dstSvc, read)
			if err != nil {
				t.Fatalf("Import() failed: %v", err)
			}
			if stats.Tasks != 3 || stats.Dependencies != 2 {
				t.Errorf("stats = %+v, want 3 tasks 2 deps", stats)
			}

			want, _ := srcDB.ListTasks(ctx, types.ListFilter{})
			got, err := dstDB.ListTasks(ctx, types.ListFilter{})
			if err != nil {
				t.Fatalf("ListTasks() failed: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("imported tasks differ:\n got %+v\nwant %+v", got, want)
			}
		})
	}
}

// TestWrite_JSONLShape tests the line layout of a JSONL export
func TestWrite_JSONLShape(t *testing.T) {
	snap := &Snapshot{
		Tasks:        []TaskRecord{{ID: 1, Title: "a", Priority: 1, State: types.StateReady}},
		Dependencies: []types.Dependency{{ParentID: 1, ChildID: 2}},
	}

	var buf bytes.Buffer
	if err := Write(&buf, snap, FormatJSONL); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"type":"task"`) || !strings.Contains(lines[1], `"type":"dependency"`) {
		t.Errorf("lines = %q", lines)
	}
}

// TestRead_InvalidJSONL tests error reporting for malformed input
func TestRead_InvalidJSONL(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"garbage", "{not json\n"},
		{"unknown type", `{"type":"comment"}` + "\n"},
		{"unknown field", `{"type":"task","task":{"id":1},"extra":true}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(tt.input), FormatJSONL); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// TestImport_Validation tests rejected snapshots
func TestImport_Validation(t *testing.T) {
	svc, db := openService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		snap *Snapshot
	}{
		{"zero id", &Snapshot{Tasks: []TaskRecord{{ID: 0}}}},
		{"duplicate id", &Snapshot{Tasks: []TaskRecord{{ID: 2}, {ID: 2}}}},
		{"bad state", &Snapshot{Tasks: []TaskRecord{{ID: 1, State: "done"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Import(ctx, svc, tt.snap); !errors.Is(err, types.ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}

	count, err := db.TaskCount(ctx)
	if err != nil {
		t.Fatalf("TaskCount() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("task count = %d, want 0", count)
	}
}

// TestParseFormat tests format names
func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"jsonl", FormatJSONL, false},
		{"", FormatJSONL, false},
		{"YAML", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if FormatForPath("x/out.yml") != FormatYAML || FormatForPath("x/out.json") != FormatJSONL {
		t.Error("FormatForPath() misclassified")
	}
}
