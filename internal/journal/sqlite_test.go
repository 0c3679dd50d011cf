package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gettakaro/fcagent/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestExecution() *model.Execution {
	code := int32(0)
	return &model.Execution{
		ID:         model.NewID(),
		Kind:       model.KindExec,
		Command:    "echo hi",
		Outcome:    model.OutcomeExited,
		ExitCode:   &code,
		TraceID:    "4bf92f3577b34da6a3ce929d0e0e4736",
		DurationMS: 12,
		StartedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestRecordAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := makeTestExecution()

	if err := s.Record(ctx, e); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != e.ID || got.Kind != e.Kind || got.Command != e.Command || got.Outcome != e.Outcome {
		t.Errorf("Get = %+v, want %+v", got, e)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", got.ExitCode)
	}
	if got.ExitSignal != nil {
		t.Errorf("ExitSignal = %v, want nil", *got.ExitSignal)
	}
	if got.TraceID != e.TraceID || got.DurationMS != e.DurationMS {
		t.Errorf("TraceID/DurationMS = %q/%d", got.TraceID, got.DurationMS)
	}
	if !got.StartedAt.Equal(e.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, e.StartedAt)
	}
}

func TestRecordSignaled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sig := int32(9)
	e := makeTestExecution()
	e.Outcome = model.OutcomeSignaled
	e.ExitCode = nil
	e.ExitSignal = &sig

	if err := s.Record(ctx, e); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ExitCode != nil || got.ExitSignal == nil || *got.ExitSignal != 9 {
		t.Errorf("status = %v/%v, want signal 9 only", got.ExitCode, got.ExitSignal)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nonexistent"); err != ErrNotFound {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestRecordDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := makeTestExecution()
	if err := s.Record(ctx, e); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(ctx, e); err == nil {
		t.Error("second Record with same id succeeded")
	}
}

func TestListOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for range 5 {
		e := makeTestExecution()
		ids = append(ids, e.ID)
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	got, err := s.List(ctx, 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, e := range got {
		if want := ids[len(ids)-1-i]; e.ID != want {
			t.Errorf("List[%d].ID = %s, want %s", i, e.ID, want)
		}
	}

	all, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("len = %d, want 5", len(all))
	}
}

func TestListEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("List = %v, want empty non-nil slice", got)
	}
}

func TestFileBackedStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	e := makeTestExecution()
	if err := s.Record(context.Background(), e); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.Get(context.Background(), e.ID); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}
