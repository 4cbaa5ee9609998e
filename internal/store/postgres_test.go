package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"audio-analyser/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	st, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.RunMigrations(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func TestTableIdentRejectsEmpty(t *testing.T) {
	if _, err := tableIdent("  "); !errors.Is(err, ErrInvalidTable) {
		t.Fatalf("expected ErrInvalidTable, got %v", err)
	}
	ident, err := tableIdent(`weird"name`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ident != `"weird""name"` {
		t.Fatalf("unexpected identifier %s", ident)
	}
}

func TestSessionAppendsDuplicateRows(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	table := fmt.Sprintf("results_test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = st.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
	})

	empty, err := st.ListResults(ctx, table, 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty listing for missing table, got %v err=%v", empty, err)
	}

	sess, err := st.OpenSession(ctx)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	defer sess.Release()
	if err := sess.EnsureResultTable(ctx, table); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	if err := sess.EnsureResultTable(ctx, table); err != nil {
		t.Fatalf("ensure table twice: %v", err)
	}

	detail := "analyze: remote_service error (status 500): boom"
	rows := []models.ResultRecord{
		{Filename: "a.txt", Status: "Success", PayloadJSON: []byte(`{"text":"hello"}`)},
		{Filename: "a.txt", Status: "Success", PayloadJSON: []byte(`{"text":"hello"}`)},
		{Filename: "b.txt", Status: "Failure", ErrorDetail: &detail},
	}
	for _, r := range rows {
		if _, err := sess.AppendResult(ctx, table, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := st.ListResults(ctx, table, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	if got[0].Filename != "b.txt" || got[0].ErrorDetail == nil || got[0].PayloadJSON != nil {
		t.Fatalf("unexpected failure row %+v", got[0])
	}
}

func TestRecordAndListRuns(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	sum := models.Summary{
		RunID:      uuid.New().String(),
		Kind:       models.KindTranslation,
		State:      models.StateCompleted,
		TotalItems: 3,
		Succeeded:  2,
		Failed:     1,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
	if err := st.RecordRun(ctx, sum); err != nil {
		t.Fatalf("record: %v", err)
	}
	runs, err := st.ListRuns(ctx, models.KindTranslation, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, r := range runs {
		if r.RunID == sum.RunID {
			if r.Succeeded != 2 || r.Failed != 1 || r.State != models.StateCompleted {
				t.Fatalf("unexpected run %+v", r)
			}
			return
		}
	}
	t.Fatalf("run %s not listed", sum.RunID)
}
