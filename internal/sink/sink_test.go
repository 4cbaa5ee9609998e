package sink

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"audio-analyser/internal/config"
	"audio-analyser/internal/models"
)

func success(name, text string) models.Outcome {
	return models.Succeeded(name, models.Transcript{Content: text, Language: "en-US"}, 1)
}

func TestFileSinkWritesBasenameTxt(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(NewLocalUploader(dir))
	ctx := context.Background()

	if err := s.Write(ctx, success("call 1.wav", "hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(ctx, success("call 1.wav", "hello again")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "call 1.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello again\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestFileSinkSkipsFailures(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(NewLocalUploader(dir))
	if err := s.Write(context.Background(), models.Failed("bad.wav", "boom", 1)); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files, got %d", len(entries))
	}
}

func TestFileSinkWriteErrorSurfaces(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	s := NewFileSink(NewLocalUploader(blocker))
	if err := s.Write(context.Background(), success("a.wav", "x")); err == nil {
		t.Fatalf("expected error writing below a regular file")
	}
}

func TestStructuredPerItem(t *testing.T) {
	dir := t.TempDir()
	s := NewStructuredSink(NewLocalUploader(dir), PerItem)
	ctx := context.Background()
	_ = s.Begin(ctx, models.Run{ID: "r1", Kind: models.KindTranscription})
	if err := s.Write(ctx, success("a.wav", "hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = s.Write(ctx, models.Failed("b.wav", "boom", 3))
	if err := s.End(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "a.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc struct {
		Filename string `json:"filename"`
		Status   string `json:"status"`
		Payload  struct {
			Text string `json:"text"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Filename != "a.wav" || doc.Status != "Success" || doc.Payload.Text != "hello" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no document for failure")
	}
}

func TestStructuredAggregateWritesOneDocument(t *testing.T) {
	dir := t.TempDir()
	s := NewStructuredSink(NewLocalUploader(dir), Aggregate)
	ctx := context.Background()
	_ = s.Begin(ctx, models.Run{ID: "run-7", Kind: models.KindAnalysis})

	var wg sync.WaitGroup
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			_ = s.Write(ctx, success(n, n))
		}(name)
	}
	wg.Wait()
	_ = s.Write(ctx, models.Failed("d.txt", "unsupported", 1))

	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("expected nothing written before End, got %d files", len(entries))
	}
	if err := s.End(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "analysis-run-7.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var docs []map[string]any
	if err := json.Unmarshal(data, &docs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(docs) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(docs))
	}
}

type fakeSession struct {
	mu       sync.Mutex
	tables   map[string][]models.ResultRecord
	ensured  int
	released int
	failOn   string
}

func (f *fakeSession) EnsureResultTable(_ context.Context, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured++
	if f.tables == nil {
		f.tables = map[string][]models.ResultRecord{}
	}
	if _, ok := f.tables[table]; !ok {
		f.tables[table] = nil
	}
	return nil
}

func (f *fakeSession) AppendResult(_ context.Context, table string, rec models.ResultRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.Filename == f.failOn {
		return 0, errors.New("connection reset")
	}
	rec.ID = int64(len(f.tables[table]) + 1)
	f.tables[table] = append(f.tables[table], rec)
	return rec.ID, nil
}

func (f *fakeSession) Release() {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
}

func TestTabularSinkAppendsRows(t *testing.T) {
	sess := &fakeSession{}
	opened := 0
	s := newTabularSink(func(context.Context) (resultSession, error) {
		opened++
		return sess, nil
	}, "transcriptions")
	ctx := context.Background()

	if err := s.Begin(ctx, models.Run{ID: "r1", Kind: models.KindTranscription}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = s.Write(ctx, success("a.wav", "one"))
	_ = s.Write(ctx, success("a.wav", "one"))
	_ = s.Write(ctx, models.Failed("b.wav", "boom", 3))
	if err := s.End(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}

	rows := sess.tables["transcriptions"]
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows (duplicates kept), got %d", len(rows))
	}
	var payload models.Transcript
	if err := json.Unmarshal(rows[0].PayloadJSON, &payload); err != nil || payload.Content != "one" {
		t.Fatalf("unexpected payload %s err=%v", rows[0].PayloadJSON, err)
	}
	if rows[2].Status != "Failure" || rows[2].PayloadJSON != nil || rows[2].ErrorDetail == nil {
		t.Fatalf("unexpected failure row %+v", rows[2])
	}
	if opened != 1 || sess.ensured != 1 || sess.released != 1 {
		t.Fatalf("expected one session lifecycle, opened=%d ensured=%d released=%d", opened, sess.ensured, sess.released)
	}
}

func TestTabularSinkLazySessionAndWriteError(t *testing.T) {
	sess := &fakeSession{failOn: "bad.wav"}
	s := newTabularSink(func(context.Context) (resultSession, error) { return sess, nil }, "t")
	ctx := context.Background()

	if err := s.Write(ctx, success("ok.wav", "x")); err != nil {
		t.Fatalf("lazy write: %v", err)
	}
	if err := s.Write(ctx, success("bad.wav", "x")); err == nil {
		t.Fatalf("expected append error")
	}
	_ = s.End(ctx)
	if sess.released != 1 {
		t.Fatalf("expected release at End")
	}
}

func TestTabularSinkOpenFailure(t *testing.T) {
	s := newTabularSink(func(context.Context) (resultSession, error) {
		return nil, errors.New("pool closed")
	}, "t")
	if err := s.Begin(context.Background(), models.Run{}); err == nil {
		t.Fatalf("expected begin error")
	}
}

type failingSink struct{ err error }

func (f failingSink) Begin(context.Context, models.Run) error     { return f.err }
func (f failingSink) Write(context.Context, models.Outcome) error { return f.err }
func (f failingSink) End(context.Context) error                   { return f.err }

func TestMultiWritesToAllAndJoinsErrors(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("disk full")
	m := Multi{NewFileSink(NewLocalUploader(dir)), failingSink{err: boom}}

	err := m.Write(context.Background(), success("a.wav", "hello"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); err != nil {
		t.Fatalf("expected first sink to write despite second failing: %v", err)
	}
}

type recordingUploader struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (r *recordingUploader) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return "mem://" + key, r.err
}

func TestMirrorIgnoresMirrorFailure(t *testing.T) {
	dir := t.TempDir()
	mirror := &recordingUploader{err: errors.New("bucket missing")}
	out := Mirror(NewLocalUploader(dir), mirror)

	dest, err := out.Upload(context.Background(), "a.txt", []byte("x"), "text/plain")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if dest != filepath.Join(dir, "a.txt") || len(mirror.keys) != 1 {
		t.Fatalf("unexpected dest=%s mirror=%v", dest, mirror.keys)
	}
	if Mirror(out, nil) != out {
		t.Fatalf("expected nil mirror to return primary")
	}
}

func TestSanitizeKeyStaysInsideBase(t *testing.T) {
	dir := t.TempDir()
	dest, err := NewLocalUploader(dir).Upload(context.Background(), "../../escape.txt", []byte("x"), "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if filepath.Dir(dest) != dir {
		t.Fatalf("expected file inside %s, got %s", dir, dest)
	}
}

func TestForKindSelectsSinks(t *testing.T) {
	cfg := config.Config{
		TranscriptsDir: t.TempDir(),
		ResultSinks:    []string{"file", "structured"},
		StructuredMode: "aggregate",
	}
	s, err := ForKind(cfg, models.KindTranscription, nil, nil)
	if err != nil {
		t.Fatalf("for kind: %v", err)
	}
	if m, ok := s.(Multi); !ok || len(m) != 2 {
		t.Fatalf("expected two sinks, got %#v", s)
	}

	cfg.ResultSinks = []string{"tabular"}
	if _, err := ForKind(cfg, models.KindTranscription, nil, nil); err == nil {
		t.Fatalf("expected tabular without store to fail")
	}
}
