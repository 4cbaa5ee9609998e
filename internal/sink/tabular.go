package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"audio-analyser/internal/models"
	"audio-analyser/internal/store"
)

type resultSession interface {
	EnsureResultTable(ctx context.Context, table string) error
	AppendResult(ctx context.Context, table string, rec models.ResultRecord) (int64, error)
	Release()
}

// TabularSink appends one row per outcome to a Postgres table. The session is held
// from Begin (or the first Write) until End. Writes are serialized.
type TabularSink struct {
	open  func(ctx context.Context) (resultSession, error)
	table string

	mu      sync.Mutex
	session resultSession
	ready   bool
}

func NewTabularSink(st *store.Store, table string) *TabularSink {
	return newTabularSink(func(ctx context.Context) (resultSession, error) {
		sess, err := st.OpenSession(ctx)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}, table)
}

func newTabularSink(open func(ctx context.Context) (resultSession, error), table string) *TabularSink {
	return &TabularSink{open: open, table: table}
}

func (t *TabularSink) Begin(ctx context.Context, _ models.Run) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acquire(ctx)
}

func (t *TabularSink) acquire(ctx context.Context) error {
	if t.session == nil {
		sess, err := t.open(ctx)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		t.session = sess
		t.ready = false
	}
	if !t.ready {
		if err := t.session.EnsureResultTable(ctx, t.table); err != nil {
			return err
		}
		t.ready = true
	}
	return nil
}

func (t *TabularSink) Write(ctx context.Context, o models.Outcome) error {
	rec, err := toRecord(o)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.acquire(ctx); err != nil {
		return err
	}
	if _, err := t.session.AppendResult(ctx, t.table, rec); err != nil {
		return err
	}
	return nil
}

func (t *TabularSink) End(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != nil {
		t.session.Release()
		t.session = nil
		t.ready = false
	}
	return nil
}

func toRecord(o models.Outcome) (models.ResultRecord, error) {
	rec := models.ResultRecord{
		Filename:    o.Filename,
		Status:      string(o.Status),
		ErrorDetail: o.ErrorDetail,
		CreatedAt:   o.Timestamp,
	}
	if o.Status == models.OutcomeSuccess {
		if o.Payload == nil {
			return rec, errors.New("success outcome without payload")
		}
		payload, err := json.Marshal(o.Payload)
		if err != nil {
			return rec, fmt.Errorf("marshal payload: %w", err)
		}
		rec.PayloadJSON = payload
	}
	return rec, nil
}
