package services

import (
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/Data-Integrities/backend-ai/internal/database"
	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/models"
)

// HistoryService archives finalized executions. The archive is write-only
// from the store's point of view; nothing is ever loaded back.
type HistoryService struct {
	db  *database.DB
	log *logging.Logger

	mu          sync.Mutex
	closed      bool
	records     chan models.Execution
	wg          sync.WaitGroup
	unsubscribe func()
	dropped     atomic.Int64
}

const historyBuffer = 1024

// NewHistoryService subscribes to store and writes every final transition
// to the execution_history table from a single background writer. When the
// writer falls behind, records are dropped rather than holding up store
// event delivery.
func NewHistoryService(db *database.DB, store *ExecutionStore, log *logging.Logger) *HistoryService {
	if log == nil {
		log = logging.Discard()
	}
	s := &HistoryService{
		db:      db,
		log:     log.Component("history"),
		records: make(chan models.Execution, historyBuffer),
	}
	s.wg.Add(1)
	go s.writeLoop()
	s.unsubscribe = store.Subscribe(s.onEvent)
	return s
}

func (s *HistoryService) onEvent(evt models.TransitionEvent) {
	if evt.Type != models.EventTransition || !settled(evt.To) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.records <- evt.Execution:
	default:
		n := s.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			s.log.Warnf("history writer is not keeping up, %d records dropped", n)
		}
	}
}

// Dropped counts finalized executions that were not archived because the
// writer fell behind.
func (s *HistoryService) Dropped() int64 {
	return s.dropped.Load()
}

func (s *HistoryService) writeLoop() {
	defer s.wg.Done()
	for exec := range s.records {
		if err := s.Record(exec); err != nil {
			s.log.Errorf("archiving execution %s failed: %v", exec.ID, err)
		}
	}
}

// Record writes one finalized execution.
func (s *HistoryService) Record(exec models.Execution) error {
	if exec.EndedAt == nil {
		return nil
	}
	duration := exec.EndedAt.Sub(exec.StartedAt).Milliseconds()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO execution_history (id, command, target, kind, status, parent_id, result, error, finalized_by, started_at, ended_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.ID, exec.Command, exec.Target, exec.Kind, exec.Status, nullString(exec.ParentID),
		nullString(exec.Result), nullString(exec.Error), exec.FinalizedBy,
		exec.StartedAt.UTC(), exec.EndedAt.UTC(), duration)
	return err
}

// List returns the most recently finalized executions, newest first.
func (s *HistoryService) List(limit int) ([]models.HistoryRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, command, target, kind, status, parent_id, result, error, finalized_by, started_at, ended_at, duration_ms
		FROM execution_history
		ORDER BY ended_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.HistoryRecord{}
	for rows.Next() {
		var rec models.HistoryRecord
		var command, parentID, result, errMsg, finalizedBy sql.NullString
		if err := rows.Scan(
			&rec.ID, &command, &rec.Target, &rec.Kind, &rec.Status, &parentID,
			&result, &errMsg, &finalizedBy, &rec.StartedAt, &rec.EndedAt, &rec.DurationMs,
		); err != nil {
			return nil, err
		}
		rec.Command = command.String
		rec.ParentID = parentID.String
		rec.Result = result.String
		rec.Error = errMsg.String
		rec.FinalizedBy = models.Source(finalizedBy.String)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close detaches from the store and waits for pending writes.
func (s *HistoryService) Close() {
	s.unsubscribe()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.records)
	s.mu.Unlock()
	s.wg.Wait()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
