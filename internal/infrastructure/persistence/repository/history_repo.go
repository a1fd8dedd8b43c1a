package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/domain/entity"
	"github.com/garyjia/xpensure/internal/infrastructure/persistence/sqldb"
)

const historyColumns = `id, request_kind, request_id, actor_id, actor_name, action, comment,
	previous_status, new_status, timestamp`

// HistoryRepository implements port.HistoryRepository. The table rejects updates and
// deletes, so Append is the only write.
type HistoryRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqldb.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// Append adds a ledger entry
func (r *HistoryRepository) Append(ctx context.Context, h *entity.ApprovalHistory) error {
	query := r.db.Rebind(`
		INSERT INTO approval_history (
			request_kind, request_id, actor_id, actor_name, action, comment,
			previous_status, new_status, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := r.db.Executor(ctx).QueryRowContext(ctx, query,
		string(h.RequestKind),
		h.RequestID,
		h.ActorID,
		h.ActorName,
		string(h.Action),
		h.Comment,
		string(h.PreviousStatus),
		string(h.NewStatus),
		h.Timestamp,
	).Scan(&h.ID)
	if err != nil {
		r.logger.Error("Failed to append history entry",
			zap.String("kind", string(h.RequestKind)),
			zap.Int64("request_id", h.RequestID),
			zap.Error(err))
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListByRequest returns the ledger of one request in order
func (r *HistoryRepository) ListByRequest(ctx context.Context, kind entity.RequestKind, requestID int64) ([]*entity.ApprovalHistory, error) {
	query := r.db.Rebind(`
		SELECT ` + historyColumns + `
		FROM approval_history
		WHERE request_kind = ? AND request_id = ?
		ORDER BY timestamp ASC, id ASC
	`)
	return r.list(ctx, query, string(kind), requestID)
}

// ListByActor returns every entry recorded by actorID in order
func (r *HistoryRepository) ListByActor(ctx context.Context, actorID string) ([]*entity.ApprovalHistory, error) {
	query := r.db.Rebind(`
		SELECT ` + historyColumns + `
		FROM approval_history
		WHERE actor_id = ?
		ORDER BY timestamp ASC, id ASC
	`)
	return r.list(ctx, query, actorID)
}

func (r *HistoryRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalHistory, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query history", zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.ApprovalHistory
	for rows.Next() {
		var (
			h                                 entity.ApprovalHistory
			kind, action, prevStatus, newStat string
		)
		if err := rows.Scan(
			&h.ID,
			&kind,
			&h.RequestID,
			&h.ActorID,
			&h.ActorName,
			&action,
			&h.Comment,
			&prevStatus,
			&newStat,
			&h.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		h.RequestKind = entity.RequestKind(kind)
		h.Action = entity.Action(action)
		h.PreviousStatus = entity.RequestStatus(prevStatus)
		h.NewStatus = entity.RequestStatus(newStat)
		records = append(records, &h)
	}
	return records, rows.Err()
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)
