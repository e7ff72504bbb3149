package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID     int64
	Username    string
	Action      string
	Module      string
	Entity      string
	EntityID    string
	Before      map[string]any
	After       map[string]any
	Description string
	IPAddress   string
	At          time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Module == "" {
		return errors.New("audit log requires action/module")
	}
	before, err := marshalSnapshot(log.Before)
	if err != nil {
		return err
	}
	after, err := marshalSnapshot(log.After)
	if err != nil {
		return err
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (user_id, username, ip_address, action, module, record_type, record_id, old_values, new_values, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()))`,
		nullableID(log.ActorID), log.Username, log.IPAddress, log.Action, log.Module, log.Entity, log.EntityID, before, after, log.Description, at)
	return err
}

// NewAuditEntry fills actor and source address from the request context.
func NewAuditEntry(ctx context.Context, action, module, entity, entityID string) AuditLog {
	entry := AuditLog{
		Action:    action,
		Module:    module,
		Entity:    entity,
		EntityID:  entityID,
		IPAddress: ClientIPFromContext(ctx),
		At:        time.Now().UTC(),
	}
	if p, ok := PrincipalFromContext(ctx); ok {
		entry.ActorID = p.UserID
		entry.Username = p.Username
	}
	return entry
}

func marshalSnapshot(v map[string]any) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
