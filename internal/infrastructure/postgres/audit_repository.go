package postgres

import (
	"context"

	domain "marketplace/identity/internal/domain/auth"
)

// AuditRepository writes audit events to audit_logs.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository constructs a repository.
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ domain.AuditSink = (*AuditRepository)(nil)

// Record implements domain.AuditSink.
func (r *AuditRepository) Record(ctx context.Context, entry domain.AuditEntry) error {
	const query = `
INSERT INTO audit_logs (id, actor_id, action, resource_type, resource_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := r.db.Exec(ctx, query,
		entry.ID,
		nullable(entry.ActorID),
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		metadata,
		entry.CreatedAt,
	)
	return err
}
