// Package repository persists mirrored Chatwoot data and maintains the
// analytics marts built on top of it.
package repository

import (
	"context"
	"time"

	"github.com/ecocrm-platform/ecocrm-stack/datahub/internal/models"
)

// Repository is the storage surface the sync worker drives.
type Repository interface {
	// UpsertPage writes one page worth of conversations (plus their messages
	// and reporting events) atomically. Re-running a page is safe: every row
	// is keyed by its upstream Chatwoot id.
	UpsertPage(ctx context.Context, bundles []models.ConversationBundle) error

	// RefreshMarts rebuilds the materialized views the BI endpoints read.
	RefreshMarts(ctx context.Context) error

	// SnapshotBacklog records one backlog count per inbox/status pair at the
	// given timestamp and returns how many rows were written.
	SnapshotBacklog(ctx context.Context, ts time.Time) (int64, error)

	Close()
}
