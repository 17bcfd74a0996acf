// Package repository persists activities, the webhook audit log and refreshed
// credentials in a relational database.
package repository

import (
	"context"

	"github.com/okian/stravasync/internal/domain/model"
)

// Store provides read/write access to the local copy of remote state.
type Store interface {
	// UpsertActivity inserts a or overwrites the stored row with the same id.
	// Optional fields that are nil keep their stored value.
	// Returns the number of affected rows.
	UpsertActivity(ctx context.Context, a model.Activity) (int64, error)

	// DeleteActivity removes the row with id. Deleting a missing row is not an error.
	// Returns the number of affected rows.
	DeleteActivity(ctx context.Context, id int64) (int64, error)

	// GetActivity returns the stored row with id.
	// Returns ErrNotFound if the activity is unknown.
	GetActivity(ctx context.Context, id int64) (model.Activity, error)

	// CountActivities returns the number of stored activities.
	CountActivities(ctx context.Context) (int64, error)

	// Totals aggregates the stored activities of one owner.
	Totals(ctx context.Context, ownerID int64) (model.Totals, error)

	// RecordWebhookEvent writes the final outcome of a delivery to the audit log.
	// Redeliveries of the same change overwrite the previous outcome.
	RecordWebhookEvent(ctx context.Context, e model.InboundEvent, r model.SyncResult) error

	// SaveCredential stores the latest token pair of a principal.
	SaveCredential(ctx context.Context, c model.Credential) error

	// LoadCredentials returns every stored token pair.
	LoadCredentials(ctx context.Context) ([]model.Credential, error)

	Ping(ctx context.Context) error
	Close() error
}
