package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"

	"adsync/internal/models"
)

// ErrRunInProgress is returned by CreateSyncRun when a non-stale running row
// already exists for the same (platform, entity_type) pair.
var ErrRunInProgress = errors.New("sync run already in progress for this platform/entity")

type CredentialStore interface {
	// GetCredential returns nil, nil when no record exists for the platform.
	GetCredential(ctx context.Context, platform string) (*models.Credential, error)
	// SaveCredential upserts the record last-write-wins; the token lifecycle
	// manager is the single writer.
	SaveCredential(ctx context.Context, item *models.Credential) error
	ListCredentials(ctx context.Context) ([]models.Credential, error)
}

type SyncRunStore interface {
	// CreateSyncRun claims the (platform, entity_type) pair: inside one
	// transaction it refuses to insert while another running row younger
	// than staleAfter exists, returning ErrRunInProgress. staleAfter <= 0
	// disables the staleness carve-out.
	CreateSyncRun(ctx context.Context, run *models.SyncRun, staleAfter time.Duration) error
	// FinalizeSyncRun moves a running row to a terminal status. It only
	// touches rows still in running state, so a second finalize is a no-op;
	// the bool reports whether the update applied.
	FinalizeSyncRun(ctx context.Context, id string, fin RunFinalization) (bool, error)
	GetLatestCompletedRun(ctx context.Context, platform, entityType string) (*models.SyncRun, error)
	ListSyncRuns(ctx context.Context, params ListSyncRunsParams) ([]models.SyncRun, error)
	CountSyncRuns(ctx context.Context, params ListSyncRunsParams) (int64, error)
	// MarkStaleRunsFailed fails every running row that started before the
	// given instant. Used by the scheduled janitor to reap runs orphaned by
	// a crashed process.
	MarkStaleRunsFailed(ctx context.Context, runningSince time.Time) (int64, error)
}

type BatchStore interface {
	// UpsertRows writes one chunk of rows (a slice of a gorm model type)
	// with ON CONFLICT on the given columns, overwriting conflicting rows
	// wholesale. Returns the number of rows written.
	UpsertRows(ctx context.Context, rows any, conflictColumns []string) (int64, error)
}

type Repository interface {
	CredentialStore
	SyncRunStore
	BatchStore
}

type RunFinalization struct {
	Status        string
	EndTime       time.Time
	Processed     int
	Inserted      int
	Updated       int
	Failed        int
	ErrorMessage  *string
	WatermarkTS   *time.Time
	NextPageToken *string
	Stats         datatypes.JSON
}

type ListSyncRunsParams struct {
	Limit      int
	Offset     int
	Platform   *string
	EntityType *string
	Status     *string
	Since      *time.Time
	OrderBy    string
	Asc        *bool
}
