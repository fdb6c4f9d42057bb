package repository

import (
	"context"

	"github.com/nexivo/sentinel/internal/domain/models"
)

// BaselineRepository persists the last-accepted-as-legitimate identity
// snapshot. The baseline only ever advances through an explicit update after
// a change has been verified; it is never rewritten on a routine check.
type BaselineRepository interface {
	// Load returns the stored baseline, or ErrBaselineNotFound.
	Load(ctx context.Context) (*models.DeviceProfile, error)

	// Store replaces the baseline with the given snapshot.
	Store(ctx context.Context, profile *models.DeviceProfile) error
}

// ChangeHistoryRepository keeps the bounded append-only change log.
type ChangeHistoryRepository interface {
	// Append records the changes and evicts the oldest entries beyond the
	// configured ring size.
	Append(ctx context.Context, changes []models.ChangeDetail) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]models.ChangeDetail, error)
}

// IncidentRepository keeps the durable forensic incident trail.
type IncidentRepository interface {
	// Append stores one incident.
	Append(ctx context.Context, incident *models.AuditIncident) error

	// Unreported returns up to limit incidents not yet delivered to the
	// backend, oldest first.
	Unreported(ctx context.Context, limit int) ([]*models.AuditIncident, error)

	// MarkReported flags incidents as delivered.
	MarkReported(ctx context.Context, incidentIDs []string) error
}

// ThreatRepository persists the single threat-state row.
type ThreatRepository interface {
	// Load returns the stored threat state, creating a zeroed STANDARD row
	// on first use.
	Load(ctx context.Context) (*models.ThreatState, error)

	// Store replaces the threat state.
	Store(ctx context.Context, state *models.ThreatState) error
}

// PreferenceRepository is the scoped key-value store behind the integrity
// checkpoint discipline. Values within a namespace are hashed together; the
// checkpoint must be refreshed under the same critical section as any write.
type PreferenceRepository interface {
	// Get returns the value for key in namespace, or empty string.
	Get(ctx context.Context, namespace, key string) (string, error)

	// Put writes the value for key in namespace.
	Put(ctx context.Context, namespace, key, value string) error

	// Delete removes key from namespace. Idempotent.
	Delete(ctx context.Context, namespace, key string) error

	// Snapshot returns every key/value pair in the namespace.
	Snapshot(ctx context.Context, namespace string) (map[string]string, error)
}
