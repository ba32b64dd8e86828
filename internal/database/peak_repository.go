package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/enersight/peakline/internal/models"
)

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	// Exec executes a query without returning any rows.
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PeakRepository handles database operations for sensor readings, peaks and
// device attributions. It is the pipeline's only mutable shared resource;
// idempotency is enforced here through uniqueness constraints rather than
// locks.
type PeakRepository struct {
	pool DatabasePool
}

// NewPeakRepository creates a new peak repository.
//
// Parameters:
//
//	pool: The database connection pool.
//
// Returns:
//
//	*PeakRepository: The initialized repository.
func NewPeakRepository(pool DatabasePool) *PeakRepository {
	return &PeakRepository{
		pool: pool,
	}
}

// GetReadings returns the ordered readings for a sensor within [start, end).
//
// Parameters:
//
//	ctx: Context.
//	sensorID: Sensor identifier.
//	start: Window start (inclusive).
//	end: Window end (exclusive).
//
// Returns:
//
//	[]models.SensorReading: Readings ordered by time.
//	error: Error if the query fails.
func (r *PeakRepository) GetReadings(ctx context.Context, sensorID string, start, end time.Time) ([]models.SensorReading, error) {
	query := `
		SELECT id, sensor_id, recorded_at, energy_value
		FROM sensor_readings
		WHERE sensor_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at
	`

	rows, err := r.pool.Query(ctx, query, sensorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []models.SensorReading
	for rows.Next() {
		var reading models.SensorReading
		if err := rows.Scan(&reading.ID, &reading.SensorID, &reading.Timestamp, &reading.EnergyValue); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}

	return readings, nil
}

// GetUserReadings returns all readings recorded since the given time across
// the sensors owned by a user. Used by the anomaly alerting path.
func (r *PeakRepository) GetUserReadings(ctx context.Context, userID string, since time.Time) ([]models.SensorReading, error) {
	query := `
		SELECT sr.id, sr.sensor_id, sr.recorded_at, sr.energy_value
		FROM sensor_readings sr
		JOIN sensors s ON s.id = sr.sensor_id
		WHERE s.user_id = $1 AND sr.recorded_at >= $2
		ORDER BY sr.recorded_at
	`

	rows, err := r.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query user readings: %w", err)
	}
	defer rows.Close()

	var readings []models.SensorReading
	for rows.Next() {
		var reading models.SensorReading
		if err := rows.Scan(&reading.ID, &reading.SensorID, &reading.Timestamp, &reading.EnergyValue); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user readings: %w", err)
	}

	return readings, nil
}

// MarkPeaks persists the given candidate readings as marked peaks. A reading
// already marked in a previous run is skipped silently: the unique
// (sensor_id, recorded_at) constraint makes redundant runs over the same
// window a no-op. Only newly marked peaks are returned.
//
// Parameters:
//
//	ctx: Context.
//	sensorID: Sensor identifier.
//	candidates: Readings to mark as peaks.
//
// Returns:
//
//	[]models.Peak: The peaks created by this call.
//	error: Error if any insert fails.
func (r *PeakRepository) MarkPeaks(ctx context.Context, sensorID string, candidates []models.SensorReading) ([]models.Peak, error) {
	query := `
		INSERT INTO peaks (id, sensor_id, recorded_at, energy_value, marked)
		VALUES ($1, $2, $3, $4, true)
		ON CONFLICT (sensor_id, recorded_at) DO NOTHING
		RETURNING id, sensor_id, recorded_at, energy_value, marked, created_at
	`

	var marked []models.Peak
	for _, candidate := range candidates {
		var peak models.Peak
		err := r.pool.QueryRow(ctx, query, uuid.NewString(), sensorID, candidate.Timestamp, candidate.EnergyValue).Scan(
			&peak.ID,
			&peak.SensorID,
			&peak.Timestamp,
			&peak.EnergyValue,
			&peak.Marked,
			&peak.CreatedAt,
		)
		if err == pgx.ErrNoRows {
			// Conflict: this reading was marked by an earlier run.
			continue
		}
		if err != nil {
			return marked, fmt.Errorf("failed to mark peak at %s: %w", candidate.Timestamp.Format(time.RFC3339), err)
		}
		marked = append(marked, peak)
	}

	return marked, nil
}

// GetPeaksWithoutDevices filters the given peak references down to those with
// no device attribution yet. This filter is the sole dedup mechanism keeping
// already-attributed peaks out of future classification batches.
//
// Parameters:
//
//	ctx: Context.
//	refs: Candidate peak references.
//
// Returns:
//
//	[]models.PeakRef: The subset lacking attributions, in input order.
//	error: Error if the query fails.
func (r *PeakRepository) GetPeaksWithoutDevices(ctx context.Context, refs []models.PeakRef) ([]models.PeakRef, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}

	query := `
		SELECT p.id
		FROM peaks p
		LEFT JOIN device_attributions da ON da.peak_id = p.id
		WHERE p.id = ANY($1) AND da.peak_id IS NULL
	`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query unattributed peaks: %w", err)
	}
	defer rows.Close()

	unattributed := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan peak id: %w", err)
		}
		unattributed[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unattributed peaks: %w", err)
	}

	var filtered []models.PeakRef
	for _, ref := range refs {
		if unattributed[ref.ID] {
			filtered = append(filtered, ref)
		}
	}

	return filtered, nil
}

// GetPeakRefs resolves peak ids to their batchable references.
func (r *PeakRepository) GetPeakRefs(ctx context.Context, peakIDs []string) ([]models.PeakRef, error) {
	if len(peakIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, sensor_id, recorded_at, energy_value
		FROM peaks
		WHERE id = ANY($1)
		ORDER BY recorded_at
	`

	rows, err := r.pool.Query(ctx, query, peakIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query peak refs: %w", err)
	}
	defer rows.Close()

	var refs []models.PeakRef
	for rows.Next() {
		var ref models.PeakRef
		if err := rows.Scan(&ref.ID, &ref.SensorID, &ref.Timestamp, &ref.EnergyValue); err != nil {
			return nil, fmt.Errorf("failed to scan peak ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate peak refs: %w", err)
	}

	return refs, nil
}

// GetUnattributedPeaksForUser returns the references of a user's peaks that
// have no device attribution yet, oldest first. Default candidate source for
// a classification round.
func (r *PeakRepository) GetUnattributedPeaksForUser(ctx context.Context, userID string, limit int) ([]models.PeakRef, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT p.id, p.sensor_id, p.recorded_at, p.energy_value
		FROM peaks p
		JOIN sensors s ON s.id = p.sensor_id
		LEFT JOIN device_attributions da ON da.peak_id = p.id
		WHERE s.user_id = $1 AND da.peak_id IS NULL
		ORDER BY p.recorded_at
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unattributed peaks for user: %w", err)
	}
	defer rows.Close()

	var refs []models.PeakRef
	for rows.Next() {
		var ref models.PeakRef
		if err := rows.Scan(&ref.ID, &ref.SensorID, &ref.Timestamp, &ref.EnergyValue); err != nil {
			return nil, fmt.Errorf("failed to scan peak ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unattributed peaks: %w", err)
	}

	return refs, nil
}

// SaveDeviceAttribution persists one device attribution for a peak. The
// unique (peak_id, device_name) constraint turns duplicate inserts from
// concurrent or retried runs into benign no-ops.
//
// Parameters:
//
//	ctx: Context.
//	peakID: Peak identifier.
//	deviceName: Mapped display name of the device.
//	confidence: Classifier confidence in [0,1].
//	userID: Owning user.
//
// Returns:
//
//	error: Error if the insert fails.
func (r *PeakRepository) SaveDeviceAttribution(ctx context.Context, peakID, deviceName string, confidence float64, userID string) error {
	query := `
		INSERT INTO device_attributions (id, peak_id, device_name, confidence, user_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (peak_id, device_name) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query, uuid.NewString(), peakID, deviceName, confidence, userID)
	if err != nil {
		return fmt.Errorf("failed to save device attribution: %w", err)
	}

	return nil
}

// ListPeaksForUser returns a user's peaks, newest first, with their
// attributions attached. Serves the dashboard read API.
func (r *PeakRepository) ListPeaksForUser(ctx context.Context, userID string, limit int) ([]models.Peak, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT p.id, p.sensor_id, p.recorded_at, p.energy_value, p.marked, p.created_at
		FROM peaks p
		JOIN sensors s ON s.id = p.sensor_id
		WHERE s.user_id = $1
		ORDER BY p.recorded_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query peaks: %w", err)
	}
	defer rows.Close()

	var peaks []models.Peak
	for rows.Next() {
		var peak models.Peak
		if err := rows.Scan(&peak.ID, &peak.SensorID, &peak.Timestamp, &peak.EnergyValue, &peak.Marked, &peak.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan peak: %w", err)
		}
		peaks = append(peaks, peak)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate peaks: %w", err)
	}

	for i := range peaks {
		attributions, err := r.getAttributions(ctx, peaks[i].ID)
		if err != nil {
			return nil, err
		}
		peaks[i].Attributions = attributions
	}

	return peaks, nil
}

func (r *PeakRepository) getAttributions(ctx context.Context, peakID string) ([]models.DeviceAttribution, error) {
	query := `
		SELECT id, peak_id, device_name, confidence, user_id, created_at
		FROM device_attributions
		WHERE peak_id = $1
		ORDER BY confidence DESC
	`

	rows, err := r.pool.Query(ctx, query, peakID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attributions: %w", err)
	}
	defer rows.Close()

	var attributions []models.DeviceAttribution
	for rows.Next() {
		var a models.DeviceAttribution
		if err := rows.Scan(&a.ID, &a.PeakID, &a.DeviceName, &a.Confidence, &a.UserID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attribution: %w", err)
		}
		attributions = append(attributions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attributions: %w", err)
	}

	return attributions, nil
}
