package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/LIT-Protocol/morphomax/internal/types"
)

// jobColumns is the scan order shared by every job query.
const jobColumns = `
	id, wallet_address, pkp_public_key, pkp_token_id,
	app_id, app_version, disabled,
	repeat_interval, schedule_expr,
	next_run_at, last_run_at, last_finished_at, failed_at, fail_reason,
	created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*types.ScheduledJob, error) {
	var job types.ScheduledJob
	var nextRunAt, lastRunAt, lastFinishedAt, failedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.PKPInfo.EthAddress, &job.PKPInfo.PublicKey, &job.PKPInfo.TokenID,
		&job.App.ID, &job.App.Version, &job.Disabled,
		&job.RepeatInterval, &job.ScheduleExpr,
		&nextRunAt, &lastRunAt, &lastFinishedAt, &failedAt, &job.FailReason,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if nextRunAt.Valid {
		job.NextRunAt = &nextRunAt.Time
	}
	if lastRunAt.Valid {
		job.LastRunAt = &lastRunAt.Time
	}
	if lastFinishedAt.Valid {
		job.LastFinishedAt = &lastFinishedAt.Time
	}
	if failedAt.Valid {
		job.FailedAt = &failedAt.Time
	}
	return &job, nil
}

// FindJobByWallet returns the job owned by the wallet address, or nil when the
// wallet has never scheduled one.
func FindJobByWallet(walletAddress string) (*types.ScheduledJob, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE wallet_address = $1;`
	job, err := scanJob(DB.QueryRow(query, walletAddress))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job for wallet %s: %w", walletAddress, err)
	}
	return job, nil
}

// ListActiveJobs returns every job that is not disabled.
func ListActiveJobs() ([]types.ScheduledJob, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE NOT disabled ORDER BY created_at;`
	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating job rows: %w", err)
	}
	return jobs, nil
}

// InsertJob persists a new job. The wallet uniqueness constraint makes a
// duplicate insert fail rather than silently creating a second schedule.
func InsertJob(job *types.ScheduledJob) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	query := `
		INSERT INTO scheduled_jobs (
			id, wallet_address, pkp_public_key, pkp_token_id,
			app_id, app_version, disabled,
			repeat_interval, schedule_expr, next_run_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11);
	`
	_, err := DB.Exec(
		query,
		job.ID, job.PKPInfo.EthAddress, job.PKPInfo.PublicKey, job.PKPInfo.TokenID,
		job.App.ID, job.App.Version, job.Disabled,
		job.RepeatInterval, job.ScheduleExpr, job.NextRunAt,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job for wallet %s: %w", job.PKPInfo.EthAddress, err)
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("wallet", job.PKPInfo.EthAddress).
		Msg("Scheduled job created")
	return nil
}

// SaveJob updates an existing job in full.
func SaveJob(job *types.ScheduledJob) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	query := `
		UPDATE scheduled_jobs SET
			pkp_public_key = $2, pkp_token_id = $3,
			app_id = $4, app_version = $5, disabled = $6,
			repeat_interval = $7, schedule_expr = $8,
			next_run_at = $9, last_run_at = $10, last_finished_at = $11,
			failed_at = $12, fail_reason = $13,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1;
	`
	result, err := DB.Exec(
		query,
		job.ID, job.PKPInfo.PublicKey, job.PKPInfo.TokenID,
		job.App.ID, job.App.Version, job.Disabled,
		job.RepeatInterval, job.ScheduleExpr,
		job.NextRunAt, job.LastRunAt, job.LastFinishedAt,
		job.FailedAt, job.FailReason,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check job save result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s does not exist", job.ID)
	}
	return nil
}

// ClaimDueJob atomically claims one due job for execution. SKIP LOCKED lets
// concurrent workers claim different rows without blocking each other, and the
// lock timeout lets a job whose worker died be reclaimed.
func ClaimDueJob(lockTimeout time.Duration) (*types.ScheduledJob, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		UPDATE scheduled_jobs SET
			locked_at = CURRENT_TIMESTAMP,
			last_run_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = (
			SELECT id FROM scheduled_jobs
			WHERE NOT disabled
			  AND next_run_at IS NOT NULL
			  AND next_run_at <= CURRENT_TIMESTAMP
			  AND (locked_at IS NULL OR locked_at < CURRENT_TIMESTAMP - $1::interval)
			ORDER BY next_run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns + `;
	`
	job, err := scanJob(DB.QueryRow(query, lockTimeout.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim due job: %w", err)
	}
	return job, nil
}

// FinishJob releases the claim after a successful run and schedules the next
// one. A nil nextRunAt leaves the job idle until something reschedules it.
func FinishJob(id uuid.UUID, nextRunAt *time.Time) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		UPDATE scheduled_jobs SET
			locked_at = NULL,
			last_finished_at = CURRENT_TIMESTAMP,
			failed_at = NULL,
			fail_reason = '',
			next_run_at = $2,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1;
	`
	if _, err := DB.Exec(query, id, nextRunAt); err != nil {
		return fmt.Errorf("failed to finish job %s: %w", id, err)
	}
	return nil
}

// FailJob records a failed run. Disabling takes the job out of rotation
// entirely; otherwise nextRunAt schedules the retry.
func FailJob(id uuid.UUID, reason string, nextRunAt *time.Time, disable bool) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		UPDATE scheduled_jobs SET
			locked_at = NULL,
			failed_at = CURRENT_TIMESTAMP,
			fail_reason = $2,
			next_run_at = $3,
			disabled = $4,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1;
	`
	if _, err := DB.Exec(query, id, reason, nextRunAt, disable); err != nil {
		return fmt.Errorf("failed to record failure for job %s: %w", id, err)
	}

	if disable {
		log.Warn().
			Str("job_id", id.String()).
			Str("reason", reason).
			Msg("Job disabled after fatal failure")
	}
	return nil
}

// SaveJobVersion persists only a reconciled app version, used when the
// wallet's live permission has moved since the job was created.
func SaveJobVersion(id uuid.UUID, version int) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `UPDATE scheduled_jobs SET app_version = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1;`
	if _, err := DB.Exec(query, id, version); err != nil {
		return fmt.Errorf("failed to update version for job %s: %w", id, err)
	}
	return nil
}
