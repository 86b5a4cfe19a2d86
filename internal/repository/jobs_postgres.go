package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	segments, analyses, result, errorInfo, err := encodeJobFields(job)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id,
			media_type,
			input_ref,
			pipeline,
			priority,
			size_bytes,
			duration_seconds,
			state,
			step,
			progress,
			message,
			segments,
			analyses,
			compiled_text,
			audio_ref,
			result,
			error,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		job.ID,
		string(job.MediaType),
		job.InputRef,
		string(job.Pipeline),
		string(job.Priority),
		job.SizeBytes,
		job.DurationSeconds,
		string(job.Status.State),
		string(job.Status.Step),
		job.Status.Progress,
		job.Status.Message,
		segments,
		analyses,
		job.CompiledText,
		job.AudioRef,
		result,
		errorInfo,
		job.Status.CreatedAt,
		job.Status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, job *domain.Job) error {
	segments, analyses, result, errorInfo, err := encodeJobFields(job)
	if err != nil {
		return err
	}

	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET pipeline = $2,
			state = $3,
			step = $4,
			progress = $5,
			message = $6,
			segments = $7,
			analyses = $8,
			compiled_text = $9,
			audio_ref = $10,
			result = $11,
			error = $12,
			updated_at = $13
		WHERE id = $1
	`,
		job.ID,
		string(job.Pipeline),
		string(job.Status.State),
		string(job.Status.Step),
		job.Status.Progress,
		job.Status.Message,
		segments,
		analyses,
		job.CompiledText,
		job.AudioRef,
		result,
		errorInfo,
		job.Status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, selectJobColumns+` WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, selectJobColumns+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (r *PostgresJobsRepository) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	command, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	return command.RowsAffected() > 0, nil
}

func (r *PostgresJobsRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	command, err := r.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE state IN ('completed', 'failed') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup jobs: %w", err)
	}
	return int(command.RowsAffected()), nil
}

const selectJobColumns = `
	SELECT id, media_type, input_ref, pipeline, priority, size_bytes, duration_seconds,
		state, step, progress, message, segments, analyses, compiled_text, audio_ref,
		result, error, created_at, updated_at
	FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job       domain.Job
		mediaType string
		pipeline  string
		priority  string
		state     string
		step      string
		segments  []byte
		analyses  []byte
		result    []byte
		errorInfo []byte
		createdAt time.Time
		updatedAt time.Time
	)

	err := row.Scan(
		&job.ID,
		&mediaType,
		&job.InputRef,
		&pipeline,
		&priority,
		&job.SizeBytes,
		&job.DurationSeconds,
		&state,
		&step,
		&job.Status.Progress,
		&job.Status.Message,
		&segments,
		&analyses,
		&job.CompiledText,
		&job.AudioRef,
		&result,
		&errorInfo,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.MediaType = domain.MediaType(mediaType)
	job.Pipeline = domain.Pipeline(pipeline)
	job.Priority = domain.Priority(priority)
	job.Status.State = domain.JobState(state)
	job.Status.Step = domain.JobStep(step)
	job.Status.CreatedAt = createdAt
	job.Status.UpdatedAt = updatedAt

	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &job.Segments); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
	}
	if len(analyses) > 0 {
		if err := json.Unmarshal(analyses, &job.Analyses); err != nil {
			return nil, fmt.Errorf("decode analyses: %w", err)
		}
	}
	if len(result) > 0 {
		job.Status.Result = &domain.Result{}
		if err := json.Unmarshal(result, job.Status.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	if len(errorInfo) > 0 {
		job.Status.Error = &domain.ErrorInfo{}
		if err := json.Unmarshal(errorInfo, job.Status.Error); err != nil {
			return nil, fmt.Errorf("decode error payload: %w", err)
		}
	}
	return &job, nil
}

func encodeJobFields(job *domain.Job) (segments, analyses, result, errorInfo []byte, err error) {
	if len(job.Segments) > 0 {
		segments, err = json.Marshal(job.Segments)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode segments: %w", err)
		}
	}
	if len(job.Analyses) > 0 {
		analyses, err = json.Marshal(job.Analyses)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode analyses: %w", err)
		}
	}
	if job.Status.Result != nil {
		result, err = json.Marshal(job.Status.Result)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode result: %w", err)
		}
	}
	if job.Status.Error != nil {
		errorInfo, err = json.Marshal(job.Status.Error)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode error payload: %w", err)
		}
	}
	return segments, analyses, result, errorInfo, nil
}
