// Package jobs implements the job repository: creation of jobs with their items, listing, lookup,
// deletion and the item lifecycle with derived job counters. All access goes through the shared
// store.Store, multi-row changes run in a single transaction.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/nanoledger/app/common"
	"github.com/umputun/nanoledger/app/store"
	"github.com/umputun/nanoledger/app/store/enums"
)

const jobColumns = `id, status, mode, prompt, output_size, temperature, aspect_ratio, batch_job_name,
	batch_temp_file, total_items, completed_items, failed_items, created_at, updated_at`

const itemColumns = `id, job_id, input_prompt, input_image_path, output_image_path, status, error,
	created_at, updated_at`

// activeStatuses is the SQL list of job statuses with work in flight
var activeStatuses = func() string {
	res := []string{}
	for _, s := range enums.JobStatusValues {
		if s.Active() {
			res = append(res, "'"+s.String()+"'")
		}
	}
	return strings.Join(res, ", ")
}()

// Repository provides access to jobs and their items
type Repository struct {
	store    *store.Store
	notifier Notifier
}

// Notifier gets jobs which just left the active statuses, i.e. completed, failed or partial
type Notifier interface {
	JobFinished(ctx context.Context, job Job) error
}

// New makes a repository on top of the given store
func New(s *store.Store) *Repository {
	return &Repository{store: s}
}

// SetNotifier sets notifier called after a job reaches a terminal status, nil disables notifications
func (r *Repository) SetNotifier(n Notifier) {
	r.notifier = n
}

// List returns jobs ordered newest first. FilterActive keeps pending and processing jobs only.
func (r *Repository) List(ctx context.Context, filter enums.Filter) ([]Job, error) {
	var query string
	switch filter {
	case enums.FilterAll:
		query = `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, rowid DESC`
	case enums.FilterActive:
		query = `SELECT ` + jobColumns + ` FROM jobs WHERE status IN (` + activeStatuses + `)
			ORDER BY created_at DESC, rowid DESC`
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", common.ErrInvalidRequest, filter)
	}

	var rows []jobRow
	err := r.store.Do(ctx, func(q sqlx.ExtContext) error {
		return sqlx.SelectContext(ctx, q, &rows, query)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	res := make([]Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toJob()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
		}
		res = append(res, job)
	}
	return res, nil
}

// Get returns the job with all its items ordered by creation
func (r *Repository) Get(ctx context.Context, id string) (JobWithItems, error) {
	var res JobWithItems
	err := r.store.Do(ctx, func(q sqlx.ExtContext) error {
		job, err := getJob(ctx, q, id)
		if err != nil {
			return err
		}
		items, err := jobItems(ctx, q, id)
		if err != nil {
			return err
		}
		res = JobWithItems{Job: job, Items: items}
		return nil
	})
	if err != nil {
		return JobWithItems{}, err
	}
	return res, nil
}

// CreateTextToImage creates a pending text-to-image job with one pending item per prompt.
// The first prompt becomes the representative prompt of the job.
func (r *Repository) CreateTextToImage(ctx context.Context, req TextToImageRequest) (JobWithItems, error) {
	prompt := ""
	if len(req.Prompts) > 0 {
		prompt = req.Prompts[0]
	}
	inputs := make([]itemInput, 0, len(req.Prompts))
	for _, p := range req.Prompts {
		inputs = append(inputs, itemInput{prompt: &p})
	}
	return r.create(ctx, enums.ModeTextToImage, prompt, req.Params, inputs)
}

// CreateImageToImage creates a pending image-to-image job with one pending item per image path
func (r *Repository) CreateImageToImage(ctx context.Context, req ImageToImageRequest) (JobWithItems, error) {
	inputs := make([]itemInput, 0, len(req.ImagePaths))
	for _, p := range req.ImagePaths {
		inputs = append(inputs, itemInput{imagePath: &p})
	}
	return r.create(ctx, enums.ModeImageToImage, req.Prompt, req.Params, inputs)
}

// Delete removes the job and all its items. Deleting an absent job is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	err := r.store.Tx(ctx, func(tx *sqlx.Tx) error {
		// items go first explicitly, not relying on the cascade alone
		res, err := tx.ExecContext(ctx, `DELETE FROM job_items WHERE job_id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete items of job %s: %w", id, err)
		}
		items, _ := res.RowsAffected()
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete job %s: %w", id, err)
		}
		log.Printf("[DEBUG] deleted job %s with %d items", id, items)
		return nil
	})
	return err
}

// SetBatch records provider-side batch bookkeeping of the job
func (r *Repository) SetBatch(ctx context.Context, id string, batch Batch) (Job, error) {
	var res Job
	err := r.store.Tx(ctx, func(tx *sqlx.Tx) error {
		upd, err := tx.ExecContext(ctx, `UPDATE jobs SET batch_job_name = ?, batch_temp_file = ?,
			updated_at = MAX(updated_at, ?) WHERE id = ?`,
			toNull(batch.JobName), toNull(batch.TempFile), store.Now(), id)
		if err != nil {
			return fmt.Errorf("failed to update batch of job %s: %w", id, err)
		}
		if n, _ := upd.RowsAffected(); n == 0 {
			return fmt.Errorf("job %s: %w", id, common.ErrNotFound)
		}
		res, err = getJob(ctx, tx, id)
		return err
	})
	if err != nil {
		return Job{}, err
	}
	return res, nil
}

// BatchTempFiles returns batch temp files referenced by pending or processing jobs
func (r *Repository) BatchTempFiles(ctx context.Context) ([]string, error) {
	var res []string
	err := r.store.Do(ctx, func(q sqlx.ExtContext) error {
		return sqlx.SelectContext(ctx, q, &res, `SELECT batch_temp_file FROM jobs
			WHERE status IN (`+activeStatuses+`) AND batch_temp_file IS NOT NULL`)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query batch temp files: %w", err)
	}
	return res, nil
}

// itemInput is the input of a single item, exactly one field is set depending on mode
type itemInput struct {
	prompt    *string
	imagePath *string
}

func (r *Repository) create(ctx context.Context, mode enums.Mode, prompt string, params Params,
	inputs []itemInput) (JobWithItems, error) {
	now := store.Now()
	job := jobRow{
		ID:          uuid.NewString(),
		Status:      enums.JobStatusPending.String(),
		Mode:        mode.String(),
		Prompt:      prompt,
		OutputSize:  params.OutputSize,
		Temperature: params.Temperature,
		AspectRatio: params.AspectRatio,
		TotalItems:  len(inputs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	items := make([]itemRow, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, itemRow{
			ID:             uuid.NewString(),
			JobID:          job.ID,
			InputPrompt:    toNull(in.prompt),
			InputImagePath: toNull(in.imagePath),
			Status:         enums.ItemStatusPending.String(),
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	err := r.store.Tx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`) VALUES (:id, :status, :mode, :prompt,
			:output_size, :temperature, :aspect_ratio, :batch_job_name, :batch_temp_file, :total_items,
			:completed_items, :failed_items, :created_at, :updated_at)`, job)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		for _, item := range items {
			_, err := tx.NamedExecContext(ctx, `INSERT INTO job_items (`+itemColumns+`) VALUES (:id, :job_id,
				:input_prompt, :input_image_path, :output_image_path, :status, :error, :created_at, :updated_at)`, item)
			if err != nil {
				return fmt.Errorf("failed to insert item of job %s: %w", job.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return JobWithItems{}, err
	}

	res := JobWithItems{Items: make([]JobItem, 0, len(items))}
	if res.Job, err = job.toJob(); err != nil {
		return JobWithItems{}, err
	}
	for _, row := range items {
		item, err := row.toItem()
		if err != nil {
			return JobWithItems{}, err
		}
		res.Items = append(res.Items, item)
	}
	log.Printf("[INFO] created %s job %s with %d items", mode, job.ID, len(items))
	return res, nil
}

func getJob(ctx context.Context, q sqlx.QueryerContext, id string) (Job, error) {
	var row jobRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
		}
		return Job{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return row.toJob()
}

func jobItems(ctx context.Context, q sqlx.QueryerContext, jobID string) ([]JobItem, error) {
	var rows []itemRow
	err := sqlx.SelectContext(ctx, q, &rows, `SELECT `+itemColumns+` FROM job_items WHERE job_id = ?
		ORDER BY created_at, rowid`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get items of job %s: %w", jobID, err)
	}
	res := make([]JobItem, 0, len(rows))
	for _, row := range rows {
		item, err := row.toItem()
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, nil
}
