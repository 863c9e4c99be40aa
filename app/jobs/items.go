package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/nanoledger/app/common"
	"github.com/umputun/nanoledger/app/store"
	"github.com/umputun/nanoledger/app/store/enums"
)

// TransitionItem moves an item one step along pending -> processing -> completed|failed and
// recomputes counters and status of the owning job in the same transaction.
func (r *Repository) TransitionItem(ctx context.Context, itemID string, t Transition) (JobItem, error) {
	if err := t.validate(); err != nil {
		return JobItem{}, fmt.Errorf("item %s: %w", itemID, err)
	}

	var res JobItem
	var prev, job Job
	err := r.store.Tx(ctx, func(tx *sqlx.Tx) error {
		item, err := getItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if !item.Status.CanTransition(t.Status) {
			return fmt.Errorf("%w: item %s %s -> %s", common.ErrInvalidTransition, itemID, item.Status, t.Status)
		}

		var output, errMsg *string
		if t.OutputImagePath != "" {
			output = &t.OutputImagePath
		}
		if t.Error != "" {
			errMsg = &t.Error
		}
		_, err = tx.ExecContext(ctx, `UPDATE job_items SET status = ?, output_image_path = ?, error = ?,
			updated_at = MAX(updated_at, ?) WHERE id = ?`,
			t.Status, toNull(output), toNull(errMsg), store.Now(), itemID)
		if err != nil {
			return fmt.Errorf("failed to update item %s: %w", itemID, err)
		}

		if prev, job, err = recompute(ctx, tx, item.JobID); err != nil {
			return err
		}
		res, err = getItem(ctx, tx, itemID)
		return err
	})
	if err != nil {
		return JobItem{}, err
	}
	log.Printf("[DEBUG] item %s of job %s is %s", itemID, res.JobID, res.Status)
	r.notifyFinished(ctx, prev, job)
	return res, nil
}

// RecomputeAggregates recounts completed and failed items of the job and derives its status
func (r *Repository) RecomputeAggregates(ctx context.Context, jobID string) (Job, error) {
	var prev, res Job
	err := r.store.Tx(ctx, func(tx *sqlx.Tx) (err error) {
		prev, res, err = recompute(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return Job{}, err
	}
	r.notifyFinished(ctx, prev, res)
	return res, nil
}

// notifyFinished informs notifier about the job moved from an active status to a terminal one.
// Called after commit and outside of the store lock, notification failure doesn't fail the caller.
func (r *Repository) notifyFinished(ctx context.Context, prev, job Job) {
	if r.notifier == nil || !prev.Status.Active() || job.Status.Active() {
		return
	}
	log.Printf("[INFO] job %s finished as %s, %d/%d completed", job.ID, job.Status, job.CompletedItems, job.TotalItems)
	if err := r.notifier.JobFinished(ctx, job); err != nil {
		log.Printf("[WARN] failed to notify about job %s, %v", job.ID, err)
	}
}

// PendingItems returns up to limit pending items, oldest first. limit <= 0 means no limit.
func (r *Repository) PendingItems(ctx context.Context, limit int) ([]JobItem, error) {
	if limit <= 0 {
		limit = -1 // sqlite treats negative limit as unlimited
	}
	var rows []itemRow
	err := r.store.Do(ctx, func(q sqlx.ExtContext) error {
		return sqlx.SelectContext(ctx, q, &rows, `SELECT `+itemColumns+` FROM job_items WHERE status = 'pending'
			ORDER BY created_at, rowid LIMIT ?`, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query pending items: %w", err)
	}
	res := make([]JobItem, 0, len(rows))
	for _, row := range rows {
		item, err := row.toItem()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
		}
		res = append(res, item)
	}
	return res, nil
}

// itemCounts is a per-status breakdown of job items
type itemCounts struct {
	Pending    int `db:"pending"`
	Processing int `db:"processing"`
	Completed  int `db:"completed"`
	Failed     int `db:"failed"`
}

// status derives job status from its items:
// nothing started yet is pending, anything in flight or partly done is processing,
// all finished is completed, failed or partial depending on the outcome mix.
func (c itemCounts) status() enums.JobStatus {
	total := c.Pending + c.Processing + c.Completed + c.Failed
	switch {
	case c.Pending == total:
		return enums.JobStatusPending
	case c.Processing > 0 || c.Pending > 0:
		return enums.JobStatusProcessing
	case c.Failed == 0:
		return enums.JobStatusCompleted
	case c.Completed == 0:
		return enums.JobStatusFailed
	default:
		return enums.JobStatusPartial
	}
}

// recompute updates job counters and status from its items, returns the job before and after the update
func recompute(ctx context.Context, tx *sqlx.Tx, jobID string) (prev, res Job, err error) {
	if prev, err = getJob(ctx, tx, jobID); err != nil {
		return Job{}, Job{}, err
	}

	var counts itemCounts
	err = tx.GetContext(ctx, &counts, `SELECT
			COALESCE(SUM(status = 'pending'), 0) AS pending,
			COALESCE(SUM(status = 'processing'), 0) AS processing,
			COALESCE(SUM(status = 'completed'), 0) AS completed,
			COALESCE(SUM(status = 'failed'), 0) AS failed
		FROM job_items WHERE job_id = ?`, jobID)
	if err != nil {
		return Job{}, Job{}, fmt.Errorf("failed to count items of job %s: %w", jobID, err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE jobs SET completed_items = ?, failed_items = ?, status = ?,
		updated_at = MAX(updated_at, ?) WHERE id = ?`,
		counts.Completed, counts.Failed, counts.status(), store.Now(), jobID)
	if err != nil {
		return Job{}, Job{}, fmt.Errorf("failed to update counters of job %s: %w", jobID, err)
	}
	if res, err = getJob(ctx, tx, jobID); err != nil {
		return Job{}, Job{}, err
	}
	return prev, res, nil
}

func getItem(ctx context.Context, q sqlx.QueryerContext, id string) (JobItem, error) {
	var row itemRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+itemColumns+` FROM job_items WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return JobItem{}, fmt.Errorf("item %s: %w", id, common.ErrNotFound)
		}
		return JobItem{}, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return row.toItem()
}
