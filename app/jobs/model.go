package jobs

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/umputun/nanoledger/app/common"
	"github.com/umputun/nanoledger/app/store/enums"
)

// OutputSizes lists supported output sizes
var OutputSizes = []string{"1K", "2K", "4K"}

// AspectRatios lists supported aspect ratios
var AspectRatios = []string{"1:1", "16:9", "9:16", "4:3", "3:4"}

// temperature range accepted by the provider
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Job is a unit of generation work
type Job struct {
	ID             string          `json:"id" yaml:"id"`
	Status         enums.JobStatus `json:"status" yaml:"status"`
	Mode           enums.Mode      `json:"mode" yaml:"mode"`
	Prompt         string          `json:"prompt" yaml:"prompt"`
	OutputSize     string          `json:"output_size" yaml:"output_size"`
	Temperature    float64         `json:"temperature" yaml:"temperature"`
	AspectRatio    string          `json:"aspect_ratio" yaml:"aspect_ratio"`
	BatchJobName   *string         `json:"batch_job_name" yaml:"batch_job_name"`
	BatchTempFile  *string         `json:"batch_temp_file" yaml:"batch_temp_file"`
	TotalItems     int             `json:"total_items" yaml:"total_items"`
	CompletedItems int             `json:"completed_items" yaml:"completed_items"`
	FailedItems    int             `json:"failed_items" yaml:"failed_items"`
	CreatedAt      time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" yaml:"updated_at"`
}

// JobItem is one prompt (text-to-image) or one input image (image-to-image) of a job
type JobItem struct {
	ID              string           `json:"id" yaml:"id"`
	JobID           string           `json:"job_id" yaml:"job_id"`
	InputPrompt     *string          `json:"input_prompt" yaml:"input_prompt"`
	InputImagePath  *string          `json:"input_image_path" yaml:"input_image_path"`
	OutputImagePath *string          `json:"output_image_path" yaml:"output_image_path"`
	Status          enums.ItemStatus `json:"status" yaml:"status"`
	Error           *string          `json:"error" yaml:"error"`
	CreatedAt       time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" yaml:"updated_at"`
}

// JobWithItems is a job with all its items ordered by creation
type JobWithItems struct {
	Job   Job       `json:"job" yaml:"job"`
	Items []JobItem `json:"items" yaml:"items"`
}

// Params are generation parameters shared by both modes
type Params struct {
	OutputSize  string  `json:"output_size" yaml:"output_size"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	AspectRatio string  `json:"aspect_ratio" yaml:"aspect_ratio"`
}

// TextToImageRequest creates a text-to-image job, one item per prompt
type TextToImageRequest struct {
	Prompts []string `json:"prompts" yaml:"prompts"`
	Params  `yaml:",inline"`
}

// ImageToImageRequest creates an image-to-image job, one item per input image, all sharing the prompt
type ImageToImageRequest struct {
	Prompt     string   `json:"prompt" yaml:"prompt"`
	ImagePaths []string `json:"image_paths" yaml:"image_paths"`
	Params     `yaml:",inline"`
}

// Transition is a status change of a single item reported by a generation worker.
// OutputImagePath is required for completed, Error for failed.
type Transition struct {
	Status          enums.ItemStatus `json:"status" yaml:"status"`
	OutputImagePath string           `json:"output_image_path,omitempty" yaml:"output_image_path,omitempty"`
	Error           string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// Batch is provider-side batch bookkeeping of a job, nil clears the value
type Batch struct {
	JobName  *string `json:"batch_job_name" yaml:"batch_job_name"`
	TempFile *string `json:"batch_temp_file" yaml:"batch_temp_file"`
}

// Validate checks generation parameters against supported values
func (p Params) Validate() error {
	if !slices.Contains(OutputSizes, p.OutputSize) {
		return fmt.Errorf("%w: output size %q, allowed %s", common.ErrInvalidRequest, p.OutputSize,
			strings.Join(OutputSizes, ", "))
	}
	if !slices.Contains(AspectRatios, p.AspectRatio) {
		return fmt.Errorf("%w: aspect ratio %q, allowed %s", common.ErrInvalidRequest, p.AspectRatio,
			strings.Join(AspectRatios, ", "))
	}
	if p.Temperature < MinTemperature || p.Temperature > MaxTemperature {
		return fmt.Errorf("%w: temperature %v out of range [%v, %v]", common.ErrInvalidRequest, p.Temperature,
			MinTemperature, MaxTemperature)
	}
	return nil
}

// Validate is the caller-side check of a request. The repository itself accepts empty prompt lists.
func (r TextToImageRequest) Validate() error {
	if len(r.Prompts) == 0 {
		return fmt.Errorf("%w: at least one prompt required", common.ErrInvalidRequest)
	}
	for i, p := range r.Prompts {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: prompt %d is empty", common.ErrInvalidRequest, i+1)
		}
	}
	return r.Params.Validate()
}

// Validate is the caller-side check of a request. The repository itself accepts empty image lists.
func (r ImageToImageRequest) Validate() error {
	if len(r.ImagePaths) == 0 {
		return fmt.Errorf("%w: at least one image required", common.ErrInvalidRequest)
	}
	for i, p := range r.ImagePaths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: image path %d is empty", common.ErrInvalidRequest, i+1)
		}
	}
	return r.Params.Validate()
}

// validate checks transition payload consistency, the state machine itself is checked against the stored item
func (t Transition) validate() error {
	switch t.Status {
	case enums.ItemStatusProcessing:
		if t.OutputImagePath != "" || t.Error != "" {
			return fmt.Errorf("%w: processing takes neither output nor error", common.ErrInvalidRequest)
		}
	case enums.ItemStatusCompleted:
		if t.OutputImagePath == "" {
			return fmt.Errorf("%w: completed item requires output image path", common.ErrInvalidRequest)
		}
		if t.Error != "" {
			return fmt.Errorf("%w: completed item can't have an error", common.ErrInvalidRequest)
		}
	case enums.ItemStatusFailed:
		if t.Error == "" {
			return fmt.Errorf("%w: failed item requires error", common.ErrInvalidRequest)
		}
		if t.OutputImagePath != "" {
			return fmt.Errorf("%w: failed item can't have output image", common.ErrInvalidRequest)
		}
	case enums.ItemStatusPending:
		return fmt.Errorf("%w: item can't go back to pending", common.ErrInvalidTransition)
	default:
		return fmt.Errorf("%w: unknown target status", common.ErrInvalidRequest)
	}
	return nil
}

// jobRow is the database representation of Job
type jobRow struct {
	ID             string         `db:"id"`
	Status         string         `db:"status"`
	Mode           string         `db:"mode"`
	Prompt         string         `db:"prompt"`
	OutputSize     string         `db:"output_size"`
	Temperature    float64        `db:"temperature"`
	AspectRatio    string         `db:"aspect_ratio"`
	BatchJobName   sql.NullString `db:"batch_job_name"`
	BatchTempFile  sql.NullString `db:"batch_temp_file"`
	TotalItems     int            `db:"total_items"`
	CompletedItems int            `db:"completed_items"`
	FailedItems    int            `db:"failed_items"`
	CreatedAt      int64          `db:"created_at"`
	UpdatedAt      int64          `db:"updated_at"`
}

// itemRow is the database representation of JobItem
type itemRow struct {
	ID              string         `db:"id"`
	JobID           string         `db:"job_id"`
	InputPrompt     sql.NullString `db:"input_prompt"`
	InputImagePath  sql.NullString `db:"input_image_path"`
	OutputImagePath sql.NullString `db:"output_image_path"`
	Status          string         `db:"status"`
	Error           sql.NullString `db:"error"`
	CreatedAt       int64          `db:"created_at"`
	UpdatedAt       int64          `db:"updated_at"`
}

// toJob converts a row into Job, unknown enum values are rejected here
func (r jobRow) toJob() (Job, error) {
	status, err := enums.ParseJobStatus(r.Status)
	if err != nil {
		return Job{}, fmt.Errorf("job %s: %w", r.ID, err)
	}
	mode, err := enums.ParseMode(r.Mode)
	if err != nil {
		return Job{}, fmt.Errorf("job %s: %w", r.ID, err)
	}
	return Job{
		ID:             r.ID,
		Status:         status,
		Mode:           mode,
		Prompt:         r.Prompt,
		OutputSize:     r.OutputSize,
		Temperature:    r.Temperature,
		AspectRatio:    r.AspectRatio,
		BatchJobName:   fromNull(r.BatchJobName),
		BatchTempFile:  fromNull(r.BatchTempFile),
		TotalItems:     r.TotalItems,
		CompletedItems: r.CompletedItems,
		FailedItems:    r.FailedItems,
		CreatedAt:      time.UnixMilli(r.CreatedAt),
		UpdatedAt:      time.UnixMilli(r.UpdatedAt),
	}, nil
}

// toItem converts a row into JobItem, unknown statuses are rejected here
func (r itemRow) toItem() (JobItem, error) {
	status, err := enums.ParseItemStatus(r.Status)
	if err != nil {
		return JobItem{}, fmt.Errorf("item %s: %w", r.ID, err)
	}
	return JobItem{
		ID:              r.ID,
		JobID:           r.JobID,
		InputPrompt:     fromNull(r.InputPrompt),
		InputImagePath:  fromNull(r.InputImagePath),
		OutputImagePath: fromNull(r.OutputImagePath),
		Status:          status,
		Error:           fromNull(r.Error),
		CreatedAt:       time.UnixMilli(r.CreatedAt),
		UpdatedAt:       time.UnixMilli(r.UpdatedAt),
	}, nil
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func toNull(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
