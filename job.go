package midjourney

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var (
	errMissingField = errors.New("missing required field")
	errBatchSize    = errors.New("batch size must be at least 1")
)

// enqueueTimeLayouts are the formats enqueue_time has been observed in.
var enqueueTimeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// Job is a generation request: either a grid holding BatchSize images, or a
// reference to a single image inside another grid job.
type Job struct {
	ID          string `json:"id"`
	EnqueueTime string `json:"enqueue_time"`
	JobType     string `json:"job_type"`
	EventType   string `json:"event_type"`
	FullCommand string `json:"full_command"`
	BatchSize   int    `json:"batch_size"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`

	// Only set on records describing a single image.
	ParentID   *string `json:"parent_id,omitempty"`
	ParentGrid *int    `json:"parent_grid,omitempty"`
	Username   *string `json:"username,omitempty"`
	UserID     *string `json:"user_id,omitempty"`
}

// wireJob mirrors Job with pointers so absent required fields can be told
// apart from zero values.
type wireJob struct {
	ID          *string `json:"id"`
	EnqueueTime *string `json:"enqueue_time"`
	JobType     *string `json:"job_type"`
	EventType   *string `json:"event_type"`
	FullCommand *string `json:"full_command"`
	BatchSize   *int    `json:"batch_size"`
	Width       *int    `json:"width"`
	Height      *int    `json:"height"`
	ParentID    *string `json:"parent_id"`
	ParentGrid  *int    `json:"parent_grid"`
	Username    *string `json:"username"`
	UserID      *string `json:"user_id"`
}

// UnmarshalJSON decodes a job record, rejecting records that are missing
// required fields. The parent fields are independent; a record carrying
// either one is a single image.
func (j *Job) UnmarshalJSON(data []byte) error {
	var w wireJob
	if err := json.Unmarshal(data, &w); err != nil {
		return decodeError(err)
	}

	required := []struct {
		name string
		set  bool
	}{
		{"id", w.ID != nil},
		{"enqueue_time", w.EnqueueTime != nil},
		{"job_type", w.JobType != nil},
		{"event_type", w.EventType != nil},
		{"full_command", w.FullCommand != nil},
		{"batch_size", w.BatchSize != nil},
		{"width", w.Width != nil},
		{"height", w.Height != nil},
	}
	for _, f := range required {
		if !f.set {
			return &DecodeError{Path: f.name, Err: errMissingField}
		}
	}
	if *w.BatchSize < 1 {
		return &DecodeError{Path: "batch_size", Err: errBatchSize}
	}

	*j = Job{
		ID:          *w.ID,
		EnqueueTime: *w.EnqueueTime,
		JobType:     *w.JobType,
		EventType:   *w.EventType,
		FullCommand: *w.FullCommand,
		BatchSize:   *w.BatchSize,
		Width:       *w.Width,
		Height:      *w.Height,
		ParentID:    w.ParentID,
		ParentGrid:  w.ParentGrid,
		Username:    w.Username,
		UserID:      w.UserID,
	}
	return nil
}

// IsGrid reports whether the job is a batch container rather than a
// reference to one image of another job.
func (j Job) IsGrid() bool {
	return j.ParentID == nil && j.ParentGrid == nil
}

// AspectRatio returns width/height, or NaN when the height is zero.
func (j Job) AspectRatio() float64 {
	return aspectRatio(j.Width, j.Height)
}

// Command parses the job's full command into a prompt and parameters.
func (j Job) Command() ParsedCommand {
	return ParseCommand(j.FullCommand)
}

// EnqueuedAt parses EnqueueTime. Timestamps without a zone are taken as UTC.
func (j Job) EnqueuedAt() (time.Time, error) {
	for _, layout := range enqueueTimeLayouts {
		if t, err := time.ParseInLocation(layout, j.EnqueueTime, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &DecodeError{
		Path: "enqueue_time",
		Err:  fmt.Errorf("unrecognized timestamp %q", j.EnqueueTime),
	}
}

// Images returns the images that make up the job. See DeriveImages.
func (j Job) Images() []Image {
	return DeriveImages(j)
}

// Image is one cell of a grid job, or the single image a non-grid job
// refers to. Images are derived, never transmitted.
type Image struct {
	ID              string
	ParentID        string
	ParentGridIndex int
	Width           int
	Height          int
}

// AspectRatio returns width/height, or NaN when the height is zero.
func (img Image) AspectRatio() float64 {
	return aspectRatio(img.Width, img.Height)
}

// DeriveImages expands a job into its images.
//
// A grid yields BatchSize images with ids "{jobID}_{i}", each half the job's
// width and height. A single-image job yields itself with its dimensions
// unchanged. The result depends only on the job, so ids are stable across
// repeated fetches and can be used for de-duplication.
func DeriveImages(job Job) []Image {
	if !job.IsGrid() {
		img := Image{
			ID:     job.ID,
			Width:  job.Width,
			Height: job.Height,
		}
		if job.ParentID != nil {
			img.ParentID = *job.ParentID
		}
		if job.ParentGrid != nil {
			img.ParentGridIndex = *job.ParentGrid
		}
		return []Image{img}
	}

	images := make([]Image, 0, job.BatchSize)
	for i := 0; i < job.BatchSize; i++ {
		images = append(images, Image{
			ID:              job.ID + "_" + strconv.Itoa(i),
			ParentID:        job.ID,
			ParentGridIndex: i,
			Width:           job.Width / 2,
			Height:          job.Height / 2,
		})
	}
	return images
}

func aspectRatio(width, height int) float64 {
	if height == 0 {
		return math.NaN()
	}
	return float64(width) / float64(height)
}

// decodeJobs decodes a list of raw job records, reporting failures with the
// record's position under path.
func decodeJobs(path string, raw []json.RawMessage) ([]Job, error) {
	jobs := make([]Job, 0, len(raw))
	for i, r := range raw {
		var job Job
		if err := json.Unmarshal(r, &job); err != nil {
			return nil, decodeError(err).within(fmt.Sprintf("%s[%d]", path, i))
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// decodeError converts an encoding/json error into a *DecodeError, keeping
// the field path where encoding/json reports one.
func decodeError(err error) *DecodeError {
	var de *DecodeError
	if errors.As(err, &de) {
		return de
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &DecodeError{Path: typeErr.Field, Err: err}
	}
	return &DecodeError{Err: err}
}
