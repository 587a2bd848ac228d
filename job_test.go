package midjourney

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

const gridJobJSON = `{
	"id": "5a4c1c5e-2b6f-4f3e-9a7d-3c9b1e2f4a10",
	"enqueue_time": "2023-12-22 04:33:12.123456",
	"job_type": "v6_diffusion",
	"event_type": "diffusion",
	"full_command": "a cat --ar 16:9 --v 6.0",
	"batch_size": 4,
	"width": 1457,
	"height": 816
}`

const singleJobJSON = `{
	"id": "b7f0e4a2-1c3d-4e5f-8a9b-0c1d2e3f4a5b",
	"enqueue_time": "2023-12-22 04:33:12",
	"job_type": "v6_upscale",
	"event_type": "upscale",
	"full_command": "a cat",
	"batch_size": 1,
	"width": 1024,
	"height": 1024,
	"parent_id": "5a4c1c5e-2b6f-4f3e-9a7d-3c9b1e2f4a10",
	"parent_grid": 2,
	"username": "alice",
	"user_id": "u-1"
}`

func mustDecodeJob(t *testing.T, s string) Job {
	t.Helper()
	var job Job
	if err := json.Unmarshal([]byte(s), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return job
}

func gridJob(id string, batch, width, height int) Job {
	return Job{ID: id, BatchSize: batch, Width: width, Height: height}
}

func TestJob_Unmarshal(t *testing.T) {
	job := mustDecodeJob(t, singleJobJSON)

	if job.ID != "b7f0e4a2-1c3d-4e5f-8a9b-0c1d2e3f4a5b" {
		t.Errorf("ID = %s", job.ID)
	}
	if job.IsGrid() {
		t.Error("IsGrid() = true, want false")
	}
	if job.ParentID == nil || *job.ParentID != "5a4c1c5e-2b6f-4f3e-9a7d-3c9b1e2f4a10" {
		t.Errorf("ParentID = %v", job.ParentID)
	}
	if job.ParentGrid == nil || *job.ParentGrid != 2 {
		t.Errorf("ParentGrid = %v, want 2", job.ParentGrid)
	}
	if job.Username == nil || *job.Username != "alice" {
		t.Errorf("Username = %v, want alice", job.Username)
	}

	grid := mustDecodeJob(t, gridJobJSON)
	if !grid.IsGrid() {
		t.Error("IsGrid() = false, want true")
	}
	if grid.BatchSize != 4 {
		t.Errorf("BatchSize = %d, want 4", grid.BatchSize)
	}
}

func TestJob_Unmarshal_Errors(t *testing.T) {
	tests := []struct {
		name string
		json string
		path string
	}{
		{"missing id", `{"enqueue_time":"x","job_type":"a","event_type":"b","full_command":"c","batch_size":1,"width":1,"height":1}`, "id"},
		{"missing height", `{"id":"j","enqueue_time":"x","job_type":"a","event_type":"b","full_command":"c","batch_size":1,"width":1}`, "height"},
		{"zero batch", `{"id":"j","enqueue_time":"x","job_type":"a","event_type":"b","full_command":"c","batch_size":0,"width":1,"height":1}`, "batch_size"},
		{"wrong type", `{"id":"j","enqueue_time":"x","job_type":"a","event_type":"b","full_command":"c","batch_size":"four","width":1,"height":1}`, "batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var job Job
			err := json.Unmarshal([]byte(tt.json), &job)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want DecodeError", err)
			}
			if de.Path != tt.path {
				t.Errorf("Path = %s, want %s", de.Path, tt.path)
			}
		})
	}
}

func TestJob_Unmarshal_PartialParent(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		wantImage Image
	}{
		{
			"parent without grid",
			`{"id":"j","enqueue_time":"x","job_type":"a","event_type":"b","full_command":"c","batch_size":1,"width":512,"height":256,"parent_id":"p"}`,
			Image{ID: "j", ParentID: "p", Width: 512, Height: 256},
		},
		{
			"grid without parent",
			`{"id":"j","enqueue_time":"x","job_type":"a","event_type":"b","full_command":"c","batch_size":1,"width":512,"height":256,"parent_grid":3}`,
			Image{ID: "j", ParentGridIndex: 3, Width: 512, Height: 256},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var job Job
			if err := json.Unmarshal([]byte(tt.json), &job); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}
			if job.IsGrid() {
				t.Error("IsGrid() = true, want false")
			}
			images := job.Images()
			if len(images) != 1 || images[0] != tt.wantImage {
				t.Errorf("Images() = %+v, want [%+v]", images, tt.wantImage)
			}
		})
	}
}

func TestDecodeJobs_PartialParentKeepsPage(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(gridJobJSON),
		json.RawMessage(`{"id":"single","enqueue_time":"x","job_type":"a","event_type":"b","full_command":"c","batch_size":1,"width":1,"height":1,"parent_id":"p"}`),
	}

	jobs, err := decodeJobs("jobs", raw)
	if err != nil {
		t.Fatalf("decodeJobs error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if jobs[1].ID != "single" || jobs[1].IsGrid() {
		t.Errorf("jobs[1] = %+v, want single image", jobs[1])
	}
}

func TestDecodeJobs_Path(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(gridJobJSON),
		json.RawMessage(`{"id":"j"}`),
	}

	_, err := decodeJobs("jobs", raw)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DecodeError", err)
	}
	if de.Path != "jobs[1].enqueue_time" {
		t.Errorf("Path = %s, want jobs[1].enqueue_time", de.Path)
	}
}

func TestDeriveImages_Grid(t *testing.T) {
	for _, n := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("batch=%d", n), func(t *testing.T) {
			job := gridJob("abc", n, 1457, 817)
			images := DeriveImages(job)

			if len(images) != n {
				t.Fatalf("len(images) = %d, want %d", len(images), n)
			}
			for i, img := range images {
				wantID := fmt.Sprintf("abc_%d", i)
				if img.ID != wantID {
					t.Errorf("images[%d].ID = %s, want %s", i, img.ID, wantID)
				}
				if img.ParentID != "abc" {
					t.Errorf("images[%d].ParentID = %s, want abc", i, img.ParentID)
				}
				if img.ParentGridIndex != i {
					t.Errorf("images[%d].ParentGridIndex = %d, want %d", i, img.ParentGridIndex, i)
				}
				if img.Width != 728 || img.Height != 408 {
					t.Errorf("images[%d] = %dx%d, want 728x408", i, img.Width, img.Height)
				}
			}
		})
	}
}

func TestDeriveImages_Single(t *testing.T) {
	job := mustDecodeJob(t, singleJobJSON)
	images := DeriveImages(job)

	if len(images) != 1 {
		t.Fatalf("len(images) = %d, want 1", len(images))
	}
	img := images[0]
	if img.ID != job.ID {
		t.Errorf("ID = %s, want %s", img.ID, job.ID)
	}
	if img.ParentID != *job.ParentID || img.ParentGridIndex != 2 {
		t.Errorf("parent = %s/%d, want %s/2", img.ParentID, img.ParentGridIndex, *job.ParentID)
	}
	if img.Width != 1024 || img.Height != 1024 {
		t.Errorf("size = %dx%d, want 1024x1024", img.Width, img.Height)
	}
}

func TestDeriveImages_Deterministic(t *testing.T) {
	a := DeriveImages(mustDecodeJob(t, gridJobJSON))
	b := mustDecodeJob(t, gridJobJSON).Images()

	if len(a) != len(b) {
		t.Fatalf("len = %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("images[%d] = %+v and %+v", i, a[i], b[i])
		}
	}
}

func TestAspectRatio(t *testing.T) {
	job := gridJob("abc", 4, 1600, 900)
	if got := job.AspectRatio(); math.Abs(got-16.0/9.0) > 1e-9 {
		t.Errorf("AspectRatio() = %f, want %f", got, 16.0/9.0)
	}

	img := Image{Width: 100, Height: 0}
	if got := img.AspectRatio(); !math.IsNaN(got) {
		t.Errorf("AspectRatio() = %f, want NaN", got)
	}
}

func TestJob_EnqueuedAt(t *testing.T) {
	job := mustDecodeJob(t, gridJobJSON)
	got, err := job.EnqueuedAt()
	if err != nil {
		t.Fatalf("EnqueuedAt error: %v", err)
	}
	want := time.Date(2023, 12, 22, 4, 33, 12, 123456000, time.UTC)
	if !got.Equal(want) {
		t.Errorf("EnqueuedAt() = %v, want %v", got, want)
	}

	job.EnqueueTime = "2024-01-09T10:00:00Z"
	if _, err := job.EnqueuedAt(); err != nil {
		t.Errorf("RFC 3339 EnqueuedAt error: %v", err)
	}

	job.EnqueueTime = "yesterday"
	if _, err := job.EnqueuedAt(); err == nil {
		t.Error("expected error for unparseable enqueue time")
	}
}

func TestJob_Command(t *testing.T) {
	job := mustDecodeJob(t, gridJobJSON)
	cmd := job.Command()

	if cmd.Prompt != "a cat" {
		t.Errorf("Prompt = %q, want a cat", cmd.Prompt)
	}
	if v, ok := cmd.Get("v"); !ok || v != "6.0" {
		t.Errorf("Get(v) = %q, %v, want 6.0, true", v, ok)
	}
}
