package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"epubllm/internal/epub"
	"epubllm/internal/translation"
)

// JobState is the lifecycle of a translation job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobCancelled JobState = "cancelled"
	JobFailed    JobState = "failed"
)

func (s JobState) finished() bool {
	return s == JobDone || s == JobCancelled || s == JobFailed
}

// Job is one uploaded book being translated.
type Job struct {
	ID         string                  `json:"id"`
	Filename   string                  `json:"filename"`
	Title      string                  `json:"title,omitempty"`
	SourceLang string                  `json:"source_lang"`
	TargetLang string                  `json:"target_lang"`
	FormatOnly bool                    `json:"format_only,omitempty"`
	State      JobState                `json:"state"`
	Progress   float64                 `json:"progress_percent"`
	Status     string                  `json:"status,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Chapters   []epub.Chapter          `json:"chapters,omitempty"`
	Report     *translation.BookReport `json:"report,omitempty"`
	HasOutput  bool                    `json:"has_output"`
	CreatedAt  time.Time               `json:"created_at"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`

	cancel context.CancelFunc
}

func inputKey(id string) string  { return "jobs/" + id + "/input.epub" }
func outputKey(id string) string { return "jobs/" + id + "/output.epub" }
func reportKey(id string) string { return "jobs/" + id + "/report.json" }

// JobRegistry tracks jobs by ID. Returned jobs are copies.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]*Job)}
}

func (r *JobRegistry) Add(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

func (r *JobRegistry) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns all jobs, newest first.
func (r *JobRegistry) List() []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		cp := *job
		cp.Chapters = nil
		cp.Report = nil
		out = append(out, cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Update applies fn to the stored job under the lock and returns a copy.
func (r *JobRegistry) Update(id string, fn func(*Job)) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	fn(job)
	return *job, true
}

// Cancel signals a running job. It reports false for unknown or finished jobs.
func (r *JobRegistry) Cancel(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.State.finished() || job.cancel == nil {
		return Job{}, false
	}
	job.cancel()
	job.Status = "Cancellation requested"
	return *job, true
}

// CancelAll signals every unfinished job.
func (r *JobRegistry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if !job.State.finished() && job.cancel != nil {
			job.cancel()
		}
	}
}

// jobReporter feeds run progress into the registry and the hub.
type jobReporter struct {
	id   string
	jobs *JobRegistry
	hub  *Hub
}

func (r *jobReporter) Status(message string) {
	job, ok := r.jobs.Update(r.id, func(j *Job) { j.Status = message })
	if ok {
		r.broadcast(MessageTypeJobStatus, job)
	}
}

func (r *jobReporter) Progress(percent float64) {
	job, ok := r.jobs.Update(r.id, func(j *Job) {
		if percent > j.Progress {
			j.Progress = percent
		}
	})
	if ok {
		r.broadcast(MessageTypeJobProgress, job)
	}
}

func (r *jobReporter) broadcast(t MessageType, job Job) {
	r.hub.publishJob(t, progressMessage(job))
}

func progressMessage(job Job) JobProgressMessage {
	return JobProgressMessage{
		JobID:           job.ID,
		State:           string(job.State),
		ProgressPercent: job.Progress,
		Status:          job.Status,
	}
}
