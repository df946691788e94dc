// Package batch is an external batch runner: a bounded task queue feeding
// a fixed pool of workers, each running one independent extraction or
// compression job with its own codec state, with results aggregating
// under a single mutex-protected statistics record. It is a thin ambient
// convenience around the single-threaded codec/cab path, not part of the
// codec contract itself — cabriolet's cab and codec packages stay
// single-threaded per job; concurrency only exists across jobs, here.
//
// The worker-pool shape is grounded on distr1-distri's cmd/distri
// scheduler (batch.go): a buffered work channel sized to the job count,
// golang.org/x/sync/errgroup driving a fixed number of workers, and a
// sync.Mutex-protected status/stats record updated from each worker.
package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dolansoft/cabriolet/cerrors"
)

// Job is one independent unit of work: extract or compress one file (or
// one folder), succeed, fail, or be skipped.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Stats aggregates job outcomes across a Run, protected internally by a
// mutex so workers can update it concurrently.
type Stats struct {
	mu        sync.Mutex
	Extracted int
	Skipped   int
	Failed    int
	Bytes     int64
	Errors    []error
}

func (s *Stats) recordSuccess(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Extracted++
	s.Bytes += bytes
}

func (s *Stats) recordSkip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Skipped++
}

func (s *Stats) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed++
	s.Errors = append(s.Errors, err)
}

// Snapshot returns a copy of the current counters, safe to read while a
// Run is still in progress.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Extracted: s.Extracted, Skipped: s.Skipped, Failed: s.Failed, Bytes: s.Bytes}
}

// Result records the outcome of one Job. Run does not produce Results; it
// aggregates outcomes into Stats.
type Result struct {
	Job     Job
	Bytes   int64
	Skipped bool
	Err     error
}

// Runner drives a fixed-size worker pool over a bounded job queue.
type Runner struct {
	Workers int
}

// NewRunner builds a Runner with the given worker count. A non-positive
// count is clamped to 1.
func NewRunner(workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{Workers: workers}
}

// report lets a Job signal that it was skipped rather than run, or report
// how many bytes it produced, without changing Job.Run's plain error
// signature; jobs that only need success/failure don't need this.
type report struct {
	bytes   int64
	skipped bool
}

type reportKey struct{}

// reportFrom returns the *report sink attached to ctx, or nil. Run installs
// one per job automatically, so callers never construct this themselves —
// it exists so Job.Run's body can report skip/byte-count outcomes via
// Skip/Wrote on the context it's handed.
func reportFrom(ctx context.Context) *report {
	r, _ := ctx.Value(reportKey{}).(*report)
	return r
}

// Skip marks the job running under ctx as skipped rather than extracted.
func Skip(ctx context.Context) {
	if r := reportFrom(ctx); r != nil {
		r.skipped = true
	}
}

// Wrote records bytes produced by the job running under ctx.
func Wrote(ctx context.Context, n int64) {
	if r := reportFrom(ctx); r != nil {
		r.bytes += n
	}
}

// Run executes jobs across the Runner's worker pool and returns the
// aggregated Stats. It never returns an error itself — per-job failures
// are recorded in Stats.Errors so one bad file doesn't abort the batch.
func (r *Runner) Run(ctx context.Context, jobs []Job) *Stats {
	stats := &Stats{}
	if len(jobs) == 0 {
		return stats
	}

	work := make(chan Job, len(jobs))
	for _, j := range jobs {
		work <- j
	}
	close(work)

	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < r.Workers; i++ {
		eg.Go(func() error {
			for j := range work {
				rep := &report{}
				jobCtx := context.WithValue(egCtx, reportKey{}, rep)
				err := j.Run(jobCtx)
				switch {
				case err != nil:
					stats.recordFailure(cerrors.Wrap(cerrors.IoError, err, "batch: job %q failed", j.Name))
				case rep.skipped:
					stats.recordSkip()
				default:
					stats.recordSuccess(rep.bytes)
				}
			}
			return nil
		})
	}
	_ = eg.Wait() // workers never return a non-nil error themselves; failures are recorded in stats instead
	return stats
}
