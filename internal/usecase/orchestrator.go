package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hive-discover/clip-api/internal/adapter/resolver"
	"github.com/hive-discover/clip-api/internal/domain"
	"github.com/hive-discover/clip-api/internal/metrics"
	"github.com/hive-discover/clip-api/internal/port"
)

// Phase is a state of the cycle state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSelecting
	PhaseFanningImages
	PhaseFlushingImages
	PhaseFanningPosts
	PhaseFlushingPosts
	PhaseMarking
	PhaseReporting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSelecting:
		return "selecting"
	case PhaseFanningImages:
		return "fanning-images"
	case PhaseFlushingImages:
		return "flushing-images"
	case PhaseFanningPosts:
		return "fanning-posts"
	case PhaseFlushingPosts:
		return "flushing-posts"
	case PhaseMarking:
		return "marking-processed"
	case PhaseReporting:
		return "reporting"
	default:
		return "unknown"
	}
}

// ErrHardFailure is returned by RunCycle when an image task hard-failed and
// the orchestrator is configured to abort on it.
var ErrHardFailure = errors.New("image task hard failure")

// OrchestratorOptions configures the cycle loop.
type OrchestratorOptions struct {
	PoolSize           int
	TaskTimeout        time.Duration
	IdleSleep          time.Duration
	JobField           string
	AbortOnHardFailure bool
	RequireCommitAck   bool
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	ID          string
	Idle        bool
	Posts       int
	Backlog     int
	Images      int
	Outcomes    map[string]int
	Aggregated  int
	Marked      int
	Withheld    int
	Elapsed     time.Duration
	ImageResult domain.BulkResult
	PostResult  domain.BulkResult
}

// ProgressFunc is called as fan-out tasks complete.
type ProgressFunc func(phase Phase, done, total int)

// Orchestrator runs select, image fan-out, image flush, post fan-out, post
// flush, mark and report as one cycle, and cycles until cancelled.
type Orchestrator struct {
	selector   *BatchSelector
	images     *ImageProcessor
	dedup      *DedupEngine
	aggregator *Aggregator
	store      port.DocumentStore
	heartbeat  port.Heartbeat
	opts       OrchestratorOptions
	log        zerolog.Logger

	// OnProgress is optional.
	OnProgress ProgressFunc
	// OnPhase is optional and observes every state transition.
	OnPhase func(Phase)

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewOrchestrator(
	selector *BatchSelector,
	images *ImageProcessor,
	dedup *DedupEngine,
	aggregator *Aggregator,
	store port.DocumentStore,
	heartbeat port.Heartbeat,
	opts OrchestratorOptions,
	log zerolog.Logger,
) *Orchestrator {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 3
	}
	if opts.JobField == "" {
		opts.JobField = domain.DefaultJobField
	}
	return &Orchestrator{
		selector:   selector,
		images:     images,
		dedup:      dedup,
		aggregator: aggregator,
		store:      store,
		heartbeat:  heartbeat,
		opts:       opts,
		log:        log,
		sleep:      sleepContext,
		now:        time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) enter(p Phase) {
	if o.OnPhase != nil {
		o.OnPhase(p)
	}
}

// Run cycles until ctx is cancelled. The backlog reported by one cycle seeds
// the next cycle's random offset.
func (o *Orchestrator) Run(ctx context.Context) error {
	backlog := 0
	for {
		report, err := o.RunCycle(ctx, backlog)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			metrics.Cycles.WithLabelValues("error").Inc()
			if errors.Is(err, ErrHardFailure) {
				return err
			}
			o.log.Error().Err(err).Msg("cycle failed")
			if err := o.sleep(ctx, o.opts.IdleSleep); err != nil {
				return nil
			}
			continue
		}

		backlog = report.Backlog
		if report.Idle {
			metrics.Cycles.WithLabelValues("idle").Inc()
			if err := o.sleep(ctx, o.opts.IdleSleep); err != nil {
				return nil
			}
			continue
		}
		metrics.Cycles.WithLabelValues("ok").Inc()
	}
}

// imageTask is one unique content hash of the batch and every post that
// references it.
type imageTask struct {
	url   string
	hash  string
	ts    time.Time
	posts []int
}

// postState tracks whether a post's writes were acknowledged.
type postState struct {
	hardFailed bool
	rejected   bool
	keys       []string
}

// RunCycle executes one cycle. An empty batch returns an idle report
// without any writes.
func (o *Orchestrator) RunCycle(ctx context.Context, backlog int) (*CycleReport, error) {
	start := o.now()
	report := &CycleReport{ID: uuid.NewString(), Outcomes: make(map[string]int)}
	log := o.log.With().Str("cycle", report.ID).Logger()

	o.enter(PhaseSelecting)
	sctx, cancel := o.taskContext(ctx)
	batch, err := o.selector.Select(sctx, backlog)
	cancel()
	if err != nil {
		return report, err
	}
	report.Backlog = batch.Total
	report.Posts = len(batch.Posts)
	metrics.Backlog.Set(float64(batch.Total))

	if len(batch.Posts) == 0 {
		report.Idle = true
		o.enter(PhaseIdle)
		return report, nil
	}

	o.dedup.ResetCycle()
	states := make([]postState, len(batch.Posts))

	// images
	o.enter(PhaseFanningImages)
	tasks := collectImageTasks(batch.Posts)
	results := o.fanOutImages(ctx, tasks)
	report.Images = len(tasks)

	imageWriter := NewBulkWriter(o.store, "images", log)
	for i, res := range results {
		report.Outcomes[res.Outcome]++
		metrics.Images.WithLabelValues(res.Outcome).Inc()
		for _, pi := range tasks[i].posts {
			if res.Status == domain.ItemFailed {
				states[pi].hardFailed = true
			}
			for _, m := range res.Mutations {
				states[pi].keys = append(states[pi].keys, m.Key())
			}
			states[pi].keys = append(states[pi].keys, res.Depends...)
		}
		if res.Status == domain.ItemFailed {
			log.Error().Err(res.Err).Str("hash", res.Key).Msg("image task failed")
			if o.opts.AbortOnHardFailure {
				return report, fmt.Errorf("%w: %v", ErrHardFailure, res.Err)
			}
			continue
		}
		imageWriter.Add(res.Mutations...)
	}

	o.enter(PhaseFlushingImages)
	report.ImageResult, err = o.flush(ctx, imageWriter)
	if err != nil {
		return report, err
	}
	o.rememberCommitted(results, report.ImageResult)
	for i := range states {
		for _, k := range states[i].keys {
			if report.ImageResult.Rejected(k) {
				states[i].rejected = true
			}
		}
	}

	// posts
	o.enter(PhaseFanningPosts)
	postWriter := NewBulkWriter(o.store, "posts", log)
	postMuts := o.fanOutPosts(ctx, batch.Posts, states, log)
	for _, m := range postMuts {
		if m != nil {
			postWriter.Add(*m)
			report.Aggregated++
		}
	}

	o.enter(PhaseFlushingPosts)
	report.PostResult, err = o.flush(ctx, postWriter)
	if err != nil {
		return report, err
	}
	for i, m := range postMuts {
		if m != nil && report.PostResult.Rejected(m.Key()) {
			states[i].rejected = true
		}
	}

	// mark
	o.enter(PhaseMarking)
	markWriter := NewBulkWriter(o.store, "mark", log)
	for i, post := range batch.Posts {
		if o.opts.RequireCommitAck && (states[i].hardFailed || states[i].rejected) {
			report.Withheld++
			metrics.Posts.WithLabelValues("withheld").Inc()
			continue
		}
		markWriter.Add(domain.Mutation{
			Op:    domain.OpUpdate,
			Index: post.TargetIndex(),
			ID:    post.ID,
			Doc:   map[string]any{domain.FieldJobs: map[string]any{o.opts.JobField: true}},
		})
	}
	marked := markWriter.Len()
	markResult, err := o.flush(ctx, markWriter)
	if err != nil {
		return report, err
	}
	report.Marked = marked - len(markResult.Failed)
	metrics.Posts.WithLabelValues("marked").Add(float64(report.Marked))

	// report
	o.enter(PhaseReporting)
	report.Elapsed = o.now().Sub(start)
	metrics.ObserveCycle(report.Elapsed)
	log.Info().
		Int("posts", report.Posts).
		Int("backlog", report.Backlog).
		Int("images", report.Images).
		Int("marked", report.Marked).
		Int("withheld", report.Withheld).
		Int64("elapsed_ms", report.Elapsed.Milliseconds()).
		Msgf("Processed %d/%d documents with a total of %d images in %.2f seconds",
			report.Posts, report.Backlog, report.Images, report.Elapsed.Seconds())
	hctx, cancel := o.taskContext(ctx)
	o.heartbeat.Report(hctx, report.Elapsed)
	cancel()

	o.enter(PhaseIdle)
	return report, nil
}

// collectImageTasks deduplicates the batch's URLs by content hash so each
// image is processed once per cycle.
func collectImageTasks(posts []domain.Post) []imageTask {
	var tasks []imageTask
	byHash := make(map[string]int)
	for pi, post := range posts {
		for _, url := range post.Images {
			h := resolver.Hash(url)
			if i, ok := byHash[h]; ok {
				if last := tasks[i].posts[len(tasks[i].posts)-1]; last != pi {
					tasks[i].posts = append(tasks[i].posts, pi)
				}
				continue
			}
			byHash[h] = len(tasks)
			tasks = append(tasks, imageTask{url: url, hash: h, ts: post.Timestamp, posts: []int{pi}})
		}
	}
	return tasks
}

func (o *Orchestrator) fanOutImages(ctx context.Context, tasks []imageTask) []domain.ItemResult {
	results := make([]domain.ItemResult, len(tasks))
	progress := newProgress(o.OnProgress, PhaseFanningImages, len(tasks))

	var g errgroup.Group
	g.SetLimit(o.opts.PoolSize)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			tctx, cancel := o.taskContext(ctx)
			defer cancel()
			results[i] = o.images.Process(tctx, t.url, t.ts)
			progress.step()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) fanOutPosts(ctx context.Context, posts []domain.Post, states []postState, log zerolog.Logger) []*domain.Mutation {
	muts := make([]*domain.Mutation, len(posts))
	failed := make([]bool, len(posts))
	progress := newProgress(o.OnProgress, PhaseFanningPosts, len(posts))

	var g errgroup.Group
	g.SetLimit(o.opts.PoolSize)
	for i, post := range posts {
		i, post := i, post
		g.Go(func() error {
			tctx, cancel := o.taskContext(ctx)
			defer cancel()
			m, err := o.aggregator.Aggregate(tctx, post)
			if err != nil {
				log.Error().Err(err).Str("post", post.ID).Msg("aggregation failed")
				failed[i] = true
			}
			muts[i] = m
			progress.step()
			return nil
		})
	}
	_ = g.Wait()

	for i := range posts {
		switch {
		case failed[i]:
			states[i].hardFailed = true
			metrics.Posts.WithLabelValues("failed").Inc()
		case muts[i] == nil:
			metrics.Posts.WithLabelValues("no_vector").Inc()
		default:
			metrics.Posts.WithLabelValues("aggregated").Inc()
		}
	}
	return muts
}

func (o *Orchestrator) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.TaskTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.opts.TaskTimeout)
}

// flush writes one stage under the task timeout.
func (o *Orchestrator) flush(ctx context.Context, w *BulkWriter) (domain.BulkResult, error) {
	fctx, cancel := o.taskContext(ctx)
	defer cancel()
	return w.Flush(fctx)
}

// rememberCommitted feeds acknowledged cluster hashes to the existence cache.
func (o *Orchestrator) rememberCommitted(results []domain.ItemResult, res domain.BulkResult) {
	var hashes []string
	for _, r := range results {
		if r.Status != domain.ItemSuccess {
			continue
		}
		for _, m := range r.Mutations {
			if res.Rejected(m.Key()) {
				continue
			}
			hashes = append(hashes, domain.Strings(m.Doc[domain.FieldImageHash])...)
		}
	}
	if len(hashes) > 0 {
		o.dedup.Committed(hashes...)
	}
}
