package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"archive-sync-service/internal/classify"
	"archive-sync-service/internal/logger"
	"archive-sync-service/internal/platform"
	"archive-sync-service/internal/store"
)

// ChannelWorker runs the claim, fetch, persist, checkpoint loop for one
// channel job. It is stateless between invocations; any number of pool
// goroutines may share one.
type ChannelWorker struct {
	store    store.Store
	registry *platform.Registry
	pageSize int
	now      func() time.Time

	// cancelled reports a cooperative cancellation request. It is checked
	// before the claim and between pages, never mid-page.
	cancelled func(jobID string) bool
}

func NewChannelWorker(st store.Store, registry *platform.Registry, pageSize int) *ChannelWorker {
	if pageSize <= 0 || pageSize > platform.MaxPageSize {
		pageSize = platform.MaxPageSize
	}
	return &ChannelWorker{
		store:     st,
		registry:  registry,
		pageSize:  pageSize,
		now:       func() time.Time { return time.Now().UTC() },
		cancelled: func(string) bool { return false },
	}
}

// run is the mutable state of one invocation.
type run struct {
	task     *Task
	job      *store.ChannelSyncJob
	workerID string
	leased   bool
	result   *Result
	log      *zap.Logger
}

// Sync processes task as workerID. A channel leased by another worker
// yields OutcomeAlreadyInProgress and no error. Failures come back as
// *SyncError after the progress row is terminal and the job row records
// the error.
func (w *ChannelWorker) Sync(ctx context.Context, task *Task, workerID string) (*Result, error) {
	if task.WorkerID != "" {
		workerID = task.WorkerID
	}
	r := &run{
		task:     task,
		workerID: workerID,
		result:   &Result{},
		log: logger.Log.With(
			zap.String("jobID", task.JobID),
			zap.String("tenantID", task.TenantID),
			zap.String("channelID", task.ChannelID),
			zap.String("workerID", workerID),
		),
	}

	job, err := w.store.GetChannelJob(ctx, task.JobID)
	if err != nil {
		return w.fail(ctx, r, fmt.Errorf("load channel job: %w", err))
	}
	r.job = job
	if job.Status.Terminal() {
		r.log.Info("Channel job already finished, skipping", zap.String("status", string(job.Status)))
		r.result.Outcome = Outcome(job.Status)
		return r.result, nil
	}
	if w.cancelled(job.ID) {
		return w.cancel(ctx, r)
	}

	lease, err := w.store.ClaimChannel(ctx, task.TenantID, task.ChannelID, workerID)
	if err != nil {
		return w.fail(ctx, r, fmt.Errorf("claim channel: %w", err))
	}
	if lease == nil {
		r.log.Info("Channel already in progress, not fetching")
		r.result.Outcome = OutcomeAlreadyInProgress
		w.finishJob(ctx, r, store.JobCancelled)
		return r.result, nil
	}
	r.leased = true
	r.result.Reclaimed = lease.Reclaimed
	defer func() {
		// No-op once MarkCompleted or MarkFailed has cleared the holder.
		if _, err := w.store.ReleaseChannel(context.WithoutCancel(ctx), task.TenantID, task.ChannelID, workerID); err != nil {
			r.log.Warn("Failed to release channel lease", zap.Error(err))
		}
	}()

	now := w.now()
	job.Status = store.JobInProgress
	job.WorkerID = &workerID
	job.Attempts = task.Attempt
	job.ErrorDetails = nil
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	if err := w.store.UpdateChannelJob(ctx, job); err != nil {
		return w.fail(ctx, r, fmt.Errorf("start channel job: %w", err))
	}

	adapter, err := w.registry.Get(task.Platform)
	if err != nil {
		return w.fail(ctx, r, err)
	}

	cursor := resumeCursor(task.SyncType, job, lease)
	r.log.Info("Channel sync started",
		zap.String("syncType", string(task.SyncType)),
		zap.String("cursor", cursor),
		zap.Int("attempt", task.Attempt),
		zap.Bool("reclaimed", lease.Reclaimed),
	)

	final := store.Checkpoint{MessageID: cursor}
	for {
		if w.cancelled(job.ID) {
			return w.cancel(ctx, r)
		}

		page, err := adapter.FetchMessages(ctx, task.PlatformChannelID, platform.FetchOptions{
			AfterMessageID: cursor,
			Limit:          w.pageSize,
		})
		if err != nil {
			return w.fail(ctx, r, fmt.Errorf("fetch messages: %w", err))
		}
		if len(page.Messages) == 0 {
			break
		}

		batch := buildPageBatch(task, page)
		written, err := w.store.WritePage(ctx, batch)
		if err != nil {
			return w.fail(ctx, r, fmt.Errorf("persist page: %w", err))
		}

		// Only after the page is durable.
		last := page.Messages[len(page.Messages)-1].PlatformID
		final = store.Checkpoint{MessageID: last, SyncedAt: w.now()}
		if err := w.store.Checkpoint(ctx, task.TenantID, task.ChannelID, workerID, final); err != nil {
			return w.fail(ctx, r, fmt.Errorf("checkpoint: %w", err))
		}

		cursor = last
		if page.Checkpoint != "" {
			cursor = page.Checkpoint
		}
		job.MessagesProcessed += len(page.Messages)
		job.LastMessageID = last
		if err := w.store.UpdateChannelJob(ctx, job); err != nil {
			return w.fail(ctx, r, fmt.Errorf("record progress: %w", err))
		}

		r.result.Pages++
		r.result.MessagesProcessed += len(page.Messages)
		r.result.LastMessageID = last
		r.log.Debug("Page persisted",
			zap.Int("page", r.result.Pages),
			zap.Int("messages", len(page.Messages)),
			zap.Int("created", len(written.Created)),
			zap.Int("skipped", written.Skipped),
			zap.Int("reactions", written.ReactionsCreated),
			zap.Int("attachments", written.AttachmentsCreated),
			zap.String("checkpoint", last),
		)

		if !page.HasMore {
			break
		}
	}

	final.SyncedAt = w.now()
	if err := w.store.MarkCompleted(ctx, task.TenantID, task.ChannelID, workerID, final); err != nil {
		return w.fail(ctx, r, fmt.Errorf("mark completed: %w", err))
	}
	r.leased = false
	w.finishJob(ctx, r, store.JobCompleted)

	r.result.Outcome = OutcomeCompleted
	r.log.Info("Channel sync completed",
		zap.Int("pages", r.result.Pages),
		zap.Int("messages", r.result.MessagesProcessed),
		zap.String("checkpoint", final.MessageID),
	)
	return r.result, nil
}

// resumeCursor picks where pagination starts. A job that already made
// progress (retry, recovery) continues from its own cursor; otherwise an
// incremental run continues from the channel checkpoint and a full run
// starts from the beginning.
func resumeCursor(syncType store.SyncType, job *store.ChannelSyncJob, lease *store.Lease) string {
	if job.LastMessageID != "" {
		return job.LastMessageID
	}
	if syncType == store.SyncIncremental {
		return lease.Checkpoint.MessageID
	}
	return ""
}

func buildPageBatch(task *Task, page *platform.Page) *store.PageBatch {
	batch := &store.PageBatch{Messages: make([]*store.Message, 0, len(page.Messages))}
	for _, m := range page.Messages {
		id := store.MessageRowID(task.ChannelID, m.PlatformID)
		batch.Messages = append(batch.Messages, &store.Message{
			ID:                id,
			TenantID:          task.TenantID,
			ChannelID:         task.ChannelID,
			PlatformMessageID: m.PlatformID,
			AuthorID:          m.AuthorID,
			Content:           m.Content,
			ReplyToID:         m.ReplyToID,
			CreatedAt:         m.CreatedAt,
			EditedAt:          m.EditedAt,
		})
		for _, re := range m.Reactions {
			batch.Reactions = append(batch.Reactions, &store.MessageEmojiReaction{
				MessageID: id,
				UserID:    re.UserID,
				Emoji:     re.Emoji,
			})
		}
		for _, a := range m.Attachments {
			batch.Attachments = append(batch.Attachments, &store.MessageAttachment{
				ID:                   store.AttachmentRowID(id, a.PlatformID),
				MessageID:            id,
				PlatformAttachmentID: a.PlatformID,
				Filename:             a.Filename,
				URL:                  a.URL,
				ContentType:          a.ContentType,
				Size:                 a.Size,
			})
		}
	}
	return batch
}

// fail classifies err, moves the progress row to failed and records the
// error on the job. The job is left pending when the queue will redeliver.
func (w *ChannelWorker) fail(ctx context.Context, r *run, err error) (*Result, error) {
	if ctx.Err() != nil {
		return w.interrupted(ctx, r, err)
	}

	res := classify.Classify(err)
	retry := r.task.canRetry(res.Class) && !errors.Is(err, store.ErrLeaseLost)
	details := errorDetails(err, res, r.task.Attempt, w.now())
	bg := context.WithoutCancel(ctx)

	if r.leased && !errors.Is(err, store.ErrLeaseLost) {
		if mErr := w.store.MarkFailed(bg, r.task.TenantID, r.task.ChannelID, r.workerID, details); mErr != nil {
			r.log.Warn("Failed to mark progress failed", zap.Error(mErr))
		}
	}
	r.leased = false

	if r.job != nil {
		r.job.ErrorDetails = details
		if retry {
			r.job.Status = store.JobPending
			if uErr := w.store.UpdateChannelJob(bg, r.job); uErr != nil && !errors.Is(uErr, store.ErrJobTerminal) {
				r.log.Warn("Failed to record job error", zap.Error(uErr))
			}
		} else {
			w.finishJob(bg, r, store.JobFailed)
		}
	}

	r.log.Error("Channel sync failed",
		zap.String("kind", string(res.Kind)),
		zap.String("class", string(res.Class)),
		zap.Int("attempt", r.task.Attempt),
		zap.Bool("retry", retry),
		zap.Error(err),
	)

	r.result.Outcome = OutcomeFailed
	return r.result, &SyncError{Kind: res.Kind, Class: res.Class, Retry: retry, Err: err}
}

// interrupted handles shutdown: the lease goes back to pending and the job
// stays non-terminal so the next start recovers it.
func (w *ChannelWorker) interrupted(ctx context.Context, r *run, err error) (*Result, error) {
	if r.leased {
		if _, rErr := w.store.ReleaseChannel(context.WithoutCancel(ctx), r.task.TenantID, r.task.ChannelID, r.workerID); rErr != nil {
			r.log.Warn("Failed to release channel lease", zap.Error(rErr))
		}
		r.leased = false
	}
	r.log.Info("Channel sync interrupted", zap.Error(err))
	return r.result, ctx.Err()
}

func (w *ChannelWorker) cancel(ctx context.Context, r *run) (*Result, error) {
	if r.leased {
		if _, err := w.store.ReleaseChannel(context.WithoutCancel(ctx), r.task.TenantID, r.task.ChannelID, r.workerID); err != nil {
			r.log.Warn("Failed to release channel lease", zap.Error(err))
		}
		r.leased = false
	}
	w.finishJob(ctx, r, store.JobCancelled)
	r.log.Info("Channel sync cancelled", zap.Int("pages", r.result.Pages))
	r.result.Outcome = OutcomeCancelled
	return r.result, nil
}

func (w *ChannelWorker) finishJob(ctx context.Context, r *run, status store.JobStatus) {
	now := w.now()
	r.job.Status = status
	r.job.CompletedAt = &now
	err := w.store.UpdateChannelJob(context.WithoutCancel(ctx), r.job)
	if err != nil && !errors.Is(err, store.ErrJobTerminal) {
		r.log.Warn("Failed to finalise channel job", zap.String("status", string(status)), zap.Error(err))
	}
}

func errorDetails(err error, res classify.Result, attempt int, at time.Time) *store.ErrorDetails {
	d := &store.ErrorDetails{
		Kind:       string(res.Kind),
		Class:      string(res.Class),
		Message:    err.Error(),
		Attempt:    attempt,
		OccurredAt: at,
	}
	var sc classify.StatusCoder
	if errors.As(err, &sc) {
		d.StatusCode = sc.StatusCode()
	}
	var rl *platform.RateLimitError
	if errors.As(err, &rl) {
		d.RetryAfter = rl.RetryAfter
	}
	return d
}

// WorkerPool runs a fixed number of goroutines pulling tasks from a queue.
// Each goroutine has a stable worker id, <prefix>-<index>.
type WorkerPool struct {
	size   int
	prefix string
	queue  *JobQueue
	handle func(ctx context.Context, workerID string, task *Task)
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(size int, prefix string, queue *JobQueue, handle func(ctx context.Context, workerID string, task *Task)) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		size:   size,
		prefix: prefix,
		queue:  queue,
		handle: handle,
		ctx:    ctx,
		cancel: cancel,
	}
}

func WorkerID(prefix string, index int) string {
	return fmt.Sprintf("%s-%d", prefix, index)
}

func (p *WorkerPool) Start() {
	logger.Log.Info("Starting worker pool", zap.Int("workers", p.size), zap.String("prefix", p.prefix))
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(WorkerID(p.prefix, i))
	}
}

// Stop cancels in-flight work and waits for every goroutine to return.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	logger.Log.Info("Stopped worker pool")
}

func (p *WorkerPool) run(workerID string) {
	defer p.wg.Done()
	for {
		task, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			return
		}
		p.handle(p.ctx, workerID, task)
	}
}
