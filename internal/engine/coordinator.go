package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"agenda/api/internal/agenda"
	"agenda/api/internal/closure"
	"agenda/api/internal/deadline"
	"agenda/api/internal/metrics"
	"agenda/api/internal/notify"
	"agenda/api/internal/util"
)

type Repository interface {
	GetProposal(ctx context.Context, id string) (agenda.Proposal, error)
	CreateProposal(ctx context.Context, p agenda.Proposal) error
	// SaveProposal writes p if the stored version still equals p.Version.
	SaveProposal(ctx context.Context, p agenda.Proposal) error
	ListOpenProposalIDs(ctx context.Context) ([]string, error)
	ListArchiveDue(ctx context.Context, now time.Time) ([]string, error)
	MarkArchived(ctx context.Context, id string, archivedAt time.Time, location string) error
}

type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type Notifier interface {
	Dispatch(ctx context.Context, p agenda.Proposal, intents []notify.Intent) []notify.Notification
}

// Indexer receives every stored snapshot. Implementations must not block.
type Indexer interface {
	IndexProposal(p agenda.Proposal)
}

type Archiver interface {
	Archive(ctx context.Context, p agenda.Proposal) (string, error)
}

type NewProposal struct {
	Title  string
	Author agenda.User
}

type SweepReport struct {
	Visited int `json:"visited"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
}

type Coordinator struct {
	repo        Repository
	locker      Locker
	evaluator   *Evaluator
	deadlines   *deadline.Manager
	closer      *closure.Service
	notifier    Notifier
	indexer     Indexer
	archiver    Archiver
	logger      *slog.Logger
	clock       func() time.Time
	lockTimeout time.Duration
	workers     int
	pending     sync.WaitGroup
}

func NewCoordinator(repo Repository, locker Locker, evaluator *Evaluator, deadlines *deadline.Manager, closer *closure.Service, notifier Notifier) *Coordinator {
	return &Coordinator{
		repo:        repo,
		locker:      locker,
		evaluator:   evaluator,
		deadlines:   deadlines,
		closer:      closer,
		notifier:    notifier,
		logger:      slog.Default().With("component", "coordinator"),
		clock:       time.Now,
		lockTimeout: 10 * time.Second,
		workers:     4,
	}
}

func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

func (c *Coordinator) WithLogger(logger *slog.Logger) *Coordinator {
	c.logger = logger
	return c
}

func (c *Coordinator) WithIndexer(indexer Indexer) *Coordinator {
	c.indexer = indexer
	return c
}

func (c *Coordinator) WithArchiver(archiver Archiver) *Coordinator {
	c.archiver = archiver
	return c
}

func (c *Coordinator) WithSweepWorkers(workers int) *Coordinator {
	if workers > 0 {
		c.workers = workers
	}
	return c
}

func (c *Coordinator) WithLockTimeout(timeout time.Duration) *Coordinator {
	if timeout > 0 {
		c.lockTimeout = timeout
	}
	return c
}

// Now is the coordinator's clock.
func (c *Coordinator) Now() time.Time {
	return c.clock()
}

// Wait blocks until background notification dispatches finish.
func (c *Coordinator) Wait() {
	c.pending.Wait()
}

func (c *Coordinator) Get(ctx context.Context, id string) (agenda.Proposal, error) {
	return c.repo.GetProposal(ctx, id)
}

// Submit creates a proposal at the first level with its initial deadline.
func (c *Coordinator) Submit(ctx context.Context, in NewProposal) (agenda.Proposal, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return agenda.Proposal{}, fmt.Errorf("%w: proposal title is required", agenda.ErrInvalidState)
	}
	if in.Author.ID == "" || in.Author.Rank <= 0 {
		return agenda.Proposal{}, fmt.Errorf("%w: proposal author needs an id and rank", agenda.ErrInvalidState)
	}

	now := c.clock()
	d, err := c.deadlines.Initial(agenda.LevelPending, now)
	if err != nil {
		return agenda.Proposal{}, err
	}
	p := agenda.Proposal{
		ID:             util.NewID("prop"),
		Title:          title,
		Author:         in.Author,
		Level:          agenda.LevelPending,
		PromotedLevel:  agenda.LevelPending,
		Deadline:       &d,
		Votes:          []agenda.Vote{},
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.repo.CreateProposal(ctx, p); err != nil {
		return agenda.Proposal{}, fmt.Errorf("create proposal: %w", err)
	}
	c.logger.Info("proposal submitted", "proposal_id", p.ID, "author_id", p.Author.ID, "deadline", d)
	if c.indexer != nil {
		c.indexer.IndexProposal(p)
	}
	return p, nil
}

// Apply is the single write path for a proposal: lock, load, evaluate, store,
// then notify outside the write.
func (c *Coordinator) Apply(ctx context.Context, id string, ev Event) (Result, error) {
	unlock, err := c.lock(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	p, err := c.repo.GetProposal(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("load proposal %s: %w", id, err)
	}
	if ev.At.IsZero() {
		ev.At = c.clock()
	}
	res, err := c.evaluator.Evaluate(p, ev)
	if err != nil {
		return Result{}, err
	}
	if !res.Changed {
		return res, nil
	}

	if err := c.repo.SaveProposal(ctx, res.Proposal); err != nil {
		return Result{}, fmt.Errorf("save proposal %s: %w", id, err)
	}
	res.Proposal.Version++

	for _, change := range res.LevelChanges {
		metrics.RecordLevelTransition(change.From.String(), change.To.String())
	}
	if res.Closed && res.Proposal.Closure != nil {
		metrics.RecordClosure(string(res.Proposal.Closure.Reason))
		c.logger.Info("proposal closed", "proposal_id", id, "reason", res.Proposal.Closure.Reason, "archive_at", res.Proposal.Closure.ArchiveAt)
	}
	c.publish(ctx, res.Proposal, res.Intents)
	return res, nil
}

func (c *Coordinator) lock(ctx context.Context, id string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	defer cancel()
	unlock, err := c.locker.Lock(lockCtx, "proposal:"+id)
	if err != nil {
		return nil, fmt.Errorf("lock proposal %s: %w", id, err)
	}
	return unlock, nil
}

// publish hands the stored snapshot to the index and its intents to the
// notifier in the background. Neither can undo the stored transition.
func (c *Coordinator) publish(ctx context.Context, p agenda.Proposal, intents []notify.Intent) {
	if c.indexer != nil {
		c.indexer.IndexProposal(p)
	}
	if len(intents) == 0 || c.notifier == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		dispatchCtx, cancel := context.WithTimeout(detached, 30*time.Second)
		defer cancel()
		c.notifier.Dispatch(dispatchCtx, p, intents)
	}()
}

// Sweep ticks every open proposal. Distinct proposals run concurrently; each
// tick goes through Apply and so waits for in-flight writes to the same
// proposal.
func (c *Coordinator) Sweep(ctx context.Context) (SweepReport, error) {
	started := time.Now()
	defer func() { metrics.ObserveSweep(time.Since(started).Seconds()) }()

	ids, err := c.repo.ListOpenProposalIDs(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list open proposals: %w", err)
	}

	var (
		mu     sync.Mutex
		report SweepReport
		wg     sync.WaitGroup
	)
	slots := make(chan struct{}, c.workers)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		slots <- struct{}{}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-slots }()

			res, err := c.Apply(ctx, id, Event{Kind: EventTick})
			mu.Lock()
			defer mu.Unlock()
			report.Visited++
			switch {
			case err != nil:
				report.Failed++
				metrics.RecordSweepProposal("failed")
				c.logger.Error("deadline sweep failed", "proposal_id", id, "error", err)
			case res.Changed:
				report.Changed++
				metrics.RecordSweepProposal("changed")
			default:
				metrics.RecordSweepProposal("unchanged")
			}
		}(id)
	}
	wg.Wait()

	c.logger.Info("deadline sweep finished", "visited", report.Visited, "changed", report.Changed, "failed", report.Failed, "duration", time.Since(started))
	return report, ctx.Err()
}

// ArchiveDue writes closed proposals past their archive date to the archive
// and marks them archived.
func (c *Coordinator) ArchiveDue(ctx context.Context) (int, error) {
	if c.archiver == nil {
		return 0, nil
	}
	ids, err := c.repo.ListArchiveDue(ctx, c.clock())
	if err != nil {
		return 0, fmt.Errorf("list archive due: %w", err)
	}
	archived := 0
	for _, id := range ids {
		if err := c.archiveOne(ctx, id); err != nil {
			c.logger.Error("archive proposal failed", "proposal_id", id, "error", err)
			continue
		}
		archived++
	}
	return archived, nil
}

func (c *Coordinator) archiveOne(ctx context.Context, id string) error {
	unlock, err := c.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	p, err := c.repo.GetProposal(ctx, id)
	if err != nil {
		return fmt.Errorf("load proposal: %w", err)
	}
	now := c.clock()
	if !c.closer.DueForArchive(p, now) {
		return nil
	}
	location, err := c.archiver.Archive(ctx, p)
	if err != nil {
		return fmt.Errorf("archive snapshot: %w", err)
	}
	if err := c.repo.MarkArchived(ctx, id, now, location); err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}
	p.ArchivedAt = &now
	if c.indexer != nil {
		c.indexer.IndexProposal(p)
	}
	c.logger.Info("proposal archived", "proposal_id", id, "location", location)
	return nil
}
