// Package syncclient implements a polling client that keeps a local
// view of one enrollment's approval status fresh. It backs the
// status-watcher binary and any frontend session that wants live
// updates without a push channel.
package syncclient

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/coop-approval-api/internal/models"
	appErrors "github.com/noah-isme/coop-approval-api/pkg/errors"
)

// StatusReader fetches the current approval status from the source of
// truth.
type StatusReader interface {
	Read(ctx context.Context, enrollmentID string) (*models.EnrollmentApproval, error)
}

// Scheduler abstracts timer waits so the polling loop can be driven
// deterministically in tests.
type Scheduler interface {
	After(d time.Duration) <-chan time.Time
}

type realScheduler struct{}

func (realScheduler) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewScheduler returns the wall-clock scheduler.
func NewScheduler() Scheduler { return realScheduler{} }

// State is the lifecycle state of a sync session.
type State string

// Session states. A session that exhausted its failure budget reports
// StateExhausted and must be restarted explicitly.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateStopped   State = "stopped"
	StateExhausted State = "exhausted"
)

// Config tunes the polling loop.
type Config struct {
	// Interval is the poll period while the source is healthy.
	Interval time.Duration
	// MaxFailures is the number of consecutive failures tolerated
	// before the session gives up.
	MaxFailures int
	// MaxBackoff caps the exponential backoff between failed polls.
	MaxBackoff time.Duration
	// StaleFactor marks the local view stale once the last successful
	// sync is older than StaleFactor * Interval.
	StaleFactor int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Minute
	}
	if c.StaleFactor <= 0 {
		c.StaleFactor = 2
	}
}

// Snapshot is the client's local view at one point in time.
type Snapshot struct {
	EnrollmentID string
	Status       models.ApprovalStatus
	UpdatedAt    time.Time
	LastSyncAt   time.Time
	NextSyncAt   time.Time
	Failures     int
	State        State
}

// Update is published to observers after every successful poll, and
// once with a non-nil Err when the session exhausts its failure budget.
type Update struct {
	Snapshot Snapshot
	Err      error
}

// Client polls the reader on an interval, backing off exponentially on
// failures and stopping after the configured failure budget. All
// methods are safe for concurrent use.
type Client struct {
	reader       StatusReader
	enrollmentID string
	cfg          Config
	sched        Scheduler
	logger       *zap.Logger

	mu       sync.Mutex
	state    State
	err      error
	status   models.ApprovalStatus
	updated  time.Time
	lastSync time.Time
	nextSync time.Time
	failures int

	updates   chan Update
	refreshCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New builds a client for one enrollment. A nil scheduler uses the
// wall clock.
func New(reader StatusReader, enrollmentID string, cfg Config, sched Scheduler, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	if sched == nil {
		sched = NewScheduler()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		reader:       reader,
		enrollmentID: enrollmentID,
		cfg:          cfg,
		sched:        sched,
		logger:       logger,
		state:        StateIdle,
		updates:      make(chan Update, 16),
	}
}

// Updates returns the observer channel. The newest update wins when the
// observer falls behind; the channel survives restarts and is never
// closed.
func (c *Client) Updates() <-chan Update { return c.updates }

// Start begins the polling loop. Starting an already running session
// returns Conflict; a stopped or exhausted session may be restarted
// and its failure count resets.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return appErrors.Clone(appErrors.ErrConflict, "sync session already running")
	}
	c.state = StateRunning
	c.err = nil
	c.failures = 0
	c.refreshCh = make(chan struct{}, 1)
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	refreshCh, stopCh, doneCh := c.refreshCh, c.stopCh, c.doneCh
	c.mu.Unlock()

	go c.loop(ctx, refreshCh, stopCh, doneCh)
	return nil
}

// Stop halts the polling loop and waits for it to exit. Stopping a
// session that is not running is a no-op.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateStopped
	close(c.stopCh)
	doneCh := c.doneCh
	c.mu.Unlock()
	<-doneCh
}

// RefreshOnFocus requests an immediate poll, collapsing bursts into a
// single pending refresh. It has no effect unless the session is
// running.
func (c *Client) RefreshOnFocus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return
	}
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Snapshot returns the current local view.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Client) snapshotLocked() Snapshot {
	return Snapshot{
		EnrollmentID: c.enrollmentID,
		Status:       c.status,
		UpdatedAt:    c.updated,
		LastSyncAt:   c.lastSync,
		NextSyncAt:   c.nextSync,
		Failures:     c.failures,
		State:        c.state,
	}
}

// publish hands an update to the observer channel, discarding the
// oldest buffered update when the observer lags.
func (c *Client) publish(u Update) {
	for {
		select {
		case c.updates <- u:
			return
		default:
			select {
			case <-c.updates:
			default:
			}
		}
	}
}

// Err returns the terminal error of an exhausted session, nil otherwise.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// IsStale reports whether the local view is older than the configured
// staleness window at the given instant.
func (c *Client) IsStale(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSync.IsZero() {
		return true
	}
	return now.Sub(c.lastSync) > time.Duration(c.cfg.StaleFactor)*c.cfg.Interval
}

func (c *Client) loop(ctx context.Context, refreshCh, stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		delay := c.poll(ctx)
		if delay < 0 {
			return
		}

		select {
		case <-ctx.Done():
			c.transition(StateStopped, nil)
			return
		case <-stopCh:
			return
		case <-c.sched.After(delay):
		case <-refreshCh:
		}
	}
}

// poll performs one fetch and returns the delay before the next one,
// or a negative duration when the session must end.
func (c *Client) poll(ctx context.Context) time.Duration {
	approval, err := c.reader.Read(ctx, c.enrollmentID)
	if err != nil {
		c.mu.Lock()
		c.failures++
		failures := c.failures
		c.mu.Unlock()

		c.logger.Warn("status sync failed",
			zap.String("enrollment_id", c.enrollmentID),
			zap.Int("failures", failures),
			zap.Error(err))

		if failures >= c.cfg.MaxFailures {
			c.transition(StateExhausted, appErrors.ErrSyncExhausted)
			c.mu.Lock()
			c.nextSync = time.Time{}
			snap := c.snapshotLocked()
			c.mu.Unlock()
			c.publish(Update{Snapshot: snap, Err: appErrors.ErrSyncExhausted})
			return -1
		}
		delay := c.backoff(failures)
		c.mu.Lock()
		c.nextSync = time.Now().UTC().Add(delay)
		c.mu.Unlock()
		return delay
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.failures = 0
	c.status = approval.Status
	c.updated = approval.UpdatedAt
	c.lastSync = now
	c.nextSync = now.Add(c.cfg.Interval)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(Update{Snapshot: snap})
	return c.cfg.Interval
}

// backoff doubles the interval per consecutive failure, capped.
func (c *Client) backoff(failures int) time.Duration {
	delay := c.cfg.Interval
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	return delay
}

func (c *Client) transition(state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		c.state = state
	}
	if err != nil {
		c.err = err
	}
}
