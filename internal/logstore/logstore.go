// Package logstore records logged fruits and streams the logbook to live
// subscribers.
//
// Every Subscription receives the full, date-ordered result set for its
// owner: once when it is opened and again after every append. Delivery is
// latest-wins; a slow reader skips intermediate snapshots but always ends up
// with the newest one.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/metrics"
	"github.com/franckalain/fruitbeast/internal/models"
)

var (
	// ErrPersistence wraps every failed store write.
	ErrPersistence = errors.New("error logging fruit")
	// ErrInvalidEntry rejects manual entries missing a date or fruit.
	ErrInvalidEntry = errors.New("invalid log entry")
)

// Store is the persistence needed by the adapter
type Store interface {
	SaveFruitLog(ctx context.Context, entry *models.FruitLogEntry) error
	ListFruitLogs(ctx context.Context, userID string) ([]*models.FruitLogEntry, error)
}

// Snapshot is the logbook as seen by one subscriber
type Snapshot struct {
	Entries []*models.FruitLogEntry   `json:"entries"`
	Days    map[string]*models.DayLog `json:"days"`
}

// ManualEntry is a fruit logged by hand rather than from an analysis
type ManualEntry struct {
	Date     string `json:"date"`
	Fruit    string `json:"fruit"`
	Calories string `json:"calories"`
	Vitamins string `json:"vitamins"`
	Notes    string `json:"notes"`
}

// Adapter writes log entries and fans changes out to subscribers
type Adapter struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	nextID uint64
	seq    uint64 // refresh counter; a higher seq lists a newer logbook
	subs   map[uint64]*Subscription
}

// Option configures an Adapter
type Option func(*Adapter)

// WithClock overrides the clock used for date keys and timestamps
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// New creates an adapter over store
func New(store Store, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		store:  store,
		logger: logger,
		now:    time.Now,
		subs:   make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Append logs an analyzed fruit for userID under today's local date
func (a *Adapter) Append(ctx context.Context, userID string, analysis *models.FruitAnalysis) (*models.FruitLogEntry, error) {
	if analysis == nil {
		return nil, fmt.Errorf("%w: no analysis", ErrInvalidEntry)
	}
	now := a.now()
	entry := &models.FruitLogEntry{
		ID:             uuid.New().String(),
		Date:           models.DateKey(now),
		FruitName:      analysis.FruitName,
		NutritionScore: analysis.NutritionScore,
		Nutrition:      analysis.Nutrition,
		Ripeness:       analysis.Ripeness,
		ShelfPeriod:    analysis.ShelfPeriod,
		WaitTime:       analysis.WaitTime,
		UserID:         userID,
		CreatedAt:      now,
	}
	if err := a.save(ctx, "analysis", entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendManual logs a hand-entered fruit on the given date
func (a *Adapter) AppendManual(ctx context.Context, userID string, m ManualEntry) (*models.FruitLogEntry, error) {
	fruit := strings.TrimSpace(m.Fruit)
	if fruit == "" {
		return nil, fmt.Errorf("%w: fruit is required", ErrInvalidEntry)
	}
	day, err := parseManualDate(m.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	entry := &models.FruitLogEntry{
		ID:        uuid.New().String(),
		Date:      models.DateKey(day),
		FruitName: fruit,
		Calories:  strings.TrimSpace(m.Calories),
		Vitamins:  strings.TrimSpace(m.Vitamins),
		Notes:     strings.TrimSpace(m.Notes),
		UserID:    userID,
		CreatedAt: a.now(),
	}
	if err := a.save(ctx, "manual", entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// parseManualDate accepts HTML date inputs (2025-09-13) and date keys
func parseManualDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("date is required")
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	return models.ParseDateKey(s)
}

func (a *Adapter) save(ctx context.Context, kind string, entry *models.FruitLogEntry) error {
	if err := a.store.SaveFruitLog(ctx, entry); err != nil {
		metrics.FruitLogs.WithLabelValues(kind, metrics.OutcomeFailed).Inc()
		a.logger.Error("failed to save fruit log",
			zap.String("user", entry.UserID),
			zap.String("fruit", entry.FruitName),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	metrics.FruitLogs.WithLabelValues(kind, metrics.OutcomeSuccess).Inc()
	a.logger.Info("fruit logged",
		zap.String("user", entry.UserID),
		zap.String("fruit", entry.FruitName),
		zap.String("date", entry.Date))

	a.notify(ctx, entry.UserID)
	return nil
}

// List loads the current logbook for userID ("" lists every user)
func (a *Adapter) List(ctx context.Context, userID string) (Snapshot, error) {
	entries, err := a.store.ListFruitLogs(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to list fruit logs: %w", err)
	}
	SortByDateDesc(entries)
	if entries == nil {
		entries = []*models.FruitLogEntry{}
	}
	return Snapshot{Entries: entries, Days: GroupByDate(entries)}, nil
}

// Subscription is a live view of one user's logbook. Receive from C until
// it is closed; call Close when done.
type Subscription struct {
	C <-chan Snapshot

	id        uint64
	userID    string
	ch        chan Snapshot
	done      chan struct{}
	delivered uint64 // seq of the last snapshot sent; guarded by adapter.mu
	adapter   *Adapter
	once      sync.Once
}

// Close releases the subscription and closes C. It is safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		a := s.adapter
		a.mu.Lock()
		delete(a.subs, s.id)
		close(s.ch)
		a.mu.Unlock()
		close(s.done)
		metrics.Subscriptions.Dec()
	})
}

// Subscribe opens a live subscription. The initial logbook is already
// queued on C when Subscribe returns. Cancelling ctx closes the subscription.
func (a *Adapter) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	ch := make(chan Snapshot, 1)

	// Register before the initial load so an append racing with Subscribe
	// is never missed.
	a.mu.Lock()
	a.nextID++
	sub := &Subscription{
		C:       ch,
		id:      a.nextID,
		userID:  userID,
		ch:      ch,
		done:    make(chan struct{}),
		adapter: a,
	}
	a.subs[sub.id] = sub
	a.seq++
	seq := a.seq
	a.mu.Unlock()
	metrics.Subscriptions.Inc()

	initial, err := a.List(ctx, userID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	a.mu.Lock()
	if _, open := a.subs[sub.id]; open {
		sub.deliverLocked(seq, initial)
	}
	a.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

func (a *Adapter) notify(ctx context.Context, userID string) {
	// seq is taken after the write, so every List below sees it and every
	// write with a lower seq.
	a.mu.Lock()
	a.seq++
	seq := a.seq
	interested := make(map[string]bool)
	for _, s := range a.subs {
		if s.userID == "" || s.userID == userID {
			interested[s.userID] = true
		}
	}
	a.mu.Unlock()

	for owner := range interested {
		snap, err := a.List(context.WithoutCancel(ctx), owner)
		if err != nil {
			a.logger.Warn("failed to refresh logbook subscribers", zap.String("user", owner), zap.Error(err))
			continue
		}

		a.mu.Lock()
		for _, s := range a.subs {
			if s.userID == owner {
				s.deliverLocked(seq, snap)
			}
		}
		a.mu.Unlock()
	}
}

// deliverLocked replaces any undelivered snapshot with snap unless a newer
// one was already sent. Callers hold adapter.mu, which serializes all
// senders on ch.
func (s *Subscription) deliverLocked(seq uint64, snap Snapshot) {
	if seq <= s.delivered {
		return
	}
	s.delivered = seq
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

// SortByDateDesc orders entries by calendar date, newest day first, and by
// creation time within a day.
func SortByDateDesc(entries []*models.FruitLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		di, erri := models.ParseDateKey(entries[i].Date)
		dj, errj := models.ParseDateKey(entries[j].Date)
		if erri == nil && errj == nil && !di.Equal(dj) {
			return di.After(dj)
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

// GroupByDate builds the calendar view: date key -> fruits logged that day
func GroupByDate(entries []*models.FruitLogEntry) map[string]*models.DayLog {
	days := make(map[string]*models.DayLog)
	for _, e := range entries {
		if e == nil || e.Date == "" {
			continue
		}
		day, ok := days[e.Date]
		if !ok {
			day = &models.DayLog{Fruits: []models.LoggedFruit{}}
			days[e.Date] = day
		}
		day.Fruits = append(day.Fruits, models.LoggedFruit{Name: e.FruitName, Score: e.NutritionScore})
	}
	return days
}
