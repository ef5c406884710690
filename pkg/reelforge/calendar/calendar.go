// Package calendar maintains the content-slot index for the publishing plan:
// reservations, time and topic conflict detection, optimal-slot suggestion
// and gap analysis. Conflicts are surfaced, never rejected, so planning UIs
// can visualize impossibility.
package calendar

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/jholhewres/reelforge/pkg/reelforge/clock"
)

// SlotStatus is the lifecycle state of a content slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotReserved  SlotStatus = "reserved"
	SlotScheduled SlotStatus = "scheduled"
	SlotPublished SlotStatus = "published"
	SlotConflict  SlotStatus = "conflict"
)

// statusRank orders the monotonic reserved → scheduled → published chain.
var statusRank = map[SlotStatus]int{
	SlotAvailable: 0,
	SlotReserved:  1,
	SlotScheduled: 2,
	SlotPublished: 3,
}

// Conflict reason tokens recorded on a conflicting slot.
const (
	ReasonMinGap          = "min_gap"
	ReasonDailyCap        = "daily_cap"
	ReasonBlackout        = "blackout"
	ReasonPreferredWindow = "preferred_window"
	ReasonTopicSimilarity = "topic_similarity"
)

// Slot is a calendar reservation for a future publish time, independent of
// whether a job has been created for it.
type Slot struct {
	ID          string        `json:"id"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Duration    time.Duration `json:"duration"`
	Status      SlotStatus    `json:"status"`

	// JobID back-references the job realizing this slot, if any.
	JobID string `json:"job_id,omitempty"`

	Topic     string     `json:"topic,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	PublishAt *time.Time `json:"publish_at,omitempty"`

	// ConflictReasons lists the predicates that fired at reservation time.
	ConflictReasons []string `json:"conflict_reasons,omitempty"`
}

// Config tunes the conflict predicates.
type Config struct {
	// MinGapHours is the minimum spacing between two same-day slots.
	MinGapHours int `yaml:"min_gap_hours"`

	// MaxVideosPerDay caps slots per calendar date. Zero means no cap.
	MaxVideosPerDay int `yaml:"max_videos_per_day"`

	// BlackoutDates are ISO dates (YYYY-MM-DD) on which nothing may be
	// scheduled.
	BlackoutDates []string `yaml:"blackout_dates"`

	// PreferredHours restricts acceptable hours of day. Empty disables the
	// preferred-window predicate.
	PreferredHours []int `yaml:"preferred_hours"`

	// TopicConflicts enables the topic-similarity predicate.
	TopicConflicts bool `yaml:"topic_conflicts"`

	// TopicSimilarityThreshold is the Jaccard score at or above which two
	// topics in a ±7-day window conflict. Default 0.6.
	TopicSimilarityThreshold float64 `yaml:"topic_similarity_threshold"`
}

// topicWindowDays is the half-width of the topic-similarity window.
const topicWindowDays = 7

// Calendar owns the slot index. All access is through its methods; slots are
// referenced from other components by id only.
type Calendar struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	byID     map[string]*Slot
	byDate   map[string][]*Slot
	blackout map[string]bool
}

// New creates a Calendar. Nil clock and logger fall back to the system clock
// and slog.Default().
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Calendar {
	if cfg.TopicSimilarityThreshold <= 0 {
		cfg.TopicSimilarityThreshold = 0.6
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}

	blackout := make(map[string]bool, len(cfg.BlackoutDates))
	for _, d := range cfg.BlackoutDates {
		blackout[d] = true
	}

	return &Calendar{
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		byID:     make(map[string]*Slot),
		byDate:   make(map[string][]*Slot),
		blackout: blackout,
	}
}

// ReserveRequest carries the inputs for a reservation.
type ReserveRequest struct {
	ScheduledAt time.Time
	Topic       string
	Duration    time.Duration
	Tags        []string
	Notes       string
	PublishAt   *time.Time
}

// Reserve inserts a slot at the requested time. Conflict predicates run
// first; if any fire, the slot is inserted with status conflict and the
// reasons recorded. Insertion always succeeds.
func (c *Calendar) Reserve(req ReserveRequest) *Slot {
	c.mu.Lock()
	defer c.mu.Unlock()

	at := req.ScheduledAt.UTC()
	reasons := c.timeConflictsLocked(at, c.byDate[dateKey(at)])
	if c.cfg.TopicConflicts && req.Topic != "" {
		reasons = append(reasons, c.topicConflictsLocked(at, req.Topic)...)
	}

	slot := &Slot{
		ID:              clock.NewID(),
		ScheduledAt:     at,
		Duration:        req.Duration,
		Status:          SlotReserved,
		Topic:           req.Topic,
		Tags:            req.Tags,
		Notes:           req.Notes,
		PublishAt:       req.PublishAt,
		ConflictReasons: reasons,
	}
	if len(reasons) > 0 {
		slot.Status = SlotConflict
	}

	c.insertLocked(slot)
	c.logger.Info("slot reserved",
		"id", slot.ID,
		"scheduled_at", at.Format(time.RFC3339),
		"status", slot.Status,
		"conflicts", strings.Join(reasons, ","),
	)
	return slot
}

// Get returns a slot by id.
func (c *Calendar) Get(id string) (*Slot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[id]
	return s, ok
}

// Remove deletes a slot from both indexes.
func (c *Calendar) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("slot %q not found", id)
	}
	delete(c.byID, id)

	key := dateKey(slot.ScheduledAt)
	day := c.byDate[key]
	for i, s := range day {
		if s.ID == id {
			c.byDate[key] = append(day[:i], day[i+1:]...)
			break
		}
	}
	if len(c.byDate[key]) == 0 {
		delete(c.byDate, key)
	}
	return nil
}

// SlotsOn returns the slots on the given date, sorted by time.
func (c *Calendar) SlotsOn(date time.Time) []*Slot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedCopy(c.byDate[dateKey(date.UTC())])
}

// AttachJob links a slot to the job realizing it and advances the slot to
// scheduled.
func (c *Calendar) AttachJob(slotID, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.byID[slotID]
	if !ok {
		return fmt.Errorf("slot %q not found", slotID)
	}
	slot.JobID = jobID
	if statusRank[slot.Status] < statusRank[SlotScheduled] || slot.Status == SlotConflict {
		slot.Status = SlotScheduled
	}
	return nil
}

// UpdateStatus advances a slot along reserved → scheduled → published.
// Moving backwards is rejected; a conflicted slot may be advanced once the
// operator has resolved it.
func (c *Calendar) UpdateStatus(id string, status SlotStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("slot %q not found", id)
	}
	if status == SlotConflict {
		slot.Status = SlotConflict
		return nil
	}
	if slot.Status != SlotConflict && statusRank[status] < statusRank[slot.Status] {
		return fmt.Errorf("slot %q: cannot move status %s back to %s", id, slot.Status, status)
	}
	slot.Status = status
	return nil
}

// ---------- conflict predicates ----------

// timeConflictsLocked evaluates the time predicates for a candidate instant
// against the given same-day slots (caller must hold mu).
func (c *Calendar) timeConflictsLocked(at time.Time, sameDay []*Slot) []string {
	var reasons []string

	if c.blackout[dateKey(at)] {
		reasons = append(reasons, ReasonBlackout)
	}
	if c.cfg.MaxVideosPerDay > 0 && len(sameDay) >= c.cfg.MaxVideosPerDay {
		reasons = append(reasons, ReasonDailyCap)
	}
	if c.cfg.MinGapHours > 0 {
		minGap := time.Duration(c.cfg.MinGapHours) * time.Hour
		for _, s := range sameDay {
			d := at.Sub(s.ScheduledAt)
			if d < 0 {
				d = -d
			}
			if d < minGap {
				reasons = append(reasons, ReasonMinGap)
				break
			}
		}
	}
	if len(c.cfg.PreferredHours) > 0 && !containsInt(c.cfg.PreferredHours, at.Hour()) {
		reasons = append(reasons, ReasonPreferredWindow)
	}
	return reasons
}

// topicConflictsLocked checks Jaccard similarity of the candidate topic
// against every slot within ±topicWindowDays of the candidate instant.
func (c *Calendar) topicConflictsLocked(at time.Time, topic string) []string {
	candidate := topicTokens(topic)
	if len(candidate) == 0 {
		return nil
	}

	for off := -topicWindowDays; off <= topicWindowDays; off++ {
		for _, s := range c.byDate[dateKey(at.AddDate(0, 0, off))] {
			if s.Topic == "" {
				continue
			}
			if jaccard(candidate, topicTokens(s.Topic)) >= c.cfg.TopicSimilarityThreshold {
				return []string{ReasonTopicSimilarity}
			}
		}
	}
	return nil
}

// topicTokens lowercases the topic, splits on whitespace and trims
// punctuation from both ends of each word, so "Python." and "python"
// compare equal.
func topicTokens(topic string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(topic)) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w != "" {
			tokens[w] = true
		}
	}
	return tokens
}

// jaccard computes |a∩b| / |a∪b| for two token sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// ---------- internals ----------

func (c *Calendar) insertLocked(slot *Slot) {
	c.byID[slot.ID] = slot
	key := dateKey(slot.ScheduledAt)
	c.byDate[key] = append(c.byDate[key], slot)
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func sortedCopy(slots []*Slot) []*Slot {
	out := append([]*Slot(nil), slots...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}
