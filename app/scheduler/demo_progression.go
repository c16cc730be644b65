// Package scheduler
package scheduler

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	businessflow "github.com/refermed/refermed/business_flow"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/repository"
	"github.com/refermed/refermed/utils"
)

var (
	progressionsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demo_progressions_scheduled_total",
			Help: "Total number of demo progressions scheduled",
		},
		[]string{"mode"},
	)
	progressionSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demo_progression_steps_total",
			Help: "Total number of demo progression step firings",
		},
		[]string{"target", "result"},
	)
	progressionsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "demo_progressions_cancelled_total",
			Help: "Total number of demo progressions cancelled",
		},
	)
)

// DemoProgressionScheduler drives automated status progression for demo
// referrals. Jobs live in an in-process registry keyed by referral id:
// scheduling the same referral twice is a no-op, a job can be cancelled by
// id, and Shutdown stops every pending timer. Timers are in-memory only and
// do not survive a restart.
type DemoProgressionScheduler struct {
	statusFlow     businessflow.ReferralStatusFlow
	referralRepo   repository.ReferralRepository
	attachmentRepo repository.ReferralAttachmentRepository
	logger         *log.Logger

	baseStep time.Duration
	fastStep time.Duration

	mu     sync.Mutex
	jobs   map[uint][]*time.Timer
	closed bool
}

func NewDemoProgressionScheduler(
	statusFlow businessflow.ReferralStatusFlow,
	referralRepo repository.ReferralRepository,
	attachmentRepo repository.ReferralAttachmentRepository,
	logger *log.Logger,
	baseStep, fastStep time.Duration,
) *DemoProgressionScheduler {
	if logger == nil {
		logger = log.Default()
	}
	if baseStep <= 0 {
		baseStep = utils.DemoBaseStep
	}
	if fastStep <= 0 {
		fastStep = utils.FastProgressionStep
	}
	return &DemoProgressionScheduler{
		statusFlow:     statusFlow,
		referralRepo:   referralRepo,
		attachmentRepo: attachmentRepo,
		logger:         logger,
		baseStep:       baseStep,
		fastStep:       fastStep,
		jobs:           make(map[uint][]*time.Timer),
	}
}

// milestone pairs a target status with the precomputed stamps to apply when
// its timer fires.
type milestone struct {
	target models.ReferralStatus
	stamps repository.StageStamps
}

// ScheduleProgression schedules the standard three-step demo progression.
// Stage stamps are drawn once, up front, from realistic bounded ranges; the
// timers that apply them fire at 1x, 2x and 3x the base step. Returns false
// when a progression for the referral is already registered.
func (s *DemoProgressionScheduler) ScheduleProgression(referralID uint) bool {
	now := utils.UTCNow()

	acceptedAt := now.Add(randDuration(5*time.Minute, 20*time.Minute))
	completedAt := acceptedAt.
		Add(randDuration(2*24*time.Hour, 5*24*time.Hour)).
		Add(randDuration(1*time.Hour, 8*time.Hour))
	postOpAt := completedAt.Add(randDuration(3*24*time.Hour, 7*24*time.Hour))

	milestones := []milestone{
		{
			target: models.ReferralStatusAccepted,
			stamps: repository.StageStamps{AcceptedAt: &acceptedAt, ScheduledAt: &acceptedAt},
		},
		{
			target: models.ReferralStatusSent,
			stamps: repository.StageStamps{AcceptedAt: &acceptedAt, ScheduledAt: &acceptedAt, CompletedAt: &completedAt},
		},
		{
			target: models.ReferralStatusCompleted,
			stamps: repository.StageStamps{AcceptedAt: &acceptedAt, ScheduledAt: &acceptedAt, CompletedAt: &completedAt, PostOpScheduledAt: &postOpAt},
		},
	}

	if !s.register(referralID, milestones, s.baseStep) {
		return false
	}
	progressionsScheduled.WithLabelValues("standard").Inc()
	return true
}

// ScheduleFastProgression schedules a compressed progression where each stage
// stamp is the wall-clock time of its own firing. Returns false when a
// progression for the referral is already registered.
func (s *DemoProgressionScheduler) ScheduleFastProgression(referralID uint) bool {
	milestones := []milestone{
		{target: models.ReferralStatusAccepted},
		{target: models.ReferralStatusSent},
		{target: models.ReferralStatusCompleted},
	}

	if !s.register(referralID, milestones, s.fastStep) {
		return false
	}
	progressionsScheduled.WithLabelValues("fast").Inc()
	return true
}

func (s *DemoProgressionScheduler) register(referralID uint, milestones []milestone, step time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, exists := s.jobs[referralID]; exists {
		return false
	}

	timers := make([]*time.Timer, 0, len(milestones))
	for i, m := range milestones {
		m := m
		last := i == len(milestones)-1
		timers = append(timers, time.AfterFunc(step*time.Duration(i+1), func() {
			s.fire(referralID, m, last)
		}))
	}
	s.jobs[referralID] = timers
	return true
}

// fire applies one milestone. The conditional storage write is the actual
// guard: if a manual transition already moved the referral to or past the
// target, the write affects no row and the step is skipped.
func (s *DemoProgressionScheduler) fire(referralID uint, m milestone, last bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("demo progression: panic on referral %d: %v", referralID, r)
		}
		if last {
			s.mu.Lock()
			delete(s.jobs, referralID)
			s.mu.Unlock()
		}
	}()

	ctx := context.Background()

	stamps := m.stamps
	if stamps.AcceptedAt == nil && stamps.CompletedAt == nil && stamps.PostOpScheduledAt == nil {
		// Fast mode stamps at firing time
		stamps = businessflow.StampsForTarget(m.target, utils.UTCNow())
	}

	advanced, err := s.statusFlow.AdvanceAt(ctx, referralID, m.target, stamps)
	if err != nil {
		progressionSteps.WithLabelValues(m.target.String(), "error").Inc()
		s.logger.Printf("demo progression: referral %d -> %s failed: %v", referralID, m.target, err)
		return
	}
	if !advanced {
		progressionSteps.WithLabelValues(m.target.String(), "skipped").Inc()
		s.logger.Printf("demo progression: referral %d already at or past %s, step skipped", referralID, m.target)
		return
	}

	progressionSteps.WithLabelValues(m.target.String(), "applied").Inc()
	s.logger.Printf("demo progression: referral %d advanced to %s", referralID, m.target)

	if m.target == models.ReferralStatusSent {
		s.attachDemoFiles(ctx, referralID)
	}
}

// attachDemoFiles writes synthetic visit-report attachment metadata after the
// appointment-completed milestone. Best effort; failures are logged per item.
func (s *DemoProgressionScheduler) attachDemoFiles(ctx context.Context, referralID uint) {
	files := []models.ReferralAttachment{
		{FileName: "visit-report.pdf", ContentType: "application/pdf", SizeBytes: 184320},
		{FileName: "treatment-photo.jpg", ContentType: "image/jpeg", SizeBytes: 512000},
	}
	for _, file := range files {
		attachment := file
		attachment.ReferralID = referralID
		attachment.StorageKey = fmt.Sprintf("demo/%d/%s", referralID, attachment.FileName)
		attachment.IsDemo = utils.ToPtr(true)
		if err := s.attachmentRepo.Save(ctx, &attachment); err != nil {
			s.logger.Printf("demo progression: referral %d attachment %s failed: %v", referralID, attachment.FileName, err)
		}
	}
}

// Cancel stops the pending timers for a referral. Reports whether a job was
// registered.
func (s *DemoProgressionScheduler) Cancel(referralID uint) bool {
	s.mu.Lock()
	timers, exists := s.jobs[referralID]
	delete(s.jobs, referralID)
	s.mu.Unlock()

	if !exists {
		return false
	}
	for _, t := range timers {
		t.Stop()
	}
	progressionsCancelled.Inc()
	return true
}

// Shutdown cancels every pending job and rejects new scheduling.
func (s *DemoProgressionScheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, timers := range s.jobs {
		for _, t := range timers {
			t.Stop()
		}
		delete(s.jobs, id)
	}
}

// ActiveJobs returns the number of referrals with pending progressions.
func (s *DemoProgressionScheduler) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
