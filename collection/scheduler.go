package collection

import (
	"context"
	"encoding/json"
	"time"

	Logger "github.com/audiencehub/audiencehub/utils/log"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
)

// CollectionTopic is the event bus topic collection jobs are published on.
const CollectionTopic = "collection.cycle"

// CollectionJob asks the executor to run one cycle for an audience.
type CollectionJob struct {
	AudienceID string `json:"audience_id"`
	Reason     string `json:"reason"`
}

const (
	ReasonInitial   = "initial"
	ReasonRecurring = "recurring"
)

// AudienceLister enumerates audiences for the recurring schedule.
// Implemented by storage.AudienceStore.
type AudienceLister interface {
	ListIDs() ([]string, error)
}

// Scheduler publishes collection jobs: an immediate one when an audience is
// created (via Trigger) and a recurring one for every audience on a fixed
// interval. It only decides WHEN cycles happen; the Executor decides how.
type Scheduler struct {
	bus       *gochannel.GoChannel
	audiences AudienceLister
	interval  time.Duration
}

func NewScheduler(bus *gochannel.GoChannel, audiences AudienceLister, interval time.Duration) *Scheduler {
	return &Scheduler{
		bus:       bus,
		audiences: audiences,
		interval:  interval,
	}
}

// Run publishes a job for every audience each interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.publishAll()
		}
	}
}

func (s *Scheduler) publishAll() {
	ids, err := s.audiences.ListIDs()
	if err != nil {
		Logger.Log.Errorf("scheduler: failed to list audiences: %v", err)
		return
	}
	for _, id := range ids {
		if err := s.Trigger(id, ReasonRecurring); err != nil {
			Logger.Log.Errorf("scheduler: failed to publish job for audience %s: %v", id, err)
		}
	}
}

// Trigger publishes a single collection job for the audience.
func (s *Scheduler) Trigger(audienceID string, reason string) error {
	payload, err := json.Marshal(CollectionJob{AudienceID: audienceID, Reason: reason})
	if err != nil {
		return errors.Wrap(err, "failed to marshal collection job")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return s.bus.Publish(CollectionTopic, msg)
}

// CycleRunner is the part of the Orchestrator the Executor needs.
type CycleRunner interface {
	RunCycle(ctx context.Context, audienceID string) (*CycleResult, error)
}

// Executor consumes collection jobs off the bus and runs a cycle per job,
// each on its own goroutine so independent audiences collect concurrently.
// Duplicate triggers are deduped by the runner's single-flight guard.
type Executor struct {
	bus    *gochannel.GoChannel
	runner CycleRunner
}

func NewExecutor(bus *gochannel.GoChannel, runner CycleRunner) *Executor {
	return &Executor{bus: bus, runner: runner}
}

// Run blocks consuming jobs until ctx is done.
func (e *Executor) Run(ctx context.Context) error {
	messages, err := e.bus.Subscribe(ctx, CollectionTopic)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to collection topic")
	}
	for msg := range messages {
		var job CollectionJob
		if err := json.Unmarshal(msg.Payload, &job); err != nil {
			Logger.Log.Errorf("executor: dropping malformed job: %v", err)
			msg.Ack()
			continue
		}
		msg.Ack()

		go func(job CollectionJob) {
			_, err := e.runner.RunCycle(ctx, job.AudienceID)
			if errors.Is(err, ErrCycleInFlight) {
				Logger.Log.Infof("executor: cycle already running for audience %s, skipping %s trigger", job.AudienceID, job.Reason)
				return
			}
			if err != nil {
				Logger.Log.Errorf("executor: cycle for audience %s failed: %v", job.AudienceID, err)
			}
		}(job)
	}
	return nil
}
