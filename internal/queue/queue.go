package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/unclebandit/drip-service/internal/pkg/logger"
)

// TopicDripRuns carries RunJob messages.
const TopicDripRuns = "drip_runs"

// RunJob asks a worker to run one drip, with now shifted by ShiftDays.
type RunJob struct {
	DripID      int64     `json:"drip_id"`
	ShiftDays   int       `json:"shift_days"`
	RequestedAt time.Time `json:"requested_at"`
}

// DecodeRunJob accepts a RunJob as published in-process or as its JSON body
// when it came over the wire.
func DecodeRunJob(payload any) (RunJob, error) {
	switch p := payload.(type) {
	case RunJob:
		return p, nil
	case *RunJob:
		if p == nil {
			return RunJob{}, fmt.Errorf("nil run job")
		}
		return *p, nil
	case []byte:
		var job RunJob
		if err := json.Unmarshal(p, &job); err != nil {
			return RunJob{}, fmt.Errorf("decode run job: %w", err)
		}
		return job, nil
	}
	return RunJob{}, fmt.Errorf("unexpected run job payload %T", payload)
}

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue delivers each message to every subscriber of its topic on
// its own goroutine, retrying failed handlers with linear backoff.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(payload any) error
	inflight   sync.WaitGroup
	MaxRetries int
	Backoff    time.Duration
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

type job struct {
	topic   string
	payload any
	attempt int
}

func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := append([]func(payload any) error(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}
	for _, h := range handlers {
		q.inflight.Add(1)
		go q.process(h, job{topic: topic, payload: payload})
	}
	return nil
}

func (q *InMemoryQueue) process(handler func(payload any) error, j job) {
	defer q.inflight.Done()
	for {
		err := handler(j.payload)
		if err == nil {
			return
		}
		j.attempt++
		if j.attempt > q.MaxRetries {
			logger.Error("job permanently failed", "topic", j.topic, "attempts", j.attempt, "error", err)
			return
		}
		logger.Warn("job failed, retrying", "topic", j.topic, "attempt", j.attempt, "error", err)
		time.Sleep(time.Duration(j.attempt) * q.Backoff)
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished or given up.
func (q *InMemoryQueue) Wait() {
	q.inflight.Wait()
}

// StartRunSubscriber routes drip_runs messages to handle. Malformed payloads
// are dropped rather than retried.
func StartRunSubscriber(q Queue, handle func(RunJob) error) error {
	return q.Subscribe(TopicDripRuns, func(payload any) error {
		j, err := DecodeRunJob(payload)
		if err != nil {
			logger.Error("dropping run job", "error", err)
			return nil
		}
		return handle(j)
	})
}
