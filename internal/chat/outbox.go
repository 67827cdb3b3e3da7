package chat

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"lanchat/internal/message"
)

const (
	defaultOutboxSize    = 128
	defaultOutboxWorkers = 8
)

var errNoSender = errors.New("no transport configured")

type sendJob struct {
	ip     string
	port   int
	packet message.Packet
	result chan bool
}

// Outbox delivers outbound packets on a fixed pool of workers so a slow or
// unreachable peer never blocks the caller. Each job is attempted once.
type Outbox struct {
	sender  Sender
	metrics *Metrics
	log     *zap.Logger
	workers int
	queue   chan sendJob
}

func NewOutbox(sender Sender, size, workers int, metrics *Metrics, log *zap.Logger) *Outbox {
	if size <= 0 {
		size = defaultOutboxSize
	}
	if workers <= 0 {
		workers = defaultOutboxWorkers
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Outbox{
		sender:  sender,
		metrics: metrics,
		log:     log,
		workers: workers,
		queue:   make(chan sendJob, size),
	}
}

// Enqueue schedules p for delivery to ip:port. The returned channel
// receives exactly one value: true on success, false otherwise. A full
// queue fails the job immediately.
func (o *Outbox) Enqueue(ip string, port int, p message.Packet) <-chan bool {
	result := make(chan bool, 1)
	job := sendJob{ip: ip, port: port, packet: p, result: result}
	select {
	case o.queue <- job:
	default:
		o.log.Warn("outbox full, dropping packet", zap.String("to", ip), zap.String("id", p.MessageID))
		o.metrics.IncSendFailed()
		result <- false
	}
	return result
}

// Run starts the workers and blocks until ctx is done. Jobs still queued
// at that point fail.
func (o *Outbox) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-o.queue:
					if ctx.Err() != nil {
						job.result <- false
						continue
					}
					o.deliver(ctx, job)
				}
			}
		}()
	}
	wg.Wait()
	for {
		select {
		case job := <-o.queue:
			job.result <- false
		default:
			return
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, job sendJob) {
	err := errNoSender
	if o.sender != nil {
		err = o.sender.Send(ctx, job.ip, job.port, job.packet)
	}
	if err != nil {
		o.log.Debug("delivery failed", zap.String("to", job.ip), zap.Int("port", job.port), zap.String("kind", string(job.packet.Kind)), zap.Error(err))
		o.metrics.IncSendFailed()
		job.result <- false
		return
	}
	o.metrics.IncSent()
	job.result <- true
}
