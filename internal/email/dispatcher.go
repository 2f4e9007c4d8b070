package email

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"topictalks/internal/logger"
)

const sendTimeout = 30 * time.Second

// Dispatcher queues identity emails and delivers them from background
// workers. Enqueueing never blocks; failures are logged and dropped.
type Dispatcher struct {
	sender Sender
	logger *zap.Logger
	queue  chan Message

	workers int
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher with a queue of queueSize messages.
func NewDispatcher(sender Sender, l *zap.Logger, queueSize, workers int) *Dispatcher {
	if l == nil {
		l = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		sender:  sender,
		logger:  l,
		queue:   make(chan Message, queueSize),
		workers: workers,
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := d.sender.Send(ctx, msg); err != nil {
			d.logger.Error("email delivery failed",
				zap.String("to", logger.MaskEmail(msg.To)),
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (d *Dispatcher) enqueue(msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("email dropped, dispatcher closed", zap.String("subject", msg.Subject))
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.logger.Warn("email dropped, queue full",
			zap.String("to", logger.MaskEmail(msg.To)),
			zap.String("subject", msg.Subject),
		)
	}
}

// SendWelcome queues the registration greeting.
func (d *Dispatcher) SendWelcome(to string) {
	d.enqueue(Message{
		To:      to,
		Subject: "Welcome to TopicTalks",
		Body:    "Your account has been created. Verify your email address from your profile to unlock all features.",
	})
}

// SendOtp queues a verification code.
func (d *Dispatcher) SendOtp(to, code string) {
	d.enqueue(Message{
		To:      to,
		Subject: "Your TopicTalks verification code",
		Body:    fmt.Sprintf("Your verification code is %s. It expires in a few minutes and can be used once.", code),
	})
}

// SendVerified queues the verification confirmation.
func (d *Dispatcher) SendVerified(to string) {
	d.enqueue(Message{
		To:      to,
		Subject: "Email verified",
		Body:    "Your email address has been verified. Thank you!",
	})
}
