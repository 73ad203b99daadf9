package service

import (
	"context"
	"errors"
	"testing"

	"github.com/aquademia/notify-engine/internal/mail"
	"github.com/aquademia/notify-engine/internal/queue"
)

func TestEmailWorkerProcessMessageSuccess(t *testing.T) {
	t.Parallel()

	waited := false
	limiter := &fakeLimiter{
		waitFn: func(ctx context.Context, bucket string) error {
			if bucket != emailRateBucket {
				t.Fatalf("bucket = %s, want %s", bucket, emailRateBucket)
			}
			waited = true
			return nil
		},
	}

	var gotEmail mail.Email
	sender := &fakeSender{
		sendFn: func(ctx context.Context, email mail.Email) (*mail.Response, error) {
			gotEmail = email
			return &mail.Response{StatusCode: 202}, nil
		},
	}

	worker := newTestWorker(t, sender, limiter)

	msg := queue.EmailMessage{
		NotificationID: "n1",
		RecipientID:    "u1",
		Address:        "u1@school.example",
		Subject:        "Assignment graded",
		Body:           "Your lab report has been graded.",
	}
	if err := worker.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if !waited {
		t.Fatal("expected rate limiter wait before sending")
	}
	if gotEmail.To != msg.Address {
		t.Fatalf("email.To = %q, want %q", gotEmail.To, msg.Address)
	}
	if gotEmail.Subject != msg.Subject {
		t.Fatalf("email.Subject = %q, want %q", gotEmail.Subject, msg.Subject)
	}
}

func TestEmailWorkerTransientFailureRequeues(t *testing.T) {
	t.Parallel()

	sendErr := &mail.MailError{StatusCode: 503, Message: "relay overloaded", Transient: true}
	sender := &fakeSender{
		sendFn: func(ctx context.Context, email mail.Email) (*mail.Response, error) {
			return nil, sendErr
		},
	}

	worker := newTestWorker(t, sender, &fakeLimiter{})

	err := worker.processMessage(context.Background(), validEmailMessage())
	if err == nil {
		t.Fatal("expected error for transient failure")
	}
	if errors.Is(err, queue.ErrUnprocessable) {
		t.Fatal("transient failures must requeue, not dead-letter")
	}
}

func TestEmailWorkerPermanentFailureDeadLetters(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		sendFn: func(ctx context.Context, email mail.Email) (*mail.Response, error) {
			return nil, &mail.MailError{StatusCode: 400, Message: "bad address", Transient: false}
		},
	}

	worker := newTestWorker(t, sender, &fakeLimiter{})

	err := worker.processMessage(context.Background(), validEmailMessage())
	if !errors.Is(err, queue.ErrUnprocessable) {
		t.Fatalf("processMessage() error = %v, want ErrUnprocessable", err)
	}
}

func TestEmailWorkerRateLimiterErrorPropagates(t *testing.T) {
	t.Parallel()

	limiter := &fakeLimiter{
		waitFn: func(ctx context.Context, bucket string) error {
			return context.DeadlineExceeded
		},
	}

	sender := &fakeSender{
		sendFn: func(ctx context.Context, email mail.Email) (*mail.Response, error) {
			t.Fatal("send must not run when the rate limiter fails")
			return nil, nil
		},
	}

	worker := newTestWorker(t, sender, limiter)

	if err := worker.processMessage(context.Background(), validEmailMessage()); err == nil {
		t.Fatal("expected rate limiter error to propagate")
	}
}

func TestEmailWorkerStartConsumesQueue(t *testing.T) {
	t.Parallel()

	consumed := make(chan string, 4)
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			consumed <- queueName
			<-ctx.Done()
			return nil
		},
	}

	worker, err := NewEmailWorker(consumer, &fakeSender{}, &fakeLimiter{}, 2, nil)
	if err != nil {
		t.Fatalf("NewEmailWorker() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- worker.Start(ctx)
	}()

	for i := 0; i < 2; i++ {
		if name := <-consumed; name != queue.EmailQueueName {
			t.Fatalf("consumed queue = %s, want %s", name, queue.EmailQueueName)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func newTestWorker(t *testing.T, sender mail.Sender, limiter *fakeLimiter) *EmailWorker {
	t.Helper()

	worker, err := NewEmailWorker(&fakeConsumer{}, sender, limiter, 1, nil)
	if err != nil {
		t.Fatalf("NewEmailWorker() error = %v", err)
	}
	return worker
}

func validEmailMessage() queue.EmailMessage {
	return queue.EmailMessage{
		NotificationID: "n1",
		RecipientID:    "u1",
		Address:        "u1@school.example",
		Subject:        "Assignment graded",
		Body:           "Your lab report has been graded.",
	}
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeSender struct {
	sendFn func(ctx context.Context, email mail.Email) (*mail.Response, error)
}

func (f *fakeSender) Send(ctx context.Context, email mail.Email) (*mail.Response, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, email)
	}
	return &mail.Response{StatusCode: 200}, nil
}

type fakeLimiter struct {
	allowFn func(ctx context.Context, bucket string) (bool, error)
	waitFn  func(ctx context.Context, bucket string) error
}

func (f *fakeLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, bucket)
	}
	return true, nil
}

func (f *fakeLimiter) Wait(ctx context.Context, bucket string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, bucket)
	}
	return nil
}
