package workflows

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"followup_backend/internal/entities"
	"followup_backend/internal/workflows/repository"
	"followup_backend/platform/logger"
)

type fakeCustomers struct {
	customer entities.Customer
	err      error
}

func (f fakeCustomers) GetCustomer(context.Context, int64) (entities.Customer, error) {
	return f.customer, f.err
}

type fakeDispatcher struct {
	messages []string
	emails   []string
}

func (f *fakeDispatcher) EnqueueMessage(_ context.Context, to, _, _ string) error {
	f.messages = append(f.messages, to)
	return nil
}

func (f *fakeDispatcher) EnqueueEmail(_ context.Context, to, _, _, _ string) error {
	f.emails = append(f.emails, to)
	return nil
}

func strPtr(s string) *string { return &s }

func TestMessageExecutorPrefersPhone(t *testing.T) {
	customer := entities.Customer{ID: 9, Name: "Jamie Rivera", Phone: strPtr("+15551234567"), Email: strPtr("jamie@example.com")}
	dispatcher := &fakeDispatcher{}
	exec := NewMessageExecutor(fakeCustomers{customer: customer}, dispatcher, logger.New("development"))

	inst := repository.Instance{ID: uuid.New(), CustomerID: 9}
	result, err := exec.Execute(context.Background(), inst, repository.Step{Action: "Hi {first_name}"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.SentMessage {
		t.Fatal("expected a sent message")
	}
	if len(dispatcher.messages) != 1 || dispatcher.messages[0] != "+15551234567" {
		t.Fatalf("expected message to the customer's phone, got %v", dispatcher.messages)
	}
	if len(dispatcher.emails) != 0 {
		t.Fatal("email fallback must not fire when the customer has a phone")
	}
}

func TestMessageExecutorFallsBackToEmail(t *testing.T) {
	customer := entities.Customer{ID: 9, Name: "Jamie Rivera", Email: strPtr("jamie@example.com")}
	dispatcher := &fakeDispatcher{}
	exec := NewMessageExecutor(fakeCustomers{customer: customer}, dispatcher, logger.New("development"))

	result, err := exec.Execute(context.Background(), repository.Instance{ID: uuid.New(), CustomerID: 9}, repository.Step{Action: "Hello"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.SentMessage || len(dispatcher.emails) != 1 {
		t.Fatalf("expected email delivery, got %+v", dispatcher)
	}
}

func TestMessageExecutorSkipsOptedOutCustomer(t *testing.T) {
	customer := entities.Customer{ID: 9, Name: "Jamie Rivera", Phone: strPtr("+15551234567"), DoNotContact: true}
	dispatcher := &fakeDispatcher{}
	exec := NewMessageExecutor(fakeCustomers{customer: customer}, dispatcher, logger.New("development"))

	result, err := exec.Execute(context.Background(), repository.Instance{ID: uuid.New(), CustomerID: 9}, repository.Step{Action: "Hello"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.SentMessage {
		t.Fatal("opted-out customer must not receive a message")
	}
	if len(dispatcher.messages) != 0 || len(dispatcher.emails) != 0 {
		t.Fatal("nothing should be enqueued for an opted-out customer")
	}
	if result.Output["skipped"] != "do_not_contact" {
		t.Fatalf("expected do_not_contact skip reason, got %v", result.Output)
	}
}

func TestMessageExecutorMissingCustomerSkips(t *testing.T) {
	exec := NewMessageExecutor(fakeCustomers{err: entities.ErrNotFound}, &fakeDispatcher{}, logger.New("development"))

	result, err := exec.Execute(context.Background(), repository.Instance{ID: uuid.New(), CustomerID: 404}, repository.Step{Action: "Hello"})
	if err != nil {
		t.Fatalf("a vanished customer is a skip, not a failure: %v", err)
	}
	if result.SentMessage {
		t.Fatal("no message for a missing customer")
	}
}

func TestRenderAction(t *testing.T) {
	customer := entities.Customer{Name: "Jamie Rivera"}
	inst := repository.Instance{Context: map[string]any{"status": "Open", "totalCents": 250000}}

	got := renderAction("Hi {first_name}, {customer_name}'s estimate is {status} ({missing})", customer, inst)
	want := "Hi Jamie, Jamie Rivera's estimate is Open ({missing})"
	if got != want {
		t.Fatalf("renderAction = %q, want %q", got, want)
	}
}
