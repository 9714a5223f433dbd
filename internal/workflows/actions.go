package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"followup_backend/internal/entities"
	"followup_backend/internal/workflows/repository"
	"followup_backend/platform/logger"
)

// ActionResult is what executing a step produced.
type ActionResult struct {
	// Output is persisted on the step execution row.
	Output map[string]any
	// SentMessage drives the instance message counter.
	SentMessage bool
}

// CustomerGetter is the entity lookup the executor needs.
type CustomerGetter interface {
	GetCustomer(ctx context.Context, id int64) (entities.Customer, error)
}

// Dispatcher hands outbound messages to the delivery queue. The executor
// never talks to the gateway directly; delivery retries belong to the queue.
type Dispatcher interface {
	EnqueueMessage(ctx context.Context, to, body, ref string) error
	EnqueueEmail(ctx context.Context, to, subject, body, ref string) error
}

// MessageExecutor renders a step's action description into an outbound
// message and enqueues it for delivery. Channel selection follows the
// customer's contact data: phone wins, email is the fallback.
type MessageExecutor struct {
	customers  CustomerGetter
	dispatcher Dispatcher
	log        *logger.Logger
}

func NewMessageExecutor(customers CustomerGetter, dispatcher Dispatcher, log *logger.Logger) *MessageExecutor {
	return &MessageExecutor{customers: customers, dispatcher: dispatcher, log: log}
}

func (m *MessageExecutor) Execute(ctx context.Context, inst repository.Instance, step repository.Step) (ActionResult, error) {
	customer, err := m.customers.GetCustomer(ctx, inst.CustomerID)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return ActionResult{Output: map[string]any{"skipped": "customer not found"}}, nil
		}
		return ActionResult{}, fmt.Errorf("load customer %d: %w", inst.CustomerID, err)
	}

	if customer.DoNotContact {
		m.log.Info("skipping outbound message, customer opted out",
			"instanceId", inst.ID, "customerId", customer.ID)
		return ActionResult{Output: map[string]any{"skipped": "do_not_contact"}}, nil
	}

	if m.dispatcher == nil {
		m.log.Warn("skipping outbound message, delivery queue not configured",
			"instanceId", inst.ID, "customerId", customer.ID)
		return ActionResult{Output: map[string]any{"skipped": "delivery disabled"}}, nil
	}

	body := renderAction(step.Action, customer, inst)
	ref := inst.ID.String()

	switch {
	case customer.Phone != nil && *customer.Phone != "":
		if err := m.dispatcher.EnqueueMessage(ctx, *customer.Phone, body, ref); err != nil {
			return ActionResult{}, fmt.Errorf("enqueue message: %w", err)
		}
		return ActionResult{
			Output:      map[string]any{"channel": "message", "to": *customer.Phone},
			SentMessage: true,
		}, nil

	case customer.Email != nil && *customer.Email != "":
		subject := "Update from your service team"
		if err := m.dispatcher.EnqueueEmail(ctx, *customer.Email, subject, body, ref); err != nil {
			return ActionResult{}, fmt.Errorf("enqueue email: %w", err)
		}
		return ActionResult{
			Output:      map[string]any{"channel": "email", "to": *customer.Email},
			SentMessage: true,
		}, nil

	default:
		m.log.Warn("skipping outbound message, customer has no contact data",
			"instanceId", inst.ID, "customerId", customer.ID)
		return ActionResult{Output: map[string]any{"skipped": "no contact data"}}, nil
	}
}

// renderAction substitutes well-known placeholders in the action description.
// Unknown placeholders are left as-is so an operator can spot them in the
// delivered text rather than silently losing content.
func renderAction(description string, customer entities.Customer, inst repository.Instance) string {
	firstName := customer.Name
	if i := strings.IndexByte(firstName, ' '); i > 0 {
		firstName = firstName[:i]
	}

	pairs := []string{
		"{customer_name}", customer.Name,
		"{first_name}", firstName,
	}
	for k, v := range inst.Context {
		if s, ok := v.(string); ok {
			pairs = append(pairs, "{"+k+"}", s)
		}
	}
	return strings.NewReplacer(pairs...).Replace(description)
}
