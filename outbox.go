package authgate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/authgate/logger"
)

// Outbox event subjects. Consumers subscribe with prefix filters like
// "auth.v1.>".
const (
	SubjectRuleCreated       = "auth.v1.rule.created"
	SubjectRuleUpdated       = "auth.v1.rule.updated"
	SubjectRuleDeleted       = "auth.v1.rule.deleted"
	SubjectRuleToggled       = "auth.v1.rule.toggled"
	SubjectAssignmentCreated = "auth.v1.assignment.created"
	SubjectAssignmentDeleted = "auth.v1.assignment.deleted"
	SubjectAssignmentToggled = "auth.v1.assignment.toggled"
	SubjectHierarchyCreated  = "auth.v1.hierarchy.created"
	SubjectHierarchyDeleted  = "auth.v1.hierarchy.deleted"
)

// OutboxEvent is a domain event recorded transactionally alongside the
// mutation that caused it and published asynchronously.
type OutboxEvent struct {
	ID          int64          `json:"id"`
	Subject     string         `json:"subject"`
	Payload     map[string]any `json:"payload"`
	CreatedAt   time.Time      `json:"created_at"`
	PublishedAt time.Time      `json:"published_at,omitempty"`
}

// OutboxStore persists pending events.
type OutboxStore interface {
	Record(ctx context.Context, e *OutboxEvent) error
	ListPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64) error
}

// Publisher delivers an event to the message stream.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload map[string]any) error
}

// OutboxService records events and dispatches pending ones. Recording never
// fails the surrounding mutation: a lost event is logged and the mutation
// stands.
type OutboxService struct {
	store          OutboxStore
	subjectFilters []string
	log            logger.Logger
}

// NewOutboxService builds an OutboxService. subjectFilters restricts what
// may be published ("auth.v1.>" matches every auth.v1 subject); an empty
// list allows everything.
func NewOutboxService(store OutboxStore, subjectFilters []string, log logger.Logger) *OutboxService {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &OutboxService{store: store, subjectFilters: subjectFilters, log: log}
}

// Record persists an event for later dispatch.
func (s *OutboxService) Record(ctx context.Context, subject string, payload map[string]any) {
	if s == nil || s.store == nil {
		return
	}
	e := &OutboxEvent{Subject: subject, Payload: payload, CreatedAt: time.Now()}
	if err := s.store.Record(ctx, e); err != nil {
		s.log.Error("record outbox event", "subject", subject, "error", err.Error())
	}
}

// Dispatch publishes up to limit pending events through pub, marking each
// published on success. A publish failure stops the batch so ordering is
// preserved on retry.
func (s *OutboxService) Dispatch(ctx context.Context, pub Publisher, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	pending, err := s.store.ListPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending outbox events: %w", err)
	}
	published := 0
	for _, e := range pending {
		if err := s.assertSubjectAllowed(e.Subject); err != nil {
			return published, err
		}
		if err := pub.Publish(ctx, e.Subject, e.Payload); err != nil {
			return published, fmt.Errorf("publish outbox event %d: %w", e.ID, err)
		}
		if err := s.store.MarkPublished(ctx, e.ID); err != nil {
			return published, fmt.Errorf("mark outbox event %d published: %w", e.ID, err)
		}
		published++
	}
	return published, nil
}

// assertSubjectAllowed checks the subject against the configured filters.
// A filter ending in ">" matches any suffix after its prefix.
func (s *OutboxService) assertSubjectAllowed(subject string) error {
	if len(s.subjectFilters) == 0 {
		return nil
	}
	for _, f := range s.subjectFilters {
		if f == subject {
			return nil
		}
		if strings.HasSuffix(f, ">") && strings.HasPrefix(subject, strings.TrimSuffix(f, ">")) {
			return nil
		}
	}
	return fmt.Errorf("subject %q not allowed by configured filters", subject)
}
