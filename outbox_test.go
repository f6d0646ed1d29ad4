package authgate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oarkflow/authgate"
	"github.com/oarkflow/authgate/logger"
	"github.com/oarkflow/authgate/stores"
)

type recordingPublisher struct {
	published []string
	failAfter int
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ map[string]any) error {
	if p.failAfter > 0 && len(p.published) >= p.failAfter {
		return errors.New("stream unavailable")
	}
	p.published = append(p.published, subject)
	return nil
}

func TestOutboxDispatchMarksPublished(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryOutboxStore()
	svc := authgate.NewOutboxService(store, []string{"auth.v1.>"}, logger.NewNullLogger())

	svc.Record(ctx, authgate.SubjectRuleCreated, map[string]any{"rule_id": 1})
	svc.Record(ctx, authgate.SubjectRuleDeleted, map[string]any{"rule_id": 1})

	pub := &recordingPublisher{}
	n, err := svc.Dispatch(ctx, pub, 10)
	if err != nil || n != 2 {
		t.Fatalf("dispatch = %d %v", n, err)
	}
	pending, err := store.ListPending(ctx, 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %v %v", pending, err)
	}

	// A second dispatch is a no-op.
	n, err = svc.Dispatch(ctx, pub, 10)
	if err != nil || n != 0 {
		t.Fatalf("second dispatch = %d %v", n, err)
	}
}

func TestOutboxDispatchStopsOnFailure(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryOutboxStore()
	svc := authgate.NewOutboxService(store, nil, logger.NewNullLogger())

	svc.Record(ctx, authgate.SubjectRuleCreated, nil)
	svc.Record(ctx, authgate.SubjectRuleUpdated, nil)
	svc.Record(ctx, authgate.SubjectRuleDeleted, nil)

	pub := &recordingPublisher{failAfter: 1}
	n, err := svc.Dispatch(ctx, pub, 10)
	if err == nil || n != 1 {
		t.Fatalf("expected the batch to stop at the failure, got %d %v", n, err)
	}

	// The unpublished tail stays pending in order.
	pending, _ := store.ListPending(ctx, 10)
	if len(pending) != 2 || pending[0].Subject != authgate.SubjectRuleUpdated {
		t.Fatalf("unexpected pending tail %v", pending)
	}
}

func TestOutboxRejectsDisallowedSubject(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryOutboxStore()
	svc := authgate.NewOutboxService(store, []string{"auth.v1.rule.>"}, logger.NewNullLogger())

	svc.Record(ctx, authgate.SubjectRuleCreated, nil)
	svc.Record(ctx, authgate.SubjectAssignmentCreated, nil)

	pub := &recordingPublisher{}
	n, err := svc.Dispatch(ctx, pub, 10)
	if err == nil {
		t.Fatalf("disallowed subject must stop dispatch")
	}
	if n != 1 || len(pub.published) != 1 || pub.published[0] != authgate.SubjectRuleCreated {
		t.Fatalf("only the allowed subject should publish, got %d %v", n, pub.published)
	}
}
