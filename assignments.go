package authgate

import (
	"context"
	"fmt"

	"github.com/oarkflow/authgate/logger"
)

// AssignmentService manages user-role-store assignments. Mutations
// invalidate the resolver's cached permission sets for the affected user so
// in-process callers see the change immediately; other instances converge
// within the permission-cache TTL.
type AssignmentService struct {
	assignments AssignmentStore
	roles       RoleStore
	resolver    *PermissionResolver
	outbox      *OutboxService
	log         logger.Logger
}

// AssignmentOption configures an AssignmentService.
type AssignmentOption func(*AssignmentService)

// WithAssignmentLogger installs a logger.
func WithAssignmentLogger(l logger.Logger) AssignmentOption {
	return func(s *AssignmentService) { s.log = l }
}

// WithAssignmentOutbox records assignment mutations as outbox events.
func WithAssignmentOutbox(o *OutboxService) AssignmentOption {
	return func(s *AssignmentService) { s.outbox = o }
}

func NewAssignmentService(assignments AssignmentStore, roles RoleStore, resolver *PermissionResolver, opts ...AssignmentOption) *AssignmentService {
	s := &AssignmentService{
		assignments: assignments,
		roles:       roles,
		resolver:    resolver,
		log:         logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assign creates an assignment after checking the role and store exist.
func (s *AssignmentService) Assign(ctx context.Context, a *Assignment) (*Assignment, error) {
	var errs []string
	if _, err := s.roles.GetRole(ctx, a.RoleID); err != nil {
		errs = append(errs, "role does not exist")
	}
	if ok, err := s.assignments.StoreExists(ctx, a.StoreID); err != nil {
		return nil, fmt.Errorf("check store: %w", err)
	} else if !ok {
		errs = append(errs, "store does not exist")
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	if err := s.assignments.Assign(ctx, a); err != nil {
		return nil, fmt.Errorf("assign role: %w", err)
	}
	s.afterMutation(ctx, SubjectAssignmentCreated, a.UserID, a.RoleID, a.StoreID)
	return a, nil
}

// BulkAssign creates several assignments for one user.
func (s *AssignmentService) BulkAssign(ctx context.Context, userID int64, assignments []*Assignment) ([]*Assignment, error) {
	out := make([]*Assignment, 0, len(assignments))
	for _, a := range assignments {
		a.UserID = userID
		created, err := s.Assign(ctx, a)
		if err != nil {
			return out, err
		}
		out = append(out, created)
	}
	return out, nil
}

// Remove deletes an assignment by exact triple.
func (s *AssignmentService) Remove(ctx context.Context, userID, roleID, storeID int64) (bool, error) {
	removed, err := s.assignments.Remove(ctx, userID, roleID, storeID)
	if err != nil {
		return false, fmt.Errorf("remove assignment: %w", err)
	}
	if removed {
		s.afterMutation(ctx, SubjectAssignmentDeleted, userID, roleID, storeID)
	}
	return removed, nil
}

// Toggle flips an existing assignment's active flag.
func (s *AssignmentService) Toggle(ctx context.Context, userID, roleID, storeID int64) (bool, error) {
	toggled, err := s.assignments.Toggle(ctx, userID, roleID, storeID)
	if err != nil {
		return false, fmt.Errorf("toggle assignment: %w", err)
	}
	if toggled {
		s.afterMutation(ctx, SubjectAssignmentToggled, userID, roleID, storeID)
	}
	return toggled, nil
}

// ListByUser returns a user's active assignments, optionally narrowed to a
// store (storeID 0 means all stores).
func (s *AssignmentService) ListByUser(ctx context.Context, userID, storeID int64) ([]*Assignment, error) {
	return s.assignments.ListByUser(ctx, userID, storeID)
}

// ListByStore returns a store's active assignments, optionally narrowed to
// a role (roleID 0 means all roles).
func (s *AssignmentService) ListByStore(ctx context.Context, storeID, roleID int64) ([]*Assignment, error) {
	return s.assignments.ListByStore(ctx, storeID, roleID)
}

func (s *AssignmentService) afterMutation(ctx context.Context, subject string, userID, roleID, storeID int64) {
	if s.resolver != nil {
		s.resolver.InvalidateUser(ctx, userID, storeID)
	}
	if s.outbox != nil {
		s.outbox.Record(ctx, subject, map[string]any{
			"user_id":  userID,
			"role_id":  roleID,
			"store_id": storeID,
		})
	}
	s.log.Debug("assignment mutated", "subject", subject, "user_id", userID, "role_id", roleID, "store_id", storeID)
}
