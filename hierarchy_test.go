package authgate_test

import (
	"context"
	"strings"
	"testing"

	"github.com/oarkflow/authgate"
	"github.com/oarkflow/authgate/stores"
)

type hierarchyFixture struct {
	svc         *authgate.HierarchyService
	roles       *stores.MemoryRoleStore
	assignments *stores.MemoryAssignmentStore
}

func newHierarchyFixture(t *testing.T) *hierarchyFixture {
	t.Helper()
	ctx := context.Background()
	roles := stores.NewMemoryRoleStore()
	assignments := stores.NewMemoryAssignmentStore()
	for _, name := range []string{"admin", "manager", "cashier", "auditor"} {
		if err := roles.CreateRole(ctx, &authgate.Role{Name: name}); err != nil {
			t.Fatalf("create role %s: %v", name, err)
		}
	}
	for _, name := range []string{"downtown", "uptown"} {
		if err := assignments.CreateStore(ctx, &authgate.StoreRecord{Name: name, IsActive: true}); err != nil {
			t.Fatalf("create store %s: %v", name, err)
		}
	}
	svc := authgate.NewHierarchyService(stores.NewMemoryHierarchyStore(), roles, assignments)
	return &hierarchyFixture{svc: svc, roles: roles, assignments: assignments}
}

func (f *hierarchyFixture) addEdge(t *testing.T, higher, lower, store int64) {
	t.Helper()
	if _, err := f.svc.AddEdge(context.Background(), &authgate.HierarchyEdge{
		HigherRoleID: higher, LowerRoleID: lower, StoreID: store,
	}); err != nil {
		t.Fatalf("add edge %d->%d store %d: %v", higher, lower, store, err)
	}
}

func TestHierarchyTransitiveLowerRoles(t *testing.T) {
	f := newHierarchyFixture(t)
	ctx := context.Background()
	// admin(1) -> manager(2) -> cashier(3) in store 1.
	f.addEdge(t, 1, 2, 1)
	f.addEdge(t, 2, 3, 1)

	ids, err := f.svc.TransitiveLowerRoleIDs(ctx, 1, 1)
	if err != nil {
		t.Fatalf("transitive lower: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Fatalf("expected [2 3], got %v", ids)
	}

	higher, err := f.svc.IsHigherThan(ctx, 1, 3, 1)
	if err != nil || !higher {
		t.Fatalf("admin should transitively manage cashier, got %v %v", higher, err)
	}
	higher, err = f.svc.IsHigherThan(ctx, 3, 1, 1)
	if err != nil || higher {
		t.Fatalf("cashier must not manage admin, got %v %v", higher, err)
	}
}

func TestHierarchyIsPerStore(t *testing.T) {
	f := newHierarchyFixture(t)
	ctx := context.Background()
	f.addEdge(t, 1, 2, 1)

	ids, err := f.svc.TransitiveLowerRoleIDs(ctx, 1, 2)
	if err != nil {
		t.Fatalf("transitive lower: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("store 2 must not see store 1 edges, got %v", ids)
	}
}

func TestHierarchyRejectsCycle(t *testing.T) {
	f := newHierarchyFixture(t)
	f.addEdge(t, 1, 2, 1)
	f.addEdge(t, 2, 3, 1)

	_, err := f.svc.AddEdge(context.Background(), &authgate.HierarchyEdge{
		HigherRoleID: 3, LowerRoleID: 1, StoreID: 1,
	})
	if err == nil {
		t.Fatalf("closing the loop must fail")
	}
	if !authgate.IsValidation(err) || !strings.Contains(err.Error(), "circular") {
		t.Fatalf("expected circular-hierarchy validation error, got %v", err)
	}
}

func TestHierarchyCycleAllowedAcrossStores(t *testing.T) {
	f := newHierarchyFixture(t)
	f.addEdge(t, 1, 2, 1)
	// The reverse direction in a different store is not a cycle.
	f.addEdge(t, 2, 1, 2)
}

func TestHierarchyValidateCollectsAllProblems(t *testing.T) {
	f := newHierarchyFixture(t)
	f.addEdge(t, 1, 2, 1)

	errs, err := f.svc.Validate(context.Background(), 99, 99, 77)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	joined := strings.Join(errs, "; ")
	for _, want := range []string{"higher role", "lower role", "store does not exist", "manage itself"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %q", want, joined)
		}
	}
}

func TestHierarchyRejectsSelfLoopAndDuplicate(t *testing.T) {
	f := newHierarchyFixture(t)
	f.addEdge(t, 1, 2, 1)

	if _, err := f.svc.AddEdge(context.Background(), &authgate.HierarchyEdge{
		HigherRoleID: 1, LowerRoleID: 1, StoreID: 1,
	}); err == nil {
		t.Fatalf("self-loop must fail")
	}
	if _, err := f.svc.AddEdge(context.Background(), &authgate.HierarchyEdge{
		HigherRoleID: 1, LowerRoleID: 2, StoreID: 1,
	}); err == nil {
		t.Fatalf("duplicate edge must fail")
	}
}

func TestHierarchyRemoveEdge(t *testing.T) {
	f := newHierarchyFixture(t)
	ctx := context.Background()
	f.addEdge(t, 1, 2, 1)

	removed, err := f.svc.RemoveEdge(ctx, 1, 2, 1)
	if err != nil || !removed {
		t.Fatalf("expected removal, got %v %v", removed, err)
	}
	removed, err = f.svc.RemoveEdge(ctx, 1, 2, 1)
	if err != nil || removed {
		t.Fatalf("second removal must report no row, got %v %v", removed, err)
	}
}

func TestHierarchyTree(t *testing.T) {
	f := newHierarchyFixture(t)
	ctx := context.Background()
	f.addEdge(t, 1, 2, 1)
	f.addEdge(t, 2, 3, 1)
	f.addEdge(t, 1, 4, 1)

	forest, err := f.svc.Tree(ctx, 1)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(forest) != 1 {
		t.Fatalf("expected one root, got %d", len(forest))
	}
	root := forest[0]
	if root.Role.ID != 1 || len(root.Children) != 2 {
		t.Fatalf("unexpected root %+v", root)
	}
	var manager *authgate.HierarchyNode
	for _, child := range root.Children {
		if child.Role.ID == 2 {
			manager = child
		}
	}
	if manager == nil || len(manager.Children) != 1 || manager.Children[0].Role.ID != 3 {
		t.Fatalf("manager subtree wrong: %+v", manager)
	}
}
