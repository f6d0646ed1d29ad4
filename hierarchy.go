package authgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/oarkflow/authgate/logger"
	"github.com/oarkflow/authgate/utils"
)

// DefaultMaxHierarchyDepth bounds transitive traversals defensively even
// though creation-time validation keeps the graph acyclic.
const DefaultMaxHierarchyDepth = 16

// adjacency is a higher-role -> lower-roles list built from a bulk-loaded
// edge snapshot. Traversals never go back to the store, so one load serves
// the whole call.
type adjacency map[int64][]int64

func buildAdjacency(edges []*HierarchyEdge) adjacency {
	adj := make(adjacency, len(edges))
	for _, e := range edges {
		adj[e.HigherRoleID] = append(adj[e.HigherRoleID], e.LowerRoleID)
	}
	return adj
}

// hasCycle runs DFS from every node tracking a recursion stack; a back-edge
// to a node on the stack is a cycle. O(V+E).
func (adj adjacency) hasCycle() bool {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[int64]int, len(adj))
	var visit func(n int64) bool
	visit = func(n int64) bool {
		state[n] = inStack
		for _, next := range adj[n] {
			switch state[next] {
			case inStack:
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		state[n] = done
		return false
	}
	for n := range adj {
		if state[n] == unvisited && visit(n) {
			return true
		}
	}
	return false
}

// transitiveLower collects every role reachable from root, tracking visited
// nodes and stopping at maxDepth so traversal terminates even on a graph
// that somehow acquired a cycle.
func (adj adjacency) transitiveLower(root int64, maxDepth int) []int64 {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxHierarchyDepth
	}
	visited := map[int64]struct{}{root: {}}
	out := make(map[int64]struct{})

	frontier := []int64{root}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, n := range frontier {
			for _, lower := range adj[n] {
				if _, seen := visited[lower]; seen {
					continue
				}
				visited[lower] = struct{}{}
				out[lower] = struct{}{}
				next = append(next, lower)
			}
		}
		frontier = next
	}
	return utils.SortedInt64Set(out)
}

// HierarchyService manages the per-store "role A manages role B" graph.
type HierarchyService struct {
	edges       HierarchyStore
	roles       RoleStore
	assignments AssignmentStore
	outbox      *OutboxService
	maxDepth    int
	log         logger.Logger
}

// HierarchyOption configures a HierarchyService.
type HierarchyOption func(*HierarchyService)

// WithHierarchyLogger installs a logger.
func WithHierarchyLogger(l logger.Logger) HierarchyOption {
	return func(s *HierarchyService) { s.log = l }
}

// WithMaxDepth caps transitive traversal depth.
func WithMaxDepth(depth int) HierarchyOption {
	return func(s *HierarchyService) { s.maxDepth = depth }
}

// WithHierarchyOutbox records hierarchy mutations as outbox events.
func WithHierarchyOutbox(o *OutboxService) HierarchyOption {
	return func(s *HierarchyService) { s.outbox = o }
}

func NewHierarchyService(edges HierarchyStore, roles RoleStore, assignments AssignmentStore, opts ...HierarchyOption) *HierarchyService {
	s := &HierarchyService{
		edges:       edges,
		roles:       roles,
		assignments: assignments,
		maxDepth:    DefaultMaxHierarchyDepth,
		log:         logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate collects every problem with a candidate edge: unknown roles or
// store, self-loop, duplicate, and cycles through existing active edges.
func (s *HierarchyService) Validate(ctx context.Context, higherRoleID, lowerRoleID, storeID int64) ([]string, error) {
	var errs []string

	if _, err := s.roles.GetRole(ctx, higherRoleID); err != nil {
		errs = append(errs, "higher role does not exist")
	}
	if _, err := s.roles.GetRole(ctx, lowerRoleID); err != nil {
		errs = append(errs, "lower role does not exist")
	}
	if ok, err := s.assignments.StoreExists(ctx, storeID); err != nil {
		return nil, fmt.Errorf("check store: %w", err)
	} else if !ok {
		errs = append(errs, "store does not exist")
	}
	if higherRoleID == lowerRoleID {
		errs = append(errs, "a role cannot manage itself")
	}
	if exists, err := s.edges.EdgeExists(ctx, higherRoleID, lowerRoleID, storeID); err != nil {
		return nil, fmt.Errorf("check duplicate edge: %w", err)
	} else if exists {
		errs = append(errs, "this hierarchy relationship already exists")
	}

	if higherRoleID != lowerRoleID {
		existing, err := s.edges.ListActiveEdges(ctx, storeID)
		if err != nil {
			return nil, fmt.Errorf("load hierarchy edges: %w", err)
		}
		candidate := append(existing, &HierarchyEdge{
			HigherRoleID: higherRoleID,
			LowerRoleID:  lowerRoleID,
			StoreID:      storeID,
			IsActive:     true,
		})
		if buildAdjacency(candidate).hasCycle() {
			errs = append(errs, "this would create a circular hierarchy")
		}
	}
	return errs, nil
}

// AddEdge validates and persists a new edge.
func (s *HierarchyService) AddEdge(ctx context.Context, e *HierarchyEdge) (*HierarchyEdge, error) {
	errs, err := s.Validate(ctx, e.HigherRoleID, e.LowerRoleID, e.StoreID)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	e.IsActive = true
	if err := s.edges.AddEdge(ctx, e); err != nil {
		return nil, fmt.Errorf("add hierarchy edge: %w", err)
	}
	s.log.Info("hierarchy edge added",
		"higher_role_id", e.HigherRoleID, "lower_role_id", e.LowerRoleID, "store_id", e.StoreID)
	if s.outbox != nil {
		s.outbox.Record(ctx, SubjectHierarchyCreated, map[string]any{
			"higher_role_id": e.HigherRoleID,
			"lower_role_id":  e.LowerRoleID,
			"store_id":       e.StoreID,
		})
	}
	return e, nil
}

// RemoveEdge deletes by exact triple, reporting whether a row existed.
func (s *HierarchyService) RemoveEdge(ctx context.Context, higherRoleID, lowerRoleID, storeID int64) (bool, error) {
	removed, err := s.edges.RemoveEdge(ctx, higherRoleID, lowerRoleID, storeID)
	if err != nil {
		return false, fmt.Errorf("remove hierarchy edge: %w", err)
	}
	if removed && s.outbox != nil {
		s.outbox.Record(ctx, SubjectHierarchyDeleted, map[string]any{
			"higher_role_id": higherRoleID,
			"lower_role_id":  lowerRoleID,
			"store_id":       storeID,
		})
	}
	return removed, nil
}

// TransitiveLowerRoles returns every role transitively managed by roleID in
// the store.
func (s *HierarchyService) TransitiveLowerRoles(ctx context.Context, roleID, storeID int64) ([]*Role, error) {
	ids, err := s.TransitiveLowerRoleIDs(ctx, roleID, storeID)
	if err != nil {
		return nil, err
	}
	return s.roles.GetRolesByIDs(ctx, ids)
}

// TransitiveLowerRoleIDs is TransitiveLowerRoles without the role hydration.
func (s *HierarchyService) TransitiveLowerRoleIDs(ctx context.Context, roleID, storeID int64) ([]int64, error) {
	edges, err := s.edges.ListActiveEdges(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("load hierarchy edges: %w", err)
	}
	return buildAdjacency(edges).transitiveLower(roleID, s.maxDepth), nil
}

// IsHigherThan reports whether role b is transitively managed by role a in
// the store.
func (s *HierarchyService) IsHigherThan(ctx context.Context, a, b, storeID int64) (bool, error) {
	ids, err := s.TransitiveLowerRoleIDs(ctx, a, storeID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == b {
			return true, nil
		}
	}
	return false, nil
}

// HierarchyNode is one node of the per-store role tree.
type HierarchyNode struct {
	Role        *Role            `json:"role"`
	Permissions []string         `json:"permissions"`
	Children    []*HierarchyNode `json:"children"`
}

// Tree builds the store's role hierarchy as a forest rooted at roles that
// are not managed by anyone. Already-processed roles get empty children so
// a shared subtree is emitted once and a damaged graph cannot loop.
func (s *HierarchyService) Tree(ctx context.Context, storeID int64) ([]*HierarchyNode, error) {
	edges, err := s.edges.ListActiveEdges(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("load hierarchy edges: %w", err)
	}
	adj := buildAdjacency(edges)

	lower := make(map[int64]struct{})
	higher := make(map[int64]struct{})
	for _, e := range edges {
		lower[e.LowerRoleID] = struct{}{}
		higher[e.HigherRoleID] = struct{}{}
	}
	roots := make(map[int64]struct{})
	for id := range higher {
		if _, managed := lower[id]; !managed {
			roots[id] = struct{}{}
		}
	}

	processed := make(map[int64]struct{})
	var build func(id int64, depth int) (*HierarchyNode, error)
	build = func(id int64, depth int) (*HierarchyNode, error) {
		role, err := s.roles.GetRole(ctx, id)
		if err != nil {
			return nil, err
		}
		node := &HierarchyNode{Role: role, Permissions: role.Permissions, Children: []*HierarchyNode{}}
		if _, seen := processed[id]; seen || depth >= s.maxDepth {
			return node, nil
		}
		processed[id] = struct{}{}
		for _, childID := range adj[id] {
			child, err := build(childID, depth+1)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}

	out := make([]*HierarchyNode, 0, len(roots))
	for _, id := range utils.SortedInt64Set(roots) {
		node, err := build(id, 0)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}
