package graph

import (
	"context"
	"errors"
	"fmt"
)

// WouldCreateCircularReference reports whether adding parentID -> childID to
// existing closes a loop. It walks upward from the parents of parentID and
// answers true once childID is reached. A self edge is always a loop.
func WouldCreateCircularReference(existing []Relationship, parentID, childID string) bool {
	if parentID == childID {
		return true
	}
	parentsOf := make(map[string][]string, len(existing))
	for _, r := range existing {
		parentsOf[r.ChildAccountID] = append(parentsOf[r.ChildAccountID], r.ParentAccountID)
	}
	visited := map[string]bool{parentID: true}
	queue := append([]string(nil), parentsOf[parentID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == childID {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		queue = append(queue, parentsOf[id]...)
	}
	return false
}

// ParentLister is the slice of Store that ancestor collection needs.
type ParentLister interface {
	ListParents(ctx context.Context, childID string) ([]Relationship, error)
}

// ErrDepthExceeded reports an ancestor walk that had not finished when it hit
// the caller's depth limit.
var ErrDepthExceeded = errors.New("graph: ancestor depth limit exceeded")

// CollectAncestors returns every parent edge reachable upward from accountID.
// maxDepth <= 0 walks the whole ancestry; the visited set ends the walk on
// existing loops. A positive maxDepth that leaves ancestors unvisited yields
// ErrDepthExceeded rather than a partial slice.
func CollectAncestors(ctx context.Context, store ParentLister, accountID string, maxDepth int) ([]Relationship, error) {
	var out []Relationship
	seenEdge := make(map[string]bool)
	visited := map[string]bool{accountID: true}
	frontier := []string{accountID}
	for depth := 0; len(frontier) > 0; depth++ {
		if maxDepth > 0 && depth == maxDepth {
			return nil, fmt.Errorf("%w: %d levels above %s", ErrDepthExceeded, maxDepth, accountID)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []string
		for _, id := range frontier {
			parents, err := store.ListParents(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("graph: list parents of %s: %w", id, err)
			}
			for _, r := range parents {
				key := r.ParentAccountID + ">" + r.ChildAccountID
				if !seenEdge[key] {
					seenEdge[key] = true
					out = append(out, r)
				}
				if !visited[r.ParentAccountID] {
					visited[r.ParentAccountID] = true
					next = append(next, r.ParentAccountID)
				}
			}
		}
		frontier = next
	}
	return out, nil
}
