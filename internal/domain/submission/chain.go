package submission

import (
	"context"
	"fmt"

	"taxlink/internal/core/apperror"
	"taxlink/internal/core/id"
)

// maxChainDepth bounds the upward walk so a corrupted link cycle cannot loop forever.
const maxChainDepth = 1000

// ResolveBase walks reversal and debit-origin links up to the chain base.
func ResolveBase(ctx context.Context, repo Repository, doc *Document) (*Document, error) {
	current := doc
	seen := map[id.ID]struct{}{doc.ID: {}}

	for depth := 0; depth < maxChainDepth; depth++ {
		parentID := current.ParentID()
		if parentID == nil {
			return current, nil
		}
		if _, ok := seen[*parentID]; ok {
			return nil, apperror.NewValidation("correction links form a cycle").
				WithDetail("document_id", doc.ID.String()).
				WithDetail("parent_id", parentID.String())
		}
		seen[*parentID] = struct{}{}

		parent, err := repo.GetByID(ctx, *parentID)
		if err != nil {
			return nil, fmt.Errorf("resolve chain base of %s: %w", doc.ID, err)
		}
		current = parent
	}

	return nil, apperror.NewValidation("correction chain is too deep").
		WithDetail("document_id", doc.ID.String())
}

// ChainMembers returns the base and every document reachable from it through
// inverse correction links, breadth-first.
func ChainMembers(ctx context.Context, repo Repository, base *Document) ([]*Document, error) {
	members := []*Document{base}
	seen := map[id.ID]struct{}{base.ID: {}}
	frontier := []id.ID{base.ID}

	for len(frontier) > 0 {
		children, err := repo.ListCorrections(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("list corrections of chain %s: %w", base.ID, err)
		}
		frontier = frontier[:0]
		for _, child := range children {
			if _, ok := seen[child.ID]; ok {
				continue
			}
			seen[child.ID] = struct{}{}
			members = append(members, child)
			frontier = append(frontier, child.ID)
		}
	}

	return members, nil
}

// NextFreeIndex returns the smallest positive index not held by any member
// other than self. Rejected and cancelled members do not hold their index.
func NextFreeIndex(members []*Document, self id.ID) int {
	used := make(map[int]struct{}, len(members))
	for _, m := range members {
		if m.ID == self || m.ChainIndex <= 0 || !m.State.HoldsChainIndex() {
			continue
		}
		used[m.ChainIndex] = struct{}{}
	}
	next := 1
	for {
		if _, ok := used[next]; !ok {
			return next
		}
		next++
	}
}
