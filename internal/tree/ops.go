package tree

import (
	"fmt"
	"slices"
	"strings"

	apperrors "labstock/internal/errors"
)

// OrderedCategory is one category as observed at the end of a drag: its id
// and the ids of its children in their final order.
type OrderedCategory struct {
	ID       string   `json:"id"`
	Children []string `json:"children"`
}

// InsertCategory inserts c at position at, or appends when at is End.
// Positions outside [0, len] fail with ErrInvalidIndex.
func (t *Tree) InsertCategory(c *Category, at int) error {
	if c == nil {
		return apperrors.WithMessage(apperrors.ErrValidation, "category is nil")
	}
	if t.FindCategory(c.ID) != nil {
		return apperrors.WithMessage(apperrors.ErrValidation, fmt.Sprintf("category %q already exists", c.ID))
	}
	seen := make(map[string]bool, len(c.Children))
	for _, s := range c.Children {
		if seen[s.ID] || t.HasSubcategory(s.ID) {
			return apperrors.WithMessage(apperrors.ErrValidation, fmt.Sprintf("subcategory %q already exists", s.ID))
		}
		seen[s.ID] = true
	}
	idx, err := insertPosition(at, len(t.Categories))
	if err != nil {
		return err
	}
	if c.Children == nil {
		c.Children = []*Subcategory{}
	}
	t.Categories = slices.Insert(t.Categories, idx, c)
	return nil
}

// InsertSubcategory inserts s into the children of the category categoryID.
// Subcategory ids are unique across the whole tree, not just the parent.
func (t *Tree) InsertSubcategory(categoryID string, s *Subcategory, at int) error {
	if s == nil {
		return apperrors.WithMessage(apperrors.ErrValidation, "subcategory is nil")
	}
	parent := t.FindCategory(categoryID)
	if parent == nil {
		return apperrors.WithMessage(apperrors.ErrNotFound, fmt.Sprintf("category %q not found", categoryID))
	}
	if t.HasSubcategory(s.ID) {
		return apperrors.WithMessage(apperrors.ErrValidation, fmt.Sprintf("subcategory %q already exists", s.ID))
	}
	idx, err := insertPosition(at, len(parent.Children))
	if err != nil {
		return err
	}
	parent.Children = slices.Insert(parent.Children, idx, s)
	return nil
}

// RemoveCategory drops the category together with all of its subcategories.
func (t *Tree) RemoveCategory(id string) error {
	idx, _ := t.categoryIndex(id)
	if idx < 0 {
		return apperrors.WithMessage(apperrors.ErrNotFound, fmt.Sprintf("category %q not found", id))
	}
	t.Categories = slices.Delete(t.Categories, idx, idx+1)
	return nil
}

// RemoveSubcategory drops the subcategory from whichever category owns it.
func (t *Tree) RemoveSubcategory(id string) error {
	owner, idx := t.FindSubcategory(id)
	if owner == nil {
		return apperrors.WithMessage(apperrors.ErrNotFound, fmt.Sprintf("subcategory %q not found", id))
	}
	owner.Children = slices.Delete(owner.Children, idx, idx+1)
	return nil
}

// RenameCategory sets a new display name. A name that trims to empty is
// rejected with ErrEmptyName and the previous name is kept.
func (t *Tree) RenameCategory(id, newName string) error {
	c := t.FindCategory(id)
	if c == nil {
		return apperrors.WithMessage(apperrors.ErrNotFound, fmt.Sprintf("category %q not found", id))
	}
	name := strings.TrimSpace(newName)
	if name == "" {
		return apperrors.ErrEmptyName
	}
	c.Name = name
	return nil
}

// RenameSubcategory is RenameCategory for second-level nodes.
func (t *Tree) RenameSubcategory(id, newName string) error {
	s := t.Subcategory(id)
	if s == nil {
		return apperrors.WithMessage(apperrors.ErrNotFound, fmt.Sprintf("subcategory %q not found", id))
	}
	name := strings.TrimSpace(newName)
	if name == "" {
		return apperrors.ErrEmptyName
	}
	s.Name = name
	return nil
}

// MoveSubcategory detaches the subcategory and re-inserts it under
// targetCategoryID at targetIndex. The index is clamped to the target's
// bounds after the detach, so a list that shrank mid-drag still gets the node.
func (t *Tree) MoveSubcategory(subID, targetCategoryID string, targetIndex int) error {
	owner, idx := t.FindSubcategory(subID)
	if owner == nil {
		return apperrors.WithMessage(apperrors.ErrNotFound, fmt.Sprintf("subcategory %q not found", subID))
	}
	target := t.FindCategory(targetCategoryID)
	if target == nil {
		return apperrors.WithMessage(apperrors.ErrNotFound, fmt.Sprintf("category %q not found", targetCategoryID))
	}
	node := owner.Children[idx]
	owner.Children = slices.Delete(owner.Children, idx, idx+1)
	target.Children = slices.Insert(target.Children, clampPosition(targetIndex, len(target.Children)), node)
	return nil
}

// MoveCategory repositions a top-level category, clamping like MoveSubcategory.
func (t *Tree) MoveCategory(id string, targetIndex int) error {
	idx, c := t.categoryIndex(id)
	if c == nil {
		return apperrors.WithMessage(apperrors.ErrNotFound, fmt.Sprintf("category %q not found", id))
	}
	t.Categories = slices.Delete(t.Categories, idx, idx+1)
	t.Categories = slices.Insert(t.Categories, clampPosition(targetIndex, len(t.Categories)), c)
	return nil
}

// Reorder reconciles the tree to the final order observed after a drag ends.
// The order must name every category and subcategory exactly once; otherwise
// nothing changes and ErrValidation is returned.
func (t *Tree) Reorder(order []OrderedCategory) error {
	categories := make(map[string]*Category, len(t.Categories))
	for _, c := range t.Categories {
		categories[c.ID] = c
	}
	subcategories := make(map[string]*Subcategory)
	for _, c := range t.Categories {
		for _, s := range c.Children {
			subcategories[s.ID] = s
		}
	}

	if len(order) != len(categories) {
		return apperrors.WithMessage(apperrors.ErrValidation,
			fmt.Sprintf("order lists %d categories, tree has %d", len(order), len(categories)))
	}
	seenCat := make(map[string]bool, len(order))
	seenSub := make(map[string]bool, len(subcategories))
	for _, oc := range order {
		if categories[oc.ID] == nil || seenCat[oc.ID] {
			return apperrors.WithMessage(apperrors.ErrValidation, fmt.Sprintf("unexpected category %q in order", oc.ID))
		}
		seenCat[oc.ID] = true
		for _, sid := range oc.Children {
			if subcategories[sid] == nil || seenSub[sid] {
				return apperrors.WithMessage(apperrors.ErrValidation, fmt.Sprintf("unexpected subcategory %q in order", sid))
			}
			seenSub[sid] = true
		}
	}
	if len(seenSub) != len(subcategories) {
		return apperrors.WithMessage(apperrors.ErrValidation,
			fmt.Sprintf("order lists %d subcategories, tree has %d", len(seenSub), len(subcategories)))
	}

	reordered := make([]*Category, 0, len(order))
	for _, oc := range order {
		c := categories[oc.ID]
		children := make([]*Subcategory, 0, len(oc.Children))
		for _, sid := range oc.Children {
			children = append(children, subcategories[sid])
		}
		c.Children = children
		reordered = append(reordered, c)
	}
	t.Categories = reordered
	return nil
}

// Order reports the tree's current shape in the form Reorder accepts.
func (t *Tree) Order() []OrderedCategory {
	out := make([]OrderedCategory, 0, len(t.Categories))
	for _, c := range t.Categories {
		oc := OrderedCategory{ID: c.ID, Children: make([]string, 0, len(c.Children))}
		for _, s := range c.Children {
			oc.Children = append(oc.Children, s.ID)
		}
		out = append(out, oc)
	}
	return out
}

// Validate checks the structural invariants: non-empty unique ids at both
// levels (subcategories tree-wide) and non-blank names.
func (t *Tree) Validate() error {
	catIDs := make(map[string]bool, len(t.Categories))
	subIDs := make(map[string]bool)
	for _, c := range t.Categories {
		if c.ID == "" || catIDs[c.ID] {
			return apperrors.WithMessage(apperrors.ErrInvalidTree, fmt.Sprintf("duplicate or empty category id %q", c.ID))
		}
		catIDs[c.ID] = true
		if strings.TrimSpace(c.Name) == "" {
			return apperrors.WithMessage(apperrors.ErrInvalidTree, fmt.Sprintf("category %q has an empty name", c.ID))
		}
		for _, s := range c.Children {
			if s.ID == "" || subIDs[s.ID] {
				return apperrors.WithMessage(apperrors.ErrInvalidTree, fmt.Sprintf("duplicate or empty subcategory id %q", s.ID))
			}
			subIDs[s.ID] = true
			if strings.TrimSpace(s.Name) == "" {
				return apperrors.WithMessage(apperrors.ErrInvalidTree, fmt.Sprintf("subcategory %q has an empty name", s.ID))
			}
		}
	}
	return nil
}

func insertPosition(at, n int) (int, error) {
	if at == End {
		return n, nil
	}
	if at < 0 || at > n {
		return 0, apperrors.WithMessage(apperrors.ErrInvalidIndex, fmt.Sprintf("index %d outside [0, %d]", at, n))
	}
	return at, nil
}

// clampPosition maps End and anything past the end to n, other negatives to 0.
func clampPosition(at, n int) int {
	if at == End || at > n {
		return n
	}
	if at < 0 {
		return 0
	}
	return at
}
