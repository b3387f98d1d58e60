package tree

import (
	"fmt"
	"math/rand"
	"testing"

	apperrors "labstock/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *Tree {
	return New(
		&Category{ID: "consumables", Name: "Consumables", Children: []*Subcategory{
			{ID: "optical-consumables", Name: "Optical consumables"},
			{ID: "electrical-consumables", Name: "Electrical consumables"},
			{ID: "other-consumables", Name: "Other consumables"},
		}},
		&Category{ID: "equipment", Name: "Equipment", Children: []*Subcategory{
			{ID: "laser-equipment", Name: "Lasers"},
		}},
		&Category{ID: "others", Name: "Others", Children: []*Subcategory{}},
	)
}

func childIDs(c *Category) []string {
	ids := make([]string, 0, len(c.Children))
	for _, s := range c.Children {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestNewCategory_FreshIDsAndPlaceholder(t *testing.T) {
	a := NewCategory("Optics")
	b := NewCategory("   ")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "Optics", a.Name)
	assert.Equal(t, PlaceholderCategoryName, b.Name)
	assert.Empty(t, a.Children)

	s := NewSubcategory("")
	assert.Equal(t, PlaceholderSubcategoryName, s.Name)
	assert.NotEmpty(t, s.ID)
}

func TestInsertCategory(t *testing.T) {
	tr := sampleTree()

	require.NoError(t, tr.InsertCategory(&Category{ID: "first", Name: "First"}, 0))
	require.NoError(t, tr.InsertCategory(&Category{ID: "last", Name: "Last"}, End))
	assert.Equal(t, "first", tr.Categories[0].ID)
	assert.Equal(t, "last", tr.Categories[len(tr.Categories)-1].ID)
	assert.NotNil(t, tr.FindCategory("first").Children)

	err := tr.InsertCategory(&Category{ID: "bad", Name: "Bad"}, 42)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidIndex))
	err = tr.InsertCategory(&Category{ID: "bad", Name: "Bad"}, -2)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidIndex))
	assert.Nil(t, tr.FindCategory("bad"))

	err = tr.InsertCategory(&Category{ID: "equipment", Name: "Dup"}, End)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	err = tr.InsertCategory(&Category{ID: "new", Name: "New", Children: []*Subcategory{{ID: "laser-equipment", Name: "x"}}}, End)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "subcategory ids are unique tree-wide")
}

func TestInsertSubcategory(t *testing.T) {
	tr := sampleTree()

	require.NoError(t, tr.InsertSubcategory("others", &Subcategory{ID: "misc", Name: "Misc"}, End))
	require.NoError(t, tr.InsertSubcategory("consumables", &Subcategory{ID: "glass", Name: "Glass"}, 1))
	assert.Equal(t, []string{"optical-consumables", "glass", "electrical-consumables", "other-consumables"}, childIDs(tr.FindCategory("consumables")))

	err := tr.InsertSubcategory("equipment", &Subcategory{ID: "misc", Name: "Again"}, End)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	err = tr.InsertSubcategory("nope", &Subcategory{ID: "x", Name: "X"}, End)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	err = tr.InsertSubcategory("others", &Subcategory{ID: "y", Name: "Y"}, 5)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidIndex))
}

func TestRemoveCategory_RemovesChildren(t *testing.T) {
	tr := sampleTree()
	removed := childIDs(tr.FindCategory("consumables"))

	require.NoError(t, tr.RemoveCategory("consumables"))

	assert.Nil(t, tr.FindCategory("consumables"))
	for _, id := range removed {
		assert.False(t, tr.HasSubcategory(id), id)
	}
	assert.NotContains(t, tr.SubcategoryIDs(), "optical-consumables")

	err := tr.RemoveCategory("consumables")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestRemoveSubcategory(t *testing.T) {
	tr := sampleTree()

	require.NoError(t, tr.RemoveSubcategory("electrical-consumables"))
	assert.Equal(t, []string{"optical-consumables", "other-consumables"}, childIDs(tr.FindCategory("consumables")))

	err := tr.RemoveSubcategory("electrical-consumables")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestRename_EmptyKeepsPreviousName(t *testing.T) {
	tr := sampleTree()

	err := tr.RenameCategory("equipment", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrEmptyName))
	assert.Equal(t, "Equipment", tr.FindCategory("equipment").Name)

	err = tr.RenameSubcategory("laser-equipment", "  \t ")
	assert.True(t, apperrors.Is(err, apperrors.ErrEmptyName))
	assert.Equal(t, "Lasers", tr.Subcategory("laser-equipment").Name)

	require.NoError(t, tr.RenameCategory("equipment", "  Instruments "))
	assert.Equal(t, "Instruments", tr.FindCategory("equipment").Name)
	require.NoError(t, tr.RenameSubcategory("laser-equipment", "Laser sources"))
	assert.Equal(t, "Laser sources", tr.Subcategory("laser-equipment").Name)

	assert.True(t, apperrors.Is(tr.RenameCategory("missing", "x"), apperrors.ErrNotFound))
	assert.True(t, apperrors.Is(tr.RenameSubcategory("missing", "x"), apperrors.ErrNotFound))
}

func TestMoveSubcategory(t *testing.T) {
	tests := []struct {
		name     string
		sub      string
		target   string
		index    int
		expected map[string][]string
	}{
		{
			name:   "across categories at index",
			sub:    "optical-consumables",
			target: "equipment",
			index:  0,
			expected: map[string][]string{
				"consumables": {"electrical-consumables", "other-consumables"},
				"equipment":   {"optical-consumables", "laser-equipment"},
			},
		},
		{
			name:   "index past end is clamped",
			sub:    "optical-consumables",
			target: "others",
			index:  99,
			expected: map[string][]string{
				"consumables": {"electrical-consumables", "other-consumables"},
				"others":      {"optical-consumables"},
			},
		},
		{
			name:   "within same category to end",
			sub:    "optical-consumables",
			target: "consumables",
			index:  3,
			expected: map[string][]string{
				"consumables": {"electrical-consumables", "other-consumables", "optical-consumables"},
			},
		},
		{
			name:   "negative index clamps to front",
			sub:    "other-consumables",
			target: "consumables",
			index:  -7,
			expected: map[string][]string{
				"consumables": {"other-consumables", "optical-consumables", "electrical-consumables"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := sampleTree()
			require.NoError(t, tr.MoveSubcategory(tt.sub, tt.target, tt.index))
			for catID, want := range tt.expected {
				assert.Equal(t, want, childIDs(tr.FindCategory(catID)))
			}
			assert.NoError(t, tr.Validate())
		})
	}
}

func TestMoveSubcategory_NotFoundLeavesTreeIntact(t *testing.T) {
	tr := sampleTree()
	before := tr.Serialize()

	assert.True(t, apperrors.Is(tr.MoveSubcategory("ghost", "others", 0), apperrors.ErrNotFound))
	assert.True(t, apperrors.Is(tr.MoveSubcategory("laser-equipment", "ghost", 0), apperrors.ErrNotFound))
	assert.Equal(t, before, tr.Serialize())
}

func TestMoveCategory(t *testing.T) {
	tr := sampleTree()

	require.NoError(t, tr.MoveCategory("others", 0))
	assert.Equal(t, "others", tr.Categories[0].ID)

	require.NoError(t, tr.MoveCategory("others", 100))
	assert.Equal(t, "others", tr.Categories[2].ID)

	assert.True(t, apperrors.Is(tr.MoveCategory("ghost", 0), apperrors.ErrNotFound))
}

func TestReorder(t *testing.T) {
	tr := sampleTree()

	order := []OrderedCategory{
		{ID: "others", Children: []string{"laser-equipment"}},
		{ID: "consumables", Children: []string{"other-consumables", "optical-consumables"}},
		{ID: "equipment", Children: []string{"electrical-consumables"}},
	}
	require.NoError(t, tr.Reorder(order))
	assert.Equal(t, order, tr.Order())
	assert.NoError(t, tr.Validate())
}

func TestReorder_RejectsMismatchedSets(t *testing.T) {
	tests := []struct {
		name  string
		order []OrderedCategory
	}{
		{
			name: "missing subcategory",
			order: []OrderedCategory{
				{ID: "consumables", Children: []string{"optical-consumables", "electrical-consumables"}},
				{ID: "equipment", Children: []string{"laser-equipment"}},
				{ID: "others"},
			},
		},
		{
			name: "duplicated subcategory",
			order: []OrderedCategory{
				{ID: "consumables", Children: []string{"optical-consumables", "electrical-consumables", "other-consumables"}},
				{ID: "equipment", Children: []string{"laser-equipment", "optical-consumables"}},
				{ID: "others"},
			},
		},
		{
			name: "unknown category",
			order: []OrderedCategory{
				{ID: "consumables", Children: []string{"optical-consumables", "electrical-consumables", "other-consumables"}},
				{ID: "equipment", Children: []string{"laser-equipment"}},
				{ID: "ghost"},
			},
		},
		{
			name: "missing category",
			order: []OrderedCategory{
				{ID: "consumables", Children: []string{"optical-consumables", "electrical-consumables", "other-consumables", "laser-equipment"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := sampleTree()
			before := tr.Serialize()
			err := tr.Reorder(tt.order)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
			assert.Equal(t, before, tr.Serialize())
		})
	}
}

func TestClone_IsIndependent(t *testing.T) {
	tr := sampleTree()
	tr.FindCategory("equipment").Extra = map[string]any{"order": 2.0, "tags": []any{"a"}}

	cp := tr.Clone()
	require.NoError(t, cp.RenameSubcategory("laser-equipment", "Changed"))
	require.NoError(t, cp.RemoveCategory("others"))
	cp.FindCategory("equipment").Extra["tags"].([]any)[0] = "b"

	assert.Equal(t, "Lasers", tr.Subcategory("laser-equipment").Name)
	assert.NotNil(t, tr.FindCategory("others"))
	assert.Equal(t, "a", tr.FindCategory("equipment").Extra["tags"].([]any)[0])
}

// Random edit sequences must keep every subcategory owned by exactly one
// category and keep ids unique.
func TestRandomEdits_PreserveInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(20250705))

	for round := 0; round < 50; round++ {
		tr := sampleTree()
		known := tr.SubcategoryIDs()

		for step := 0; step < 200; step++ {
			cats := tr.Categories
			switch rng.Intn(4) {
			case 0:
				if len(cats) == 0 {
					continue
				}
				id := fmt.Sprintf("s-%d-%d", round, step)
				c := cats[rng.Intn(len(cats))]
				if err := tr.InsertSubcategory(c.ID, &Subcategory{ID: id, Name: id}, rng.Intn(len(c.Children)+1)); err == nil {
					known = append(known, id)
				}
			case 1:
				if len(known) == 0 {
					continue
				}
				_ = tr.RemoveSubcategory(known[rng.Intn(len(known))])
			case 2:
				if len(known) == 0 || len(cats) == 0 {
					continue
				}
				sub := known[rng.Intn(len(known))]
				target := cats[rng.Intn(len(cats))]
				before, _ := tr.Len()
				_, subsBefore := tr.Len()
				err := tr.MoveSubcategory(sub, target.ID, rng.Intn(10)-2)
				after, subsAfter := tr.Len()
				assert.Equal(t, before, after)
				if err == nil {
					assert.Equal(t, subsBefore, subsAfter, "move must not duplicate or lose a node")
					owner, _ := tr.FindSubcategory(sub)
					assert.Equal(t, target.ID, owner.ID)
				}
			case 3:
				if rng.Intn(10) == 0 {
					_ = tr.InsertCategory(&Category{ID: fmt.Sprintf("c-%d-%d", round, step), Name: "c"}, End)
				}
			}

			require.NoError(t, tr.Validate())
			owners := make(map[string]int)
			for _, c := range tr.Categories {
				for _, s := range c.Children {
					owners[s.ID]++
				}
			}
			for id, n := range owners {
				require.Equal(t, 1, n, id)
			}
		}
	}
}
