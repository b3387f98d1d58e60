package tree

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "labstock/internal/errors"
)

// Field names of the persisted tree document.
const (
	FieldDirectories = "directories"
	fieldID          = "id"
	fieldName        = "name"
	fieldChildren    = "children"
)

// Serialize converts the tree to the persisted document shape
// {directories: [{id, name, children: [{id, name}]}]}. Fields captured in
// Extra are written back alongside the known ones.
func (t *Tree) Serialize() map[string]any {
	doc := cloneMap(t.Extra)
	if doc == nil {
		doc = make(map[string]any, 1)
	}
	dirs := make([]any, 0, len(t.Categories))
	for _, c := range t.Categories {
		cm := cloneMap(c.Extra)
		if cm == nil {
			cm = make(map[string]any, 3)
		}
		children := make([]any, 0, len(c.Children))
		for _, s := range c.Children {
			sm := cloneMap(s.Extra)
			if sm == nil {
				sm = make(map[string]any, 2)
			}
			sm[fieldID] = s.ID
			sm[fieldName] = s.Name
			children = append(children, sm)
		}
		cm[fieldID] = c.ID
		cm[fieldName] = c.Name
		cm[fieldChildren] = children
		dirs = append(dirs, cm)
	}
	doc[FieldDirectories] = dirs
	return doc
}

// Deserialize parses a tree document. Unknown fields at every level land in
// Extra; blank names become placeholders; duplicate or missing ids and
// anything nested deeper than two levels fail with ErrInvalidTree.
func Deserialize(raw map[string]any) (*Tree, error) {
	t := New()
	if raw == nil {
		return t, nil
	}
	t.Extra = extraFields(raw, FieldDirectories)

	rawDirs, ok := raw[FieldDirectories]
	if !ok || rawDirs == nil {
		return t, nil
	}
	dirs, ok := rawDirs.([]any)
	if !ok {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidTree, "directories is not a list")
	}

	for i, d := range dirs {
		cm, ok := d.(map[string]any)
		if !ok {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidTree, fmt.Sprintf("directories[%d] is not an object", i))
		}
		c := &Category{
			ID:       stringField(cm, fieldID),
			Name:     storedName(stringField(cm, fieldName), PlaceholderCategoryName),
			Children: []*Subcategory{},
			Extra:    extraFields(cm, fieldID, fieldName, fieldChildren),
		}
		if strings.TrimSpace(c.ID) == "" {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidTree, fmt.Sprintf("directories[%d] has no id", i))
		}

		if rawChildren, ok := cm[fieldChildren]; ok && rawChildren != nil {
			children, ok := rawChildren.([]any)
			if !ok {
				return nil, apperrors.WithMessage(apperrors.ErrInvalidTree, fmt.Sprintf("category %q children is not a list", c.ID))
			}
			for j, ch := range children {
				sm, ok := ch.(map[string]any)
				if !ok {
					return nil, apperrors.WithMessage(apperrors.ErrInvalidTree, fmt.Sprintf("category %q child %d is not an object", c.ID, j))
				}
				if _, nested := sm[fieldChildren]; nested {
					return nil, apperrors.WithMessage(apperrors.ErrInvalidTree, fmt.Sprintf("category %q child %d nests a third level", c.ID, j))
				}
				s := &Subcategory{
					ID:    stringField(sm, fieldID),
					Name:  storedName(stringField(sm, fieldName), PlaceholderSubcategoryName),
					Extra: extraFields(sm, fieldID, fieldName),
				}
				if strings.TrimSpace(s.ID) == "" {
					return nil, apperrors.WithMessage(apperrors.ErrInvalidTree, fmt.Sprintf("category %q child %d has no id", c.ID, j))
				}
				c.Children = append(c.Children, s)
			}
		}
		t.Categories = append(t.Categories, c)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// MarshalJSON encodes the tree in its persisted document shape.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Serialize())
}

// UnmarshalJSON decodes a persisted tree document.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidTree, err)
	}
	parsed, err := Deserialize(raw)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// storedName keeps a stored name exactly as written; only a blank one is
// replaced.
func storedName(name, placeholder string) string {
	if strings.TrimSpace(name) == "" {
		return placeholder
	}
	return name
}

func extraFields(m map[string]any, known ...string) map[string]any {
	var extra map[string]any
	for k, v := range m {
		isKnown := false
		for _, kk := range known {
			if k == kk {
				isKnown = true
				break
			}
		}
		if isKnown {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = cloneValue(v)
	}
	return extra
}
