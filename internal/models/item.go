package models

import (
	"io"
	"math"
	"strings"
	"time"
)

// Document field names of an item record.
const (
	ItemFieldName      = "name"
	ItemFieldQuantity  = "quantity"
	ItemFieldLocation  = "location"
	ItemFieldCategory  = "category"
	ItemFieldImageURL  = "imageUrl"
	ItemFieldCreatedAt = "createdAt"
)

// DefaultQuantity is used when an item is added without a quantity.
const DefaultQuantity = 1

// Item is a flat inventory record filed under a subcategory by id. Category
// may be empty or reference a subcategory that no longer exists.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	Location  string    `json:"location"`
	Category  string    `json:"category"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ItemInput is the payload for creating an item.
type ItemInput struct {
	Name     string `json:"name" form:"name" validate:"required,nonblank,max=200"`
	Quantity *int   `json:"quantity,omitempty" form:"quantity" validate:"omitempty,min=0"`
	Location string `json:"location" form:"location" validate:"max=200"`
	Category string `json:"category" form:"category" validate:"max=200"`
}

// ItemPatch is a partial update; nil fields are left untouched.
type ItemPatch struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,nonblank,max=200"`
	Quantity *int    `json:"quantity,omitempty" validate:"omitempty,min=0"`
	Location *string `json:"location,omitempty" validate:"omitempty,max=200"`
	Category *string `json:"category,omitempty" validate:"omitempty,max=200"`
	ImageURL *string `json:"imageUrl,omitempty" validate:"omitempty,max=2048"`
}

// ImageUpload is an image supplied alongside a new item.
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// ItemFilterAll, like an empty filter, selects every item.
const ItemFilterAll = "all"

// Document converts the input to the stored item shape. imageURL is omitted
// when empty.
func (in ItemInput) Document(imageURL string) map[string]any {
	quantity := DefaultQuantity
	if in.Quantity != nil {
		quantity = *in.Quantity
	}
	doc := map[string]any{
		ItemFieldName:     strings.TrimSpace(in.Name),
		ItemFieldQuantity: quantity,
		ItemFieldLocation: strings.TrimSpace(in.Location),
		ItemFieldCategory: strings.TrimSpace(in.Category),
	}
	if imageURL != "" {
		doc[ItemFieldImageURL] = imageURL
	}
	return doc
}

// Fields returns only the fields set on the patch.
func (p ItemPatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.Name != nil {
		fields[ItemFieldName] = strings.TrimSpace(*p.Name)
	}
	if p.Quantity != nil {
		fields[ItemFieldQuantity] = *p.Quantity
	}
	if p.Location != nil {
		fields[ItemFieldLocation] = strings.TrimSpace(*p.Location)
	}
	if p.Category != nil {
		fields[ItemFieldCategory] = strings.TrimSpace(*p.Category)
	}
	if p.ImageURL != nil {
		fields[ItemFieldImageURL] = *p.ImageURL
	}
	return fields
}

// IsEmpty reports whether the patch sets no fields.
func (p ItemPatch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// ItemFromDocument reads a stored item, tolerating the loose typing of
// documents written by older clients.
func ItemFromDocument(id string, doc map[string]any) Item {
	item := Item{
		ID:       id,
		Name:     stringValue(doc[ItemFieldName]),
		Quantity: intValue(doc[ItemFieldQuantity]),
		Location: stringValue(doc[ItemFieldLocation]),
		Category: stringValue(doc[ItemFieldCategory]),
		ImageURL: stringValue(doc[ItemFieldImageURL]),
	}
	switch v := doc[ItemFieldCreatedAt].(type) {
	case time.Time:
		item.CreatedAt = v
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			item.CreatedAt = ts
		}
	}
	return item
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		if n < 0 || math.IsNaN(n) {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}
