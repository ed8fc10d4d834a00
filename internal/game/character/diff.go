package character

import (
	"fmt"
)

// Header carries the top-level fields of a character, written as a single update.
type Header struct {
	Name            string         `json:"name"`
	OriginalClassID string         `json:"original_class_id,omitempty"`
	Fields          map[string]any `json:"fields,omitempty"`
}

// Batch is the net difference between an original character and a modified copy.
// Stores apply a batch as one unit: either every change lands or none does.
type Batch struct {
	CharacterID string   `json:"character_id"`
	Header      Header   `json:"header"`
	Create      []*Item  `json:"create,omitempty"`
	Update      []*Item  `json:"update,omitempty"`
	Delete      []string `json:"delete,omitempty"`
	// Order is the final item order, used to persist positions.
	Order []string `json:"order,omitempty"`
}

// Empty reports whether the batch touches no items.
func (b *Batch) Empty() bool {
	return len(b.Create) == 0 && len(b.Update) == 0 && len(b.Delete) == 0
}

// Diff computes the batch that turns original into modified. Items only in modified
// are created, items in both are updated, items only in original are deleted.
func Diff(original, modified *Character) *Batch {
	batch := &Batch{
		CharacterID: original.ID,
		Header: Header{
			Name:            modified.Name,
			OriginalClassID: modified.OriginalClassID,
			Fields:          CloneMap(modified.Fields),
		},
		Order: modified.ItemIDs(),
	}

	for _, item := range modified.items {
		if _, ok := original.Item(item.ID); ok {
			batch.Update = append(batch.Update, item.Clone())
		} else {
			batch.Create = append(batch.Create, item.Clone())
		}
	}
	for _, item := range original.items {
		if _, ok := modified.Item(item.ID); !ok {
			batch.Delete = append(batch.Delete, item.ID)
		}
	}
	return batch
}

// ApplyBatch applies batch to the character in place. Callers wanting all-or-nothing
// semantics apply it to a Clone and swap on success.
func (c *Character) ApplyBatch(batch *Batch) error {
	if batch.CharacterID != "" && batch.CharacterID != c.ID {
		return fmt.Errorf("batch for character %s applied to %s", batch.CharacterID, c.ID)
	}

	c.Name = batch.Header.Name
	c.OriginalClassID = batch.Header.OriginalClassID
	c.Fields = CloneMap(batch.Header.Fields)
	if c.Fields == nil {
		c.Fields = make(map[string]any)
	}

	for _, id := range batch.Delete {
		if _, _, err := c.RemoveItem(id); err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
	}
	for _, item := range batch.Update {
		idx := c.indexOf(item.ID)
		if idx < 0 {
			return fmt.Errorf("failed to update item: %w: %s", ErrItemNotFound, item.ID)
		}
		c.items[idx] = item.Clone()
	}
	for _, item := range batch.Create {
		if err := c.AddItem(item.Clone()); err != nil {
			return fmt.Errorf("failed to create item: %w", err)
		}
	}

	if len(batch.Order) > 0 {
		c.reorder(batch.Order)
	}
	return nil
}

// reorder sorts items to follow order; items missing from order keep their relative position at the end.
func (c *Character) reorder(order []string) {
	position := make(map[string]int, len(order))
	for idx, id := range order {
		position[id] = idx
	}
	ordered := make([]*Item, 0, len(c.items))
	var rest []*Item
	placed := make([]*Item, len(order))
	for _, item := range c.items {
		if idx, ok := position[item.ID]; ok {
			placed[idx] = item
		} else {
			rest = append(rest, item)
		}
	}
	for _, item := range placed {
		if item != nil {
			ordered = append(ordered, item)
		}
	}
	c.items = append(ordered, rest...)
}
