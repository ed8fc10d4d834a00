package character

// Clone returns a deep copy of the character. Item and advancement IDs are preserved
// so changes made on the copy can be mapped back onto the original.
func (c *Character) Clone() *Character {
	if c == nil {
		return nil
	}
	out := &Character{
		ID:              c.ID,
		Name:            c.Name,
		OriginalClassID: c.OriginalClassID,
		Fields:          CloneMap(c.Fields),
		items:           make([]*Item, len(c.items)),
	}
	if out.Fields == nil {
		out.Fields = make(map[string]any)
	}
	for idx, item := range c.items {
		out.items[idx] = item.Clone()
	}
	return out
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	out := *i
	out.System = CloneMap(i.System)
	if i.Advancements != nil {
		out.Advancements = make([]*Advancement, len(i.Advancements))
		for idx, adv := range i.Advancements {
			out.Advancements[idx] = adv.Clone()
		}
	}
	return &out
}

// Clone returns a deep copy of the advancement.
func (a *Advancement) Clone() *Advancement {
	if a == nil {
		return nil
	}
	out := *a
	if a.Levels != nil {
		out.Levels = append([]int(nil), a.Levels...)
	}
	out.Configuration = CloneMap(a.Configuration)
	out.Value = CloneMap(a.Value)
	return &out
}

// CloneMap deep-copies a JSON-like map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps and slices found in JSON-like values. Scalars are returned as-is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for idx, item := range val {
			out[idx] = CloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []int:
		return append([]int(nil), val...)
	default:
		return v
	}
}
