package advancement

import (
	"strconv"
)

// ScaleValue tracks a value that grows with level, like a sneak attack die.
// It never needs input.
//
// Configuration:
//
//	scale  map[string]any  level -> value, carried forward to later levels
type ScaleValue struct{}

func (ScaleValue) Name() string { return "ScaleValue" }

func (ScaleValue) Order() int { return 60 }

func (s ScaleValue) AutomaticValue(t Target, level int) (Data, bool) {
	v, _ := s.valueFor(t, level)
	return Data{"value": v}, true
}

func (ScaleValue) Apply(t Target, level int, data Data) error {
	v, ok := data["value"]
	if !ok || v == nil {
		return nil
	}
	setValueAt(t.Advancement, level, v)
	return nil
}

func (ScaleValue) Reverse(t Target, level int) (*Retained, error) {
	v, ok := valueAt(t.Advancement, level)
	if !ok {
		return nil, nil
	}
	clearValueAt(t.Advancement, level)
	return &Retained{Value: map[string]any{"value": v}}, nil
}

func (ScaleValue) Restore(t Target, level int, retained *Retained) error {
	if retained == nil {
		return nil
	}
	if v, ok := retained.Value["value"]; ok && v != nil {
		setValueAt(t.Advancement, level, v)
	}
	return nil
}

func (ScaleValue) Prompt(t Target, level int) Prompt {
	return Prompt{Type: "ScaleValue", Title: titleOf(t), Level: level}
}

// valueFor returns the scale entry at the highest configured level not above level.
func (ScaleValue) valueFor(t Target, level int) (any, bool) {
	if t.Advancement.Configuration == nil {
		return nil, false
	}
	scale, ok := t.Advancement.Configuration["scale"].(map[string]any)
	if !ok {
		return nil, false
	}
	best := 0
	var value any
	for key, v := range scale {
		l, err := strconv.Atoi(key)
		if err != nil || l > level || l <= best {
			continue
		}
		best, value = l, v
	}
	return value, best > 0
}
