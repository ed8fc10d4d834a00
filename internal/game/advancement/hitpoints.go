package advancement

import (
	"fmt"
)

const (
	hitPointsMax     = "max"
	hitPointsAverage = "avg"
)

// HitPoints records how hit points were gained at each class level: the die
// maximum, the fixed average, or a rolled number.
//
// Configuration:
//
//	hit_die  int   faces on the class hit die (default 8)
//	average  bool  always take the average without asking
type HitPoints struct{}

func (HitPoints) Name() string { return "HitPoints" }

func (HitPoints) Order() int { return 10 }

// AutomaticValue takes the maximum at the first level of the original class and the
// average when configured to; everything else needs the user.
func (HitPoints) AutomaticValue(t Target, level int) (Data, bool) {
	if level == 1 {
		class := GoverningClass(t.Character, t.Item)
		if class != nil && (t.Character.OriginalClassID == "" || t.Character.OriginalClassID == class.ID) {
			return Data{"value": hitPointsMax}, true
		}
	}
	if configBool(t.Advancement, "average") {
		return Data{"value": hitPointsAverage}, true
	}
	return nil, false
}

func (h HitPoints) Apply(t Target, level int, data Data) error {
	v, err := h.validate(t, level, data["value"])
	if err != nil {
		return err
	}
	setValueAt(t.Advancement, level, v)
	return nil
}

func (HitPoints) Reverse(t Target, level int) (*Retained, error) {
	v, ok := valueAt(t.Advancement, level)
	if !ok {
		return nil, nil
	}
	clearValueAt(t.Advancement, level)
	return &Retained{Value: map[string]any{"value": v}}, nil
}

func (h HitPoints) Restore(t Target, level int, retained *Retained) error {
	if retained == nil {
		return nil
	}
	v, err := h.validate(t, level, retained.Value["value"])
	if err != nil {
		return err
	}
	setValueAt(t.Advancement, level, v)
	return nil
}

func (HitPoints) Prompt(t Target, level int) Prompt {
	die := configInt(t.Advancement, "hit_die", 8)
	earlier := 0
	for l := 1; l < level; l++ {
		if v, ok := valueAt(t.Advancement, l); ok {
			earlier += gainedHitPoints(v, die)
		}
	}
	return Prompt{
		Type:  "HitPoints",
		Title: titleOf(t),
		Level: level,
		Hint:  fmt.Sprintf("%d hit points from earlier levels; take the average or roll 1d%d", earlier, die),
		Options: []Option{
			{Key: hitPointsAverage, Name: fmt.Sprintf("Average (%d)", die/2+1)},
			{Key: hitPointsMax, Name: fmt.Sprintf("Maximum (%d)", die), Disabled: level != 1},
		},
	}
}

// gainedHitPoints returns the hit points a recorded value is worth.
func gainedHitPoints(v any, die int) int {
	switch v {
	case hitPointsMax:
		return die
	case hitPointsAverage:
		return die/2 + 1
	}
	n, _ := toInt(v)
	return n
}

func (HitPoints) validate(t Target, level int, v any) (any, error) {
	die := configInt(t.Advancement, "hit_die", 8)
	switch v {
	case hitPointsAverage:
		return v, nil
	case hitPointsMax:
		if level != 1 {
			return nil, Violationf(t, level, "maximum hit points are only granted at level 1")
		}
		return v, nil
	case nil:
		return nil, Violationf(t, level, "a hit point value is required")
	}
	n, ok := toInt(v)
	if !ok || n < 1 || n > die {
		return nil, Violationf(t, level, "rolled value %v is outside 1..%d", v, die)
	}
	return n, nil
}

func titleOf(t Target) string {
	if t.Advancement.Title != "" {
		return t.Advancement.Title
	}
	return t.Advancement.Type
}
