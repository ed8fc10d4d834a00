package advancement

import (
	"math"
	"strconv"

	"github.com/thraizz/advancement-server-go/internal/game/character"
)

func levelKey(level int) string {
	return strconv.Itoa(level)
}

// valueAt returns what the advancement recorded at level.
func valueAt(adv *character.Advancement, level int) (any, bool) {
	if adv.Value == nil {
		return nil, false
	}
	v, ok := adv.Value[levelKey(level)]
	return v, ok
}

func setValueAt(adv *character.Advancement, level int, v any) {
	if adv.Value == nil {
		adv.Value = make(map[string]any)
	}
	adv.Value[levelKey(level)] = v
}

func clearValueAt(adv *character.Advancement, level int) {
	if adv.Value == nil {
		return
	}
	delete(adv.Value, levelKey(level))
	if len(adv.Value) == 0 {
		adv.Value = nil
	}
}

// toInt accepts the numeric shapes JSON decoding and Go literals produce.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func toStrings(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	case nil:
		return nil, true
	default:
		return nil, false
	}
}

func configInt(adv *character.Advancement, key string, fallback int) int {
	if adv.Configuration == nil {
		return fallback
	}
	if n, ok := toInt(adv.Configuration[key]); ok {
		return n
	}
	return fallback
}

func configBool(adv *character.Advancement, key string) bool {
	if adv.Configuration == nil {
		return false
	}
	b, _ := adv.Configuration[key].(bool)
	return b
}

func configStrings(adv *character.Advancement, key string) []string {
	if adv.Configuration == nil {
		return nil
	}
	s, _ := toStrings(adv.Configuration[key])
	return s
}
