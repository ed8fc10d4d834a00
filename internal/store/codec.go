package store

import (
	"encoding/json"
	"fmt"

	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// Items are stored as JSON documents; the relational columns only carry identity
// and position.

func encodeFields(fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	return string(data), nil
}

func decodeFields(data string) (map[string]any, error) {
	fields := make(map[string]any)
	if data == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return fields, nil
}

func encodeItem(item *character.Item) (string, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to encode item %s: %w", item.ID, err)
	}
	return string(data), nil
}

func decodeItem(data string) (*character.Item, error) {
	item := &character.Item{}
	if err := json.Unmarshal([]byte(data), item); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	return item, nil
}
