package character

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Checksum is a deterministic digest of a character and its items.
// Two characters with equal checksums are structurally equal.
type Checksum struct {
	Hash    string // SHA-256 of the canonical representation
	Version int
}

// ComputeChecksum hashes a canonical representation of the character that is
// independent of map iteration order and item order.
func (c *Character) ComputeChecksum() (*Checksum, error) {
	repr, err := c.buildDeterministicRepresentation()
	if err != nil {
		return nil, err
	}

	hash := sha256.New()
	if _, err := hash.Write([]byte(repr)); err != nil {
		return nil, fmt.Errorf("failed to compute hash: %w", err)
	}

	return &Checksum{
		Hash:    hex.EncodeToString(hash.Sum(nil)),
		Version: 1,
	}, nil
}

// MustChecksum is ComputeChecksum for callers that only need the hash.
func (c *Character) MustChecksum() string {
	sum, err := c.ComputeChecksum()
	if err != nil {
		return ""
	}
	return sum.Hash
}

// buildDeterministicRepresentation writes every field in a fixed order. Maps go
// through encoding/json, which sorts keys; empty maps and nil maps encode the same.
func (c *Character) buildDeterministicRepresentation() (string, error) {
	var buf bytes.Buffer

	fields, err := canonicalJSON(c.Fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	buf.WriteString(fmt.Sprintf("CHARACTER:%s|%s|%s|%s\n", c.ID, c.Name, c.OriginalClassID, fields))

	items := c.Items()
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	for _, item := range items {
		system, err := canonicalJSON(item.System)
		if err != nil {
			return "", fmt.Errorf("failed to encode item %s: %w", item.ID, err)
		}
		buf.WriteString(fmt.Sprintf("ITEM:%s|%s|%s|%s|%s|%d|%s|%d|%s\n",
			item.ID,
			item.Name,
			item.Type,
			item.Identifier,
			item.ClassIdentifier,
			item.Levels,
			item.AdvancementRootID,
			item.Sort,
			system,
		))

		// Advancement order is significant: it is the in-level tie-break.
		for _, adv := range item.Advancements {
			encoded, err := json.Marshal(adv)
			if err != nil {
				return "", fmt.Errorf("failed to encode advancement %s: %w", adv.ID, err)
			}
			buf.WriteString("  ADVANCEMENT:")
			buf.Write(encoded)
			buf.WriteString("\n")
		}
	}

	return buf.String(), nil
}

func canonicalJSON(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
