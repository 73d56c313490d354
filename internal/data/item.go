package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ItemTemplate holds one item definition.
type ItemTemplate struct {
	TypeID    int32
	Name      string
	Kind      string // "weapon", "armor", "consumable", "etc"
	MaxCount  int32  // stack limit (1 for non-stackable)
	Equipable bool   // may live in the equipment bag
}

// ItemTable holds all item templates indexed by TypeID.
type ItemTable struct {
	items map[int32]*ItemTemplate
}

// Get returns an item template by type ID, or nil if not found.
func (t *ItemTable) Get(typeID int32) *ItemTemplate {
	return t.items[typeID]
}

// Count returns total loaded item templates.
func (t *ItemTable) Count() int {
	return len(t.items)
}

// --- YAML loading ---

type itemEntry struct {
	TypeID    int32  `yaml:"type_id"`
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	MaxCount  int32  `yaml:"max_count"`
	Equipable bool   `yaml:"equipable"`
}

type itemListFile struct {
	Items []itemEntry `yaml:"items"`
}

// LoadItemTable loads item definitions from YAML.
func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	var f itemListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse items: %w", err)
	}

	t := &ItemTable{items: make(map[int32]*ItemTemplate, len(f.Items))}
	for _, e := range f.Items {
		maxCount := e.MaxCount
		if maxCount <= 0 {
			maxCount = 1
		}
		t.items[e.TypeID] = &ItemTemplate{
			TypeID:    e.TypeID,
			Name:      e.Name,
			Kind:      e.Kind,
			MaxCount:  maxCount,
			Equipable: e.Equipable,
		}
	}
	return t, nil
}
