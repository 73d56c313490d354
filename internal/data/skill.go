package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SkillTemplate holds one learnable skill definition.
type SkillTemplate struct {
	SkillID     uint16
	Name        string
	MaxLevel    byte
	PrereqSkill uint16 // 0 = no prerequisite
	PrereqLevel byte
}

// SkillTable holds all skill templates indexed by SkillID.
type SkillTable struct {
	skills map[uint16]*SkillTemplate
}

// Get returns a skill template by ID, or nil if not found.
func (t *SkillTable) Get(skillID uint16) *SkillTemplate {
	return t.skills[skillID]
}

// Count returns total loaded skills.
func (t *SkillTable) Count() int {
	return len(t.skills)
}

// --- YAML loading ---

type skillEntry struct {
	SkillID     uint16 `yaml:"skill_id"`
	Name        string `yaml:"name"`
	MaxLevel    byte   `yaml:"max_level"`
	PrereqSkill uint16 `yaml:"prereq_skill"`
	PrereqLevel byte   `yaml:"prereq_level"`
}

type skillListFile struct {
	Skills []skillEntry `yaml:"skills"`
}

// LoadSkillTable loads skill definitions from YAML.
func LoadSkillTable(path string) (*SkillTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skills: %w", err)
	}
	var f skillListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse skills: %w", err)
	}

	t := &SkillTable{skills: make(map[uint16]*SkillTemplate, len(f.Skills))}
	for _, e := range f.Skills {
		maxLevel := e.MaxLevel
		if maxLevel == 0 {
			maxLevel = 1
		}
		t.skills[e.SkillID] = &SkillTemplate{
			SkillID:     e.SkillID,
			Name:        e.Name,
			MaxLevel:    maxLevel,
			PrereqSkill: e.PrereqSkill,
			PrereqLevel: e.PrereqLevel,
		}
	}
	return t, nil
}
