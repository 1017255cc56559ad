package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// TermTemplate describes one grading term of the school year.
type TermTemplate struct {
	ID     string  `toml:"id"`
	Name   string  `toml:"name"`
	Weight float64 `toml:"weight"`
}

// CategoryTemplate seeds a weighted category for a term.
type CategoryTemplate struct {
	Term   string  `toml:"term"`
	ID     string  `toml:"id"`
	Name   string  `toml:"name"`
	Weight float64 `toml:"weight"`
}

// Template overrides the built-in gradebook defaults. Zero values keep the built-in value.
type Template struct {
	CurrentTerm string             `toml:"current_term"`
	Terms       []TermTemplate     `toml:"terms"`
	Categories  []CategoryTemplate `toml:"categories"`

	Scoring struct {
		Rounding string   `toml:"rounding"`
		Decimals *int     `toml:"decimals"`
		MinScore *float64 `toml:"min_score"`
		MaxScore *float64 `toml:"max_score"`
	} `toml:"scoring"`

	History struct {
		Limit int `toml:"limit"`
	} `toml:"history"`
}

// LoadTemplate reads a TOML gradebook template. An empty path yields an empty template.
func LoadTemplate(path string) (*Template, error) {
	if path == "" {
		return &Template{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gradebook template: %w", err)
	}
	return ParseTemplate(data)
}

// ParseTemplate decodes template bytes and checks the term list.
func ParseTemplate(data []byte) (*Template, error) {
	var tpl Template
	if err := toml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("decode gradebook template: %w", err)
	}
	seen := make(map[string]bool, len(tpl.Terms))
	for _, term := range tpl.Terms {
		if term.ID == "" {
			return nil, fmt.Errorf("gradebook template: term id required")
		}
		if seen[term.ID] {
			return nil, fmt.Errorf("gradebook template: duplicate term %s", term.ID)
		}
		if term.Weight < 0 {
			return nil, fmt.Errorf("gradebook template: term %s has negative weight", term.ID)
		}
		seen[term.ID] = true
	}
	for _, cat := range tpl.Categories {
		if cat.ID == "" || cat.Term == "" {
			return nil, fmt.Errorf("gradebook template: category needs id and term")
		}
		if len(tpl.Terms) > 0 && !seen[cat.Term] {
			return nil, fmt.Errorf("gradebook template: category %s references unknown term %s", cat.ID, cat.Term)
		}
	}
	return &tpl, nil
}
