package utils

import (
	"encoding/json"
	"fmt"
	"os"

	"dentsim/models"
)

// LoadPatientCases reads the case catalog and validates every entry. A bad
// catalog is fatal to startup, like a bad rule file.
func LoadPatientCases(path string) ([]models.PatientCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file: %w", err)
	}

	var cases []models.PatientCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse case file: %w", err)
	}

	seen := make(map[string]bool)
	for i, c := range cases {
		if c.ID == "" {
			return nil, fmt.Errorf("case at index %d is missing an id", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate case id %q", c.ID)
		}
		seen[c.ID] = true
		if c.Name == "" || c.Complaint == "" {
			return nil, fmt.Errorf("case %q is missing name or complaint", c.ID)
		}
		if _, err := models.ParsePathologyCategory(string(c.Category)); err != nil {
			return nil, fmt.Errorf("case %q: %w", c.ID, err)
		}
	}
	return cases, nil
}
