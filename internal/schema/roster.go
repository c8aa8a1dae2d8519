package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RosterSource indicates where the active unit roster came from.
type RosterSource string

const (
	// SourceDefault is the built-in roster compiled into the binary.
	SourceDefault RosterSource = "default"
	// SourceLocal is a roster edited or imported on this device.
	SourceLocal RosterSource = "local"
	// SourceCloud is a roster downloaded from the remote endpoint.
	SourceCloud RosterSource = "cloud"
)

// Vehicle is one vehicle assigned to an operational unit.
type Vehicle struct {
	Plate    string `json:"plate" yaml:"plate"`
	Category string `json:"category" yaml:"category"`
}

// Unit is an operational grouping (SVC) with an assigned vehicle roster.
// A submission's vehicle checklist is initialized from the unit's vehicles
// at form start.
type Unit struct {
	ID          string    `json:"unitId" yaml:"unitId"`
	DisplayName string    `json:"displayName" yaml:"displayName"`
	Vehicles    []Vehicle `json:"vehicles" yaml:"vehicles"`
}

// Validate checks if the Unit has valid field values.
func (u *Unit) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("unitId is required")
	}
	if u.DisplayName == "" {
		return fmt.Errorf("displayName is required")
	}
	for i, v := range u.Vehicles {
		if v.Plate == "" {
			return fmt.Errorf("vehicles[%d]: plate is required", i)
		}
	}
	return nil
}

// ValidateRoster checks every unit and rejects duplicate unit IDs.
func ValidateRoster(units []Unit) error {
	seen := make(map[string]bool, len(units))
	for i := range units {
		if err := units[i].Validate(); err != nil {
			return fmt.Errorf("unit %d: %w", i, err)
		}
		if seen[units[i].ID] {
			return fmt.Errorf("duplicate unit id %q", units[i].ID)
		}
		seen[units[i].ID] = true
	}
	return nil
}

// DefaultRoster returns the built-in unit list used before a local edit or a
// cloud roster replaces it.
func DefaultRoster() []Unit {
	return []Unit{
		{
			ID:          "SVC-01",
			DisplayName: "SVC Centro",
			Vehicles: []Vehicle{
				{Plate: "ABC1D23", Category: "van"},
				{Plate: "ABC1D24", Category: "vuc"},
				{Plate: "ABC1D25", Category: "utilitario"},
			},
		},
		{
			ID:          "SVC-02",
			DisplayName: "SVC Norte",
			Vehicles: []Vehicle{
				{Plate: "DEF2E34", Category: "van"},
				{Plate: "DEF2E35", Category: "passeio"},
			},
		},
	}
}

// ReadRosterFile reads and parses a roster YAML file from the given path.
func ReadRosterFile(path string) ([]Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file %s: %w", path, err)
	}

	var units []Unit
	if err := yaml.Unmarshal(data, &units); err != nil {
		return nil, fmt.Errorf("failed to parse roster file %s: %w", path, err)
	}

	if err := ValidateRoster(units); err != nil {
		return nil, fmt.Errorf("invalid roster file %s: %w", path, err)
	}

	return units, nil
}

// WriteRosterFile writes the unit roster to disk as YAML.
func WriteRosterFile(path string, units []Unit) error {
	if err := ValidateRoster(units); err != nil {
		return fmt.Errorf("cannot write invalid roster: %w", err)
	}

	data, err := yaml.Marshal(units)
	if err != nil {
		return fmt.Errorf("failed to marshal roster: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write roster file %s: %w", path, err)
	}

	return nil
}
