package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Machine is one piece of production equipment.
type Machine struct {
	ID                 string              `toml:"id" yaml:"id" json:"id"`
	Name               string              `toml:"name" yaml:"name" json:"name"`
	Type               string              `toml:"type" yaml:"type" json:"type"`
	Location           string              `toml:"location" yaml:"location" json:"location,omitempty"`
	MaintenanceHistory []MaintenanceRecord `toml:"maintenance_history" yaml:"maintenance_history" json:"maintenance_history,omitempty"`
}

// MaintenanceRecord is one past maintenance intervention.
type MaintenanceRecord struct {
	Date          string  `toml:"date" yaml:"date" json:"date"`
	FaultType     string  `toml:"fault_type" yaml:"fault_type" json:"fault_type"`
	DowntimeHours float64 `toml:"downtime_hours" yaml:"downtime_hours" json:"downtime_hours"`
	Cost          float64 `toml:"cost" yaml:"cost" json:"cost"`
}

// Threshold bounds one metric of a machine type. A value at or above Warning
// (resp. Critical) is a violation of that severity.
type Threshold struct {
	MachineType string  `toml:"machine_type" yaml:"machine_type" json:"machine_type"`
	Metric      string  `toml:"metric" yaml:"metric" json:"metric"`
	Unit        string  `toml:"unit" yaml:"unit" json:"unit,omitempty"`
	Warning     float64 `toml:"warning" yaml:"warning" json:"warning"`
	Critical    float64 `toml:"critical" yaml:"critical" json:"critical"`
}

// Reading is one telemetry sample.
type Reading struct {
	MachineID string  `toml:"machine_id" yaml:"machine_id" json:"machine_id"`
	Metric    string  `toml:"metric" yaml:"metric" json:"metric"`
	Value     float64 `toml:"value" yaml:"value" json:"value"`
	Unit      string  `toml:"unit" yaml:"unit" json:"unit,omitempty"`
}

// KnowledgeEntry links a metric deviation of a machine type to a known fault.
type KnowledgeEntry struct {
	MachineType string   `toml:"machine_type" yaml:"machine_type" json:"machine_type"`
	Metric      string   `toml:"metric" yaml:"metric" json:"metric"`
	FaultType   string   `toml:"fault_type" yaml:"fault_type" json:"fault_type"`
	Cause       string   `toml:"cause" yaml:"cause" json:"cause"`
	Remedy      string   `toml:"remedy" yaml:"remedy" json:"remedy"`
	Parts       []string `toml:"parts" yaml:"parts" json:"parts,omitempty"`
	RepairHours float64  `toml:"repair_hours" yaml:"repair_hours" json:"repair_hours,omitempty"`
}

// MaintenanceWindow is a slot in which production can be stopped.
type MaintenanceWindow struct {
	ID               string `toml:"id" yaml:"id" json:"id"`
	Start            string `toml:"start" yaml:"start" json:"start"`
	End              string `toml:"end" yaml:"end" json:"end"`
	ProductionImpact string `toml:"production_impact" yaml:"production_impact" json:"production_impact"`
	Available        bool   `toml:"available" yaml:"available" json:"available"`
}

// InventoryItem is a spare part held in stock.
type InventoryItem struct {
	PartNumber   string  `toml:"part_number" yaml:"part_number" json:"part_number"`
	Name         string  `toml:"name" yaml:"name" json:"name"`
	Quantity     int     `toml:"quantity" yaml:"quantity" json:"quantity"`
	ReorderPoint int     `toml:"reorder_point" yaml:"reorder_point" json:"reorder_point"`
	UnitCost     float64 `toml:"unit_cost" yaml:"unit_cost" json:"unit_cost"`
	Supplier     string  `toml:"supplier" yaml:"supplier" json:"supplier,omitempty"`
	LeadTimeDays int     `toml:"lead_time_days" yaml:"lead_time_days" json:"lead_time_days,omitempty"`
}

// Catalogue is the read-only plant data stages consult through tools.
type Catalogue struct {
	Machines   []Machine           `toml:"machines" yaml:"machines" json:"machines"`
	Thresholds []Threshold         `toml:"thresholds" yaml:"thresholds" json:"thresholds"`
	Telemetry  []Reading           `toml:"telemetry" yaml:"telemetry" json:"telemetry"`
	Knowledge  []KnowledgeEntry    `toml:"knowledge" yaml:"knowledge" json:"knowledge"`
	Windows    []MaintenanceWindow `toml:"windows" yaml:"windows" json:"windows"`
	Inventory  []InventoryItem     `toml:"inventory" yaml:"inventory" json:"inventory"`
}

// Validate rejects duplicate machine ids and thresholds whose warning level
// exceeds the critical level.
func (c *Catalogue) Validate() error {
	seen := make(map[string]bool, len(c.Machines))
	for _, m := range c.Machines {
		if m.ID == "" {
			return fmt.Errorf("catalogue: machine without id")
		}
		if seen[m.ID] {
			return fmt.Errorf("catalogue: duplicate machine %s", m.ID)
		}
		seen[m.ID] = true
	}
	for _, t := range c.Thresholds {
		if t.Warning > t.Critical {
			return fmt.Errorf("catalogue: threshold %s/%s warning %.2f above critical %.2f", t.MachineType, t.Metric, t.Warning, t.Critical)
		}
	}
	return nil
}

// Machine looks up a machine by id.
func (c *Catalogue) Machine(id string) (Machine, bool) {
	for _, m := range c.Machines {
		if m.ID == id {
			return m, true
		}
	}
	return Machine{}, false
}

// ThresholdsFor returns the thresholds of a machine type.
func (c *Catalogue) ThresholdsFor(machineType string) []Threshold {
	out := []Threshold{}
	for _, t := range c.Thresholds {
		if strings.EqualFold(t.MachineType, machineType) {
			out = append(out, t)
		}
	}
	return out
}

// TelemetryFor returns the recorded readings of a machine.
func (c *Catalogue) TelemetryFor(machineID string) []Reading {
	out := []Reading{}
	for _, r := range c.Telemetry {
		if r.MachineID == machineID {
			out = append(out, r)
		}
	}
	return out
}

// KnowledgeFor returns the knowledge base entries of a machine type. An
// empty metric matches every entry of the type.
func (c *Catalogue) KnowledgeFor(machineType, metric string) []KnowledgeEntry {
	out := []KnowledgeEntry{}
	for _, k := range c.Knowledge {
		if !strings.EqualFold(k.MachineType, machineType) {
			continue
		}
		if metric != "" && k.Metric != metric {
			continue
		}
		out = append(out, k)
	}
	return out
}

var impactRank = map[string]int{"low": 0, "medium": 1, "high": 2}

// AvailableWindows returns the open maintenance windows ordered by
// production impact, then start time.
func (c *Catalogue) AvailableWindows() []MaintenanceWindow {
	out := []MaintenanceWindow{}
	for _, w := range c.Windows {
		if w.Available {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].ProductionImpact), rank(out[j].ProductionImpact)
		if ri != rj {
			return ri < rj
		}
		return out[i].Start < out[j].Start
	})
	return out
}

func rank(impact string) int {
	if r, ok := impactRank[strings.ToLower(impact)]; ok {
		return r
	}
	return len(impactRank)
}

// InventoryFor returns the stock records of the given part numbers, in the
// order requested. Unknown part numbers are skipped.
func (c *Catalogue) InventoryFor(partNumbers []string) []InventoryItem {
	out := []InventoryItem{}
	for _, pn := range partNumbers {
		for _, item := range c.Inventory {
			if item.PartNumber == pn {
				out = append(out, item)
				break
			}
		}
	}
	return out
}
