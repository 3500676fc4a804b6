package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Severity of a threshold violation.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert status of an Assessment.
const (
	StatusHigh   = "high"
	StatusMedium = "medium"
	StatusNone   = "none"
)

// NoActionNeeded is the final message of a run without findings.
const NoActionNeeded = "No action needed"

// UnknownAnswer is returned when the knowledge base holds no explanation.
const UnknownAnswer = "I don't know"

// Violation is one metric outside its thresholds.
type Violation struct {
	Metric    string  `json:"name"`
	Severity  string  `json:"severity"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Unit      string  `json:"unit,omitempty"`
}

// Description renders the violation for humans.
func (v Violation) Description() string {
	return fmt.Sprintf("%s %.2f%s exceeded %s threshold %.2f%s", v.Metric, v.Value, v.Unit, v.Severity, v.Threshold, v.Unit)
}

// Assessment is the anomaly classification output.
type Assessment struct {
	MachineID   string      `json:"machine_id"`
	MachineType string      `json:"machine_type,omitempty"`
	Status      string      `json:"status"`
	Alerts      []Violation `json:"alerts"`
	Records     int         `json:"total_records_processed"`
	Critical    int         `json:"critical"`
	Warning     int         `json:"warning"`
	Summary     string      `json:"summary"`
}

// Evaluate checks readings against thresholds. Only the worst reading per
// metric is reported; alerts are ordered critical first, then by metric.
func Evaluate(machineID, machineType string, readings []Reading, thresholds []Threshold) Assessment {
	a := Assessment{MachineID: machineID, MachineType: machineType, Status: StatusNone, Alerts: []Violation{}, Records: len(readings)}

	limits := make(map[string]Threshold, len(thresholds))
	for _, t := range thresholds {
		limits[t.Metric] = t
	}

	worst := map[string]Violation{}
	for _, r := range readings {
		t, ok := limits[r.Metric]
		if !ok {
			continue
		}
		var v Violation
		switch {
		case r.Value >= t.Critical:
			v = Violation{Metric: r.Metric, Severity: SeverityCritical, Value: r.Value, Threshold: t.Critical, Unit: t.Unit}
		case r.Value >= t.Warning:
			v = Violation{Metric: r.Metric, Severity: SeverityWarning, Value: r.Value, Threshold: t.Warning, Unit: t.Unit}
		default:
			continue
		}
		if prev, ok := worst[r.Metric]; !ok || v.Value > prev.Value {
			worst[r.Metric] = v
		}
	}

	for _, v := range worst {
		a.Alerts = append(a.Alerts, v)
		if v.Severity == SeverityCritical {
			a.Critical++
		} else {
			a.Warning++
		}
	}
	sort.Slice(a.Alerts, func(i, j int) bool {
		if a.Alerts[i].Severity != a.Alerts[j].Severity {
			return a.Alerts[i].Severity == SeverityCritical
		}
		return a.Alerts[i].Metric < a.Alerts[j].Metric
	})

	switch {
	case a.Critical > 0:
		a.Status = StatusHigh
	case a.Warning > 0:
		a.Status = StatusMedium
	}
	a.Summary = a.summarize()
	return a
}

func (a Assessment) summarize() string {
	if len(a.Alerts) == 0 {
		return fmt.Sprintf("No anomalies detected for %s across %d readings.", a.MachineID, a.Records)
	}
	parts := make([]string, len(a.Alerts))
	for i, v := range a.Alerts {
		parts[i] = v.Description()
	}
	return fmt.Sprintf("%s: %d critical and %d warning violations (%s).", a.MachineID, a.Critical, a.Warning, strings.Join(parts, "; "))
}

// HasAlerts reports whether maintenance should be raised.
func (a Assessment) HasAlerts() bool { return len(a.Alerts) > 0 }

// Finding is the diagnosed root cause of one alert.
type Finding struct {
	Metric      string   `json:"metric"`
	Severity    string   `json:"severity"`
	FaultType   string   `json:"fault_type,omitempty"`
	Cause       string   `json:"cause"`
	Remedy      string   `json:"remedy,omitempty"`
	Parts       []string `json:"parts,omitempty"`
	RepairHours float64  `json:"repair_hours,omitempty"`
}

// Diagnosis is the fault diagnosis output.
type Diagnosis struct {
	MachineID string    `json:"machine_id"`
	Priority  string    `json:"priority"`
	Findings  []Finding `json:"findings"`
	Summary   string    `json:"summary"`
}

// Parts lists the distinct parts of all findings in first-seen order.
func (d Diagnosis) Parts() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range d.Findings {
		for _, p := range f.Parts {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// RepairHours sums the estimated repair effort.
func (d Diagnosis) RepairHours() float64 {
	var h float64
	for _, f := range d.Findings {
		h += f.RepairHours
	}
	return h
}

// RepairTask is one step of a RepairPlan.
type RepairTask struct {
	Metric    string   `json:"metric"`
	FaultType string   `json:"fault_type,omitempty"`
	Action    string   `json:"action"`
	Parts     []string `json:"parts,omitempty"`
	InStock   bool     `json:"in_stock"`
	Hours     float64  `json:"hours,omitempty"`
}

// RepairPlan is the repair planner output.
type RepairPlan struct {
	MachineID  string       `json:"machine_id"`
	Tasks      []RepairTask `json:"tasks"`
	TotalHours float64      `json:"total_hours"`
	Summary    string       `json:"summary"`
}

// Recommended maintenance actions of a Schedule.
const (
	ActionImmediate = "IMMEDIATE"
	ActionUrgent    = "URGENT"
	ActionScheduled = "SCHEDULED"
	ActionMonitor   = "MONITOR"
)

// Schedule is the maintenance scheduler output.
type Schedule struct {
	MachineID         string  `json:"machine_id"`
	WindowID          string  `json:"window_id,omitempty"`
	ScheduledStart    string  `json:"scheduled_date,omitempty"`
	RiskScore         int     `json:"risk_score"`
	FailureLikelihood float64 `json:"predicted_failure_probability"`
	RecommendedAction string  `json:"recommended_action"`
	Reasoning         string  `json:"reasoning"`
}

// OrderItem is one line of a PartsOrder.
type OrderItem struct {
	PartNumber string  `json:"part_number"`
	Name       string  `json:"part_name"`
	Quantity   int     `json:"quantity"`
	UnitCost   float64 `json:"unit_cost"`
	TotalCost  float64 `json:"total_cost"`
	Supplier   string  `json:"supplier,omitempty"`
}

// PartsOrder is the parts ordering output.
type PartsOrder struct {
	MachineID string      `json:"machine_id"`
	Items     []OrderItem `json:"order_items"`
	TotalCost float64     `json:"total_cost"`
	Reasoning string      `json:"reasoning"`
}

// Encode renders a report as the JSON body of a stage's final message.
func Encode(report any) string {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

// Decode extracts the first JSON object embedded in text into out. Model
// output often wraps the object in prose or code fences.
func Decode(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in message")
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}
