package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/logging"
	"github.com/hupe1980/factorymesh/tool"
)

// caller runs catalogue tools on behalf of a rule stage and reports each call
// on the stage's event stream, exactly as a model-driven stage would.
type caller struct {
	stage  string
	tools  *tool.Set
	emit   core.Emitter
	logger logging.Logger
}

// call returns ok=false when the tool failed; the failure is already
// recorded on the stream. A non-nil error means the stream is gone.
func (c *caller) call(ctx context.Context, name string, args map[string]any) (any, bool, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, false, fmt.Errorf("encode %s arguments: %w", name, err)
	}
	if err := c.emit.Emit(ctx, core.NewToolCallRequestedEvent(name, string(raw))); err != nil {
		return nil, false, err
	}

	result, callErr := c.invoke(ctx, name, string(raw))
	if err := c.emit.Emit(ctx, core.NewToolCallResultEvent(result, callErr)); err != nil {
		return nil, false, err
	}
	if callErr != nil {
		c.logger.Debug("domain.tool.failed", "stage", c.stage, "tool", name, "error", callErr.Error())
		return nil, false, nil
	}
	return result, true, nil
}

func (c *caller) invoke(ctx context.Context, name, raw string) (any, error) {
	t, ok := c.tools.Get(name)
	if !ok {
		return nil, tool.NewToolError(name, "tool not available", tool.CodeNotFound)
	}
	args, err := tool.ParseArguments(name, raw)
	if err != nil {
		return nil, err
	}
	ctx = tool.WithCallInfo(ctx, tool.CallInfo{Stage: c.stage, CallID: core.NewID(), Logger: c.logger})
	return t.Call(ctx, args)
}

func complete(ctx context.Context, emit core.Emitter, text string) error {
	if err := emit.Emit(ctx, core.NewTextDeltaEvent(text)); err != nil {
		return err
	}
	return emit.Emit(ctx, core.NewStageCompletedEvent(text))
}

// requestOf finds the triggering request at the head of the conversation.
func requestOf(conv core.Conversation) (core.Request, bool) {
	for _, m := range conv.Messages {
		if req, ok := core.ParseRequestMessage(m); ok {
			return req, true
		}
	}
	return core.Request{}, false
}

// reportOf decodes the latest message authored by stage into out.
func reportOf(conv core.Conversation, stage string, out any) bool {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		m := conv.Messages[i]
		if m.Role == core.RoleAssistant && m.Author == stage {
			return Decode(m.Text, out) == nil
		}
	}
	return false
}

// payloadReadings turns the numeric fields of an event payload into readings.
func payloadReadings(req core.Request) []Reading {
	keys := make([]string, 0, len(req.Payload))
	for k := range req.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Reading
	for _, k := range keys {
		switch v := req.Payload[k].(type) {
		case float64:
			out = append(out, Reading{MachineID: req.ID, Metric: k, Value: v})
		case int:
			out = append(out, Reading{MachineID: req.ID, Metric: k, Value: float64(v)})
		}
	}
	return out
}

func (r *ruleStage) classify(ctx context.Context, conv core.Conversation, c *caller) (string, error) {
	req, ok := requestOf(conv)
	if !ok {
		return "", errors.New("no machine event in conversation")
	}

	res, ok, err := c.call(ctx, ToolMachineData, map[string]any{"machine_id": req.ID})
	if err != nil {
		return "", err
	}
	if !ok {
		a := Evaluate(req.ID, "", nil, nil)
		a.Summary = fmt.Sprintf("Machine %s is not in the catalogue; nothing to evaluate.", req.ID)
		return Encode(a), nil
	}
	machine, _ := res.(Machine)

	var thresholds []Threshold
	if res, ok, err = c.call(ctx, ToolThresholds, map[string]any{"machine_type": machine.Type}); err != nil {
		return "", err
	} else if ok {
		thresholds, _ = res.([]Threshold)
	}

	var readings []Reading
	if res, ok, err = c.call(ctx, ToolTelemetry, map[string]any{"machine_id": machine.ID}); err != nil {
		return "", err
	} else if ok {
		readings, _ = res.([]Reading)
	}
	readings = append(append([]Reading(nil), readings...), payloadReadings(req)...)

	return Encode(Evaluate(machine.ID, machine.Type, readings, thresholds)), nil
}

func (r *ruleStage) diagnose(ctx context.Context, conv core.Conversation, c *caller) (string, error) {
	var a Assessment
	if !reportOf(conv, StageAnomalyClassification, &a) || !a.HasAlerts() {
		return NoActionNeeded, nil
	}

	machineType := a.MachineType
	if res, ok, err := c.call(ctx, ToolMachineData, map[string]any{"machine_id": a.MachineID}); err != nil {
		return "", err
	} else if ok {
		if m, isMachine := res.(Machine); isMachine {
			machineType = m.Type
		}
	}

	d := Diagnosis{MachineID: a.MachineID, Priority: "low", Findings: []Finding{}}
	switch a.Status {
	case StatusHigh:
		d.Priority = "high"
	case StatusMedium:
		d.Priority = "medium"
	}

	causes := make([]string, 0, len(a.Alerts))
	for _, v := range a.Alerts {
		f := Finding{Metric: v.Metric, Severity: v.Severity, Cause: UnknownAnswer}

		res, ok, err := c.call(ctx, ToolKnowledge, map[string]any{"machine_type": machineType, "metric": v.Metric})
		if err != nil {
			return "", err
		}
		if entries, _ := res.([]KnowledgeEntry); ok && len(entries) > 0 {
			k := entries[0]
			f.FaultType, f.Cause, f.Remedy, f.Parts, f.RepairHours = k.FaultType, k.Cause, k.Remedy, k.Parts, k.RepairHours
		}

		d.Findings = append(d.Findings, f)
		causes = append(causes, fmt.Sprintf("%s: %s", v.Metric, f.Cause))
	}
	d.Summary = strings.Join(causes, "; ")

	return Encode(d), nil
}

func (r *ruleStage) planRepair(ctx context.Context, conv core.Conversation, c *caller) (string, error) {
	var d Diagnosis
	if !reportOf(conv, StageFaultDiagnosis, &d) || len(d.Findings) == 0 {
		return NoActionNeeded, nil
	}

	stock := map[string]int{}
	if parts := d.Parts(); len(parts) > 0 {
		res, ok, err := c.call(ctx, ToolInventory, map[string]any{"part_numbers": parts})
		if err != nil {
			return "", err
		}
		if items, _ := res.([]InventoryItem); ok {
			for _, item := range items {
				stock[item.PartNumber] = item.Quantity
			}
		}
	}

	plan := RepairPlan{MachineID: d.MachineID, Tasks: []RepairTask{}}
	for _, f := range d.Findings {
		if f.Cause == UnknownAnswer {
			plan.Tasks = append(plan.Tasks, RepairTask{Metric: f.Metric, Action: "inspect " + f.Metric + " manually; no known fault matches", InStock: true})
			continue
		}
		task := RepairTask{Metric: f.Metric, FaultType: f.FaultType, Action: f.Remedy, Parts: f.Parts, InStock: true, Hours: f.RepairHours}
		for _, p := range f.Parts {
			if stock[p] < 1 {
				task.InStock = false
			}
		}
		plan.Tasks = append(plan.Tasks, task)
		plan.TotalHours += f.RepairHours
	}
	plan.Summary = fmt.Sprintf("%d repair tasks for %s, %.1f hours estimated.", len(plan.Tasks), d.MachineID, plan.TotalHours)

	return Encode(plan), nil
}

func (r *ruleStage) schedule(ctx context.Context, conv core.Conversation, c *caller) (string, error) {
	var d Diagnosis
	if !reportOf(conv, StageFaultDiagnosis, &d) || len(d.Findings) == 0 {
		return NoActionNeeded, nil
	}

	var history []MaintenanceRecord
	if res, ok, err := c.call(ctx, ToolMaintenanceHistory, map[string]any{"machine_id": d.MachineID}); err != nil {
		return "", err
	} else if ok {
		history, _ = res.([]MaintenanceRecord)
	}

	var windows []MaintenanceWindow
	if res, ok, err := c.call(ctx, ToolMaintenanceWindows, map[string]any{}); err != nil {
		return "", err
	} else if ok {
		windows, _ = res.([]MaintenanceWindow)
	}

	s := Schedule{MachineID: d.MachineID, RiskScore: riskScore(d, history)}
	s.FailureLikelihood = float64(s.RiskScore) / 100
	s.RecommendedAction = actionFor(s.RiskScore)

	if w, ok := pickWindow(windows, s.RecommendedAction); ok {
		s.WindowID, s.ScheduledStart = w.ID, w.Start
		s.Reasoning = fmt.Sprintf("%s priority findings with %d prior interventions; window %s has %s production impact.",
			d.Priority, len(history), w.ID, w.ProductionImpact)
	} else {
		s.Reasoning = fmt.Sprintf("%s priority findings with %d prior interventions; no maintenance window is open.", d.Priority, len(history))
	}

	return Encode(s), nil
}

func riskScore(d Diagnosis, history []MaintenanceRecord) int {
	score := 20
	switch d.Priority {
	case "high":
		score = 75
	case "medium":
		score = 45
	}

	faults := map[string]bool{}
	for _, f := range d.Findings {
		if f.FaultType != "" {
			faults[f.FaultType] = true
		}
	}
	for _, h := range history {
		if faults[h.FaultType] {
			score += 10
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

func actionFor(score int) string {
	switch {
	case score >= 85:
		return ActionImmediate
	case score >= 70:
		return ActionUrgent
	case score >= 40:
		return ActionScheduled
	default:
		return ActionMonitor
	}
}

// pickWindow takes the earliest window for urgent work and the least
// disruptive one otherwise. windows arrive ordered by impact.
func pickWindow(windows []MaintenanceWindow, action string) (MaintenanceWindow, bool) {
	if len(windows) == 0 {
		return MaintenanceWindow{}, false
	}
	if action != ActionImmediate && action != ActionUrgent {
		return windows[0], true
	}
	best := windows[0]
	for _, w := range windows[1:] {
		if w.Start < best.Start {
			best = w
		}
	}
	return best, true
}

func (r *ruleStage) orderParts(ctx context.Context, conv core.Conversation, c *caller) (string, error) {
	var d Diagnosis
	if !reportOf(conv, StageFaultDiagnosis, &d) || len(d.Findings) == 0 {
		return NoActionNeeded, nil
	}

	parts := d.Parts()
	order := PartsOrder{MachineID: d.MachineID, Items: []OrderItem{}}
	if len(parts) == 0 {
		order.Reasoning = "The diagnosed faults require no spare parts."
		return Encode(order), nil
	}

	res, ok, err := c.call(ctx, ToolInventory, map[string]any{"part_numbers": parts})
	if err != nil {
		return "", err
	}
	stock := map[string]InventoryItem{}
	if items, _ := res.([]InventoryItem); ok {
		for _, item := range items {
			stock[item.PartNumber] = item
		}
	}

	var unknown []string
	for _, pn := range parts {
		item, known := stock[pn]
		if !known {
			unknown = append(unknown, pn)
			continue
		}
		remaining := item.Quantity - 1
		if remaining >= item.ReorderPoint {
			continue
		}
		qty := item.ReorderPoint - remaining
		if qty < 1 {
			qty = 1
		}
		line := OrderItem{
			PartNumber: pn,
			Name:       item.Name,
			Quantity:   qty,
			UnitCost:   item.UnitCost,
			TotalCost:  float64(qty) * item.UnitCost,
			Supplier:   item.Supplier,
		}
		order.Items = append(order.Items, line)
		order.TotalCost += line.TotalCost
	}

	switch {
	case len(order.Items) == 0 && len(unknown) == 0:
		order.Reasoning = "All required parts are in stock above their reorder points."
	default:
		order.Reasoning = fmt.Sprintf("Restocking %d parts below reorder point.", len(order.Items))
		if len(unknown) > 0 {
			order.Reasoning += fmt.Sprintf(" Unknown part numbers need manual sourcing: %s.", strings.Join(unknown, ", "))
		}
	}

	return Encode(order), nil
}
