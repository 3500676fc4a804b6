package domain

import (
	"context"
	"fmt"

	"github.com/hupe1980/factorymesh/pipeline"
	"github.com/hupe1980/factorymesh/tool"
)

// Stage names, re-exported for callers wiring stages from this package.
const (
	StageAnomalyClassification = pipeline.StageAnomalyClassification
	StageFaultDiagnosis        = pipeline.StageFaultDiagnosis
	StageRepairPlanner         = pipeline.StageRepairPlanner
	StageMaintenanceScheduler  = pipeline.StageMaintenanceScheduler
	StagePartsOrdering         = pipeline.StagePartsOrdering
)

// Tool names.
const (
	ToolMachineData        = "get_machine_data"
	ToolThresholds         = "get_thresholds"
	ToolTelemetry          = "get_telemetry_data"
	ToolKnowledge          = "get_knowledge_data"
	ToolMaintenanceHistory = "get_maintenance_history"
	ToolMaintenanceWindows = "get_maintenance_windows"
	ToolInventory          = "get_inventory"
)

type machineArgs struct {
	MachineID string `json:"machine_id" description:"Machine identifier, e.g. machine-001"`
}

type machineTypeArgs struct {
	MachineType string `json:"machine_type" description:"Machine type, e.g. tire_curing_press"`
}

type knowledgeArgs struct {
	MachineType string `json:"machine_type" description:"Machine type to search the knowledge base for"`
	Metric      string `json:"metric,omitempty" description:"Deviating metric; empty returns every entry of the type"`
}

type windowArgs struct{}

type inventoryArgs struct {
	PartNumbers []string `json:"part_numbers" description:"Part numbers to look up"`
}

func stringArg(toolName string, args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", tool.NewToolError(toolName, fmt.Sprintf("missing argument %s", key), tool.CodeBadInput)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok || (required && s == "") {
		return "", tool.NewToolError(toolName, fmt.Sprintf("argument %s must be a non-empty string", key), tool.CodeBadInput)
	}
	return s, nil
}

func stringsArg(toolName string, args map[string]any, key string) ([]string, error) {
	switch v := args[key].(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, tool.NewToolError(toolName, fmt.Sprintf("argument %s must be a list of strings", key), tool.CodeBadInput)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, tool.NewToolError(toolName, fmt.Sprintf("argument %s must be a list of strings", key), tool.CodeBadInput)
	}
}

// MachineDataTool returns machine details including maintenance history.
func MachineDataTool(cat *Catalogue) tool.Tool {
	return tool.NewFunctionToolFromStruct(ToolMachineData,
		"Get machine information such as type, location and maintenance history for a machine id",
		machineArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			id, err := stringArg(ToolMachineData, args, "machine_id", true)
			if err != nil {
				return nil, err
			}
			m, ok := cat.Machine(id)
			if !ok {
				return nil, tool.NewToolError(ToolMachineData, fmt.Sprintf("machine %s not found", id), tool.CodeNotFound)
			}
			return m, nil
		})
}

// ThresholdsTool returns the threshold rules of a machine type.
func ThresholdsTool(cat *Catalogue) tool.Tool {
	return tool.NewFunctionToolFromStruct(ToolThresholds,
		"Get the warning and critical threshold rules of every metric for a machine type",
		machineTypeArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			mt, err := stringArg(ToolThresholds, args, "machine_type", true)
			if err != nil {
				return nil, err
			}
			return cat.ThresholdsFor(mt), nil
		})
}

// TelemetryTool returns the recorded telemetry of a machine.
func TelemetryTool(cat *Catalogue) tool.Tool {
	return tool.NewFunctionToolFromStruct(ToolTelemetry,
		"Get the recorded sensor telemetry readings of a machine",
		machineArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			id, err := stringArg(ToolTelemetry, args, "machine_id", true)
			if err != nil {
				return nil, err
			}
			return cat.TelemetryFor(id), nil
		})
}

// KnowledgeTool searches the fault knowledge base.
func KnowledgeTool(cat *Catalogue) tool.Tool {
	return tool.NewFunctionToolFromStruct(ToolKnowledge,
		"Search the knowledge base for known faults, causes and remedies of a machine type",
		knowledgeArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			mt, err := stringArg(ToolKnowledge, args, "machine_type", true)
			if err != nil {
				return nil, err
			}
			metric, err := stringArg(ToolKnowledge, args, "metric", false)
			if err != nil {
				return nil, err
			}
			return cat.KnowledgeFor(mt, metric), nil
		})
}

// MaintenanceHistoryTool returns past maintenance interventions of a machine.
func MaintenanceHistoryTool(cat *Catalogue) tool.Tool {
	return tool.NewFunctionToolFromStruct(ToolMaintenanceHistory,
		"Get the maintenance history of a machine",
		machineArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			id, err := stringArg(ToolMaintenanceHistory, args, "machine_id", true)
			if err != nil {
				return nil, err
			}
			m, ok := cat.Machine(id)
			if !ok {
				return nil, tool.NewToolError(ToolMaintenanceHistory, fmt.Sprintf("machine %s not found", id), tool.CodeNotFound)
			}
			if m.MaintenanceHistory == nil {
				return []MaintenanceRecord{}, nil
			}
			return m.MaintenanceHistory, nil
		})
}

// MaintenanceWindowsTool lists the open maintenance windows.
func MaintenanceWindowsTool(cat *Catalogue) tool.Tool {
	return tool.NewFunctionToolFromStruct(ToolMaintenanceWindows,
		"List open maintenance windows ordered by production impact",
		windowArgs{},
		func(context.Context, map[string]any) (any, error) {
			return cat.AvailableWindows(), nil
		})
}

// InventoryTool returns stock levels of spare parts.
func InventoryTool(cat *Catalogue) tool.Tool {
	return tool.NewFunctionToolFromStruct(ToolInventory,
		"Get stock level, reorder point, cost and supplier of spare parts",
		inventoryArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			parts, err := stringsArg(ToolInventory, args, "part_numbers")
			if err != nil {
				return nil, err
			}
			return cat.InventoryFor(parts), nil
		})
}

// ToolsFor returns the catalogue tools a stage works with.
func ToolsFor(stage string, cat *Catalogue) []tool.Tool {
	switch stage {
	case StageAnomalyClassification:
		return []tool.Tool{MachineDataTool(cat), ThresholdsTool(cat), TelemetryTool(cat)}
	case StageFaultDiagnosis:
		return []tool.Tool{MachineDataTool(cat), KnowledgeTool(cat)}
	case StageRepairPlanner:
		return []tool.Tool{KnowledgeTool(cat), InventoryTool(cat)}
	case StageMaintenanceScheduler:
		return []tool.Tool{MaintenanceHistoryTool(cat), MaintenanceWindowsTool(cat)}
	case StagePartsOrdering:
		return []tool.Tool{InventoryTool(cat)}
	default:
		return nil
	}
}
