package domain

// SampleCatalogue returns a small tire plant used when no catalogue is
// configured, and by tests.
func SampleCatalogue() *Catalogue {
	return &Catalogue{
		Machines: []Machine{
			{
				ID: "machine-001", Name: "Tire Curing Press A1", Type: "tire_curing_press", Location: "Building 1, Line 1",
				MaintenanceHistory: []MaintenanceRecord{
					{Date: "2024-06-12", FaultType: "heating_element_degradation", DowntimeHours: 6, Cost: 2400},
					{Date: "2024-11-03", FaultType: "hydraulic_seal_leak", DowntimeHours: 4, Cost: 900},
				},
			},
			{ID: "machine-002", Name: "Tire Building Drum B1", Type: "tire_building_machine", Location: "Building 1, Line 2"},
			{ID: "machine-003", Name: "Banbury Mixer M1", Type: "banbury_mixer", Location: "Building 2, Compounding"},
		},
		Thresholds: []Threshold{
			{MachineType: "tire_curing_press", Metric: "curing_temperature", Unit: "°C", Warning: 178, Critical: 185},
			{MachineType: "tire_curing_press", Metric: "cycle_time", Unit: "min", Warning: 14, Critical: 16},
			{MachineType: "tire_curing_press", Metric: "hydraulic_pressure", Unit: "bar", Warning: 190, Critical: 205},
			{MachineType: "tire_building_machine", Metric: "drum_vibration", Unit: "mm/s", Warning: 4.5, Critical: 7.1},
			{MachineType: "banbury_mixer", Metric: "mixing_temperature", Unit: "°C", Warning: 160, Critical: 170},
			{MachineType: "banbury_mixer", Metric: "motor_current", Unit: "A", Warning: 420, Critical: 480},
		},
		Telemetry: []Reading{
			{MachineID: "machine-001", Metric: "curing_temperature", Value: 179.2, Unit: "°C"},
			{MachineID: "machine-001", Metric: "cycle_time", Value: 12.5, Unit: "min"},
			{MachineID: "machine-002", Metric: "drum_vibration", Value: 2.1, Unit: "mm/s"},
			{MachineID: "machine-003", Metric: "mixing_temperature", Value: 152, Unit: "°C"},
			{MachineID: "machine-003", Metric: "motor_current", Value: 395, Unit: "A"},
		},
		Knowledge: []KnowledgeEntry{
			{
				MachineType: "tire_curing_press", Metric: "curing_temperature", FaultType: "heating_element_degradation",
				Cause:  "Degraded platen heating element causing temperature overshoot",
				Remedy: "Replace heating element and recalibrate the temperature controller",
				Parts:  []string{"TCP-HTR-4KW", "TCP-TC-K"}, RepairHours: 4,
			},
			{
				MachineType: "tire_curing_press", Metric: "hydraulic_pressure", FaultType: "hydraulic_seal_leak",
				Cause:  "Worn hydraulic cylinder seals",
				Remedy: "Replace cylinder seal kit and bleed the hydraulic circuit",
				Parts:  []string{"TCP-SEAL-KIT"}, RepairHours: 3,
			},
			{
				MachineType: "tire_building_machine", Metric: "drum_vibration", FaultType: "bearing_wear",
				Cause:  "Worn drum shaft bearing",
				Remedy: "Replace drum shaft bearing and realign the drum",
				Parts:  []string{"TBM-BRG-6204"}, RepairHours: 5,
			},
			{
				MachineType: "banbury_mixer", Metric: "motor_current", FaultType: "rotor_tip_wear",
				Cause:       "Worn rotor tips increasing mixing load",
				Remedy:      "Hard-face rotor tips during the next shutdown",
				RepairHours: 8,
			},
		},
		Windows: []MaintenanceWindow{
			{ID: "mw-001", Start: "2025-01-06T22:00:00Z", End: "2025-01-07T04:00:00Z", ProductionImpact: "low", Available: true},
			{ID: "mw-002", Start: "2025-01-04T06:00:00Z", End: "2025-01-04T10:00:00Z", ProductionImpact: "high", Available: true},
			{ID: "mw-003", Start: "2025-01-05T14:00:00Z", End: "2025-01-05T18:00:00Z", ProductionImpact: "medium", Available: true},
			{ID: "mw-004", Start: "2025-01-03T22:00:00Z", End: "2025-01-04T02:00:00Z", ProductionImpact: "low", Available: false},
		},
		Inventory: []InventoryItem{
			{PartNumber: "TCP-HTR-4KW", Name: "Platen heating element 4kW", Quantity: 1, ReorderPoint: 2, UnitCost: 640, Supplier: "ThermoParts GmbH", LeadTimeDays: 5},
			{PartNumber: "TCP-TC-K", Name: "Type K thermocouple", Quantity: 12, ReorderPoint: 4, UnitCost: 35, Supplier: "SensorDirect", LeadTimeDays: 2},
			{PartNumber: "TCP-SEAL-KIT", Name: "Hydraulic cylinder seal kit", Quantity: 3, ReorderPoint: 2, UnitCost: 180, Supplier: "HydroSeal Ltd", LeadTimeDays: 3},
			{PartNumber: "TBM-BRG-6204", Name: "Drum shaft bearing 6204", Quantity: 0, ReorderPoint: 2, UnitCost: 48, Supplier: "BearingWorld", LeadTimeDays: 1},
		},
	}
}
