package logger

// Component name constants for standardized logging
const (
	// Core components
	ComponentCore    = "Core"
	ComponentMonitor = "Monitor"

	// Collector components
	ComponentCellularCollector  = "CellularCollector"
	ComponentSatelliteCollector = "SatelliteCollector"

	// Transport components
	ComponentCellularTransport  = "CellularTransport"
	ComponentSatelliteTransport = "SatelliteTransport"

	// Persistence
	ComponentStorage = "Storage"

	// Control plane
	ComponentAPI     = "API"
	ComponentMetrics = "Metrics"

	// Configuration
	ComponentConfig = "Config"
)
