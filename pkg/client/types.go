package client

// StatusDocument is the body of GET /status. Every value is a display string.
type StatusDocument struct {
	Timestamp string      `json:"timestamp"`
	TradeMode string      `json:"trade_mode"`
	Kats      MainStatus  `json:"kats"`
	Redis     CacheStatus `json:"redis"`
	Database  DBStatus    `json:"database"`
}

// MainStatus describes the trading process.
type MainStatus struct {
	Status string `json:"status"`
	PID    string `json:"pid"`
	Uptime string `json:"uptime"`
	Memory string `json:"memory"`
	CPU    string `json:"cpu"`
}

// CacheStatus describes the redis server.
type CacheStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Memory  string `json:"memory"`
	Keys    string `json:"keys"`
}

// DBStatus describes the database.
type DBStatus struct {
	Status string `json:"status"`
	Size   string `json:"size"`
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	OK     bool          `json:"ok"`
	Checks []HealthCheck `json:"checks"`
}

// HealthCheck is one checklist entry; Outcome is pass, fail or unknown.
type HealthCheck struct {
	Label   string `json:"label"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
