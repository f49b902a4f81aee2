package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	Error       string `json:"error,omitempty"`
	LastChecked string `json:"lastChecked"`
}

// AuthMetrics is returned by GET /v1/metrics/auth.
type AuthMetrics struct {
	LoginsSucceeded     int64            `json:"loginsSucceeded"`
	LoginsFailed        int64            `json:"loginsFailed"`
	Registrations       int64            `json:"registrations"`
	Logouts             int64            `json:"logouts"`
	ProfilesCreated     int64            `json:"profilesCreated"`
	ProfileRaces        int64            `json:"profileRaces"`
	ForcedSignOuts      map[string]int64 `json:"forcedSignOuts"`
	HardResets          int64            `json:"hardResets"`
	ActiveClients       int64            `json:"activeClients"`
	AvgReconcileLatency float64          `json:"avgReconcileLatencyMs"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
