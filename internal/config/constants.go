package config

// Application info
const (
	AppName    = "licensetrust"
	AppVersion = "1.0.0"
	UserAgent  = AppName + "/" + AppVersion
)

// Local API endpoints
const (
	LicenseAPIBase    = "/api/license"
	HealthEndpoint    = "/healthz"
	MetricsEndpoint   = "/metrics"
	WebSocketEndpoint = "/ws/license"
)
