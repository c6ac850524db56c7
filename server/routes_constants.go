package server

const (
	RouteJML     = "/jml"
	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"
)

// SessionCookie carries the transport session id.
const SessionCookie = "JMLSESSIONID"
