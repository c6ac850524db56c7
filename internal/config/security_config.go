package config

type SecurityConfig interface {
	GetSecurityMode() string
	GetAllowedActions() []string
	GetLocalURIs() []string
	GetRemoteUserHeader() string
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetSecurityMode is one of AllRestrictedActions, OnlyLocalRequests or PartialRestrictedActions.
func (Security) GetSecurityMode() string {
	return GetEnv("SECURITY_MODE", "OnlyLocalRequests")
}

// GetAllowedActions lists the actions remote callers may run under the restricted modes.
func (Security) GetAllowedActions() []string {
	return GetList("ALLOWED_ACTIONS", []string{"login", "logout", "doUserStoredProcedure", "getSessionInfo"})
}

// GetLocalURIs lists request URIs that are treated as local regardless of origin.
func (Security) GetLocalURIs() []string {
	return GetList("LOCAL_URIS", nil)
}

// GetRemoteUserHeader names a header set by a trusted front proxy that carries
// the authenticated user. Empty disables it.
func (Security) GetRemoteUserHeader() string {
	return GetEnv("REMOTE_USER_HEADER", "")
}
