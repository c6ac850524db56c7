package verifier

// NewDefaultRegistry registers every built-in strategy. caller backs the
// database strategy and may be nil when no account uses it.
func NewDefaultRegistry(caller ProcedureCaller) *Registry {
	r := NewRegistry()
	r.Register(SimpleName, NewSimple)
	r.Register(RemoteUserName, NewRemoteUser)
	r.Register(JWTName, NewJWT)
	r.Register(OIDCName, NewOIDC)
	r.Register(DatabaseName, DatabaseFactory(caller))
	return r
}
