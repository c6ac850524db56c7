package server

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RouteJML, ChainMiddleware(s.JMLHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteJML, ChainMiddleware(s.JMLHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS "+RouteJML, ChainMiddleware(s.JMLHandler(), s.APIMiddleware()...))

	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.Handler())
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
}
