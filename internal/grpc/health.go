// Package grpc is the side channel other services and orchestrators use to
// probe this process.
package grpc

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "preparedness.Realtime"

type Server struct {
	*grpc.Server
	health *health.Server
	log    *zap.Logger
}

func NewServer(serviceToken string, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	interceptor, err := NewServiceAuthUnaryInterceptor(serviceToken)
	if err != nil {
		return nil, err
	}
	srv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	s := &Server{Server: srv, health: hs, log: log}
	s.SetServing(true)
	return s, nil
}

// SetServing flips the reported status of the process and ServiceName.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	s.log.Info("grpc health status", zap.String("status", st.String()))
}

// Stop reports NOT_SERVING to watchers, then drains in-flight calls.
func (s *Server) Stop() {
	s.SetServing(false)
	s.health.Shutdown()
	s.GracefulStop()
}
