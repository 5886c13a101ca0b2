// Package pprof serves Go runtime profiles on a private listener so a long
// running chat server can be inspected without touching the public API port.
package pprof

import (
	"context"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"time"

	"github.com/codefionn/personachat/internal/logger"
)

// Server exposes the standard pprof endpoints on its own address.
type Server struct {
	httpServer *http.Server
}

// Start listens on addr (for example "localhost:6060") and serves
// /debug/pprof/ until Stop is called.
func Start(addr string) (*Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", netpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", netpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", netpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", netpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", netpprof.Trace)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{httpServer: &http.Server{Handler: mux}}
	go func() {
		logger.Info("pprof listening on http://%s/debug/pprof/", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Warn("pprof server error: %v", err)
		}
	}()
	return s, nil
}

// Stop shuts the profiling listener down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
