// Package natsbus runs an embedded NATS server and bridges engine
// events onto it for external consumers.
package natsbus

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/skeinhq/skein/internal/config"
)

const readyTimeout = 5 * time.Second

// Server wraps an embedded nats-server instance.
type Server struct {
	server *natsserver.Server
}

// New starts an embedded server with JetStream persistence under
// cfg.DataDir and waits until it accepts connections.
func New(cfg config.NATSConfig) (*Server, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	ns, err := natsserver.NewServer(&natsserver.Options{
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}

	slog.Info("nats server started", "url", ns.ClientURL())
	return &Server{server: ns}, nil
}

func (s *Server) ClientURL() string {
	return s.server.ClientURL()
}

// Port reports the port the server actually bound, which differs from the
// configured one when the config asked for an ephemeral port.
func (s *Server) Port() int {
	if addr, ok := s.server.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (s *Server) Close() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}
