package eventbus

import (
	"fmt"
	"net"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/telemetry"
)

// Embedded wraps an in-process NATS server so a single-binary deployment
// of cortexd needs no external broker. Tests and the default daemon mode
// both use this; a production multi-host deployment points Connect at a
// real cluster instead.
type Embedded struct {
	srv *server.Server
}

// StartEmbedded boots an in-process NATS server on port (0 picks a free
// port) and blocks until it is ready to accept connections.
func StartEmbedded(port int) (*Embedded, error) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      port,
		NoSigs:    true,
		NoLog:     true,
		JetStream: false,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, errs.Permanent("eventbus.embedded.start", fmt.Errorf("create server: %w", err))
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return nil, errs.Timeout("eventbus.embedded.start", fmt.Errorf("server not ready"))
	}
	telemetry.InfoCF(component, "embedded event bus started", telemetry.Fields{"addr": ns.Addr().String()})
	return &Embedded{srv: ns}, nil
}

// ClientURL returns the nats:// URL local components should Connect to.
func (e *Embedded) ClientURL() string {
	addr := e.srv.Addr().(*net.TCPAddr)
	return fmt.Sprintf("nats://127.0.0.1:%d", addr.Port)
}

// Stop shuts the embedded server down. Safe to call once.
func (e *Embedded) Stop() {
	if e.srv != nil {
		e.srv.Shutdown()
	}
}
