package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// commandReloadLegacy is accepted as an alias of models.CommandReload.
const commandReloadLegacy = "reload_config"

// Service is what the control channel drives. pipeline.Supervisor
// implements it.
type Service interface {
	Reload(ctx context.Context) error
	ServiceStatus() models.ServiceStatus
}

// Server answers one command per connection, one connection at a time.
type Server struct {
	ln      net.Listener
	service Service
	logger  *slog.Logger
	// Timeout bounds reading the command and writing the response.
	Timeout time.Duration

	closeOnce sync.Once
}

func NewServer(ln net.Listener, service Service, logger *slog.Logger) *Server {
	return &Server{ln: ln, service: service, logger: logger.With("control", ln.Addr().String()), Timeout: 10 * time.Second}
}

// Serve accepts connections until ctx is done or the listener is closed.
// Connection failures are logged and never stop the loop.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info("Control channel listening.")
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.handle(ctx, conn)
	}
}

func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.ln.Close() })
	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if s.Timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.Timeout))
	}
	var cmd models.Command
	if err := ReadFrame(conn, &cmd); err != nil {
		s.logger.Warn("Failed to read control command.", "errorKind", models.KindTransport, "error", err)
		if errors.Is(err, ErrFrameTooLarge) || isDecodeError(err) {
			s.respond(conn, models.Failure("malformed command: "+err.Error()))
		}
		return
	}
	resp := s.dispatch(ctx, cmd)
	s.logger.Info("Control command handled.", "command", cmd.Type, "status", resp.Status)
	s.respond(conn, resp)
}

func (s *Server) respond(conn net.Conn, resp models.Response) {
	if s.Timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.Timeout))
	}
	if err := WriteFrame(conn, resp); err != nil {
		s.logger.Warn("Failed to write control response.", "errorKind", models.KindTransport, "error", err)
	}
}

// dispatch runs one command. A panicking callback becomes an error response
// so the accept loop keeps serving.
func (s *Server) dispatch(ctx context.Context, cmd models.Command) (resp models.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Control command panicked.", "command", cmd.Type, "panic", r)
			resp = models.Failure(fmt.Sprintf("%s failed: %v", cmd.Type, r))
		}
	}()
	switch cmd.Type {
	case models.CommandPing:
		return models.Success("pong")
	case models.CommandReload, commandReloadLegacy:
		if err := s.service.Reload(ctx); err != nil {
			return models.Failure("configuration reload failed: " + err.Error())
		}
		return models.Success("configuration reloaded")
	case models.CommandStatus:
		st := s.service.ServiceStatus()
		data, err := json.Marshal(st)
		if err != nil {
			return models.Failure("encode status: " + err.Error())
		}
		resp := models.Success(fmt.Sprintf("%d hotfolders", len(st.Workers)))
		resp.Data = data
		return resp
	}
	return models.Failure(fmt.Sprintf("%v: %q", models.ErrUnknownCommand, cmd.Type))
}

func isDecodeError(err error) bool {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syntax) || errors.As(err, &typ)
}

// Listen opens a unix:// or tcp:// address. A stale unix socket left by a
// previous run is removed first.
func Listen(addr string) (net.Listener, error) {
	network, address, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}
	if network == "unix" {
		if conn, err := net.DialTimeout("unix", address, time.Second); err == nil {
			conn.Close()
			return nil, fmt.Errorf("control socket %s is in use", address)
		}
		if err := os.Remove(address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// ParseAddr splits a control address into network and address.
func ParseAddr(addr string) (network, address string, err error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("control address %q must be unix://path or tcp://host:port", addr)
	}
	switch scheme {
	case "unix", "tcp":
		return scheme, rest, nil
	}
	return "", "", fmt.Errorf("control address %q: unsupported scheme %q", addr, scheme)
}
