package apm

import (
	"context"
	"net"
	"time"

	fiber "github.com/gofiber/fiber/v3"
	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/apm/internal/libs/serializer"
)

// ManagementHTTPOption configures the management HTTP server.
type ManagementHTTPOption func(*ManagementHTTPServer)

// ManagementHTTPServer exposes the tracked servers and their latest
// percentile snapshots over HTTP. It holds the Fiber app and settings.
type ManagementHTTPServer struct {
	addr         string
	app          *fiber.App
	readTimeout  time.Duration
	writeTimeout time.Duration
	authFunc     func(fiber.Ctx) error
	serializers  *serializer.Registry
	ln           net.Listener
	started      bool
}

// WithMgmtAuth sets an auth function (return error to block).
func WithMgmtAuth(fn func(fiber.Ctx) error) ManagementHTTPOption {
	return func(s *ManagementHTTPServer) { s.authFunc = fn }
}

// WithMgmtReadTimeout sets read timeout.
func WithMgmtReadTimeout(d time.Duration) ManagementHTTPOption {
	return func(s *ManagementHTTPServer) { s.readTimeout = d }
}

// WithMgmtWriteTimeout sets write timeout.
func WithMgmtWriteTimeout(d time.Duration) ManagementHTTPOption {
	return func(s *ManagementHTTPServer) { s.writeTimeout = d }
}

const (
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// NewManagementHTTPServer builds an HTTP server holder (lazy start).
func NewManagementHTTPServer(addr string, opts ...ManagementHTTPOption) *ManagementHTTPServer {
	srv := &ManagementHTTPServer{
		addr:         addr,
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
		serializers:  serializer.NewSerializerRegistry(),
	}
	for _, opt := range opts { // apply options
		opt(srv)
	}

	srv.app = fiber.New(fiber.Config{
		ReadTimeout:  srv.readTimeout,
		WriteTimeout: srv.writeTimeout,
	})

	return srv
}

// Start launches the listener (idempotent). Caller provides the service for
// handler wiring.
func (s *ManagementHTTPServer) Start(ctx context.Context, svc Service) error {
	if s.started { // idempotent
		return nil
	}

	s.mountRoutes(ctx, svc)

	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return ewrap.Wrap(err, "mgmt listen")
	}

	s.ln = ln

	go func() { // serve in background (optional server errors are ignored intentionally)
		err = s.app.Listener(ln)
		if err != nil { // optional server; log hook could be added in future
			_ = err
		}
	}()

	s.started = true

	return nil
}

// Address returns the bound address (useful when passing ":0" for ephemeral port). Empty if not started yet.
func (s *ManagementHTTPServer) Address() string {
	if s.ln == nil {
		return ""
	}

	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *ManagementHTTPServer) Shutdown(ctx context.Context) error {
	if !s.started {
		return nil
	}

	ch := make(chan error, 1)

	go func() {
		ch <- s.app.Shutdown()
	}()

	select {
	case <-ctx.Done():
		return ewrap.New("mgmt shutdown timed out")
	case err := <-ch:
		return err
	}
}

func (s *ManagementHTTPServer) mountRoutes(ctx context.Context, svc Service) {
	useAuth := s.wrapAuth

	s.app.Get("/healthz", useAuth(func(fiberCtx fiber.Ctx) error {
		return fiberCtx.SendString("ok")
	}))

	s.app.Get("/api/v1/servers", useAuth(func(fiberCtx fiber.Ctx) error {
		return fiberCtx.JSON(fiber.Map{"servers": svc.Servers(ctx)})
	}))

	s.app.Get("/api/v1/servers/:name/stats", useAuth(func(fiberCtx fiber.Ctx) error {
		snap, err := svc.Snapshot(ctx, fiberCtx.Params("name"))
		if err != nil {
			return fiberCtx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}

		// Payload encoding is negotiated through the serializer registry;
		// unknown formats fall back to JSON.
		format := fiberCtx.Query("format", "default")

		ser, err := s.serializers.New(format)
		if err != nil {
			ser, _ = s.serializers.New("default")
		}

		payload, err := ser.Marshal(snap)
		if err != nil {
			return fiberCtx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		fiberCtx.Set(fiber.HeaderContentType, ser.ContentType())

		return fiberCtx.Send(payload)
	}))

	s.app.Post("/api/v1/servers/:name", useAuth(func(fiberCtx fiber.Ctx) error {
		err := svc.Track(ctx, fiberCtx.Params("name"))
		if err != nil {
			return fiberCtx.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}

		return fiberCtx.SendStatus(fiber.StatusCreated)
	}))

	s.app.Delete("/api/v1/servers/:name", useAuth(func(fiberCtx fiber.Ctx) error {
		err := svc.Forget(ctx, fiberCtx.Params("name"))
		if err != nil {
			return fiberCtx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}

		return fiberCtx.SendStatus(fiber.StatusNoContent)
	}))
}

// wrapAuth returns an auth-wrapped handler if authFunc provided.
func (s *ManagementHTTPServer) wrapAuth(handler fiber.Handler) fiber.Handler {
	if s.authFunc == nil {
		return handler
	}

	return func(fiberCtx fiber.Ctx) error {
		authErr := s.authFunc(fiberCtx)
		if authErr != nil {
			return authErr
		}

		return handler(fiberCtx)
	}
}
