// Package handler runs the single request/response exchange of one connection.
//
// Every connection walks the same states exactly once:
//
//	Accepted -> Classified -> Resolved -> Responded -> Closed
//
// There is no keep-alive loop: the transport is closed after one response, or
// without a response if the request could not be resolved.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/boowebserver/internal/logger"
	"github.com/marmos91/boowebserver/pkg/assets"
	"github.com/marmos91/boowebserver/pkg/credentials"
	"github.com/marmos91/boowebserver/pkg/response"
	"github.com/marmos91/boowebserver/pkg/router"
	"github.com/marmos91/boowebserver/pkg/transport"
)

// ErrMalformedLogin is returned by Resolve when the login payload is not a
// JSON object carrying both username and pwd.
var ErrMalformedLogin = errors.New("malformed login payload")

// Recorder receives per-request outcomes. metrics.DispatcherMetrics satisfies it.
type Recorder interface {
	RecordRequest(route string, status int, duration time.Duration)
	RecordDropped(route string, reason string)
}

type noopRecorder struct{}

func (noopRecorder) RecordRequest(string, int, time.Duration) {}
func (noopRecorder) RecordDropped(string, string)             {}

// Config holds handler settings.
type Config struct {
	// Paths names the asset served by each route.
	Paths assets.Paths

	// Response controls optional response headers.
	Response response.Options

	// Recorder receives request outcomes. Nil disables recording.
	Recorder Recorder
}

// Handler resolves classified requests into responses.
//
// A Handler is shared by every connection and is safe for concurrent use as
// long as its Source and Validator are.
type Handler struct {
	paths     assets.Paths
	opts      response.Options
	recorder  Recorder
	router    *router.Router
	assets    assets.Source
	validator credentials.Validator
}

// New creates a handler.
//
// validator may be nil, in which case POST /login is answered with the static
// login page instead of checking credentials.
func New(cfg Config, r *router.Router, src assets.Source, validator credentials.Validator) *Handler {
	if r == nil {
		r = router.New(router.Config{})
	}
	if cfg.Paths == (assets.Paths{}) {
		cfg.Paths = assets.DefaultPaths()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}

	return &Handler{
		paths:     cfg.Paths,
		opts:      cfg.Response,
		recorder:  cfg.Recorder,
		router:    r,
		assets:    src,
		validator: validator,
	}
}

// Serve handles one request on t and closes it.
//
// Errors never escape: a failed read, an unresolvable request, or a failed
// write is logged and the connection is closed without (further) output. A
// panic is recovered and logged the same way.
func (h *Handler) Serve(ctx context.Context, t transport.Transport) {
	connID := uuid.NewString()
	remote := t.RemoteAddr()
	route := "unknown"

	defer func() {
		if r := recover(); r != nil {
			logger.Error("[%s] panic handling connection from %s: %v\n%s", connID, remote, r, debug.Stack())
			h.recorder.RecordDropped(route, "panic")
		}
		if err := t.Close(); err != nil {
			logger.Debug("[%s] close: %v", connID, err)
		}
		logger.Debug("[%s] closed", connID)
	}()

	logger.Debug("[%s] accepted %s connection from %s", connID, t.Kind(), remote)

	buf := make([]byte, h.router.BufferSize())
	n, err := t.Read(buf)
	if n == 0 {
		if err != nil {
			logger.Debug("[%s] read from %s: %v", connID, remote, err)
		}
		h.recorder.RecordDropped(route, "read")
		return
	}

	start := time.Now()
	req := h.router.Classify(buf[:n])
	route = req.Route.String()
	logger.Debug("[%s] classified as %s (%d bytes)", connID, route, n)

	resp, err := h.Resolve(ctx, req)
	if err != nil {
		logger.Error("[%s] %s request from %s dropped: %v", connID, route, remote, err)
		h.recorder.RecordDropped(route, dropReason(err))
		return
	}

	if _, err := t.Write(resp.Bytes()); err != nil {
		logger.Error("[%s] write to %s: %v", connID, remote, err)
		h.recorder.RecordDropped(route, "write")
		return
	}
	if err := t.Flush(); err != nil {
		logger.Error("[%s] flush to %s: %v", connID, remote, err)
		h.recorder.RecordDropped(route, "write")
		return
	}

	h.recorder.RecordRequest(route, resp.Status().Code(), time.Since(start))
	logger.Debug("[%s] responded %d", connID, resp.Status().Code())
}

// Resolve turns a classified request into a response.
//
// A non-nil error means no response must be sent: the asset for the route is
// missing, the login payload is malformed, or ctx ended during the slow-route
// delay. Credential failures are not errors; they resolve to 401 or 500.
func (h *Handler) Resolve(ctx context.Context, req router.Request) (*response.Response, error) {
	if req.Delay > 0 {
		timer := time.NewTimer(req.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	switch req.Route {
	case router.Homepage:
		return h.page(ctx, response.StatusOK, h.paths.Home, response.ContentTypeHTML)
	case router.Favicon:
		return h.page(ctx, response.StatusOK, h.paths.Favicon, response.ContentTypeIcon)
	case router.Login:
		return h.login(ctx, req.Payload)
	default:
		return h.page(ctx, response.StatusNotFound, h.paths.NotFound, response.ContentTypeHTML)
	}
}

func (h *Handler) page(ctx context.Context, status response.Status, name, contentType string) (*response.Response, error) {
	body, err := h.assets.Read(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", name, err)
	}
	return response.New(status, contentType, body, h.opts), nil
}

// loginPayload is the JSON body of POST /login.
type loginPayload struct {
	Username *string `json:"username"`
	Pwd      *string `json:"pwd"`
}

func (h *Handler) login(ctx context.Context, payload []byte) (*response.Response, error) {
	if h.validator == nil {
		return h.page(ctx, response.StatusOK, h.paths.Login, response.ContentTypeHTML)
	}

	var p loginPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLogin, err)
	}
	if p.Username == nil || p.Pwd == nil {
		return nil, fmt.Errorf("%w: username and pwd are required", ErrMalformedLogin)
	}

	err := h.validator.Validate(ctx, *p.Username, *p.Pwd)
	switch {
	case err == nil:
		logger.Info("User '%s' logged in", *p.Username)
		return response.LoginSuccess(h.opts), nil

	case credentials.IsUnauthorized(err):
		logger.Info("Login rejected: %v", err)
		return h.page(ctx, response.StatusUnauthorized, h.paths.Unauthorized, response.ContentTypeHTML)

	default:
		logger.Error("Credential backend failure: %v", err)
		return response.New(response.StatusInternalServerError, response.ContentTypeHTML, nil, h.opts), nil
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, assets.ErrAssetNotFound):
		return "asset"
	case errors.Is(err, ErrMalformedLogin):
		return "payload"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
