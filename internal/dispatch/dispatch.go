// Package dispatch turns raw wire messages into session operations and
// their replies. It owns the heartbeat fast path, envelope validation,
// session lookup and error-to-status mapping; a per-message failure never
// escapes as anything but an Error reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/hermitd/internal/events"
	"github.com/nugget/hermitd/internal/metrics"
	"github.com/nugget/hermitd/internal/prompts"
	"github.com/nugget/hermitd/internal/protocol"
	"github.com/nugget/hermitd/internal/session"
	"github.com/nugget/hermitd/internal/usage"
)

// levelTrace mirrors config.LevelTrace for wire payloads.
const levelTrace = slog.Level(-8)

// DefaultGenerateTimeout bounds a single generation when none is set.
const DefaultGenerateTimeout = 60 * time.Second

// Each error's text is the status sent to the client.
var (
	ErrMalformed     = protocol.ErrMalformed
	ErrIllegalAccess = errors.New("illegal access")
	ErrIllegalType   = errors.New("illegal message type")
	ErrTimeout       = errors.New("generation timed out")
)

// Options configures a [Dispatcher]. Zero values are usable.
type Options struct {
	// MOTD overrides the greeting sent in SetupSuccess.
	MOTD string
	// GenerateTimeout bounds each generation.
	GenerateTimeout time.Duration

	Metrics *metrics.Metrics
	Bus     *events.Bus
	Logger  *slog.Logger
}

// Dispatcher routes decoded messages to the session table. It is safe for
// concurrent use by multiple connections.
type Dispatcher struct {
	sessions *session.Manager
	motd     string
	timeout  time.Duration
	metrics  *metrics.Metrics
	bus      *events.Bus
	logger   *slog.Logger
}

// New creates a Dispatcher over sessions.
func New(sessions *session.Manager, opts Options) *Dispatcher {
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = DefaultGenerateTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Dispatcher{
		sessions: sessions,
		motd:     prompts.MOTD(opts.MOTD),
		timeout:  opts.GenerateTimeout,
		metrics:  opts.Metrics,
		bus:      opts.Bus,
		logger:   opts.Logger.With("component", "dispatch"),
	}
	d.metrics.SetSessions(sessions.Len(), sessions.Capacity())
	return d
}

// Handle processes one raw message and returns the raw reply. The
// heartbeat request is answered with the acknowledgement token without
// decoding. Every other input yields a JSON reply.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) []byte {
	if string(raw) == protocol.HeartbeatRequest {
		return []byte(protocol.HeartbeatAck)
	}

	requestID := newRequestID()
	start := time.Now()
	d.logger.Log(ctx, levelTrace, "request payload", "request_id", requestID, "json", string(raw))

	msgType := "invalid"
	sessionID := -1
	resp, err := func() (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("handler panic", "request_id", requestID, "panic", r)
				err = fmt.Errorf("internal error: %v", r)
			}
		}()

		env, err := protocol.Decode(raw)
		if err != nil {
			return nil, err
		}
		msgType = string(env.Type)
		if id, ok := env.SessionID(); ok {
			sessionID = id
		}
		return d.route(ctx, requestID, env)
	}()

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
		resp = protocol.NewError(status(err))
	}
	d.metrics.ObserveRequest(msgType, outcome)

	out := protocol.Encode(resp)
	d.logger.Debug("message dispatched",
		"request_id", requestID,
		"type", msgType,
		"session_id", sessionID,
		"outcome", outcome,
		"elapsed", time.Since(start),
	)
	if err != nil {
		d.logger.Debug("message rejected", "request_id", requestID, "error", err)
	}
	d.logger.Log(ctx, levelTrace, "response payload", "request_id", requestID, "json", string(out))
	return out
}

func (d *Dispatcher) route(ctx context.Context, requestID string, env *protocol.Envelope) (any, error) {
	if env.Type == protocol.TypeSetup {
		return d.setup(env)
	}

	// A missing id and an unknown id are reported identically.
	id, ok := env.SessionID()
	if !ok {
		return nil, ErrIllegalAccess
	}
	s, ok := d.sessions.Lookup(id)
	if !ok {
		return nil, ErrIllegalAccess
	}

	switch env.Type {
	case protocol.TypeGenerateCommand:
		return d.generate(ctx, requestID, s, env)
	case protocol.TypeSaveContext:
		var msg protocol.SaveContext
		if err := env.Bind(&msg, "context"); err != nil {
			return nil, err
		}
		s.SaveContext(msg.Kind(), msg.Context)
		return protocol.NewSuccess(), nil
	case protocol.TypeExit:
		if d.sessions.Destroy(id) {
			d.metrics.SetSessions(d.sessions.Len(), d.sessions.Capacity())
			d.publish(events.KindSessionDestroyed, map[string]any{"session_id": id})
		}
		return protocol.NewSuccess(), nil
	default:
		return nil, ErrIllegalType
	}
}

func (d *Dispatcher) setup(env *protocol.Envelope) (any, error) {
	var msg protocol.Setup
	if err := env.Bind(&msg, "user"); err != nil {
		return nil, err
	}
	if msg.APIVersion != "" && msg.APIVersion != protocol.APIVersion {
		d.logger.Warn("client api version differs", "client", msg.APIVersion, "server", protocol.APIVersion)
	}

	id, err := d.sessions.Create(msg.User)
	if err != nil {
		return nil, err
	}
	d.metrics.SetSessions(d.sessions.Len(), d.sessions.Capacity())
	d.publish(events.KindSessionCreated, map[string]any{"session_id": id, "user": msg.User})
	d.logger.Info("session created", "session_id", id, "user", msg.User)

	return protocol.NewSetupSuccess(id, d.motd), nil
}

func (d *Dispatcher) generate(ctx context.Context, requestID string, s *session.Session, env *protocol.Envelope) (any, error) {
	var msg protocol.GenerateCommand
	if err := env.Bind(&msg, "prompt"); err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	gctx = usage.WithAttribution(gctx, usage.Attribution{
		RequestID: requestID,
		SessionID: s.ID,
		User:      s.User,
	})

	start := time.Now()
	reply, err := s.GenerateCommand(gctx, msg.Prompt)
	elapsed := time.Since(start)
	d.metrics.ObserveGeneration(elapsed)

	if err != nil {
		if errors.Is(gctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, d.timeout, err)
		}
		d.logger.Warn("generation failed", "request_id", requestID, "session_id", s.ID, "error", err)
		d.publish(events.KindGenerationFailed, map[string]any{
			"session_id": s.ID,
			"request_id": requestID,
			"error":      err.Error(),
			"elapsed_ms": elapsed.Milliseconds(),
		})
		return nil, err
	}

	d.publish(events.KindCommandGenerated, map[string]any{
		"session_id": s.ID,
		"request_id": requestID,
		"commands":   len(reply.Commands),
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return protocol.NewCommandResponse(reply.Text, reply.Commands), nil
}

func (d *Dispatcher) publish(kind string, data map[string]any) {
	d.bus.Publish(events.Event{Source: events.SourceDispatch, Kind: kind, Data: data})
}

// status maps an error to the status string sent in an Error reply.
// Known failures get their fixed status even when wrapped.
func status(err error) string {
	for _, known := range []error{
		ErrMalformed,
		ErrIllegalAccess,
		ErrIllegalType,
		ErrTimeout,
		session.ErrCapacityExceeded,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
