package midjourney

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPingInterval is how often a connected session sends a ping.
const DefaultPingInterval = 25 * time.Second

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateSubscribed   SessionState = "subscribed"
)

// NewJob is delivered when a job is created in a subscribed room.
type NewJob struct {
	ID          string
	EnqueueTime int64
	Width       int
	Height      int
}

// JobUpdate is delivered when a subscribed job makes progress. Images is nil
// when the update carries no new partial render.
type JobUpdate struct {
	ID                 string
	PercentageComplete int
	Status             JobStatus
	Images             []ProgressImage
}

// Listener receives session events. Callbacks run on the session's receive
// goroutine and must not block.
type Listener interface {
	JobCreated(job NewJob)
	JobProgress(update JobUpdate)
}

// DisconnectListener may be implemented by a Listener to learn that the
// receive loop stopped because the transport failed.
type DisconnectListener interface {
	Disconnected(err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnJobCreated   func(NewJob)
	OnJobProgress  func(JobUpdate)
	OnDisconnected func(error)
}

func (f ListenerFuncs) JobCreated(job NewJob) {
	if f.OnJobCreated != nil {
		f.OnJobCreated(job)
	}
}

func (f ListenerFuncs) JobProgress(update JobUpdate) {
	if f.OnJobProgress != nil {
		f.OnJobProgress(update)
	}
}

func (f ListenerFuncs) Disconnected(err error) {
	if f.OnDisconnected != nil {
		f.OnDisconnected(err)
	}
}

// Session is a live-update connection for one user. It is safe for
// concurrent use by multiple goroutines.
//
// A Session may be connected again after it has been disconnected; it never
// reconnects on its own.
type Session struct {
	userID   string
	webToken string
	listener Listener
	cfg      sessionConfig

	mu        sync.Mutex
	state     SessionState
	transport Transport
	cancel    context.CancelFunc
	done      chan struct{}
	connID    string
	closeErr  error
}

// NewSession creates a disconnected session for the user identified by
// userID, authenticating with the websocket token webToken.
func NewSession(userID, webToken string, listener Listener, opts ...SessionOption) *Session {
	cfg := sessionConfig{
		url:          DefaultWebSocketURL,
		pingInterval: DefaultPingInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.dial == nil {
		cfg.dial = DialerWithOptions(nil)
	}
	if cfg.pingInterval <= 0 {
		cfg.pingInterval = DefaultPingInterval
	}

	done := make(chan struct{})
	close(done)

	return &Session{
		userID:   userID,
		webToken: webToken,
		listener: listener,
		cfg:      cfg,
		state:    StateDisconnected,
		done:     done,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when the current connection's receive loop
// has stopped. It is already closed for a session that is not connected.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the transport error that ended the last connection, or nil if
// it was ended by Disconnect or is still running.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// RoomID returns the user's personal room, "singleplayer_{userID}".
func (s *Session) RoomID() string {
	return "singleplayer_" + s.userID
}

// Connect opens the transport, starts receiving, subscribes to the user's
// room and starts the keep-alive ticker. ctx bounds only the dial; the
// connection lives until Disconnect or a transport failure.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	connID := uuid.NewString()
	s.state = StateConnecting
	s.connID = connID
	s.mu.Unlock()

	transport, err := s.cfg.dial(ctx, s.cfg.url)
	if err != nil {
		s.mu.Lock()
		if s.connID == connID && s.state == StateConnecting {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	if s.state != StateConnecting || s.connID != connID {
		// Disconnect ran while dialing, possibly followed by another Connect.
		s.mu.Unlock()
		cancel()
		_ = transport.Close()
		return ErrClosed
	}
	s.transport = transport
	s.cancel = cancel
	s.done = done
	s.closeErr = nil
	s.state = StateConnected
	s.mu.Unlock()

	if s.cfg.logger != nil {
		s.cfg.logger.Info("websocket connected",
			slog.String("conn_id", connID),
			slog.String("url", s.cfg.url),
		)
	}

	go s.readLoop(loopCtx, transport, done)
	go s.subscribeToUser(loopCtx, transport)
	go s.keepAlive(loopCtx, transport)

	return nil
}

// Disconnect stops the receive loop and the keep-alive ticker and closes the
// transport. A *Stream listener is ended without an error. It is safe to
// call at any time, including on a session that never connected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	transport := s.transport
	cancel := s.cancel
	connID := s.connID
	s.transport = nil
	s.cancel = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if transport != nil {
		_ = transport.Close()
		if s.cfg.logger != nil {
			s.cfg.logger.Info("websocket disconnected", slog.String("conn_id", connID))
		}
		if stream, ok := s.listener.(*Stream); ok {
			stream.Close()
		}
	}
}

// SubscribeToJob asks for progress updates of jobID. It returns once the
// message is written; any acknowledgement arrives later as a separate frame.
func (s *Session) SubscribeToJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrInvalidJobID
	}

	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return ErrNotConnected
	}

	return s.send(ctx, transport, SubscribeToJob{JobID: jobID, RoomID: s.RoomID()})
}

// readLoop receives frames until the transport fails or the loop is
// cancelled.
func (s *Session) readLoop(ctx context.Context, transport Transport, done chan struct{}) {
	defer close(done)

	for {
		data, err := transport.Receive(ctx)
		if err != nil {
			s.endLoop(ctx, transport, err)
			return
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			s.dropFrame(data, err)
			continue
		}

		// Observability hook
		if s.cfg.onReceive != nil {
			s.cfg.onReceive(msg)
		}

		if s.cfg.logger != nil {
			s.cfg.logger.Debug("received message",
				slog.String("type", string(msg.Type())),
				slog.String("conn_id", s.connIDFor(transport)),
			)
		}

		s.dispatch(msg)
	}
}

// dispatch notifies the listener of the messages it cares about.
func (s *Session) dispatch(msg Message) {
	if s.listener == nil {
		return
	}

	switch m := msg.(type) {
	case RoomNewJob:
		s.listener.JobCreated(NewJob{
			ID:          m.Job.ID,
			EnqueueTime: m.Job.EnqueueTime,
			Width:       m.Job.Width,
			Height:      m.Job.Height,
		})
	case JobProgress:
		s.listener.JobProgress(JobUpdate{
			ID:                 m.JobID,
			PercentageComplete: m.Data.PercentageComplete,
			Status:             m.Data.CurrentStatus,
			Images:             m.Data.Images,
		})
	case SubscribeToUser, UserSuccess, ListOfUsers, Ping, JobSuccess, SubscribeToJob:
		// No listener callback.
	}
}

// dropFrame logs a frame that could not be decoded. The loop keeps going.
func (s *Session) dropFrame(data []byte, err error) {
	if s.cfg.logger == nil {
		return
	}
	if errors.Is(err, ErrUnknownMessageType) {
		s.cfg.logger.Debug("ignoring message", slog.String("error", err.Error()))
		return
	}
	s.cfg.logger.Warn("dropping undecodable frame",
		slog.String("error", err.Error()),
		slog.Int("bytes", len(data)),
	)
}

// endLoop resets the session after the receive loop stops. A loop stopped by
// Disconnect is not reported as a failure.
func (s *Session) endLoop(ctx context.Context, transport Transport, err error) {
	cancelled := ctx.Err() != nil

	s.mu.Lock()
	current := s.transport == transport
	if current {
		s.transport = nil
		s.cancel()
		s.cancel = nil
		s.state = StateDisconnected
		if !cancelled {
			s.closeErr = err
		}
	}
	s.mu.Unlock()

	if !current || cancelled {
		return
	}

	_ = transport.Close()

	if s.cfg.logger != nil {
		s.cfg.logger.Warn("websocket receive failed", slog.String("error", err.Error()))
	}
	if dl, ok := s.listener.(DisconnectListener); ok {
		dl.Disconnected(err)
	}
}

// subscribeToUser joins the user's room. Failures are logged and otherwise
// ignored; the keep-alive and receive loop carry on regardless.
func (s *Session) subscribeToUser(ctx context.Context, transport Transport) {
	if err := s.send(ctx, transport, SubscribeToUser{JWT: s.webToken}); err != nil {
		s.logSendFailure(TypeSubscribeToUser, err)
		return
	}

	s.mu.Lock()
	if s.transport == transport && s.state == StateConnected {
		s.state = StateSubscribed
	}
	s.mu.Unlock()
}

// keepAlive sends a ping every interval until ctx is cancelled. Ping
// failures are ignored.
func (s *Session) keepAlive(ctx context.Context, transport Transport) {
	ticker := time.NewTicker(s.cfg.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.send(ctx, transport, Ping{}); err != nil {
				s.logSendFailure(TypePing, err)
			}
		}
	}
}

// send encodes msg and writes it to transport.
func (s *Session) send(ctx context.Context, transport Transport, msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	// Observability hook
	if s.cfg.onSend != nil {
		s.cfg.onSend(msg)
	}

	if s.cfg.logger != nil {
		s.cfg.logger.Debug("sending message",
			slog.String("type", string(msg.Type())),
			slog.String("conn_id", s.connIDFor(transport)),
		)
	}

	return transport.Send(ctx, data)
}

func (s *Session) logSendFailure(typ MessageType, err error) {
	if s.cfg.logger == nil || errors.Is(err, context.Canceled) {
		return
	}
	s.cfg.logger.Warn("send failed",
		slog.String("type", string(typ)),
		slog.String("error", err.Error()),
	)
}

func (s *Session) connIDFor(transport Transport) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport != transport {
		return ""
	}
	return s.connID
}
