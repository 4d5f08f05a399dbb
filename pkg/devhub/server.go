// Package devhub implements the server side of the hub wire contract so the
// client can be exercised end-to-end without a real agent backend. Events
// flow through a watermill pub/sub: the scripted agent publishes to a
// per-session topic and a forwarder broadcasts the frames to every websocket
// joined to that session.
package devhub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/hubchat/pkg/hub"
)

func decodeInto(env hub.Envelope, v any) error {
	if len(env.Data) == 0 {
		return errors.New("missing payload")
	}
	return errors.Wrapf(json.Unmarshal(env.Data, v), "decode %s payload", env.Type)
}

type Config struct {
	// Addr is the HTTP listen address, e.g. ":5038".
	Addr string
	// ChunkDelay paces the scripted agent's streamed chunks.
	ChunkDelay time.Duration
	// RedundantFinal makes the agent emit onFinalResponse after a completed
	// stream, mimicking backends that send both signals.
	RedundantFinal bool
	// IdleTimeout stops a session's forwarder once no client has been joined
	// for this long. Zero disables idle shutdown.
	IdleTimeout time.Duration

	Redis RedisSettings
}

type session struct {
	id      string
	pool    *connPool
	stop    context.CancelFunc
	reading bool
}

// Server accepts hub websocket connections on /chathub and speaks the full
// invocation/event protocol.
type Server struct {
	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	agent    *Agent

	baseCtx context.Context
	pub     message.Publisher
	sub     message.Subscriber

	mu       sync.Mutex
	sessions map[string]*session
}

func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("server base context is nil")
	}
	pub, sub, err := buildPubSub(cfg.Redis)
	if err != nil {
		return nil, errors.Wrap(err, "build event transport")
	}
	logger := log.With().Str("component", "devhub").Logger()
	return &Server{
		cfg:      cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		agent:    NewAgent(cfg.ChunkDelay, cfg.RedundantFinal, logger),
		baseCtx:  ctx,
		pub:      pub,
		sub:      sub,
		sessions: map[string]*session{},
	}, nil
}

// Handler returns the HTTP handler with the /chathub endpoint mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chathub", s.handleWS)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("devhub listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeSessions()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := newWSClient(conn)
	wsLog := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	wsLog.Info().Msg("client connected")

	joined := map[string]struct{}{}
	defer func() {
		for id := range joined {
			s.leaveSession(client, id)
		}
		client.close()
		wsLog.Info().Msg("client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			wsLog.Debug().Err(err).Msg("read loop end")
			return
		}
		env, err := hub.ParseEnvelope(data)
		if err != nil {
			wsLog.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		s.handleInvocation(client, env, joined, wsLog)
	}
}

func (s *Server) handleInvocation(client *wsClient, env hub.Envelope, joined map[string]struct{}, wsLog zerolog.Logger) {
	switch env.Type {
	case hub.MethodJoinSession:
		var p hub.SessionPayload
		if err := decodeInto(env, &p); err != nil || p.SessionID == "" {
			s.replyError(client, env.ID, "JoinSession requires a sessionId")
			return
		}
		s.joinSession(client, p.SessionID)
		joined[p.SessionID] = struct{}{}
		s.replyAck(client, env.ID)
		wsLog.Debug().Str("session_id", p.SessionID).Msg("joined session")

	case hub.MethodLeaveSession:
		var p hub.SessionPayload
		if err := decodeInto(env, &p); err != nil || p.SessionID == "" {
			s.replyError(client, env.ID, "LeaveSession requires a sessionId")
			return
		}
		s.leaveSession(client, p.SessionID)
		delete(joined, p.SessionID)
		s.replyAck(client, env.ID)
		wsLog.Debug().Str("session_id", p.SessionID).Msg("left session")

	case hub.MethodProcessMessage:
		var p hub.ProcessMessagePayload
		if err := decodeInto(env, &p); err != nil || p.SessionID == "" || p.Text == "" {
			s.replyError(client, env.ID, "ProcessMessage requires text and a sessionId")
			return
		}
		if p.AgentMode != "" && !p.AgentMode.Valid() {
			s.replyError(client, env.ID, "unknown agent mode "+string(p.AgentMode))
			return
		}
		// Replies flow through the session topic, so only joined clients see
		// them; a send without a prior join is acknowledged but goes nowhere
		// visible, matching the advisory join contract.
		s.ensureSession(p.SessionID)
		s.replyAck(client, env.ID)
		go s.agent.Respond(s.baseCtx, s.pub, p.SessionID, p.Text, p.AgentMode)

	default:
		s.replyError(client, env.ID, "unknown method "+env.Type)
	}
}

func (s *Server) replyAck(client *wsClient, id string) {
	frame, err := hub.EncodeAck(id)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode ack")
		return
	}
	if err := client.write(frame); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write ack")
	}
}

func (s *Server) replyError(client *wsClient, id, msg string) {
	frame, err := hub.EncodeInvokeError(id, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode error reply")
		return
	}
	if err := client.write(frame); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write error reply")
	}
}

func (s *Server) joinSession(client *wsClient, sessionID string) {
	sess := s.ensureSession(sessionID)
	sess.pool.Add(client)
}

func (s *Server) leaveSession(client *wsClient, sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.pool.Remove(client)
}

// ensureSession creates the session state and starts its forwarder on first
// use.
func (s *Server) ensureSession(sessionID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		if !sess.reading {
			s.startForwarderLocked(sess)
		}
		return sess
	}
	sess := &session{id: sessionID}
	sess.pool = newConnPool(sessionID, s.cfg.IdleTimeout, func() { s.stopForwarder(sessionID) })
	s.sessions[sessionID] = sess
	s.startForwarderLocked(sess)
	return sess
}

// startForwarderLocked subscribes to the session topic and broadcasts every
// frame to the joined clients, in delivery order.
func (s *Server) startForwarderLocked(sess *session) {
	readCtx, cancel := context.WithCancel(s.baseCtx)
	ch, err := s.sub.Subscribe(readCtx, topicForSession(sess.id))
	if err != nil {
		cancel()
		s.logger.Error().Err(err).Str("session_id", sess.id).Msg("subscribe failed")
		return
	}
	sess.stop = cancel
	sess.reading = true
	s.logger.Info().Str("session_id", sess.id).Msg("session forwarder started")
	go func() {
		for msg := range ch {
			sess.pool.Broadcast(msg.Payload)
			msg.Ack()
		}
		s.mu.Lock()
		sess.reading = false
		sess.stop = nil
		s.mu.Unlock()
		s.logger.Info().Str("session_id", sess.id).Msg("session forwarder stopped")
	}()
}

// stopForwarder shuts down an idle session's forwarder; a later join or send
// restarts it.
func (s *Server) stopForwarder(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.stop == nil {
		return
	}
	if sess.pool.Count() > 0 {
		return
	}
	sess.stop()
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.stop != nil {
			sess.stop()
		}
		sess.pool.CloseAll()
	}
}
