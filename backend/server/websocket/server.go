package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/rps-arena/backend/game"
	"github.com/adwski/rps-arena/backend/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultSessionCloseTimeout = 2 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 9000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var ErrUnexpected = errors.New("unexpected server error")

type (
	MatchService interface {
		Connect(ctx context.Context, roomID, playerID string, wire model.Wire) error
		Disconnect(ctx context.Context, roomID, playerID string) error
		SetReady(ctx context.Context, roomID, playerID string, ready bool) error
		Move(ctx context.Context, roomID, playerID string, mv game.Move) error
		Restart(ctx context.Context, roomID, playerID string) error
	}

	Config struct {
		Logger       *zerolog.Logger
		MatchService MatchService
		ListenAddr   string
	}

	Server struct {
		svc MatchService
		ws  *websocket.Upgrader
		*http.Server

		logger zerolog.Logger
	}
)

// clientMessage is one inbound frame. Data shape depends on Type.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type moveData struct {
	Move string `json:"move"`
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:    cfg.MatchService,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/play/room/{roomID}/player/{playerID}", srv.play)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) play(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	playerID := r.PathValue("playerID")
	if roomID == "" || playerID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	wire := model.NewWire()

	ctx, cancel := context.WithCancel(context.TODO()) // long-living session context

	err = srv.svc.Connect(ctx, roomID, playerID, wire)
	if err != nil {
		srv.logger.Warn().Err(err).
			Str("roomID", roomID).
			Str("playerID", playerID).
			Msg("failed to create match session")
		cancel()
		// no sender goroutine exists yet, write the rejection in place
		writeDirect(conn, errorMessage(err.Error()), &srv.logger)
		webSocketCloser(conn, &srv.logger)
		return
	}
	srv.logger.Debug().
		Str("roomID", roomID).
		Str("playerID", playerID).
		Msg("match session created")

	go srv.handleWSConn(ctx, cancel, conn, roomID, playerID, wire)
}

func (srv *Server) destroySession(roomID, playerID string, logger *zerolog.Logger) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(defaultSessionCloseTimeout))
	defer cancel()
	err := srv.svc.Disconnect(ctx, roomID, playerID)
	if err != nil {
		srv.logger.Error().Err(err).Msg("failed to delete match session")
		return
	}
	logger.Debug().
		Str("roomID", roomID).
		Str("playerID", playerID).
		Msg("match session ended")
}

func (srv *Server) handleWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	roomID string,
	playerID string,
	wire model.Wire,
) {
	wg := &sync.WaitGroup{}

	logger := srv.logger.With().
		Str("roomID", roomID).
		Str("playerID", playerID).
		Logger()

	wg.Add(2)
	go func() {
		srv.webSocketReceiver(ctx, wg, conn, roomID, playerID, wire, &logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, wire.TX, &logger)
		cancel()
	}()

	wg.Wait()
	webSocketCloser(conn, &logger)
	srv.destroySession(roomID, playerID, &logger)
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Message,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
			}
			logger.Trace().Msg("ping sent")

		case msg, ok := <-tx:
			if !ok {
				break SendLoop
			}

			b, wsErr := json.Marshal(&msg)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to marshall outgoing message")
				break SendLoop
			}

			wsErr = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsW, wsErr := conn.NextWriter(websocket.TextMessage)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to get websocket text writer")
				break SendLoop
			}
			_, wsErr = wsW.Write(b)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing message")
				break SendLoop
			}
			wsErr = wsW.Close()
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to close websocket writer")
				break SendLoop
			}
		}
	}
}

func (srv *Server) webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	roomID string,
	playerID string,
	wire model.Wire,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Warn().Err(wsErr).Msg("connection closed")
				} else {
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			var cm clientMessage
			if wsErr = json.Unmarshal(msg, &cm); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to unmarshall incoming message")
				sendDirect(ctx, wire, errorMessage("malformed message"))
				continue
			}
			srv.handleClientMessage(ctx, roomID, playerID, wire, cm, logger)
		}
	}
}

// handleClientMessage turns one inbound frame into a service call.
// Malformed payloads are answered in place and never reach the engine.
func (srv *Server) handleClientMessage(
	ctx context.Context,
	roomID string,
	playerID string,
	wire model.Wire,
	cm clientMessage,
	logger *zerolog.Logger,
) {
	switch cm.Type {
	case "PING":
		sendDirect(ctx, wire, model.Message{
			Type: model.MessageTypePong,
			Meta: model.Meta{CID: uuid.NewString()},
		})

	case "READY":
		_ = srv.svc.SetReady(ctx, roomID, playerID, true)

	case "UNREADY":
		_ = srv.svc.SetReady(ctx, roomID, playerID, false)

	case "MOVE":
		var md moveData
		if err := json.Unmarshal(cm.Data, &md); err != nil {
			sendDirect(ctx, wire, errorMessage("malformed move payload"))
			return
		}
		mv, err := game.ParseMove(md.Move)
		if err != nil {
			sendDirect(ctx, wire, errorMessage(err.Error()))
			return
		}
		_ = srv.svc.Move(ctx, roomID, playerID, mv)

	case "RESTART":
		_ = srv.svc.Restart(ctx, roomID, playerID)

	default:
		logger.Debug().Str("type", cm.Type).Msg("unsupported message type")
		sendDirect(ctx, wire, errorMessage("unsupported message type"))
	}
}

func errorMessage(reason string) model.Message {
	return model.Message{
		Type: model.MessageTypeError,
		Data: model.ErrorData{Message: reason},
		Meta: model.Meta{CID: uuid.NewString()},
	}
}

// sendDirect replies on the session's own wire, bypassing delivery.
func sendDirect(ctx context.Context, wire model.Wire, msg model.Message) {
	select {
	case wire.TX <- msg:
	case <-ctx.Done():
	}
}

// writeDirect pushes one message straight onto the connection, for replies
// sent before the session's sender goroutine is running.
func writeDirect(conn *websocket.Conn, msg model.Message, logger *zerolog.Logger) {
	b, err := json.Marshal(&msg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshall outgoing message")
		return
	}
	if err = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		logger.Error().Err(err).Msg("failed to set websocket write deadline")
		return
	}
	if err = conn.WriteMessage(websocket.TextMessage, b); err != nil {
		logger.Error().Err(err).Msg("failed to write outgoing message")
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage, []byte{})
		if wsErr != nil {
			logger.Error().Err(wsErr).Msg("failed to close websocket connection")
		}
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
