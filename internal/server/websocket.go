package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/auth"
	"github.com/franckalain/fruitbeast/internal/logstore"
	"github.com/franckalain/fruitbeast/internal/metrics"
	"github.com/franckalain/fruitbeast/internal/orchestrator"
	"github.com/franckalain/fruitbeast/internal/session"
)

// Message types exchanged over /ws
const (
	// client -> server
	MsgScan          = "scan"
	MsgRecipeImage   = "recipe_image"
	MsgLogFruit      = "log_fruit"
	MsgGetHistory    = "get_history"
	MsgSetPostalCode = "set_postal_code"

	// server -> client
	MsgAnalysisState = "analysis_state"
	MsgFruitLogs     = "fruit_logs"
	MsgFruitLogged   = "fruit_logged"
	MsgPreferences   = "preferences"
	MsgReminder      = "reminder"
	MsgError         = "error"
)

const (
	writeWait    = 10 * time.Second
	sendBuffer   = 32
	maxFrameSize = maxImageBytes * 2 // base64 inflates images by a third
)

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type errorData struct {
	Message string `json:"message"`
}

// client is one websocket connection. Only the write loop touches conn for
// writing; everything else goes through send.
type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan outbound
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// enqueue never blocks; it is called from orchestrator listeners
func (cl *client) enqueue(msgType string, data any) {
	select {
	case cl.send <- outbound{Type: msgType, Data: data}:
	case <-cl.ctx.Done():
	default:
		cl.logger.Warn("client send buffer full, dropping message", zap.String("type", msgType))
	}
}

func (cl *client) sendError(message string) {
	cl.enqueue(MsgError, errorData{Message: message})
}

func (cl *client) writeLoop() {
	defer cl.conn.Close()
	for {
		select {
		case <-cl.ctx.Done():
			cl.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteJSON(msg); err != nil {
				cl.logger.Debug("error sending message", zap.String("type", msg.Type), zap.Error(err))
				cl.cancel()
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	userID := auth.UserID(c)
	sess, err := s.sessions.Get(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("failed to load session", zap.String("user", userID), zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameSize)

	ctx, cancel := context.WithCancel(context.Background())
	cl := &client{
		id:     uuid.New().String(),
		userID: userID,
		conn:   conn,
		send:   make(chan outbound, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	cl.logger = s.logger.With(zap.String("client", cl.id), zap.String("user", userID))

	s.clients.Store(cl.id, cl)
	metrics.WebsocketClients.Inc()
	defer func() {
		cancel()
		s.clients.Delete(cl.id)
		metrics.WebsocketClients.Dec()
		cl.logger.Debug("client disconnected")
	}()

	go cl.writeLoop()

	removeListener := sess.Analysis.OnChange(func(snap orchestrator.Snapshot) {
		cl.enqueue(MsgAnalysisState, snap)
	})
	defer removeListener()

	cl.enqueue(MsgAnalysisState, sess.Analysis.Snapshot())
	cl.enqueue(MsgPreferences, viewPreferences(sess))

	sub, err := s.logs.Subscribe(ctx, userID)
	if err != nil {
		cl.logger.Error("failed to subscribe to fruit logs", zap.Error(err))
		cl.sendError("Failed to load fruit logs")
	} else {
		defer sub.Close()
		go func() {
			for snap := range sub.C {
				cl.enqueue(MsgFruitLogs, snap)
			}
		}()
	}

	cl.logger.Debug("client connected")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cl.logger.Debug("error reading message", zap.Error(err))
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			cl.sendError("Invalid message format")
			continue
		}
		s.handleWebSocketMessage(cl, sess, msg)
	}
}

func (s *Server) handleWebSocketMessage(cl *client, sess *session.Session, msg inbound) {
	switch msg.Type {
	case MsgScan:
		var req imagePayload
		if err := decodeData(msg.Data, &req); err != nil {
			cl.sendError("Invalid image data")
			return
		}
		img, err := decodeImage(req.Image, req.MimeType)
		if err != nil {
			cl.sendError(errInvalidImage.Error())
			return
		}
		// Results reach the client through the OnChange listener. Running
		// async lets a newer scan supersede this one.
		go func() {
			if _, err := sess.Analysis.Analyze(cl.ctx, img); err != nil && !errors.Is(err, orchestrator.ErrSuperseded) {
				cl.logger.Warn("analysis error", zap.Error(err))
			}
		}()

	case MsgRecipeImage:
		go func() {
			_, err := sess.Analysis.RecipeImage(cl.ctx)
			switch {
			case errors.Is(err, orchestrator.ErrNoAnalysis):
				cl.sendError("Analyze a fruit first")
			case errors.Is(err, orchestrator.ErrNoRecipeIdea):
				cl.sendError("No recipe idea to illustrate")
			}
		}()

	case MsgLogFruit:
		s.wsLogFruit(cl, sess, msg.Data)

	case MsgGetHistory:
		snap, err := s.logs.List(cl.ctx, cl.userID)
		if err != nil {
			cl.logger.Error("error retrieving history", zap.Error(err))
			cl.sendError("Failed to retrieve history")
			return
		}
		cl.enqueue(MsgFruitLogs, snap)

	case MsgSetPostalCode:
		var req postalCodePayload
		if err := decodeData(msg.Data, &req); err != nil {
			cl.sendError(session.ErrInvalidPostalCode.Error())
			return
		}
		if err := sess.SetPostalCode(cl.ctx, req.PostalCode); err != nil {
			if errors.Is(err, session.ErrInvalidPostalCode) {
				cl.sendError(err.Error())
			} else {
				cl.logger.Error("failed to save postal code", zap.Error(err))
				cl.sendError("Failed to save postal code")
			}
			return
		}
		cl.enqueue(MsgPreferences, viewPreferences(sess))

	default:
		cl.sendError("Unknown message type")
	}
}

// wsLogFruit logs the current analysis, or a manual entry when data names a fruit
func (s *Server) wsLogFruit(cl *client, sess *session.Session, data json.RawMessage) {
	var manual logstore.ManualEntry
	if len(data) > 0 && string(data) != "null" {
		if err := decodeData(data, &manual); err != nil {
			cl.sendError("Invalid log entry")
			return
		}
	}

	var err error
	var entry any
	if manual.Fruit != "" {
		entry, err = s.logs.AppendManual(cl.ctx, cl.userID, manual)
	} else {
		current := sess.Analysis.Current()
		if current == nil {
			cl.sendError(errNothingToLog.Error())
			return
		}
		entry, err = s.logs.Append(cl.ctx, cl.userID, current)
	}

	if err != nil {
		if errors.Is(err, logstore.ErrInvalidEntry) {
			cl.sendError(err.Error())
		} else {
			cl.sendError(logstore.ErrPersistence.Error())
		}
		return
	}
	cl.enqueue(MsgFruitLogged, entry)
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, v)
}

// broadcast queues a message for every connected client of userID, or for
// every client when userID is empty.
func (s *Server) broadcast(userID, msgType string, data any) int {
	n := 0
	s.clients.Range(func(_, v any) bool {
		cl := v.(*client)
		if userID == "" || cl.userID == userID {
			cl.enqueue(msgType, data)
			n++
		}
		return true
	})
	return n
}

func (s *Server) closeClients() {
	s.clients.Range(func(_, v any) bool {
		cl := v.(*client)
		cl.cancel()
		return true
	})
}
