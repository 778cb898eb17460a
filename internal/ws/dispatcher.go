package ws

import (
	"go.uber.org/zap"

	"github.com/whisper/contentguard/internal/protocol"
)

// MessageHandler handles one parsed client message. msg is the concrete
// struct returned by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming messages to registered handlers by type.
// Ping is answered internally; malformed or unsupported messages get an
// error reply.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
	log      *zap.Logger
}

// NewMessageDispatcher creates a dispatcher. The server may be set later
// with SetServer, since NewServer itself needs Dispatch.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	d := &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
	}
	if server != nil {
		d.log = server.log
	}
	return d
}

// SetServer assigns the Server reference on the dispatcher.
func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
	d.log = server.log
}

// Register associates a handler with a message type, replacing any previous one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback for Server.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug("dispatch parse error", zap.String("session", conn.ID), zap.Error(err))
		d.server.SendError(conn, protocol.CodeInvalidMessage, "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.server.SendError(conn, protocol.CodeInvalidMessage, "unsupported message type")
		return
	}
	handler(conn, msg)
}

func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch()
	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		return
	}
	if err := d.server.write(conn, data); err != nil {
		d.log.Debug("send pong failed", zap.String("session", conn.ID), zap.Error(err))
	}
}

// SendError sends a structured error message to conn. Failures are logged,
// not returned.
func (s *Server) SendError(conn *Connection, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		s.log.Error("build error message", zap.Error(err))
		return
	}
	if err := s.write(conn, data); err != nil {
		s.log.Debug("send error message failed", zap.String("session", conn.ID), zap.Error(err))
	}
}
