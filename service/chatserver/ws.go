package chatserver

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"MaterniChat/logger"
	"MaterniChat/middleware/security"
	"MaterniChat/service/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const authDeadline = 10 * time.Second

// HandleWS upgrades the connection, runs the auth handshake, then serves
// the read loop. Writes go through the client's send queue only.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	cl, ok := s.handshake(ws)
	if !ok {
		_ = ws.Close()
		return
	}
	go s.writer(cl)
	defer func() {
		s.hub.unregister(cl)
		_ = ws.Close()
	}()

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed user=%s", cl.userID)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout user=%s err=%v", cl.userID, rerr)
			} else {
				logger.Infof("[ws] read err user=%s err=%v", cl.userID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, perr := transport.ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Warnf("[ws] bad frame user=%s err=%v sample=%q", cl.userID, perr, sample)
			continue
		}
		s.dispatch(cl, f)
	}
}

// handshake expects exactly one auth frame and answers with connect, or an
// error frame before closing.
func (s *Server) handshake(ws *websocket.Conn) (*client, bool) {
	_ = ws.SetReadDeadline(time.Now().Add(authDeadline))
	_, data, err := ws.ReadMessage()
	if err != nil {
		logger.Infof("[ws] handshake read: %v", err)
		return nil, false
	}
	_ = ws.SetReadDeadline(time.Time{})

	f, err := transport.ParseFrame(data)
	if err != nil || f.Event != transport.EventAuth {
		s.rejectRaw(ws, "expected auth frame")
		return nil, false
	}
	auth, err := transport.DecodePayload[transport.AuthPayload](f)
	if err != nil || auth.Token == "" {
		s.rejectRaw(ws, "missing token")
		return nil, false
	}
	ident, err := security.Verify(s.jwtOpts, auth.Token)
	if err != nil {
		logger.Infof("[ws] auth rejected: %v", err)
		s.rejectRaw(ws, "invalid token")
		return nil, false
	}

	cl := s.hub.register(ident.UserID, ident.Role, ws)
	if ident.Role == "patient" {
		s.hub.ensurePatientRoom(ident.UserID, "")
	}

	reply := &transport.Frame{
		Event:   transport.EventConnect,
		Payload: map[string]any{"session_id": cl.id, "node_id": s.cfg.NodeID},
	}
	raw, _ := transport.EncodeFrame(reply)
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		s.hub.unregister(cl)
		return nil, false
	}

	// catch the client up on rooms it can see
	s.pushVisibleRooms(cl)
	return cl, true
}

func (s *Server) pushVisibleRooms(cl *client) {
	for _, r := range s.hub.listRooms() {
		if cl.role != "doctor" && r.PatientID != cl.userID {
			continue
		}
		payload := mustPayload(r)
		raw, err := transport.EncodeFrame(&transport.Frame{
			Event:   transport.EventRoomCreated,
			Payload: payload,
		})
		if err != nil {
			continue
		}
		cl.enqueue(raw)
	}
}

func (s *Server) dispatch(cl *client, f *transport.Frame) {
	switch f.Event {
	case transport.EventJoinRoom:
		p, err := transport.DecodePayload[transport.JoinRoomPayload](f)
		if err != nil {
			s.ack(cl, f.AckID, transport.Ack{Success: false, Error: "bad payload"})
			return
		}
		if !s.hub.join(cl, p.RoomID) {
			s.ack(cl, f.AckID, transport.Ack{Success: false, Error: "room not found"})
			return
		}
		s.ack(cl, f.AckID, transport.Ack{Success: true})

	case transport.EventSendMsg:
		p, err := transport.DecodePayload[transport.SendMessagePayload](f)
		if err != nil || p.Content == "" {
			s.ack(cl, f.AckID, transport.Ack{Success: false, Error: "bad payload"})
			return
		}
		msgID, ok := s.hub.deliver(cl, p.RoomID, "text", p.Content, "", 0, p.TS)
		if !ok {
			s.ack(cl, f.AckID, transport.Ack{Success: false, Error: "room not found"})
			return
		}
		s.ack(cl, f.AckID, transport.Ack{Success: true, MessageID: msgID})

	case transport.EventSendVoice:
		p, err := transport.DecodePayload[transport.SendVoicePayload](f)
		if err != nil || p.Audio == "" || p.DurationSec <= 0 {
			s.ack(cl, f.AckID, transport.Ack{Success: false, Error: "bad payload"})
			return
		}
		msgID, ok := s.hub.deliver(cl, p.RoomID, "voice", "", p.Audio, p.DurationSec, p.TS)
		if !ok {
			s.ack(cl, f.AckID, transport.Ack{Success: false, Error: "room not found"})
			return
		}
		s.ack(cl, f.AckID, transport.Ack{Success: true, MessageID: msgID})

	default:
		logger.Debugf("[ws] unhandled event=%s user=%s", f.Event, cl.userID)
	}
}

func (s *Server) ack(cl *client, ackID string, a transport.Ack) {
	if ackID == "" {
		return
	}
	payload, err := transport.PayloadMap(a)
	if err != nil {
		return
	}
	raw, err := transport.EncodeFrame(&transport.Frame{
		Event:   transport.EventAck,
		AckID:   ackID,
		Payload: payload,
	})
	if err != nil {
		return
	}
	cl.enqueue(raw)
}

func (s *Server) rejectRaw(ws *websocket.Conn, msg string) {
	payload, _ := transport.PayloadMap(transport.ErrorPayload{Message: msg})
	raw, err := transport.EncodeFrame(&transport.Frame{Event: transport.EventError, Payload: payload})
	if err != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = ws.WriteMessage(websocket.TextMessage, raw)
}

// writer drains the client's send queue onto the socket; exits when the
// queue closes on unregister.
func (s *Server) writer(cl *client) {
	for raw := range cl.send {
		_ = cl.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := cl.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
			logger.Infof("[ws] write err user=%s err=%v", cl.userID, err)
			return
		}
	}
}
