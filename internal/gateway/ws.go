/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	ws "nhooyr.io/websocket"

	"github.com/voclinx/scannarr/internal/protocol"
	"github.com/voclinx/scannarr/internal/telemetry"
)

// HandleWebSocket upgrades a watcher connection and runs its pumps. The
// read side feeds the hub; the write side drains the connection's send
// queue. Both stop when either the socket or the connection state dies.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sock, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer sock.Close(ws.StatusInternalError, "server error")

	telemetry.WatcherConnections.Inc()
	defer telemetry.WatcherConnections.Dec()

	conn := NewConn(uuid.NewString(), r.RemoteAddr)
	s.hub.ConnOpened(conn)
	defer s.hub.ConnClosed(conn)

	ctx := r.Context()

	// Write pump.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				sock.Close(ws.StatusNormalClosure, "connection closed")
				return
			case payload := <-conn.sendCh:
				if err := sock.Write(ctx, ws.MessageText, payload); err != nil {
					s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("websocket write failed")
					conn.Close()
					return
				}
			}
		}
	}()

	// Read pump. A frame that is not a valid envelope kills the link:
	// a peer speaking the wrong protocol cannot be trusted with partial
	// interpretation.
	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			if ws.CloseStatus(err) != ws.StatusNormalClosure {
				s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("websocket read error")
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			s.logger.Warn().Str("conn_id", conn.ID).Msg("malformed frame, closing connection")
			sock.Close(ws.StatusUnsupportedData, "malformed frame")
			return
		}

		telemetry.MessagesReceived.WithLabelValues(env.Type).Inc()
		s.hub.Inbound(conn, env)

		select {
		case <-conn.Done():
			sock.Close(ws.StatusNormalClosure, "connection closed")
			return
		default:
		}
	}
}

// SendEnvelope marshals and queues an envelope on a connection.
func SendEnvelope(c *Conn, msgType string, data any) error {
	env, err := protocol.NewEnvelope(msgType, data)
	if err != nil {
		return err
	}
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	return c.Send(payload)
}
