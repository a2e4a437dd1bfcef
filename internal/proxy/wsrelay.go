package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/perimetra/edgegate/internal/config"
	"github.com/perimetra/edgegate/internal/logger"
)

// MessageTransform rewrites one gateway-to-client text frame. originHost is
// the host the client originally addressed, for building user-facing hints.
// A non-nil error means the original frame is forwarded untouched.
type MessageTransform func(message []byte, originHost string) ([]byte, error)

const closeWriteTimeout = 5 * time.Second

// relayWebSocket pairs the inbound client socket with a fresh gateway
// socket and pumps frames in both directions until either side closes or
// errors. No partial relay is ever left open: the gateway leg is fully
// established before the client upgrade happens.
func (s *edgeServer) relayWebSocket(w http.ResponseWriter, r *http.Request, backend *config.Backend, transform MessageTransform) {
	requestID := s.nextRequestID()
	ctx := logger.ContextWithRequestID(r.Context(), requestID)
	log := s.logger.With("request_id", requestID, "path", r.URL.Path)

	target := backend.WSURL + r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	header := http.Header{}
	for key, values := range r.Header {
		if skipWSHeader(key) {
			continue
		}
		header[key] = append([]string(nil), values...)
	}
	if backend.AuthToken != "" {
		header.Set(config.AuthHeader, backend.AuthToken)
	}

	backendConn, resp, err := s.wsDialer.DialContext(ctx, target, header)
	if err != nil {
		message := err.Error()
		if resp != nil {
			// The gateway answered but refused to switch protocols.
			message = fmt.Sprintf("gateway refused upgrade with status %d", resp.StatusCode)
			resp.Body.Close()
		}
		s.metrics.httpForwardErrors.Inc()
		log.Warn("gateway websocket upgrade failed", "error", err, "target", backend.WSURL)
		s.writeJSONError(w, http.StatusBadGateway, "ws_upgrade_failed", message)
		return
	}
	if resp != nil {
		resp.Body.Close()
	}

	clientConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		log.Warn("client websocket upgrade failed", "error", err)
		backendConn.Close()
		return
	}

	s.metrics.wsSessions.Inc()
	log.Debug("websocket relay established")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pumpWebSocket(clientConn, backendConn, "upstream", nil, "", log)
	}()
	go func() {
		defer wg.Done()
		s.pumpWebSocket(backendConn, clientConn, "downstream", transform, r.Host, log)
	}()
	go func() {
		wg.Wait()
		s.metrics.wsSessions.Dec()
		log.Debug("websocket relay closed")
	}()
}

// pumpWebSocket moves frames from src to dst until src closes or errors.
// Frames are read and written sequentially, so per-direction arrival order
// is preserved exactly; the two directions run in independent goroutines on
// disjoint conns and need no locking.
func (s *edgeServer) pumpWebSocket(src, dst *websocket.Conn, direction string, transform MessageTransform, originHost string, log *slog.Logger) {
	for {
		msgType, msg, err := src.ReadMessage()
		if err != nil {
			code, reason := closeCodeFor(err)
			deadline := time.Now().Add(closeWriteTimeout)
			_ = dst.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			_ = dst.Close()
			_ = src.Close()
			return
		}

		if transform != nil && msgType == websocket.TextMessage {
			rewritten, terr := transform(msg, originHost)
			if terr != nil {
				// Fail open: a broken rewrite must never eat a frame.
				log.Warn("message transform failed, forwarding original", "error", terr)
			} else if rewritten != nil {
				msg = rewritten
			}
		}

		if err := dst.WriteMessage(msgType, msg); err != nil {
			// The destination is gone; tear down the source with an
			// abnormal close since it can no longer be served.
			deadline := time.Now().Add(closeWriteTimeout)
			_ = src.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "relay destination closed"), deadline)
			_ = src.Close()
			_ = dst.Close()
			return
		}

		s.metrics.wsMessages.WithLabelValues(direction).Inc()
		s.metrics.wsBytes.WithLabelValues(direction).Add(float64(len(msg)))
	}
}

// closeCodeFor maps a read error to the close code/reason relayed to the
// peer. A genuine close frame propagates verbatim; anything else (network
// error, oversized frame) becomes an internal-error close because the
// erroring side is already unusable.
func closeCodeFor(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code := closeErr.Code
		// 1005 is a synthetic "no status" marker and must not go on the wire.
		if code == websocket.CloseNoStatusReceived {
			return websocket.CloseNormalClosure, ""
		}
		return code, closeErr.Text
	}
	return websocket.CloseInternalServerErr, "relay peer error"
}

func skipWSHeader(key string) bool {
	lower := strings.ToLower(key)
	return strings.HasPrefix(lower, "sec-websocket-") ||
		lower == "upgrade" ||
		lower == "connection" ||
		lower == "host"
}
