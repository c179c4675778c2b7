package webchat

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/dsa-tutor/pkg/relay"
	"github.com/go-go-golems/dsa-tutor/pkg/transcript"
)

const maxRequestBodyBytes = 1 << 20

// RelayService is the relay surface used by the HTTP handlers.
type RelayService interface {
	HandleMessage(ctx context.Context, text string) (string, error)
	Reset(ctx context.Context) relay.ResetResult
	Turns() []transcript.Turn
}

var _ RelayService = (*relay.Service)(nil)

// ChatRequestBody is the POST / payload. Anything other than a JSON string in "message" counts
// as a missing message.
type ChatRequestBody struct {
	Message any `json:"message"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type TranscriptResponse struct {
	Turns  []transcript.Turn `json:"turns"`
	Length int               `json:"length"`
}

func NewChatHTTPHandler(svc RelayService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		logger := zerolog.Ctx(req.Context())

		var body ChatRequestBody
		req.Body = http.MaxBytesReader(w, req.Body, maxRequestBodyBytes)
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			logger.Debug().Err(err).Msg("could not decode chat request body")
		}
		text, _ := body.Message.(string)

		reply, err := svc.HandleMessage(req.Context(), text)
		if err != nil {
			status, msg := relayErrorResponse(err)
			logger.Warn().Err(err).Int("status", status).Msg("chat request failed")
			writeJSON(w, status, ErrorResponse{Error: msg})
			return
		}
		writeJSON(w, http.StatusOK, ChatResponse{Reply: reply})
	}
}

func NewResetHTTPHandler(svc RelayService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, svc.Reset(req.Context()))
	}
}

func NewTranscriptHTTPHandler(svc RelayService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		turns := svc.Turns()
		if turns == nil {
			turns = []transcript.Turn{}
		}
		writeJSON(w, http.StatusOK, TranscriptResponse{Turns: turns, Length: len(turns)})
	}
}

// NewWSHTTPHandler upgrades the request and registers the connection with pool. Incoming frames
// are discarded; the read loop only exists to notice when the client goes away.
func NewWSHTTPHandler(pool *ConnectionPool, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			zerolog.Ctx(req.Context()).Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		pool.Add(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				pool.Remove(conn)
				return
			}
		}
	}
}

func relayErrorResponse(err error) (int, string) {
	var rerr *relay.Error
	if errors.As(err, &rerr) && rerr != nil {
		return rerr.Status(), rerr.Msg
	}
	return http.StatusInternalServerError, relay.MsgGeneration
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
