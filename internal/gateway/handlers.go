package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"invoicely/internal/session"
)

// maxSendBody bounds /send payloads; documents arrive base64-encoded.
const maxSendBody = 16 << 20

// jsonMarshal is used when encoding responses; tests may replace it to force Marshal errors.
var jsonMarshal = json.Marshal

type messageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type qrResponse struct {
	Status session.Status `json:"status"`
	QR     *string        `json:"qr"`
}

// sendRequest is the /send body. Document is base64 in JSON.
type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	Document    []byte `json:"document,omitempty"`
	FileName    string `json:"filename,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status(r.Context()))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Disconnect(r.Context()); err != nil {
		s.log().Error("gateway: disconnect failed", "error", err, "request_id", RequestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Status:  string(session.StatusDisconnected),
		Message: "WhatsApp session disconnected",
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	done, err := s.ctrl.Connect(r.Context())
	if err != nil {
		s.log().Error("gateway: connect failed", "error", err, "request_id", RequestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	go func() {
		if err := <-done; err != nil {
			s.log().Error("gateway: initialization failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, messageResponse{
		Status:  "initializing",
		Message: "WhatsApp client is initializing; poll /status or /qr",
	})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	resp := qrResponse{Status: s.ctrl.Status(r.Context()).Status}
	if code := s.ctrl.PairingCode(); code != "" && resp.Status == session.StatusQR {
		resp.QR = &code
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}
	if req.Message == "" && len(req.Document) == 0 {
		writeError(w, http.StatusBadRequest, "message or document is required")
		return
	}

	err := s.ctrl.Deliver(r.Context(), session.Delivery{
		To:       req.PhoneNumber,
		Text:     req.Message,
		Document: req.Document,
		FileName: req.FileName,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, messageResponse{Status: "sent"})
	case errors.Is(err, session.ErrInvalidDelivery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotConnected):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log().Error("gateway: delivery failed", "error", err, "request_id", RequestIDFrom(r.Context()))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := jsonMarshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
