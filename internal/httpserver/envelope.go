package httpserver

import (
	"encoding/json"
	"net/http"
)

// envelope is the response shape every read operation returns per spec §6:
// {data, error, meta}. Status is conveyed via the transport layer (HTTP
// status code), not inside the body.
type envelope struct {
	Data  any            `json:"data"`
	Error *string        `json:"error"`
	Meta  map[string]any `json:"meta,omitempty"`
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any, meta map[string]any) {
	s.writeJSON(w, status, envelope{Data: data, Meta: meta})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, envelope{Error: &msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}
