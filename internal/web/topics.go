package web

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

// maxTopicPayload bounds a single topic write. Values on the broker are
// small JSON documents, the labgrid environment being the largest.
const maxTopicPayload = 1 << 20

// handleTopic serves retained topic values over plain HTTP. GET returns
// the current value, PUT and POST set a new one. The websocket stream
// is the push-based counterpart for the same topics.
func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	path := "/v1/" + mux.Vars(r)["topic"]

	topic, ok := s.broker.Lookup(path)
	if !ok {
		http.Error(w, "no such topic", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !topic.WebReadable() {
			http.Error(w, "topic is not readable", http.StatusForbidden)
			return
		}
		payload, ok := topic.TryGetBytes()
		if !ok {
			http.Error(w, "topic has no value yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)

	case http.MethodPut, http.MethodPost:
		if !topic.WebWritable() {
			http.Error(w, "topic is not writable", http.StatusForbidden)
			return
		}
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxTopicPayload))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if err := topic.SetFromBytes(payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
