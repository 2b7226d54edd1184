// Package ingest is the inbound boundary between the game bridge and the
// capture engine.
//
// [Server] exposes JSON endpoints for utterances, session membership, and
// persisted state, plus a WebSocket event stream. [Hub] fans engine cues out
// to every connected stream client.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/pending"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/persist"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/savestore"
)

const (
	maxEventBytes = 1 << 20
	maxStateBytes = 16 << 20
)

// Engine is the subset of the capture engine the ingest layer drives.
type Engine interface {
	CaptureUtterance(ctx context.Context, u dialogue.Utterance)
	NotifySessionSnapshot(ctx context.Context, ids []dialogue.ParticipantID)
	NotifySessionEnded(ctx context.Context)
	NotifyParticipantJoined(ctx context.Context, id dialogue.ParticipantID)
	NotifyParticipantLeft(ctx context.Context, id dialogue.ParticipantID)
	ReportSourceUnavailable(ctx context.Context, cause error)
	PendingSnapshot() pending.Snapshot
	Save(ctx context.Context) ([]byte, error)
	Load(ctx context.Context, b []byte) error
	Revert(ctx context.Context)
}

// UtterancePayload is the JSON form of a finished utterance.
type UtterancePayload struct {
	SpeakerText       string   `json:"speakerText,omitempty"`
	SpeakerName       string   `json:"speakerName,omitempty"`
	ResponderID       uint32   `json:"responderId,omitempty"`
	ResponderName     string   `json:"responderName,omitempty"`
	ResponseFragments []string `json:"responseFragments,omitempty"`
	Timestamp         float64  `json:"timestamp,omitempty"`
	SayOnce           bool     `json:"sayOnce,omitempty"`
}

func (p UtterancePayload) utterance() dialogue.Utterance {
	return dialogue.Utterance{
		SpeakerText:       p.SpeakerText,
		SpeakerName:       p.SpeakerName,
		ResponderID:       dialogue.ParticipantID(p.ResponderID),
		ResponderName:     p.ResponderName,
		ResponseFragments: p.ResponseFragments,
		Timestamp:         p.Timestamp,
		SayOnce:           p.SayOnce,
	}
}

type sessionPayload struct {
	Participants []uint32 `json:"participants"`
}

type unavailablePayload struct {
	Reason string `json:"reason"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Server routes inbound HTTP requests to the engine.
type Server struct {
	engine Engine
	slot   *savestore.Slot
	hub    *Hub
}

// Option configures a [Server].
type Option func(*Server)

// WithSlot enables POST /v1/save and /v1/load against slot.
func WithSlot(slot *savestore.Slot) Option {
	return func(s *Server) { s.slot = slot }
}

// WithHub enables the /v1/events stream; the hub should also be the engine's
// notifier so that clients receive cues.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// NewServer returns a Server driving engine.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{engine: engine}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds all ingest routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/utterances", s.postUtterance)
	mux.HandleFunc("PUT /v1/session", s.putSession)
	mux.HandleFunc("DELETE /v1/session", s.deleteSession)
	mux.HandleFunc("POST /v1/session/participants/{id}", s.postParticipant)
	mux.HandleFunc("DELETE /v1/session/participants/{id}", s.deleteParticipant)
	mux.HandleFunc("POST /v1/source/unavailable", s.postSourceUnavailable)
	mux.HandleFunc("GET /v1/pending", s.getPending)
	mux.HandleFunc("GET /v1/state", s.getState)
	mux.HandleFunc("PUT /v1/state", s.putState)
	mux.HandleFunc("DELETE /v1/state", s.deleteState)
	mux.HandleFunc("POST /v1/save", s.postSave)
	mux.HandleFunc("POST /v1/load", s.postLoad)
	if s.hub != nil {
		mux.HandleFunc("GET /v1/events", s.events)
	}
}

func (s *Server) postUtterance(w http.ResponseWriter, r *http.Request) {
	var p UtterancePayload
	if !decodeBody(w, r, &p) {
		return
	}
	s.engine.CaptureUtterance(r.Context(), p.utterance())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) putSession(w http.ResponseWriter, r *http.Request) {
	var p sessionPayload
	if !decodeBody(w, r, &p) {
		return
	}
	s.engine.NotifySessionSnapshot(r.Context(), toIDs(p.Participants))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	s.engine.NotifySessionEnded(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.engine.NotifyParticipantJoined(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.engine.NotifyParticipantLeft(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postSourceUnavailable(w http.ResponseWriter, r *http.Request) {
	var p unavailablePayload
	if !decodeBody(w, r, &p) {
		return
	}
	s.engine.ReportSourceUnavailable(r.Context(), reasonError(p.Reason))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getPending(w http.ResponseWriter, r *http.Request) {
	b, err := persist.Encode(s.engine.PendingSnapshot())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	b, err := s.engine.Save(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) putState(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStateBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if err := s.engine.Load(r.Context(), b); err != nil {
		writeError(w, loadStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteState(w http.ResponseWriter, r *http.Request) {
	s.engine.Revert(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postSave(w http.ResponseWriter, r *http.Request) {
	if s.slot == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no save slot configured"))
		return
	}
	b, err := s.engine.Save(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.slot.Write(r.Context(), b); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slot": s.slot.Name(), "bytes": len(b)})
}

func (s *Server) postLoad(w http.ResponseWriter, r *http.Request) {
	if s.slot == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no save slot configured"))
		return
	}
	b, err := s.slot.Read(r.Context())
	if errors.Is(err, savestore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if err := s.engine.Load(r.Context(), b); err != nil {
		writeError(w, loadStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slot": s.slot.Name(), "bytes": len(b)})
}

// ── helpers ─────────────────────────────────────────────────────────────────

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("ingest: decode body: %w", err))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (dialogue.ParticipantID, bool) {
	id, err := dialogue.ParseParticipantID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("ingest: participant id %q: %w", r.PathValue("id"), err))
		return 0, false
	}
	return id, true
}

func toIDs(raw []uint32) []dialogue.ParticipantID {
	ids := make([]dialogue.ParticipantID, len(raw))
	for i, v := range raw {
		ids[i] = dialogue.ParticipantID(v)
	}
	return ids
}

func reasonError(reason string) error {
	if reason == "" {
		return nil
	}
	return errors.New(reason)
}

func loadStatus(err error) int {
	switch {
	case errors.Is(err, dialogue.ErrMalformedPersistedState):
		return http.StatusBadRequest
	case errors.Is(err, persist.ErrNoHistory):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
