package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/runs"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// handleProspect starts a run and returns its summary immediately.
func (s *Server) handleProspect(w http.ResponseWriter, r *http.Request) {
	var req types.ProspectRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	run, err := s.projects.StartRun(r.Context(), req)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, run.Summary())
}

// handleStatus returns the full run record.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// handleListRuns returns run summaries, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	list, err := s.runs.List(r.Context())
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, list)
}

// handleStream relays progress events for a run as Server-Sent Events until
// the run finishes or the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	sub, err := s.runs.Subscribe(r.Context(), runID)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	defer sub.Unsubscribe()

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	for {
		msg, err := sub.Next(r.Context(), s.keepalive)
		if err != nil {
			s.logger.Debug("stream client went away", zap.String("run_id", runID))
			return
		}

		switch msg.Kind {
		case runs.MessageKeepalive:
			err = sse.WriteComment("keepalive")
		case runs.MessageClosed:
			_ = sse.WriteDone()
			return
		case runs.MessageEvent:
			if err = sse.WriteData(msg.Event); err == nil && msg.Event.Final() {
				_ = sse.WriteDone()
				return
			}
		}
		if err != nil {
			s.logger.Debug("stream write failed", zap.String("run_id", runID), zap.Error(err))
			return
		}
	}
}
