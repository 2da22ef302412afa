package server

import (
	"net/http"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req types.CreateProjectRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	project, err := s.projects.Create(r.Context(), req)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	detail, err := s.projects.Get(r.Context(), project.ID)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, detail)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.projects.List(r.Context())
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, list)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	detail, err := s.projects.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req types.UpdateProjectRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	detail, err := s.projects.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.errorFrom(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartIteration launches a run inside the project. The body is optional.
func (s *Server) handleStartIteration(w http.ResponseWriter, r *http.Request) {
	var req types.StartIterationRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	run, err := s.projects.StartIteration(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, run.Summary())
}

func (s *Server) handleSavePlay(w http.ResponseWriter, r *http.Request) {
	var req types.SavePlayRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	saved, err := s.projects.SavePlay(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, saved)
}

func (s *Server) handleRemoveSavedPlay(w http.ResponseWriter, r *http.Request) {
	removed, err := s.projects.RemoveSavedPlay(r.Context(), r.PathValue("id"), r.PathValue("play_id"))
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	if !removed {
		s.errorResponse(w, http.StatusNotFound, "saved play not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
