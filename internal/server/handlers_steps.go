package server

import (
	"net/http"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline/steps"
)

// StepInfo describes one pipeline node.
type StepInfo struct {
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	Dependencies []string `json:"dependencies"`
	Optional     []string `json:"optional"`
}

// StepsResponse lists the pipeline nodes in execution order.
type StepsResponse struct {
	Steps []StepInfo `json:"steps"`
	Total int        `json:"total"`
}

// handleListSteps returns the node registry
func (s *Server) handleListSteps(w http.ResponseWriter, _ *http.Request) {
	defs := steps.Ordered()
	resp := StepsResponse{Steps: make([]StepInfo, 0, len(defs)), Total: len(defs)}
	for _, def := range defs {
		resp.Steps = append(resp.Steps, StepInfo{
			Name:         def.Name,
			Category:     def.Category,
			Dependencies: nonNil(def.Dependencies),
			Optional:     nonNil(def.Optional),
		})
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
