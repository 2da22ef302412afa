package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/memory"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline/steps"
)

// knowledgeCapture writes refined plays and the client profile back to
// memory. Write failures are logged and never fail the run.
func (s *stages) knowledgeCapture(ctx context.Context, st RunState) (Patch, Outcome) {
	log := s.log(st, steps.KnowledgeCapture)
	done := Patch{CurrentStep: StepComplete}

	if s.memory == nil {
		log.Warn("no memory store configured, skipping capture")
		return done, Continue
	}

	client := memory.ClientProfile{
		ClientName:      st.ClientName,
		Vertical:        st.ClientVertical,
		Domain:          st.ClientDomain,
		MaturitySummary: st.DigitalMaturitySummary,
	}
	now := s.now()

	failures := 0
	stored, err := memory.StorePlays(ctx, s.memory, client, st.RefinedPlays, now)
	if err != nil {
		failures++
		log.Warn("failed to store plays", zap.Error(err))
	}

	profileStored := true
	if err := memory.StoreClientProfile(ctx, s.memory, client, st.RefinedPlays, now); err != nil {
		failures++
		profileStored = false
		log.Warn("failed to store client profile", zap.Error(err))
	}

	log.Info("knowledge captured",
		zap.Int("plays_stored", stored),
		zap.Bool("profile_stored", profileStored),
		zap.Int("failures", failures))
	return done, Continue
}
