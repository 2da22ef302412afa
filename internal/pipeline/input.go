package pipeline

import (
	"context"
	"strings"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline/steps"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/prompts"
)

// clientPlaceholder is substituted in custom research prompts.
const clientPlaceholder = "{client_name}"

func (s *stages) inputProcessor(_ context.Context, st RunState) (Patch, Outcome) {
	log := s.log(st, steps.InputProcessor)

	var errs []string
	client := strings.TrimSpace(st.ClientName)
	if client == "" {
		errs = append(errs, "Client name is required.")
	}

	prompt := ResolveResearchPrompt(client, st.BaseResearchPrompt)

	if strings.TrimSpace(st.PastSalesHistory) == "" {
		log.Info("no sales history provided, research will rely on public sources")
	}

	return Patch{
		BaseResearchPrompt: ptr(prompt),
		Errors:             errs,
		CurrentStep:        StepInputProcessed,
	}, Continue
}

// ResolveResearchPrompt returns the default research template for client when
// custom is blank, or custom with the client placeholder substituted.
func ResolveResearchPrompt(client, custom string) string {
	if strings.TrimSpace(custom) == "" {
		return prompts.Render(prompts.DefaultResearch, prompts.Vars{
			"ClientName": client,
		})
	}
	return strings.ReplaceAll(custom, clientPlaceholder, client)
}
