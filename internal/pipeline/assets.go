package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/llm"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline/steps"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/prompts"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

const (
	planReportExcerpt  = 3000
	planHistoryExcerpt = 1500
	onePagerWorkers    = 3
	clientFileLimit    = 30
	titleFileLimit     = 50
)

func (s *stages) assetGenerator(ctx context.Context, st RunState) (Patch, Outcome) {
	log := s.log(st, steps.AssetGenerator)

	if len(st.RefinedPlays) == 0 {
		log.Warn("no plays to generate assets for")
		return Failed(StepAssetGenerationFailed, "No plays to generate assets for."), TerminateFailure
	}
	log.Info("generating assets", zap.Int("plays", len(st.RefinedPlays)))

	system := prompts.Text(prompts.ConsultantVoice)
	proofs := formatAssetProofs(st.CompetitorProofs)

	docs := make([]string, len(st.RefinedPlays))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(onePagerWorkers)
	for i, play := range st.RefinedPlays {
		g.Go(func() error {
			prompt := prompts.Render(prompts.OnePager, prompts.Vars{
				"ClientName":       st.ClientName,
				"Vertical":         st.ClientVertical,
				"Title":            play.Title,
				"Challenge":        play.Challenge,
				"MarketStandard":   play.MarketStandard,
				"ProposedSolution": play.ProposedSolution,
				"BusinessOutcome":  play.BusinessOutcome,
				"TechnicalStack":   strings.Join(play.TechnicalStack, ", "),
				"CompetitorProofs": proofs,
			})
			resp, err := s.llm.GenerateContent(gctx, llm.Request{
				Prompt:            prompt,
				SystemInstruction: system,
				Tier:              llm.TierStandard,
			})
			if err != nil {
				return fmt.Errorf("one-pager %q: %w", play.Title, err)
			}
			docs[i] = resp.Text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return assetsFailed(log, err)
	}

	// Same-title plays collapse; the later play wins.
	onePagers := make(map[string]string, len(docs))
	for i, play := range st.RefinedPlays {
		onePagers[play.Title] = docs[i]
	}

	planPrompt := prompts.Render(prompts.StrategicPlan, prompts.Vars{
		"ClientName":       st.ClientName,
		"Vertical":         st.ClientVertical,
		"Domain":           st.ClientDomain,
		"MaturitySummary":  st.DigitalMaturitySummary,
		"ResearchExcerpt":  types.Truncate(st.DeepResearchReport, planReportExcerpt),
		"HistoryExcerpt":   types.Truncate(st.HistorySynthesis, planHistoryExcerpt),
		"CompetitorProofs": proofs,
		"PlaysSummary":     formatPlaysSummary(st.RefinedPlays),
	})
	resp, err := s.llm.GenerateContent(ctx, llm.Request{
		Prompt:            planPrompt,
		SystemInstruction: system,
		Tier:              llm.TierStandard,
	})
	if err != nil {
		return assetsFailed(log, fmt.Errorf("strategic plan: %w", err))
	}
	plan := resp.Text

	if s.assets != nil {
		paths := s.assets.WriteAssets(ctx, st.ClientName, onePagers, plan)
		log.Info("assets written", zap.Strings("paths", paths))
	}

	log.Info("assets generated", zap.Int("one_pagers", len(onePagers)))
	return Patch{
		OnePagers:     ptr(onePagers),
		StrategicPlan: ptr(plan),
		CurrentStep:   StepAssetsGenerated,
	}, Continue
}

func assetsFailed(log *zap.Logger, err error) (Patch, Outcome) {
	log.Error("asset generation failed", zap.Error(err))
	return Failed(StepAssetGenerationFailed, fmt.Sprintf("Asset generation failed: %v", err)), TerminateFailure
}

func formatAssetProofs(proofs []types.CompetitorProof) string {
	if len(proofs) == 0 {
		return "No competitor data available."
	}
	lines := make([]string, len(proofs))
	for i, p := range proofs {
		line := fmt.Sprintf("- %s: %s → %s", p.CompetitorName, p.UseCase, p.Outcome)
		if p.Source.URL != "" {
			line += fmt.Sprintf(" (Source: %s)", p.Source.URL)
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func formatPlaysSummary(plays []types.SalesPlay) string {
	parts := make([]string, len(plays))
	for i, p := range plays {
		parts[i] = fmt.Sprintf("### %d. %s\n%s → %s → %s",
			i+1, p.Title, p.Challenge, p.ProposedSolution, p.BusinessOutcome)
	}
	return strings.Join(parts, "\n\n")
}

// AssetWriter persists generated deliverables. It returns the locations
// written; failures are the writer's concern and never fail the stage.
type AssetWriter interface {
	WriteAssets(ctx context.Context, client string, onePagers map[string]string, plan string) []string
}

// FileAssetWriter writes deliverables as markdown files under Dir.
type FileAssetWriter struct {
	Dir    string
	Logger *zap.Logger
}

// NewFileAssetWriter creates a writer rooted at dir.
func NewFileAssetWriter(dir string, logger *zap.Logger) *FileAssetWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileAssetWriter{Dir: dir, Logger: logger}
}

// OnePagerFilename returns the file name used for a play's one-pager.
func OnePagerFilename(client, title string) string {
	return fmt.Sprintf("%s_%s_one_pager.md",
		types.SafeFileComponent(client, clientFileLimit),
		types.SafeFileComponent(title, titleFileLimit))
}

// StrategicPlanFilename returns the file name used for a client's plan.
func StrategicPlanFilename(client string) string {
	return fmt.Sprintf("%s_strategic_plan.md", types.SafeFileComponent(client, clientFileLimit))
}

// WriteAssets writes one file per one-pager plus the strategic plan.
func (w *FileAssetWriter) WriteAssets(_ context.Context, client string, onePagers map[string]string, plan string) []string {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		w.Logger.Warn("could not create output directory", zap.String("dir", w.Dir), zap.Error(err))
		return nil
	}

	var written []string
	write := func(name, content string) {
		path := filepath.Join(w.Dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			w.Logger.Warn("could not write asset", zap.String("path", path), zap.Error(err))
			return
		}
		written = append(written, path)
	}

	for title, doc := range onePagers {
		write(OnePagerFilename(client, title), doc)
	}
	if plan != "" {
		write(StrategicPlanFilename(client), plan)
	}
	return written
}
