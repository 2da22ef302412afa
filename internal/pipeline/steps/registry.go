// Package steps provides node definitions and dependency validation
// for the prospecting pipeline.
package steps

import (
	"fmt"
)

// Node names in execution order.
const (
	InputProcessor       = "input_processor"
	DeepResearch         = "deep_research"
	ContextMerger        = "context_merger"
	CompetitorScout      = "competitor_scout"
	DivergentIdeation    = "divergent_ideation"
	ConvergentRefinement = "convergent_refinement"
	AssetGenerator       = "asset_generator"
	KnowledgeCapture     = "knowledge_capture"
)

// Node categories
const (
	CategoryIntake   = "intake"
	CategoryResearch = "research"
	CategoryIdeation = "ideation"
	CategoryDelivery = "delivery"
	CategoryMemory   = "memory"
)

// StepDefinition defines metadata for a pipeline node
type StepDefinition struct {
	Name         string
	Category     string
	Dependencies []string
	Optional     []string
}

// order is the fixed execution order of the graph.
var order = []string{
	InputProcessor,
	DeepResearch,
	ContextMerger,
	CompetitorScout,
	DivergentIdeation,
	ConvergentRefinement,
	AssetGenerator,
	KnowledgeCapture,
}

// StepRegistry holds all node definitions
var StepRegistry = map[string]StepDefinition{
	InputProcessor: {
		Name:         InputProcessor,
		Category:     CategoryIntake,
		Dependencies: []string{},
		Optional:     []string{},
	},
	DeepResearch: {
		Name:         DeepResearch,
		Category:     CategoryResearch,
		Dependencies: []string{InputProcessor},
		Optional:     []string{},
	},
	ContextMerger: {
		Name:         ContextMerger,
		Category:     CategoryMemory,
		Dependencies: []string{DeepResearch},
		Optional:     []string{},
	},
	CompetitorScout: {
		Name:         CompetitorScout,
		Category:     CategoryResearch,
		Dependencies: []string{DeepResearch},
		Optional:     []string{},
	},
	DivergentIdeation: {
		Name:         DivergentIdeation,
		Category:     CategoryIdeation,
		Dependencies: []string{DeepResearch, ContextMerger},
		Optional:     []string{CompetitorScout},
	},
	ConvergentRefinement: {
		Name:         ConvergentRefinement,
		Category:     CategoryIdeation,
		Dependencies: []string{DivergentIdeation},
		Optional:     []string{},
	},
	AssetGenerator: {
		Name:         AssetGenerator,
		Category:     CategoryDelivery,
		Dependencies: []string{ConvergentRefinement},
		Optional:     []string{CompetitorScout},
	},
	KnowledgeCapture: {
		Name:         KnowledgeCapture,
		Category:     CategoryMemory,
		Dependencies: []string{ConvergentRefinement, AssetGenerator},
		Optional:     []string{},
	},
}

// Names returns node names in execution order.
func Names() []string {
	return append([]string(nil), order...)
}

// Ordered returns node definitions in execution order.
func Ordered() []StepDefinition {
	defs := make([]StepDefinition, 0, len(order))
	for _, name := range order {
		defs = append(defs, StepRegistry[name])
	}
	return defs
}

// IsNode reports whether name is a registered node.
func IsNode(name string) bool {
	_, ok := StepRegistry[name]
	return ok
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Step                string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("step %s: missing dependencies: %v", e.Step, e.MissingDependencies)
}

// ValidateDependencies checks that every required dependency of stepName is in completed.
func ValidateDependencies(stepName string, completed map[string]bool) error {
	def, ok := StepRegistry[stepName]
	if !ok {
		return fmt.Errorf("unknown step: %s", stepName)
	}

	var missing []string
	for _, dep := range def.Dependencies {
		if !completed[dep] {
			missing = append(missing, dep)
		}
	}

	if len(missing) > 0 {
		return &DependencyError{
			Step:                stepName,
			MissingDependencies: missing,
		}
	}
	return nil
}

// ValidateOrder checks that names only contains known nodes and that every
// node's dependencies appear before it.
func ValidateOrder(names []string) error {
	completed := make(map[string]bool, len(names))
	for _, name := range names {
		if completed[name] {
			return fmt.Errorf("duplicate step: %s", name)
		}
		if err := ValidateDependencies(name, completed); err != nil {
			return err
		}
		completed[name] = true
	}
	return nil
}
