// Package prompts holds the generation prompt templates for the pipeline
// stages. Templates live in an embedded JSON file and use {{.Name}}
// placeholders.
package prompts

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
)

//go:embed prospecting.json
var prospectingJSON []byte

// Key names a template.
type Key string

const (
	DefaultResearch      Key = "default-research"
	ClassifyVertical     Key = "classify-vertical"
	SynthesizeHistory    Key = "synthesize-history"
	ScoutCompetitors     Key = "scout-competitors"
	DivergentIdeation    Key = "divergent-ideation"
	ConvergentRefinement Key = "convergent-refinement"
	ConsultantVoice      Key = "consultant-voice"
	OnePager             Key = "one-pager"
	StrategicPlan        Key = "strategic-plan"
)

// Keys returns every template key in stage order.
func Keys() []Key {
	return []Key{
		DefaultResearch, ClassifyVertical, SynthesizeHistory, ScoutCompetitors,
		DivergentIdeation, ConvergentRefinement, ConsultantVoice, OnePager, StrategicPlan,
	}
}

// Vars are placeholder values keyed by name.
type Vars map[string]string

var placeholder = regexp.MustCompile(`\{\{\.([A-Za-z][A-Za-z0-9]*)\}\}`)

var library = sync.OnceValues(func() (map[Key]string, error) {
	return parse(prospectingJSON)
})

// parse decodes a template file and checks that every key is present.
func parse(data []byte) (map[Key]string, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("prompts: parse templates: %w", err)
	}
	out := make(map[Key]string, len(raw))
	for k, v := range raw {
		out[Key(k)] = v
	}
	var missing []string
	for _, k := range Keys() {
		if strings.TrimSpace(out[k]) == "" {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("prompts: missing templates: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Text returns the raw template for key. It panics if the embedded
// templates are unusable or key is unknown.
func Text(key Key) string {
	lib, err := library()
	if err != nil {
		panic(err)
	}
	t, ok := lib[key]
	if !ok {
		panic(fmt.Sprintf("prompts: unknown template %q", key))
	}
	return t
}

// Render fills the template for key from vars. Placeholders with no value
// are left as written.
func Render(key Key, vars Vars) string {
	return fill(Text(key), vars)
}

func fill(template string, vars Vars) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// Placeholders returns the sorted distinct placeholder names used by key.
func Placeholders(key Key) []string {
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(Text(key), -1) {
		names = append(names, m[1])
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Missing returns the placeholders of key that vars does not supply.
func Missing(key Key, vars Vars) []string {
	var out []string
	for _, name := range Placeholders(key) {
		if _, ok := vars[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}
