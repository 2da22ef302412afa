package types

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// ProspectRequest starts a new prospecting run.
type ProspectRequest struct {
	ClientName         string `json:"client_name" validate:"required,min=1,max=200"`
	PastSalesHistory   string `json:"past_sales_history"`
	BaseResearchPrompt string `json:"base_research_prompt"`
	ProjectID          string `json:"project_id,omitempty"`
	CreateProject      bool   `json:"create_project,omitempty"`
}

// CreateProjectRequest creates a project for one client relationship.
type CreateProjectRequest struct {
	ClientName string   `json:"client_name" validate:"required,min=1,max=200"`
	Tags       []string `json:"tags"`
	Notes      string   `json:"notes"`
}

// UpdateProjectRequest edits project metadata. Nil fields are left unchanged.
type UpdateProjectRequest struct {
	ClientName *string  `json:"client_name,omitempty" validate:"omitempty,min=1,max=200"`
	Notes      *string  `json:"notes,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// StartIterationRequest starts a run inside an existing project.
type StartIterationRequest struct {
	ClientName         string `json:"client_name" validate:"omitempty,max=200"`
	PastSalesHistory   string `json:"past_sales_history"`
	BaseResearchPrompt string `json:"base_research_prompt"`
	ParentIterationID  string `json:"parent_iteration_id,omitempty"`
	BuildOnPrevious    bool   `json:"build_on_previous"`
}

// SavePlayRequest copies one refined play of an iteration into the project.
type SavePlayRequest struct {
	IterationID string `json:"iteration_id" validate:"required"`
	PlayIndex   int    `json:"play_index" validate:"min=0"`
	Notes       string `json:"notes"`
}

// TokenRequest exchanges operator credentials for an API token.
type TokenRequest struct {
	Operator string `json:"operator" validate:"required,min=1"`
	Password string `json:"password" validate:"required"`
}

var validate = validator.New()

// Validate validates the ProspectRequest using the validator.
func (r *ProspectRequest) Validate() error {
	r.ClientName = strings.TrimSpace(r.ClientName)
	return validate.Struct(r)
}

// Validate validates the CreateProjectRequest using the validator.
func (r *CreateProjectRequest) Validate() error {
	r.ClientName = strings.TrimSpace(r.ClientName)
	return validate.Struct(r)
}

// Validate validates the UpdateProjectRequest using the validator.
func (r *UpdateProjectRequest) Validate() error {
	if r.ClientName != nil {
		trimmed := strings.TrimSpace(*r.ClientName)
		r.ClientName = &trimmed
	}
	return validate.Struct(r)
}

// Validate validates the StartIterationRequest using the validator.
func (r *StartIterationRequest) Validate() error {
	r.ClientName = strings.TrimSpace(r.ClientName)
	return validate.Struct(r)
}

// Validate validates the SavePlayRequest using the validator.
func (r *SavePlayRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the TokenRequest using the validator.
func (r *TokenRequest) Validate() error {
	return validate.Struct(r)
}
