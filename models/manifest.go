package models

import (
	"fmt"
	"strings"
)

// Module types and statuses understood by the front door
const (
	ModuleTypeInferenceEndpoint = "inference_endpoint"
	ModuleStatusEnabled         = "enabled"
)

// ModuleDeclaration is one entry of a project manifest
type ModuleDeclaration struct {
	ModuleType   string                 `json:"module_type"`
	Name         string                 `json:"name"`
	Version      string                 `json:"version"`
	Status       string                 `json:"status"`
	Description  string                 `json:"description"`
	Dependencies []string               `json:"dependencies"`
	Config       map[string]interface{} `json:"config"`
}

// IsEnabled reports whether the module status is "enabled", ignoring case
func (m ModuleDeclaration) IsEnabled() bool {
	return strings.EqualFold(m.Status, ModuleStatusEnabled)
}

// Manifest is a snapshot of a project's configuration as served by the control tower.
// Values are treated as immutable once fetched.
type Manifest struct {
	ProjectID   string                 `json:"project_id"`
	ProjectName string                 `json:"project_name"`
	Version     string                 `json:"version"`
	Description string                 `json:"description"`
	Owner       string                 `json:"owner"`
	Team        []string               `json:"team"`
	Tags        []string               `json:"tags"`
	Environment string                 `json:"environment"`
	Modules     []ModuleDeclaration    `json:"modules"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the manifest against the key it was fetched under
func (m *Manifest) Validate(projectID string) error {
	if strings.TrimSpace(m.ProjectID) == "" {
		return fmt.Errorf("manifest has empty project_id")
	}
	if m.ProjectID != projectID {
		return fmt.Errorf("manifest project_id %q does not match requested %q", m.ProjectID, projectID)
	}
	return nil
}

// ModulesOfType returns the modules with the given type, in declaration order
func (m *Manifest) ModulesOfType(moduleType string) []ModuleDeclaration {
	var out []ModuleDeclaration
	for _, mod := range m.Modules {
		if mod.ModuleType == moduleType {
			out = append(out, mod)
		}
	}
	return out
}

// ManifestList is the collection returned by the control tower list endpoint.
// Fields other than manifests are passed through untouched.
type ManifestList map[string]interface{}

// Count returns the number of entries under "manifests"
func (l ManifestList) Count() int {
	items, ok := l["manifests"].([]interface{})
	if !ok {
		return 0
	}
	return len(items)
}

// ManifestValidation is the control tower's verdict on a manifest document
type ManifestValidation map[string]interface{}
