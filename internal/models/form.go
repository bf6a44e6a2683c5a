// internal/models/form.go
package models

// FormDefinition is one entry in the form catalog. Question order is
// meaningful: answers are stored positionally against it.
type FormDefinition struct {
	Key                 string   `json:"key,omitempty"`
	Name                string   `json:"name"`
	Questions           []string `json:"questions"`
	ReviewSurfaceID     string   `json:"reviewSurfaceId,omitempty"`
	AcceptedRoleID      string   `json:"acceptedRoleId,omitempty"`
	ReapplyCooldownDays int      `json:"reapplyCooldownDays"`
}

// DisplayName falls back to the key when no display name was configured.
func (f FormDefinition) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.Key
}
