// Package orgs holds the portal's organization directory: which platform
// organizations are managed, which are known but deliberately ignored, and
// the per-organization knobs (sudoer team, feature flags) the rest of the
// portal consults.
package orgs

import "strings"

// Organization is one managed organization's directory entry.
type Organization struct {
	Login        string   `yaml:"login" json:"login"`
	ID           int64    `yaml:"id" json:"id"`
	Active       bool     `yaml:"active" json:"active"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	SudoerTeamID int64    `yaml:"sudoerTeamId,omitempty" json:"sudoer_team_id,omitempty"`
	Features     []string `yaml:"features,omitempty" json:"features,omitempty"`
}

// HasFeature reports whether a feature flag is enabled for the org.
func (o *Organization) HasFeature(name string) bool {
	for _, feature := range o.Features {
		if strings.EqualFold(feature, name) {
			return true
		}
	}
	return false
}

// DirectoryConfig is the on-disk form of the directory.
type DirectoryConfig struct {
	Organizations []Organization `yaml:"organizations"`

	// IgnoredOrganizations lists orgs that send events but are known to be
	// unmanaged: onboarding, archived, or explicitly excluded.
	IgnoredOrganizations []string `yaml:"ignoredOrganizations"`

	// PortalAdministrators lists corporate usernames with global override.
	PortalAdministrators []string `yaml:"portalAdministrators"`
}
