package orgs

import (
	"context"
	"fmt"
)

// TeamMembership answers whether a platform login belongs to a team. The
// production implementation calls the platform API; tests supply a fake.
type TeamMembership interface {
	IsTeamMember(ctx context.Context, teamID int64, login string) (bool, error)
}

// SudoService resolves elevated-access checks against the directory: the
// organization's sudoer team and the portal administrator list.
type SudoService struct {
	directory *Directory
	teams     TeamMembership
}

func NewSudoService(directory *Directory, teams TeamMembership) *SudoService {
	return &SudoService{directory: directory, teams: teams}
}

// IsOrganizationSudoer reports whether login belongs to the organization's
// configured sudoer team. Organizations without a sudoer team have no
// sudoers.
func (s *SudoService) IsOrganizationSudoer(ctx context.Context, organizationLogin, login string) (bool, error) {
	org, err := s.directory.GetOrganization(organizationLogin)
	if err != nil {
		return false, err
	}
	if org.SudoerTeamID == 0 {
		return false, nil
	}
	if s.teams == nil {
		return false, fmt.Errorf("no team membership source configured")
	}
	return s.teams.IsTeamMember(ctx, org.SudoerTeamID, login)
}

// IsPortalAdministrator reports whether the corporate username appears on the
// portal administrator list.
func (s *SudoService) IsPortalAdministrator(ctx context.Context, corporateUsername string) (bool, error) {
	return s.directory.IsPortalAdministrator(corporateUsername), nil
}
