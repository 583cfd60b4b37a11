// Package permissions computes a user's effective capability set on a
// repository from organization membership, collaborator role, and
// administrative overrides.
package permissions

import (
	"context"

	"github.com/platinummonkey/orgportal/pkg/observability"
)

// CollaboratorLevel is the platform-side permission a collaborator holds on
// a repository.
type CollaboratorLevel string

const (
	CollaboratorAdmin CollaboratorLevel = "admin"
	CollaboratorWrite CollaboratorLevel = "write"
	CollaboratorRead  CollaboratorLevel = "read"
	CollaboratorNone  CollaboratorLevel = ""
)

// Set is the resolved capability set. AllowAdministration is the single
// flag route handlers gate administrative actions on.
type Set struct {
	IsLinked            bool
	Read                bool
	Write               bool
	Admin               bool
	Sudo                bool
	AllowAdministration bool
}

// UserContext identifies the acting user across both identity systems.
type UserContext struct {
	// IsLinked reports whether the platform account is bound to a
	// corporate identity. Unlinked users get zero access regardless of
	// platform-side roles.
	IsLinked          bool
	Login             string
	CorporateUsername string
}

// RepositoryContext identifies the repository being evaluated.
type RepositoryContext struct {
	OrganizationLogin string
	RepositoryName    string
}

// SudoChecker answers the administrative-override questions.
type SudoChecker interface {
	// IsOrganizationSudoer reports whether login holds the sudoer role in
	// the organization.
	IsOrganizationSudoer(ctx context.Context, organizationLogin, login string) (bool, error)

	// IsPortalAdministrator reports whether the corporate user is a global
	// portal administrator.
	IsPortalAdministrator(ctx context.Context, corporateUsername string) (bool, error)
}

// CollaboratorResolver looks up the user's collaborator permission on a
// repository. Implementations return CollaboratorNone when the user is not
// a collaborator.
type CollaboratorResolver interface {
	GetCollaboratorLevel(ctx context.Context, repo RepositoryContext, login string) (CollaboratorLevel, error)
}

// Extension is the company-specific hook pair. AfterInitialized may seed
// state before role computation; AfterComputed may adjust any field of the
// final result.
type Extension interface {
	AfterInitialized(ctx context.Context, set *Set, user UserContext)
	AfterComputed(ctx context.Context, set *Set, user UserContext, repo RepositoryContext) error
}

// ApplyCollaboratorLevel folds the collaborator role into the set using
// strict precedence Admin > Write > Read: each level implies all lower
// read/write flags.
func ApplyCollaboratorLevel(set *Set, level CollaboratorLevel) {
	switch level {
	case CollaboratorAdmin:
		set.Admin = true
		set.Write = true
		set.Read = true
	case CollaboratorWrite:
		set.Write = true
		set.Read = true
	case CollaboratorRead:
		set.Read = true
	}
}

// Resolver computes capability sets using injected collaborators.
type Resolver struct {
	sudo          SudoChecker
	collaborators CollaboratorResolver
	extension     Extension
	logger        *observability.Logger
}

// ResolverOptions configures a Resolver. Extension is optional.
type ResolverOptions struct {
	Sudo          SudoChecker
	Collaborators CollaboratorResolver
	Extension     Extension
	Logger        *observability.Logger
}

func NewResolver(opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Resolver{
		sudo:          opts.Sudo,
		collaborators: opts.Collaborators,
		extension:     opts.Extension,
		logger:        logger,
	}
}

// Resolve computes the capability set for one user on one repository.
//
// The extension pre-hook runs before the link check, so its seeds survive
// the unlinked early return. The collaborator lookup is best effort: a
// lookup failure is logged and the set keeps whatever sudo already granted.
func (r *Resolver) Resolve(ctx context.Context, user UserContext, repo RepositoryContext) (*Set, error) {
	set := &Set{}

	if r.extension != nil {
		r.extension.AfterInitialized(ctx, set, user)
	}

	if !user.IsLinked {
		return set, nil
	}
	set.IsLinked = true

	isSudoer, err := r.sudo.IsOrganizationSudoer(ctx, repo.OrganizationLogin, user.Login)
	if err != nil {
		return nil, err
	}
	isPortalAdmin, err := r.sudo.IsPortalAdministrator(ctx, user.CorporateUsername)
	if err != nil {
		return nil, err
	}
	if isSudoer || isPortalAdmin {
		set.Sudo = true
	}

	level, err := r.collaborators.GetCollaboratorLevel(ctx, repo, user.Login)
	if err != nil {
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"organization": repo.OrganizationLogin,
			"repository":   repo.RepositoryName,
			"login":        user.Login,
		}).Warn("collaborator lookup failed, continuing without a base role")
	} else {
		ApplyCollaboratorLevel(set, level)
	}

	if set.Admin || set.Sudo {
		set.AllowAdministration = true
	}

	if r.extension != nil {
		if err := r.extension.AfterComputed(ctx, set, user, repo); err != nil {
			return nil, err
		}
	}

	return set, nil
}
