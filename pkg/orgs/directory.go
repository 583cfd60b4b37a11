package orgs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/platinummonkey/orgportal/pkg/entities"
	"github.com/platinummonkey/orgportal/pkg/firehose"
)

// Directory is the in-memory organization lookup. It is rebuilt wholesale on
// configuration reload, so reads take a shared lock and never see a partial
// update.
type Directory struct {
	mu      sync.RWMutex
	byLogin map[string]*Organization
	byID    map[int64]*Organization
	ignored map[string]bool
	admins  map[string]bool
}

// NewDirectory builds a directory from a configuration snapshot.
func NewDirectory(config *DirectoryConfig) *Directory {
	d := &Directory{}
	d.Replace(config)
	return d
}

// Replace swaps the directory contents for a new configuration snapshot.
func (d *Directory) Replace(config *DirectoryConfig) {
	byLogin := make(map[string]*Organization)
	byID := make(map[int64]*Organization)
	ignored := make(map[string]bool)
	admins := make(map[string]bool)
	if config != nil {
		for i := range config.Organizations {
			org := config.Organizations[i]
			byLogin[strings.ToLower(org.Login)] = &org
			if org.ID != 0 {
				byID[org.ID] = &org
			}
		}
		for _, login := range config.IgnoredOrganizations {
			ignored[strings.ToLower(login)] = true
		}
		for _, username := range config.PortalAdministrators {
			admins[strings.ToLower(username)] = true
		}
	}
	d.mu.Lock()
	d.byLogin = byLogin
	d.byID = byID
	d.ignored = ignored
	d.admins = admins
	d.mu.Unlock()
}

// LoadFromSettings merges persisted organization settings into the directory.
// Settings take precedence over the static file for orgs present in both.
func (d *Directory) LoadFromSettings(ctx context.Context, store *entities.OrganizationSettingStore) error {
	settings, err := store.AllActive(ctx)
	if err != nil {
		return fmt.Errorf("load organization settings: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, setting := range settings {
		org := &Organization{
			Login:        setting.OrganizationLogin,
			ID:           setting.OrganizationID,
			Active:       setting.Active,
			SudoerTeamID: setting.SudoerTeamID,
			Features:     setting.Features,
		}
		d.byLogin[strings.ToLower(org.Login)] = org
		if org.ID != 0 {
			d.byID[org.ID] = org
		}
	}
	return nil
}

// GetOrganization returns the configured organization or an error naming the
// missing login.
func (d *Directory) GetOrganization(name string) (*Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	org, ok := d.byLogin[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("organization %q is not configured", name)
	}
	return org, nil
}

// GetOrganizationByID resolves an organization by its platform identifier.
func (d *Directory) GetOrganizationByID(id int64) (*Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	org, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("no configured organization with id %d", id)
	}
	return org, nil
}

// IsIgnoredOrganization reports whether an unconfigured organization is known
// and deliberately unmanaged.
func (d *Directory) IsIgnoredOrganization(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ignored[strings.ToLower(name)]
}

// IsPortalAdministrator reports whether a corporate username holds the
// portal-wide override.
func (d *Directory) IsPortalAdministrator(username string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.admins[strings.ToLower(username)]
}

// List returns all configured organizations sorted by login.
func (d *Directory) List() []*Organization {
	d.mu.RLock()
	orgs := make([]*Organization, 0, len(d.byLogin))
	for _, org := range d.byLogin {
		orgs = append(orgs, org)
	}
	d.mu.RUnlock()
	sort.Slice(orgs, func(i, j int) bool {
		return strings.ToLower(orgs[i].Login) < strings.ToLower(orgs[j].Login)
	})
	return orgs
}

// Len reports the number of configured organizations.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byLogin)
}

// QueueResolver adapts the directory to the interface the firehose worker
// consumes.
func (d *Directory) QueueResolver() firehose.OrganizationResolver {
	return queueResolver{directory: d}
}

type queueResolver struct {
	directory *Directory
}

func (r queueResolver) GetOrganizationByID(ctx context.Context, id int64) (string, error) {
	org, err := r.directory.GetOrganizationByID(id)
	if err != nil {
		return "", err
	}
	return org.Login, nil
}

func (r queueResolver) GetOrganization(ctx context.Context, name string) error {
	_, err := r.directory.GetOrganization(name)
	return err
}

func (r queueResolver) IsIgnoredOrganization(name string) bool {
	return r.directory.IsIgnoredOrganization(name)
}
