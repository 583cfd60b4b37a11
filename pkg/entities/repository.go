package entities

import (
	"context"
	"strconv"
	"time"

	"github.com/platinummonkey/orgportal/pkg/entitymeta"
)

// RepositoryMetadata is the provenance record written when the portal
// creates a repository: who asked for it, how it was approved, and which
// lockdown state it currently sits in.
type RepositoryMetadata struct {
	RepositoryID      int64
	RepositoryName    string
	OrganizationLogin string
	ApprovalType      string
	ReleaseReviewURL  string
	InitialTemplate   string
	LockdownState     string
	CreatedByUsername string
	CreatedByID       string
	Created           time.Time
}

// Lockdown states a newly created repository moves through.
const (
	LockdownStateLocked       = "locked"
	LockdownStateUnlocked     = "unlocked"
	LockdownStateAdminLocked  = "administratorLocked"
	LockdownStateComplianceOK = "complianceApproved"
)

func (r *RepositoryMetadata) FieldValues() map[string]any {
	return map[string]any{
		"repositoryId":      r.RepositoryID,
		"repositoryName":    r.RepositoryName,
		"organizationLogin": r.OrganizationLogin,
		"approvalType":      r.ApprovalType,
		"releaseReviewUrl":  r.ReleaseReviewURL,
		"initialTemplate":   r.InitialTemplate,
		"lockdownState":     r.LockdownState,
		"createdByUsername": r.CreatedByUsername,
		"createdById":       r.CreatedByID,
		"created":           r.Created,
	}
}

func (r *RepositoryMetadata) SetField(name string, value any) {
	switch name {
	case "repositoryId":
		r.RepositoryID = asInt64(value)
	case "repositoryName":
		r.RepositoryName, _ = value.(string)
	case "organizationLogin":
		r.OrganizationLogin, _ = value.(string)
	case "approvalType":
		r.ApprovalType, _ = value.(string)
	case "releaseReviewUrl":
		r.ReleaseReviewURL, _ = value.(string)
	case "initialTemplate":
		r.InitialTemplate, _ = value.(string)
	case "lockdownState":
		r.LockdownState, _ = value.(string)
	case "createdByUsername":
		r.CreatedByUsername, _ = value.(string)
	case "createdById":
		r.CreatedByID, _ = value.(string)
	case "created":
		if t, ok := value.(time.Time); ok {
			r.Created = t
		}
	}
}

// Fixed queries for repository metadata.

type allRepositoryMetadataQuery struct{}

func (allRepositoryMetadataQuery) FixedQueryName() string { return "allRepositoryMetadata" }

type repositoryMetadataByOrganizationQuery struct {
	OrganizationLogin string
}

func (repositoryMetadataByOrganizationQuery) FixedQueryName() string {
	return "repositoryMetadataByOrganization"
}

type repositoryMetadataByCreatorQuery struct {
	CreatedByUsername string
}

func (repositoryMetadataByCreatorQuery) FixedQueryName() string {
	return "repositoryMetadataByCreator"
}

func init() {
	entitymeta.RegisterDeclaration(&entitymeta.Declaration{
		Type:               entitymeta.TypeRepositoryMetadata,
		IDProperty:         "repositoryId",
		CreatedProperty:    "created",
		TableName:          "repositorymetadata",
		DiscriminatorValue: "repositorymetadata",
		FieldMap: map[string]string{
			"repositoryId":      "repositoryid",
			"repositoryName":    "repositoryname",
			"organizationLogin": "organizationlogin",
			"approvalType":      "approvaltype",
			"releaseReviewUrl":  "releasereviewurl",
			"initialTemplate":   "initialtemplate",
			"lockdownState":     "lockdownstate",
			"createdByUsername": "createdbyusername",
			"createdById":       "createdbyid",
			"created":           "created",
		},
		Factory: func() entitymeta.FieldEntity { return &RepositoryMetadata{} },
	})
	entitymeta.RegisterQueryBuilder(entitymeta.PostgresBackendName, entitymeta.TypeRepositoryMetadata,
		func(query entitymeta.FixedQuery, tableName, discriminator string) (*entitymeta.BackendQuery, error) {
			switch q := query.(type) {
			case allRepositoryMetadataQuery:
				return entitymeta.PostgresGetAllEntities(tableName, discriminator), nil
			case repositoryMetadataByOrganizationQuery:
				return entitymeta.PostgresJSONQuery(tableName, discriminator,
					map[string]any{"organizationlogin": q.OrganizationLogin}, "", false)
			case repositoryMetadataByCreatorQuery:
				return entitymeta.PostgresJSONQuery(tableName, discriminator,
					map[string]any{"createdbyusername": q.CreatedByUsername}, "", false)
			default:
				return nil, unknownQueryError(entitymeta.TypeRepositoryMetadata, query)
			}
		})
	entitymeta.RegisterQueryBuilder(entitymeta.SQLiteBackendName, entitymeta.TypeRepositoryMetadata,
		func(query entitymeta.FixedQuery, tableName, discriminator string) (*entitymeta.BackendQuery, error) {
			switch q := query.(type) {
			case allRepositoryMetadataQuery:
				return entitymeta.SQLiteGetAllEntities(tableName, discriminator), nil
			case repositoryMetadataByOrganizationQuery:
				return entitymeta.SQLiteJSONQuery(tableName, discriminator,
					map[string]any{"organizationlogin": q.OrganizationLogin}, "", false)
			case repositoryMetadataByCreatorQuery:
				return entitymeta.SQLiteJSONQuery(tableName, discriminator,
					map[string]any{"createdbyusername": q.CreatedByUsername}, "", false)
			default:
				return nil, unknownQueryError(entitymeta.TypeRepositoryMetadata, query)
			}
		})
}

// RepositoryMetadataStore is the typed accessor for repository provenance
// records.
type RepositoryMetadataStore struct {
	base storeBase
}

func NewRepositoryMetadataStore(provider entitymeta.Provider) *RepositoryMetadataStore {
	return &RepositoryMetadataStore{base: newStoreBase(provider, entitymeta.TypeRepositoryMetadata)}
}

func (s *RepositoryMetadataStore) Get(ctx context.Context, repositoryID int64) (*RepositoryMetadata, error) {
	obj, err := s.base.get(ctx, strconv.FormatInt(repositoryID, 10))
	if err != nil {
		return nil, err
	}
	return obj.(*RepositoryMetadata), nil
}

func (s *RepositoryMetadataStore) Add(ctx context.Context, metadata *RepositoryMetadata) error {
	return s.base.insert(ctx, metadata)
}

func (s *RepositoryMetadataStore) Update(ctx context.Context, metadata *RepositoryMetadata) error {
	return s.base.update(ctx, metadata)
}

func (s *RepositoryMetadataStore) Delete(ctx context.Context, metadata *RepositoryMetadata) error {
	return s.base.remove(ctx, metadata)
}

func (s *RepositoryMetadataStore) All(ctx context.Context) ([]*RepositoryMetadata, error) {
	return s.queryTyped(ctx, allRepositoryMetadataQuery{})
}

func (s *RepositoryMetadataStore) ByOrganization(ctx context.Context, organizationLogin string) ([]*RepositoryMetadata, error) {
	return s.queryTyped(ctx, repositoryMetadataByOrganizationQuery{OrganizationLogin: organizationLogin})
}

func (s *RepositoryMetadataStore) ByCreator(ctx context.Context, username string) ([]*RepositoryMetadata, error) {
	return s.queryTyped(ctx, repositoryMetadataByCreatorQuery{CreatedByUsername: username})
}

func (s *RepositoryMetadataStore) ClearAll(ctx context.Context) error {
	return s.base.clear(ctx)
}

func (s *RepositoryMetadataStore) queryTyped(ctx context.Context, q entitymeta.FixedQuery) ([]*RepositoryMetadata, error) {
	objects, err := s.base.query(ctx, q)
	if err != nil {
		return nil, err
	}
	results := make([]*RepositoryMetadata, len(objects))
	for i, obj := range objects {
		results[i] = obj.(*RepositoryMetadata)
	}
	return results, nil
}
