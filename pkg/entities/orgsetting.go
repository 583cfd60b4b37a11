package entities

import (
	"context"
	"strconv"
	"time"

	"github.com/platinummonkey/orgportal/pkg/entitymeta"
)

// OrganizationSetting holds the per-organization application installation
// and feature configuration that administrators manage through the portal.
type OrganizationSetting struct {
	OrganizationID    int64
	OrganizationLogin string
	Active            bool
	AppID             int64
	InstallationID    int64
	SudoerTeamID      int64
	Features          []string
	Properties        map[string]string
	OperationsNotes   string
	UpdatedByUsername string
	Updated           time.Time
	Created           time.Time
}

// HasFeature reports whether a feature flag is enabled for the org.
func (o *OrganizationSetting) HasFeature(name string) bool {
	for _, feature := range o.Features {
		if feature == name {
			return true
		}
	}
	return false
}

func (o *OrganizationSetting) FieldValues() map[string]any {
	return map[string]any{
		"organizationId":    o.OrganizationID,
		"organizationLogin": o.OrganizationLogin,
		"active":            o.Active,
		"appId":             o.AppID,
		"installationId":    o.InstallationID,
		"sudoerTeamId":      o.SudoerTeamID,
		"features":          o.Features,
		"properties":        o.Properties,
		"operationsNotes":   o.OperationsNotes,
		"updatedByUsername": o.UpdatedByUsername,
		"updated":           o.Updated,
		"created":           o.Created,
	}
}

func (o *OrganizationSetting) SetField(name string, value any) {
	switch name {
	case "organizationId":
		o.OrganizationID = asInt64(value)
	case "organizationLogin":
		o.OrganizationLogin, _ = value.(string)
	case "active":
		o.Active = asBool(value)
	case "appId":
		o.AppID = asInt64(value)
	case "installationId":
		o.InstallationID = asInt64(value)
	case "sudoerTeamId":
		o.SudoerTeamID = asInt64(value)
	case "features":
		o.Features = asStringSlice(value)
	case "properties":
		o.Properties = asStringMap(value)
	case "operationsNotes":
		o.OperationsNotes, _ = value.(string)
	case "updatedByUsername":
		o.UpdatedByUsername, _ = value.(string)
	case "updated":
		if t, ok := value.(time.Time); ok {
			o.Updated = t
		}
	case "created":
		if t, ok := value.(time.Time); ok {
			o.Created = t
		}
	}
}

// Fixed queries for organization settings.

type allOrganizationSettingsQuery struct{}

func (allOrganizationSettingsQuery) FixedQueryName() string { return "allOrganizationSettings" }

type activeOrganizationSettingsQuery struct{}

func (activeOrganizationSettingsQuery) FixedQueryName() string { return "activeOrganizationSettings" }

func init() {
	entitymeta.RegisterDeclaration(&entitymeta.Declaration{
		Type:               entitymeta.TypeOrganizationSetting,
		IDProperty:         "organizationId",
		CreatedProperty:    "created",
		TableName:          "organizationsettings",
		DiscriminatorValue: "organizationsetting",
		FieldMap: map[string]string{
			"organizationId":    "organizationid",
			"organizationLogin": "organizationname",
			"active":            "active",
			"appId":             "appid",
			"installationId":    "installationid",
			"sudoerTeamId":      "sudoerteamid",
			"features":          "features",
			"properties":        "properties",
			"operationsNotes":   "operationsnotes",
			"updatedByUsername": "updatedbyusername",
			"updated":           "updated",
			"created":           "created",
		},
		DateProperties: []string{"updated"},
		Factory:        func() entitymeta.FieldEntity { return &OrganizationSetting{} },
	})
	entitymeta.RegisterQueryBuilder(entitymeta.PostgresBackendName, entitymeta.TypeOrganizationSetting,
		func(query entitymeta.FixedQuery, tableName, discriminator string) (*entitymeta.BackendQuery, error) {
			switch query.(type) {
			case allOrganizationSettingsQuery:
				return entitymeta.PostgresGetAllEntities(tableName, discriminator), nil
			case activeOrganizationSettingsQuery:
				return entitymeta.PostgresJSONQuery(tableName, discriminator, map[string]any{"active": true}, "", false)
			default:
				return nil, unknownQueryError(entitymeta.TypeOrganizationSetting, query)
			}
		})
	entitymeta.RegisterQueryBuilder(entitymeta.SQLiteBackendName, entitymeta.TypeOrganizationSetting,
		func(query entitymeta.FixedQuery, tableName, discriminator string) (*entitymeta.BackendQuery, error) {
			switch query.(type) {
			case allOrganizationSettingsQuery:
				return entitymeta.SQLiteGetAllEntities(tableName, discriminator), nil
			case activeOrganizationSettingsQuery:
				return entitymeta.SQLiteJSONQuery(tableName, discriminator, map[string]any{"active": true}, "", false)
			default:
				return nil, unknownQueryError(entitymeta.TypeOrganizationSetting, query)
			}
		})
}

// OrganizationSettingStore is the typed accessor for organization settings.
type OrganizationSettingStore struct {
	base storeBase
}

func NewOrganizationSettingStore(provider entitymeta.Provider) *OrganizationSettingStore {
	return &OrganizationSettingStore{base: newStoreBase(provider, entitymeta.TypeOrganizationSetting)}
}

func (s *OrganizationSettingStore) Get(ctx context.Context, organizationID int64) (*OrganizationSetting, error) {
	obj, err := s.base.get(ctx, strconv.FormatInt(organizationID, 10))
	if err != nil {
		return nil, err
	}
	return obj.(*OrganizationSetting), nil
}

func (s *OrganizationSettingStore) Add(ctx context.Context, setting *OrganizationSetting) error {
	return s.base.insert(ctx, setting)
}

func (s *OrganizationSettingStore) Update(ctx context.Context, setting *OrganizationSetting) error {
	return s.base.update(ctx, setting)
}

func (s *OrganizationSettingStore) Delete(ctx context.Context, setting *OrganizationSetting) error {
	return s.base.remove(ctx, setting)
}

func (s *OrganizationSettingStore) All(ctx context.Context) ([]*OrganizationSetting, error) {
	return s.queryTyped(ctx, allOrganizationSettingsQuery{})
}

// AllActive returns only the orgs currently onboarded to the portal.
func (s *OrganizationSettingStore) AllActive(ctx context.Context) ([]*OrganizationSetting, error) {
	return s.queryTyped(ctx, activeOrganizationSettingsQuery{})
}

func (s *OrganizationSettingStore) ClearAll(ctx context.Context) error {
	return s.base.clear(ctx)
}

func (s *OrganizationSettingStore) queryTyped(ctx context.Context, q entitymeta.FixedQuery) ([]*OrganizationSetting, error) {
	objects, err := s.base.query(ctx, q)
	if err != nil {
		return nil, err
	}
	results := make([]*OrganizationSetting, len(objects))
	for i, obj := range objects {
		results[i] = obj.(*OrganizationSetting)
	}
	return results, nil
}
