package entities

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/orgportal/pkg/entitymeta"
)

// AuditRecord is one append-only entry in the portal's audit trail: an
// actor performing an action against an organization, repository, or team.
type AuditRecord struct {
	RecordID          string
	Action            string
	ActorUsername     string
	ActorID           string
	UserUsername      string
	UserID            string
	OrganizationLogin string
	RepositoryName    string
	TeamName          string
	AdditionalContext string
	Created           time.Time
}

// NewAuditRecord starts a record with a fresh identifier and timestamp.
func NewAuditRecord(action string) *AuditRecord {
	return &AuditRecord{
		RecordID: uuid.NewString(),
		Action:   action,
		Created:  time.Now().UTC(),
	}
}

func (r *AuditRecord) FieldValues() map[string]any {
	return map[string]any{
		"recordId":          r.RecordID,
		"action":            r.Action,
		"actorUsername":     r.ActorUsername,
		"actorId":           r.ActorID,
		"userUsername":      r.UserUsername,
		"userId":            r.UserID,
		"organizationLogin": r.OrganizationLogin,
		"repositoryName":    r.RepositoryName,
		"teamName":          r.TeamName,
		"additionalContext": r.AdditionalContext,
		"created":           r.Created,
	}
}

func (r *AuditRecord) SetField(name string, value any) {
	switch name {
	case "recordId":
		r.RecordID, _ = value.(string)
	case "action":
		r.Action, _ = value.(string)
	case "actorUsername":
		r.ActorUsername, _ = value.(string)
	case "actorId":
		r.ActorID, _ = value.(string)
	case "userUsername":
		r.UserUsername, _ = value.(string)
	case "userId":
		r.UserID, _ = value.(string)
	case "organizationLogin":
		r.OrganizationLogin, _ = value.(string)
	case "repositoryName":
		r.RepositoryName, _ = value.(string)
	case "teamName":
		r.TeamName, _ = value.(string)
	case "additionalContext":
		r.AdditionalContext, _ = value.(string)
	case "created":
		if t, ok := value.(time.Time); ok {
			r.Created = t
		}
	}
}

// Fixed queries for audit records. All listings come back newest first,
// ordered by the stored timestamp field. The timestamp lives inside the
// payload (not as the record-level creation attribute) so the ordering
// clause can reach it.

const auditTimestampField = "timestamp"

type allAuditRecordsQuery struct{}

func (allAuditRecordsQuery) FixedQueryName() string { return "allAuditRecords" }

type auditRecordsByRepositoryQuery struct {
	OrganizationLogin string
	RepositoryName    string
}

func (auditRecordsByRepositoryQuery) FixedQueryName() string { return "auditRecordsByRepository" }

type auditRecordsByActorQuery struct {
	ActorUsername string
}

func (auditRecordsByActorQuery) FixedQueryName() string { return "auditRecordsByActor" }

type auditRecordsByTeamQuery struct {
	OrganizationLogin string
	TeamName          string
}

func (auditRecordsByTeamQuery) FixedQueryName() string { return "auditRecordsByTeam" }

func auditPredicate(query entitymeta.FixedQuery) (map[string]any, error) {
	switch q := query.(type) {
	case auditRecordsByRepositoryQuery:
		return map[string]any{"organizationlogin": q.OrganizationLogin, "repositoryname": q.RepositoryName}, nil
	case auditRecordsByActorQuery:
		return map[string]any{"actorusername": q.ActorUsername}, nil
	case auditRecordsByTeamQuery:
		return map[string]any{"organizationlogin": q.OrganizationLogin, "teamname": q.TeamName}, nil
	default:
		return nil, unknownQueryError(entitymeta.TypeAuditRecord, query)
	}
}

func init() {
	entitymeta.RegisterDeclaration(&entitymeta.Declaration{
		Type:               entitymeta.TypeAuditRecord,
		IDProperty:         "recordId",
		TableName:          "auditlog",
		DiscriminatorValue: "auditlogrecord",
		FieldMap: map[string]string{
			"recordId":          "recordid",
			"action":            "action",
			"actorUsername":     "actorusername",
			"actorId":           "actorid",
			"userUsername":      "userusername",
			"userId":            "userid",
			"organizationLogin": "organizationlogin",
			"repositoryName":    "repositoryname",
			"teamName":          "teamname",
			"additionalContext": "additionalcontext",
			"created":           auditTimestampField,
		},
		DateProperties: []string{"created"},
		Factory:        func() entitymeta.FieldEntity { return &AuditRecord{} },
	})
	entitymeta.RegisterQueryBuilder(entitymeta.PostgresBackendName, entitymeta.TypeAuditRecord,
		func(query entitymeta.FixedQuery, tableName, discriminator string) (*entitymeta.BackendQuery, error) {
			if _, ok := query.(allAuditRecordsQuery); ok {
				return entitymeta.PostgresJSONQuery(tableName, discriminator, map[string]any{}, auditTimestampField, true)
			}
			predicate, err := auditPredicate(query)
			if err != nil {
				return nil, err
			}
			return entitymeta.PostgresJSONQuery(tableName, discriminator, predicate, auditTimestampField, true)
		})
	entitymeta.RegisterQueryBuilder(entitymeta.SQLiteBackendName, entitymeta.TypeAuditRecord,
		func(query entitymeta.FixedQuery, tableName, discriminator string) (*entitymeta.BackendQuery, error) {
			if _, ok := query.(allAuditRecordsQuery); ok {
				return entitymeta.SQLiteJSONQuery(tableName, discriminator, map[string]any{}, auditTimestampField, true)
			}
			predicate, err := auditPredicate(query)
			if err != nil {
				return nil, err
			}
			return entitymeta.SQLiteJSONQuery(tableName, discriminator, predicate, auditTimestampField, true)
		})
}

// AuditRecordStore is the typed accessor for the audit trail.
type AuditRecordStore struct {
	base storeBase
}

func NewAuditRecordStore(provider entitymeta.Provider) *AuditRecordStore {
	return &AuditRecordStore{base: newStoreBase(provider, entitymeta.TypeAuditRecord)}
}

func (s *AuditRecordStore) Get(ctx context.Context, recordID string) (*AuditRecord, error) {
	obj, err := s.base.get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return obj.(*AuditRecord), nil
}

// Append writes a new record. The trail is insert-only: there is no update
// path, and replaying an identifier fails with ErrConflict.
func (s *AuditRecordStore) Append(ctx context.Context, record *AuditRecord) error {
	return s.base.insert(ctx, record)
}

func (s *AuditRecordStore) Delete(ctx context.Context, record *AuditRecord) error {
	return s.base.remove(ctx, record)
}

// All returns the full trail, newest first.
func (s *AuditRecordStore) All(ctx context.Context) ([]*AuditRecord, error) {
	return s.queryTyped(ctx, allAuditRecordsQuery{})
}

// ByRepository returns a repository's history, newest first.
func (s *AuditRecordStore) ByRepository(ctx context.Context, organizationLogin, repositoryName string) ([]*AuditRecord, error) {
	return s.queryTyped(ctx, auditRecordsByRepositoryQuery{OrganizationLogin: organizationLogin, RepositoryName: repositoryName})
}

// ByActor returns everything one actor has done, newest first.
func (s *AuditRecordStore) ByActor(ctx context.Context, actorUsername string) ([]*AuditRecord, error) {
	return s.queryTyped(ctx, auditRecordsByActorQuery{ActorUsername: actorUsername})
}

// ByTeam returns a team's history, newest first.
func (s *AuditRecordStore) ByTeam(ctx context.Context, organizationLogin, teamName string) ([]*AuditRecord, error) {
	return s.queryTyped(ctx, auditRecordsByTeamQuery{OrganizationLogin: organizationLogin, TeamName: teamName})
}

// ExpireBefore deletes records created before the cutoff. Retention runs on
// a schedule, so the full-scan cost lands off the request path.
func (s *AuditRecordStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	records, err := s.All(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, record := range records {
		if record.Created.IsZero() || !record.Created.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, record); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *AuditRecordStore) ClearAll(ctx context.Context) error {
	return s.base.clear(ctx)
}

func (s *AuditRecordStore) queryTyped(ctx context.Context, q entitymeta.FixedQuery) ([]*AuditRecord, error) {
	objects, err := s.base.query(ctx, q)
	if err != nil {
		return nil, err
	}
	results := make([]*AuditRecord, len(objects))
	for i, obj := range objects {
		results[i] = obj.(*AuditRecord)
	}
	return results, nil
}
