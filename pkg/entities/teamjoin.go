package entities

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/orgportal/pkg/entitymeta"
)

// TeamJoinRequest records one person asking to join a team, from the open
// ask through the eventual approve or reject decision.
type TeamJoinRequest struct {
	RequestID          string
	OrganizationLogin  string
	TeamID             int64
	TeamName           string
	ThirdPartyID       string
	ThirdPartyUsername string
	CorporateUsername  string
	Justification      string
	Active             bool
	Decision           string
	DecisionMessage    string
	DecisionByUsername string
	DecisionTime       time.Time
	Created            time.Time
}

// Decisions recorded on a closed join request.
const (
	TeamJoinDecisionApproved = "approved"
	TeamJoinDecisionRejected = "rejected"
)

// NewTeamJoinRequest opens a request with a fresh identifier.
func NewTeamJoinRequest() *TeamJoinRequest {
	return &TeamJoinRequest{
		RequestID: uuid.NewString(),
		Active:    true,
		Created:   time.Now().UTC(),
	}
}

func (r *TeamJoinRequest) FieldValues() map[string]any {
	return map[string]any{
		"requestId":          r.RequestID,
		"organizationLogin":  r.OrganizationLogin,
		"teamId":             r.TeamID,
		"teamName":           r.TeamName,
		"thirdPartyId":       r.ThirdPartyID,
		"thirdPartyUsername": r.ThirdPartyUsername,
		"corporateUsername":  r.CorporateUsername,
		"justification":      r.Justification,
		"active":             r.Active,
		"decision":           r.Decision,
		"decisionMessage":    r.DecisionMessage,
		"decisionByUsername": r.DecisionByUsername,
		"decisionTime":       r.DecisionTime,
		"created":            r.Created,
	}
}

func (r *TeamJoinRequest) SetField(name string, value any) {
	switch name {
	case "requestId":
		r.RequestID, _ = value.(string)
	case "organizationLogin":
		r.OrganizationLogin, _ = value.(string)
	case "teamId":
		r.TeamID = asInt64(value)
	case "teamName":
		r.TeamName, _ = value.(string)
	case "thirdPartyId":
		r.ThirdPartyID, _ = value.(string)
	case "thirdPartyUsername":
		r.ThirdPartyUsername, _ = value.(string)
	case "corporateUsername":
		r.CorporateUsername, _ = value.(string)
	case "justification":
		r.Justification, _ = value.(string)
	case "active":
		r.Active = asBool(value)
	case "decision":
		r.Decision, _ = value.(string)
	case "decisionMessage":
		r.DecisionMessage, _ = value.(string)
	case "decisionByUsername":
		r.DecisionByUsername, _ = value.(string)
	case "decisionTime":
		if t, ok := value.(time.Time); ok {
			r.DecisionTime = t
		}
	case "created":
		if t, ok := value.(time.Time); ok {
			r.Created = t
		}
	}
}

// Fixed queries for team join requests.

type allActiveTeamJoinRequestsQuery struct{}

func (allActiveTeamJoinRequestsQuery) FixedQueryName() string { return "allActiveTeamJoinRequests" }

type activeTeamJoinRequestsByTeamQuery struct {
	TeamID int64
}

func (activeTeamJoinRequestsByTeamQuery) FixedQueryName() string {
	return "activeTeamJoinRequestsByTeam"
}

type activeTeamJoinRequestsByTeamsQuery struct {
	TeamIDs []int64
}

func (activeTeamJoinRequestsByTeamsQuery) FixedQueryName() string {
	return "activeTeamJoinRequestsByTeams"
}

type activeTeamJoinRequestByTeamAndUserQuery struct {
	TeamID       int64
	ThirdPartyID string
}

func (activeTeamJoinRequestByTeamAndUserQuery) FixedQueryName() string {
	return "activeTeamJoinRequestByTeamAndUser"
}

type teamJoinRequestsByRequestorQuery struct {
	ThirdPartyID string
}

func (teamJoinRequestsByRequestorQuery) FixedQueryName() string {
	return "teamJoinRequestsByRequestor"
}

func teamJoinPredicates(query entitymeta.FixedQuery) (predicates []map[string]any, multiple bool, err error) {
	switch q := query.(type) {
	case allActiveTeamJoinRequestsQuery:
		return []map[string]any{{"active": true}}, false, nil
	case activeTeamJoinRequestsByTeamQuery:
		return []map[string]any{{"active": true, "teamid": q.TeamID}}, false, nil
	case activeTeamJoinRequestsByTeamsQuery:
		predicates = make([]map[string]any, 0, len(q.TeamIDs))
		for _, teamID := range q.TeamIDs {
			predicates = append(predicates, map[string]any{"active": true, "teamid": teamID})
		}
		return predicates, true, nil
	case activeTeamJoinRequestByTeamAndUserQuery:
		return []map[string]any{{"active": true, "teamid": q.TeamID, "thirdpartyid": q.ThirdPartyID}}, false, nil
	case teamJoinRequestsByRequestorQuery:
		return []map[string]any{{"thirdpartyid": q.ThirdPartyID}}, false, nil
	default:
		return nil, false, unknownQueryError(entitymeta.TypeTeamJoinRequest, query)
	}
}

func init() {
	entitymeta.RegisterDeclaration(&entitymeta.Declaration{
		Type:               entitymeta.TypeTeamJoinRequest,
		IDProperty:         "requestId",
		CreatedProperty:    "created",
		TableName:          "approvals",
		DiscriminatorValue: "teamjoinrequest",
		FieldMap: map[string]string{
			"requestId":          "requestid",
			"organizationLogin":  "organizationlogin",
			"teamId":             "teamid",
			"teamName":           "teamname",
			"thirdPartyId":       "thirdpartyid",
			"thirdPartyUsername": "thirdpartyusername",
			"corporateUsername":  "corporateusername",
			"justification":      "justification",
			"active":             "active",
			"decision":           "decision",
			"decisionMessage":    "decisionmessage",
			"decisionByUsername": "decisionbyusername",
			"decisionTime":       "decisiontime",
			"created":            "created",
		},
		DateProperties: []string{"decisionTime"},
		Factory:        func() entitymeta.FieldEntity { return &TeamJoinRequest{} },
	})
	entitymeta.RegisterQueryBuilder(entitymeta.PostgresBackendName, entitymeta.TypeTeamJoinRequest,
		func(query entitymeta.FixedQuery, tableName, discriminator string) (*entitymeta.BackendQuery, error) {
			predicates, multiple, err := teamJoinPredicates(query)
			if err != nil {
				return nil, err
			}
			if multiple {
				return entitymeta.PostgresJSONQueryMultiple(tableName, discriminator, predicates...)
			}
			return entitymeta.PostgresJSONQuery(tableName, discriminator, predicates[0], "", false)
		})
	entitymeta.RegisterQueryBuilder(entitymeta.SQLiteBackendName, entitymeta.TypeTeamJoinRequest,
		func(query entitymeta.FixedQuery, tableName, discriminator string) (*entitymeta.BackendQuery, error) {
			predicates, multiple, err := teamJoinPredicates(query)
			if err != nil {
				return nil, err
			}
			if multiple {
				return entitymeta.SQLiteJSONQueryMultiple(tableName, discriminator, predicates...)
			}
			return entitymeta.SQLiteJSONQuery(tableName, discriminator, predicates[0], "", false)
		})
}

// TeamJoinRequestStore is the typed accessor for join requests.
type TeamJoinRequestStore struct {
	base storeBase
}

func NewTeamJoinRequestStore(provider entitymeta.Provider) *TeamJoinRequestStore {
	return &TeamJoinRequestStore{base: newStoreBase(provider, entitymeta.TypeTeamJoinRequest)}
}

func (s *TeamJoinRequestStore) Get(ctx context.Context, requestID string) (*TeamJoinRequest, error) {
	obj, err := s.base.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return obj.(*TeamJoinRequest), nil
}

func (s *TeamJoinRequestStore) Add(ctx context.Context, request *TeamJoinRequest) error {
	return s.base.insert(ctx, request)
}

func (s *TeamJoinRequestStore) Update(ctx context.Context, request *TeamJoinRequest) error {
	return s.base.update(ctx, request)
}

func (s *TeamJoinRequestStore) Delete(ctx context.Context, request *TeamJoinRequest) error {
	return s.base.remove(ctx, request)
}

// AllActive returns every open request across all teams.
func (s *TeamJoinRequestStore) AllActive(ctx context.Context) ([]*TeamJoinRequest, error) {
	return s.queryTyped(ctx, allActiveTeamJoinRequestsQuery{})
}

// ActiveByTeam returns open requests for one team.
func (s *TeamJoinRequestStore) ActiveByTeam(ctx context.Context, teamID int64) ([]*TeamJoinRequest, error) {
	return s.queryTyped(ctx, activeTeamJoinRequestsByTeamQuery{TeamID: teamID})
}

// ActiveByTeams returns open requests for any of several teams in one round
// trip. An empty team list is rejected before reaching storage.
func (s *TeamJoinRequestStore) ActiveByTeams(ctx context.Context, teamIDs []int64) ([]*TeamJoinRequest, error) {
	return s.queryTyped(ctx, activeTeamJoinRequestsByTeamsQuery{TeamIDs: teamIDs})
}

// ActiveByTeamAndUser returns the open request a user already has for a
// team, if any, so duplicate asks can be detected.
func (s *TeamJoinRequestStore) ActiveByTeamAndUser(ctx context.Context, teamID int64, thirdPartyID string) ([]*TeamJoinRequest, error) {
	return s.queryTyped(ctx, activeTeamJoinRequestByTeamAndUserQuery{TeamID: teamID, ThirdPartyID: thirdPartyID})
}

// ByRequestor returns every request a user has ever filed, open or closed.
func (s *TeamJoinRequestStore) ByRequestor(ctx context.Context, thirdPartyID string) ([]*TeamJoinRequest, error) {
	return s.queryTyped(ctx, teamJoinRequestsByRequestorQuery{ThirdPartyID: thirdPartyID})
}

func (s *TeamJoinRequestStore) ClearAll(ctx context.Context) error {
	return s.base.clear(ctx)
}

func (s *TeamJoinRequestStore) queryTyped(ctx context.Context, q entitymeta.FixedQuery) ([]*TeamJoinRequest, error) {
	objects, err := s.base.query(ctx, q)
	if err != nil {
		return nil, err
	}
	results := make([]*TeamJoinRequest, len(objects))
	for i, obj := range objects {
		results[i] = obj.(*TeamJoinRequest)
	}
	return results, nil
}
