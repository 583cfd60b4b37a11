package entitymeta

import (
	"strconv"
	"sync"
	"time"
)

// testWidget is the entity type used across the package tests. It mirrors
// how the portal's entity packages implement FieldEntity: explicit property
// enumeration, explicit assignment switch, no reflection.
type testWidget struct {
	ID      int64
	Name    string
	Color   string
	Score   int
	Updated time.Time
	Created time.Time
	Secret  string

	// rawUpdated keeps the stored value when date re-parsing failed.
	rawUpdated string
}

const testWidgetType EntityType = "testwidget"

func (w *testWidget) FieldValues() map[string]any {
	return map[string]any{
		"widgetId": w.ID,
		"name":     w.Name,
		"color":    w.Color,
		"score":    w.Score,
		"updated":  w.Updated,
		"created":  w.Created,
		"secret":   w.Secret,
	}
}

func (w *testWidget) SetField(name string, value any) {
	switch name {
	case "widgetId":
		if s, ok := value.(string); ok {
			w.ID, _ = strconv.ParseInt(s, 10, 64)
		}
	case "name":
		if s, ok := value.(string); ok {
			w.Name = s
		}
	case "color":
		if s, ok := value.(string); ok {
			w.Color = s
		}
	case "score":
		switch v := value.(type) {
		case float64:
			w.Score = int(v)
		case int:
			w.Score = v
		}
	case "updated":
		switch v := value.(type) {
		case time.Time:
			w.Updated = v
		case string:
			w.rawUpdated = v
		}
	case "created":
		if t, ok := value.(time.Time); ok {
			w.Created = t
		}
	case "secret":
		if s, ok := value.(string); ok {
			w.Secret = s
		}
	}
}

type allWidgetsQuery struct{}

func (allWidgetsQuery) FixedQueryName() string { return "all-widgets" }

type widgetsByColorQuery struct {
	Color      string
	Descending bool
}

func (widgetsByColorQuery) FixedQueryName() string { return "widgets-by-color" }

type widgetsByAnyColorQuery struct {
	Colors []string
}

func (widgetsByAnyColorQuery) FixedQueryName() string { return "widgets-by-any-color" }

var registerTestWidgetOnce sync.Once

// ensureTestWidgetRegistered installs the declaration and both backends'
// query builders exactly once for the whole test binary.
func ensureTestWidgetRegistered() {
	registerTestWidgetOnce.Do(func() {
		RegisterDeclaration(&Declaration{
			Type:               testWidgetType,
			IDProperty:         "widgetId",
			CreatedProperty:    "created",
			TableName:          "widgets",
			DiscriminatorValue: "widget",
			FieldMap: map[string]string{
				"widgetId": "widgetid",
				"name":     "name",
				"color":    "color",
				"score":    "score",
				"updated":  "updated",
				"created":  "created",
				"secret":   Excluded,
			},
			DateProperties: []string{"updated"},
			Factory:        func() FieldEntity { return &testWidget{} },
		})
		RegisterQueryBuilder(PostgresBackendName, testWidgetType, buildPostgresWidgetQuery)
		RegisterQueryBuilder(SQLiteBackendName, testWidgetType, buildSQLiteWidgetQuery)
	})
}

func buildPostgresWidgetQuery(query FixedQuery, table, discriminator string) (*BackendQuery, error) {
	switch q := query.(type) {
	case allWidgetsQuery:
		return PostgresGetAllEntities(table, discriminator), nil
	case widgetsByColorQuery:
		return PostgresJSONQuery(table, discriminator, map[string]any{"color": q.Color}, "name", q.Descending)
	case widgetsByAnyColorQuery:
		predicates := make([]map[string]any, 0, len(q.Colors))
		for _, color := range q.Colors {
			predicates = append(predicates, map[string]any{"color": color})
		}
		return PostgresJSONQueryMultiple(table, discriminator, predicates...)
	default:
		return nil, &MisconfigurationError{Type: testWidgetType, Detail: "unknown fixed query"}
	}
}

func buildSQLiteWidgetQuery(query FixedQuery, table, discriminator string) (*BackendQuery, error) {
	switch q := query.(type) {
	case allWidgetsQuery:
		return SQLiteGetAllEntities(table, discriminator), nil
	case widgetsByColorQuery:
		return SQLiteJSONQuery(table, discriminator, map[string]any{"color": q.Color}, "name", q.Descending)
	case widgetsByAnyColorQuery:
		predicates := make([]map[string]any, 0, len(q.Colors))
		for _, color := range q.Colors {
			predicates = append(predicates, map[string]any{"color": color})
		}
		return SQLiteJSONQueryMultiple(table, discriminator, predicates...)
	default:
		return nil, &MisconfigurationError{Type: testWidgetType, Detail: "unknown fixed query"}
	}
}
