package segmentation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQueryEmptyFilter(t *testing.T) {
	query, args, err := NewQueryBuilder().BuildQuery(Filter{})
	require.NoError(t, err)

	assert.Contains(t, query, "FROM leads l")
	assert.Contains(t, query, "l.unsubscribed_at IS NULL")
	assert.Contains(t, query, "l.email <> ''")
	assert.True(t, strings.HasSuffix(query, "ORDER BY l.created_at, l.id"))
	assert.Empty(t, args)
}

func TestBuildQueryProfileAndCustomFields(t *testing.T) {
	f := Filter{RootGroup: ConditionGroup{
		LogicOperator: LogicAnd,
		Conditions: []Condition{
			{ConditionType: ConditionProfile, Field: "source", Operator: OpEquals, Value: "facebook"},
			{ConditionType: ConditionCustomField, Field: "budget", FieldType: FieldNumber, Operator: OpGte, Value: "5000"},
		},
		Groups: []ConditionGroup{{
			LogicOperator: LogicOr,
			Conditions: []Condition{
				{Field: "email", Operator: OpEndsWith, Value: "@gmail.com"},
				{Field: "email", Operator: OpEndsWith, Value: "@yahoo.com"},
			},
		}},
	}}

	query, args, err := NewQueryBuilder().BuildQuery(f)
	require.NoError(t, err)

	assert.Contains(t, query, "l.source = $1 AND (l.custom_fields->>'budget')::numeric >= $2 AND (l.email ILIKE $3 OR l.email ILIKE $4)")
	assert.Equal(t, []interface{}{"facebook", "5000", "%@gmail.com", "%@yahoo.com"}, args)
}

func TestBuildQueryNegatedGroupAndExclusions(t *testing.T) {
	f := Filter{
		RootGroup: ConditionGroup{
			IsNegated:  true,
			Conditions: []Condition{{Field: "first_name", Operator: OpIsEmpty}},
		},
		GlobalExclusions: []Condition{
			{ConditionType: ConditionTag, Operator: OpContainsAny, ValuesArray: []string{"test", "internal"}},
		},
	}

	query, args, err := NewQueryBuilder().BuildQuery(f)
	require.NoError(t, err)

	assert.Contains(t, query, "(NOT ((l.first_name IS NULL OR l.first_name::text = '')))")
	assert.Contains(t, query, "NOT (l.tags && $1::text[])")
	require.Len(t, args, 1)
	assert.Equal(t, pq.Array([]string{"test", "internal"}), args[0])
}

func TestBuildQueryEventConditions(t *testing.T) {
	f := Filter{RootGroup: ConditionGroup{Conditions: []Condition{
		{ConditionType: ConditionEvent, Field: "open", Operator: OpEventInLastDays, Value: "30"},
		{ConditionType: ConditionEvent, Field: "click", Operator: OpEventCountGte, Value: "2", EventTimeWindowDays: 7},
	}}}

	query, args, err := NewQueryBuilder().BuildQuery(f)
	require.NoError(t, err)

	assert.Contains(t, query, "EXISTS (SELECT 1 FROM tracking_events e")
	assert.Contains(t, query, "SELECT COUNT(*) FROM tracking_events e")
	assert.Equal(t, []interface{}{"open", 30, "click", 7, 2}, args)
}

func TestBuildQueryRejectsUnsafeInput(t *testing.T) {
	tests := []Condition{
		{Field: "email; DROP TABLE leads", Operator: OpEquals, Value: "x"},
		{ConditionType: ConditionCustomField, Field: "a'b", Operator: OpEquals, Value: "x"},
		{Field: "created_at", Operator: OpInLastDays, Value: "7 days'; --"},
		{Field: "email", Operator: "soundex"},
		{ConditionType: ConditionEvent, Field: "purchase", Operator: OpEventInLastDays, Value: "1"},
		{ConditionType: "weird"},
	}
	for _, cond := range tests {
		_, _, err := NewQueryBuilder().BuildQuery(Filter{RootGroup: ConditionGroup{Conditions: []Condition{cond}}})
		assert.True(t, errors.Is(err, ErrInvalidFilter), "condition %+v", cond)
	}
}

func TestResolve(t *testing.T) {
	raw := json.RawMessage(`{"root_group":{"logic_operator":"AND","conditions":[{"field":"last_name","operator":"equals","value":"Smith"}]}}`)

	qb := NewQueryBuilder()
	query, args, err := qb.Resolve(raw)
	require.NoError(t, err)
	assert.Contains(t, query, "l.last_name = $1")
	assert.Equal(t, []interface{}{"Smith"}, args)

	// builder state resets between calls
	_, args, err = qb.Resolve(nil)
	require.NoError(t, err)
	assert.Empty(t, args)

	_, _, err = qb.Resolve(json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidFilter)
}
