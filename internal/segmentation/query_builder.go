package segmentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// ErrInvalidFilter is returned for filter documents that cannot be translated.
var ErrInvalidFilter = errors.New("invalid segment filter")

// RecipientColumns is the column list every recipient query selects, in
// scan order.
const RecipientColumns = "l.id, l.email, COALESCE(l.first_name, ''), COALESCE(l.last_name, ''), COALESCE(l.custom_fields, '{}'::jsonb)"

var fieldKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// QueryBuilder builds SQL queries from segment conditions
type QueryBuilder struct {
	args       []interface{}
	argCounter int
}

// NewQueryBuilder creates a new QueryBuilder
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		args:       make([]interface{}, 0),
		argCounter: 1,
	}
}

// Resolve translates a stored filter document into a recipient query. It
// satisfies the enqueuer's segment resolver contract.
func (qb *QueryBuilder) Resolve(filter json.RawMessage) (string, []interface{}, error) {
	var f Filter
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &f); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
	}
	return qb.BuildQuery(f)
}

// nextArg returns the next argument placeholder
func (qb *QueryBuilder) nextArg(value interface{}) string {
	qb.args = append(qb.args, value)
	placeholder := fmt.Sprintf("$%d", qb.argCounter)
	qb.argCounter++
	return placeholder
}

// BuildQuery builds a complete recipient query for a filter. Leads without
// an address or that have unsubscribed are always excluded.
func (qb *QueryBuilder) BuildQuery(f Filter) (string, []interface{}, error) {
	// Reset state
	qb.args = make([]interface{}, 0)
	qb.argCounter = 1

	whereConditions := []string{
		"l.email IS NOT NULL",
		"l.email <> ''",
		"l.unsubscribed_at IS NULL",
	}

	mainCondition, err := qb.buildGroupCondition(f.RootGroup)
	if err != nil {
		return "", nil, err
	}
	if mainCondition != "" {
		whereConditions = append(whereConditions, "("+mainCondition+")")
	}

	for _, exclusion := range f.GlobalExclusions {
		exclusionSQL, err := qb.buildCondition(exclusion)
		if err != nil {
			return "", nil, err
		}
		if exclusionSQL != "" {
			whereConditions = append(whereConditions, "NOT ("+exclusionSQL+")")
		}
	}

	query := "SELECT " + RecipientColumns + "\nFROM leads l" +
		"\nWHERE " + strings.Join(whereConditions, "\n  AND ") +
		"\nORDER BY l.created_at, l.id"

	return query, qb.args, nil
}

// buildGroupCondition builds SQL for a condition group
func (qb *QueryBuilder) buildGroupCondition(group ConditionGroup) (string, error) {
	parts := []string{}

	for _, cond := range group.Conditions {
		sql, err := qb.buildCondition(cond)
		if err != nil {
			return "", err
		}
		if sql != "" {
			parts = append(parts, sql)
		}
	}

	for _, subGroup := range group.Groups {
		subSQL, err := qb.buildGroupCondition(subGroup)
		if err != nil {
			return "", err
		}
		if subSQL != "" {
			parts = append(parts, "("+subSQL+")")
		}
	}

	if len(parts) == 0 {
		return "", nil
	}

	operator := " AND "
	if group.LogicOperator == LogicOr {
		operator = " OR "
	}

	result := strings.Join(parts, operator)
	if group.IsNegated {
		result = "NOT (" + result + ")"
	}
	return result, nil
}

// buildCondition builds SQL for a single condition
func (qb *QueryBuilder) buildCondition(cond Condition) (string, error) {
	switch cond.ConditionType {
	case ConditionCustomField:
		return qb.buildCustomFieldCondition(cond)
	case ConditionEvent:
		return qb.buildEventCondition(cond)
	case ConditionTag:
		return qb.buildTagCondition(cond)
	case ConditionProfile, "":
		return qb.buildProfileCondition(cond)
	default:
		return "", fmt.Errorf("%w: unknown condition type %q", ErrInvalidFilter, cond.ConditionType)
	}
}

// buildProfileCondition builds SQL for lead column conditions
func (qb *QueryBuilder) buildProfileCondition(cond Condition) (string, error) {
	if !profileColumns[cond.Field] {
		return "", fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, cond.Field)
	}
	return qb.compare("l."+cond.Field, cond)
}

// buildCustomFieldCondition builds SQL for custom JSONB field conditions
func (qb *QueryBuilder) buildCustomFieldCondition(cond Condition) (string, error) {
	if !fieldKey.MatchString(cond.Field) {
		return "", fmt.Errorf("%w: bad custom field %q", ErrInvalidFilter, cond.Field)
	}
	jsonPath := fmt.Sprintf("(l.custom_fields->>'%s')", cond.Field)

	switch cond.FieldType {
	case FieldNumber:
		jsonPath += "::numeric"
	case FieldBoolean:
		jsonPath += "::boolean"
	case FieldDatetime:
		jsonPath += "::timestamptz"
	}
	return qb.compare(jsonPath, cond)
}

// compare renders the operator against an already-qualified expression.
func (qb *QueryBuilder) compare(field string, cond Condition) (string, error) {
	switch cond.Operator {
	case OpEquals:
		return fmt.Sprintf("%s = %s", field, qb.nextArg(cond.Value)), nil
	case OpNotEquals:
		return fmt.Sprintf("%s IS DISTINCT FROM %s", field, qb.nextArg(cond.Value)), nil
	case OpContains:
		return fmt.Sprintf("%s ILIKE %s", field, qb.nextArg("%"+cond.Value+"%")), nil
	case OpNotContains:
		return fmt.Sprintf("%s NOT ILIKE %s", field, qb.nextArg("%"+cond.Value+"%")), nil
	case OpStartsWith:
		return fmt.Sprintf("%s ILIKE %s", field, qb.nextArg(cond.Value+"%")), nil
	case OpEndsWith:
		return fmt.Sprintf("%s ILIKE %s", field, qb.nextArg("%"+cond.Value)), nil
	case OpIsEmpty:
		return fmt.Sprintf("(%s IS NULL OR %s::text = '')", field, field), nil
	case OpIsNotEmpty:
		return fmt.Sprintf("(%s IS NOT NULL AND %s::text <> '')", field, field), nil
	case OpIn:
		if len(cond.ValuesArray) == 0 {
			return "FALSE", nil
		}
		return fmt.Sprintf("%s = ANY(%s)", field, qb.nextArg(stringArray(cond.ValuesArray))), nil
	case OpGt:
		return fmt.Sprintf("%s > %s", field, qb.nextArg(cond.Value)), nil
	case OpGte:
		return fmt.Sprintf("%s >= %s", field, qb.nextArg(cond.Value)), nil
	case OpLt, OpDateBefore:
		return fmt.Sprintf("%s < %s", field, qb.nextArg(cond.Value)), nil
	case OpLte:
		return fmt.Sprintf("%s <= %s", field, qb.nextArg(cond.Value)), nil
	case OpDateAfter:
		return fmt.Sprintf("%s > %s", field, qb.nextArg(cond.Value)), nil
	case OpBetween:
		return fmt.Sprintf("%s BETWEEN %s AND %s", field, qb.nextArg(cond.Value), qb.nextArg(cond.ValueSecondary)), nil
	case OpInLastDays:
		days, err := parseDays(cond.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s >= NOW() - make_interval(days => %s)", field, qb.nextArg(days)), nil
	case OpMoreThanDaysAgo:
		days, err := parseDays(cond.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s < NOW() - make_interval(days => %s)", field, qb.nextArg(days)), nil
	case OpIsNull:
		return fmt.Sprintf("%s IS NULL", field), nil
	case OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", field), nil
	default:
		return "", fmt.Errorf("%w: unsupported operator %q", ErrInvalidFilter, cond.Operator)
	}
}

// buildEventCondition builds SQL for engagement conditions. Field names the
// event type (open, click, unsubscribe).
func (qb *QueryBuilder) buildEventCondition(cond Condition) (string, error) {
	switch cond.Field {
	case "open", "click", "unsubscribe":
	default:
		return "", fmt.Errorf("%w: unknown event %q", ErrInvalidFilter, cond.Field)
	}

	base := fmt.Sprintf(`SELECT 1 FROM tracking_events e JOIN messages m ON m.id = e.message_id
		WHERE m.recipient_id = l.id AND e.event_type = %s`, qb.nextArg(cond.Field))

	switch cond.Operator {
	case OpEventInLastDays, OpEventNotInLastDays:
		days, err := parseDays(cond.Value)
		if err != nil {
			return "", err
		}
		sub := fmt.Sprintf("EXISTS (%s AND e.created_at >= NOW() - make_interval(days => %s))", base, qb.nextArg(days))
		if cond.Operator == OpEventNotInLastDays {
			sub = "NOT " + sub
		}
		return sub, nil
	case OpEventCountGte:
		n, err := strconv.Atoi(cond.Value)
		if err != nil || n < 0 {
			return "", fmt.Errorf("%w: bad count %q", ErrInvalidFilter, cond.Value)
		}
		window := ""
		if cond.EventTimeWindowDays > 0 {
			window = fmt.Sprintf(" AND e.created_at >= NOW() - make_interval(days => %s)", qb.nextArg(cond.EventTimeWindowDays))
		}
		countSQL := strings.Replace(base, "SELECT 1", "SELECT COUNT(*)", 1)
		return fmt.Sprintf("(%s%s) >= %s", countSQL, window, qb.nextArg(n)), nil
	default:
		return "", fmt.Errorf("%w: unsupported event operator %q", ErrInvalidFilter, cond.Operator)
	}
}

// buildTagCondition builds SQL for tag/array conditions
func (qb *QueryBuilder) buildTagCondition(cond Condition) (string, error) {
	switch cond.Operator {
	case OpContainsAny:
		if len(cond.ValuesArray) == 0 {
			return "FALSE", nil
		}
		return fmt.Sprintf("l.tags && %s::text[]", qb.nextArg(stringArray(cond.ValuesArray))), nil
	case OpContainsAll:
		if len(cond.ValuesArray) == 0 {
			return "TRUE", nil
		}
		return fmt.Sprintf("l.tags @> %s::text[]", qb.nextArg(stringArray(cond.ValuesArray))), nil
	case OpNotContainsAny:
		if len(cond.ValuesArray) == 0 {
			return "TRUE", nil
		}
		return fmt.Sprintf("NOT (COALESCE(l.tags, '{}') && %s::text[])", qb.nextArg(stringArray(cond.ValuesArray))), nil
	default:
		return "", fmt.Errorf("%w: unsupported tag operator %q", ErrInvalidFilter, cond.Operator)
	}
}

func parseDays(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad day count %q", ErrInvalidFilter, v)
	}
	return n, nil
}

func stringArray(values []string) interface{} {
	return pq.Array(values)
}
