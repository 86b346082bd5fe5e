package segmentation

// Operator represents a comparison operator
type Operator string

const (
	// String operators
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
	OpIn          Operator = "in"

	// Numeric operators
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpBetween Operator = "between"

	// Date operators
	OpDateBefore      Operator = "date_before"
	OpDateAfter       Operator = "date_after"
	OpInLastDays      Operator = "in_last_days"
	OpMoreThanDaysAgo Operator = "more_than_days_ago"

	// Tag operators
	OpContainsAny    Operator = "contains_any"
	OpContainsAll    Operator = "contains_all"
	OpNotContainsAny Operator = "not_contains_any"

	// Null checks
	OpIsNull    Operator = "is_null"
	OpIsNotNull Operator = "is_not_null"

	// Engagement operators
	OpEventInLastDays    Operator = "event_in_last_days"
	OpEventNotInLastDays Operator = "event_not_in_last_days"
	OpEventCountGte      Operator = "event_count_gte"
)

// FieldType represents the data type of a custom field, used for casts
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldDatetime FieldType = "datetime"
)

// ConditionType determines which builder handles a condition
type ConditionType string

const (
	ConditionProfile     ConditionType = "profile"      // lead columns
	ConditionCustomField ConditionType = "custom_field" // custom_fields JSONB
	ConditionEvent       ConditionType = "event"        // tracking events
	ConditionTag         ConditionType = "tag"          // tags array
)

// LogicOperator for combining conditions
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// Filter is the stored filter document of a segment.
type Filter struct {
	RootGroup        ConditionGroup `json:"root_group"`
	GlobalExclusions []Condition    `json:"global_exclusions,omitempty"`
}

// ConditionGroup combines conditions and nested groups with one operator
type ConditionGroup struct {
	LogicOperator LogicOperator    `json:"logic_operator"`
	IsNegated     bool             `json:"is_negated"`
	Conditions    []Condition      `json:"conditions,omitempty"`
	Groups        []ConditionGroup `json:"groups,omitempty"`
}

// Condition is a single predicate over a lead
type Condition struct {
	ConditionType       ConditionType `json:"condition_type"`
	Field               string        `json:"field"`
	FieldType           FieldType     `json:"field_type,omitempty"`
	Operator            Operator      `json:"operator"`
	Value               string        `json:"value,omitempty"`
	ValueSecondary      string        `json:"value_secondary,omitempty"`
	ValuesArray         []string      `json:"values_array,omitempty"`
	EventTimeWindowDays int           `json:"event_time_window_days,omitempty"`
}

// profileColumns whitelists the lead columns a profile condition may use.
var profileColumns = map[string]bool{
	"email":      true,
	"first_name": true,
	"last_name":  true,
	"phone":      true,
	"source":     true,
	"created_at": true,
	"updated_at": true,
}
