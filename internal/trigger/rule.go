// Package trigger stores query rules and fires their actions when a
// committed mutation leaves a record matching the rule's source query.
//
// A rule names an entity type and field filters in its source query. The
// Runner reads change events from a feed subscription, loads the record
// each event produced, and runs the rule's actions (create a record, or
// patch every record matching the action's query) when the filters match.
// Writes made by actions carry the actor "trigger:<rule id>" and never fire
// rules themselves.
package trigger

import (
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

// Rule kinds.
const (
	KindQuery = "queryRule"
	KindGeo   = "geoRule"
)

// Action types.
const (
	ActionCreate = "createEntity"
	ActionUpdate = "updateEntity"
)

// QueryTypeKey is the query key that names the entity type. Every other
// key is a field filter on a dotted path.
const QueryTypeKey = "type"

// Rule errors.
var (
	ErrInvalidRule     = errors.New("invalid trigger rule")
	ErrUnsupportedRule = errors.New("unsupported trigger rule kind")
)

// Rule is a stored trigger.
type Rule struct {
	ID          string         `json:"id"`
	Kind        string         `json:"type"`
	SourceQuery map[string]any `json:"sourceQuery"`
	Actions     []Action       `json:"actions"`
	RawTrigger  string         `json:"rawTrigger,omitempty"`
	RawAction   string         `json:"rawAction,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Action is one write a rule performs when it fires.
type Action struct {
	Type       string         `json:"type"`
	EntityType string         `json:"entityType,omitempty"` // createEntity only
	Payload    map[string]any `json:"payload"`
	Query      map[string]any `json:"query,omitempty"` // updateEntity only
}

// Validate checks the rule's shape. Geographic rules are recognized but
// rejected with ErrUnsupportedRule.
func (r *Rule) Validate() error {
	switch r.Kind {
	case KindQuery:
	case KindGeo:
		return fmt.Errorf("%w: %s", ErrUnsupportedRule, r.Kind)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, r.Kind)
	}
	if _, _, ok := SplitQuery(r.SourceQuery); !ok {
		return fmt.Errorf("%w: sourceQuery must name an entity type", ErrInvalidRule)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidRule)
	}
	for i, a := range r.Actions {
		if err := a.validate(); err != nil {
			return fmt.Errorf("%w: action %d: %s", ErrInvalidRule, i, err)
		}
	}
	return nil
}

func (a Action) validate() error {
	switch a.Type {
	case ActionCreate:
		if a.EntityType == "" {
			return errors.New("createEntity needs entityType")
		}
	case ActionUpdate:
		if _, _, ok := SplitQuery(a.Query); !ok {
			return errors.New("updateEntity query must name an entity type")
		}
		if len(a.Payload) == 0 {
			return errors.New("updateEntity needs a payload")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// SplitQuery separates the entity type from the field filters of q.
func SplitQuery(q map[string]any) (entityType string, filter map[string]any, ok bool) {
	entityType, _ = q[QueryTypeKey].(string)
	if entityType == "" {
		return "", nil, false
	}
	filter = make(map[string]any, len(q))
	for k, v := range q {
		if k != QueryTypeKey {
			filter[k] = v
		}
	}
	return entityType, filter, true
}

// Clone returns a deep copy of r.
func (r *Rule) Clone() *Rule {
	c := *r
	c.SourceQuery = types.CloneFields(r.SourceQuery)
	c.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		a.Payload = types.CloneFields(a.Payload)
		a.Query = types.CloneFields(a.Query)
		c.Actions[i] = a
	}
	return &c
}
