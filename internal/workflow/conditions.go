package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/heathdorn/overseer/internal/fault"
	"github.com/heathdorn/overseer/internal/store"
)

// Condition is the predicate document attached to a transition. A nil or
// empty document is always satisfied. All clauses must hold; when Any is
// present at least one of its clauses must hold too.
type Condition struct {
	All []Clause `json:"all,omitempty"`
	Any []Clause `json:"any,omitempty"`
}

// Clause is one field comparison against the task being moved.
type Clause struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
}

// ParseConditions decodes a condition document. Empty input yields nil.
func ParseConditions(raw json.RawMessage) (*Condition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var c Condition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fault.Validation("malformed condition document: %v", err)
	}
	return &c, nil
}

// Check evaluates the condition against a task. On failure it returns a
// conflict error naming the first clause that did not hold, so operators
// see a specific reason rather than a generic failure.
func (c *Condition) Check(t *store.Task) error {
	if c == nil {
		return nil
	}
	for _, clause := range c.All {
		ok, err := clause.eval(t)
		if err != nil {
			return err
		}
		if !ok {
			return fault.Conflict("condition not met: %s %s %v", clause.Field, clause.Op, clause.Value)
		}
	}
	if len(c.Any) > 0 {
		for _, clause := range c.Any {
			ok, err := clause.eval(t)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
		return fault.Conflict("condition not met: none of the alternative clauses hold")
	}
	return nil
}

func (cl Clause) eval(t *store.Task) (bool, error) {
	switch cl.Field {
	case "priority":
		want, ok := toFloat(cl.Value)
		if !ok {
			return false, fault.Validation("condition value for priority must be a number, got %v", cl.Value)
		}
		return compareNumber(float64(t.Priority), cl.Op, want)
	case "title":
		return compareString(t.Title, cl.Op, cl.Value)
	case "description":
		return compareString(t.Description, cl.Op, cl.Value)
	case "assigned_agent":
		return compareString(t.AssignedAgent, cl.Op, cl.Value)
	case "session_key":
		return compareString(t.SessionKey, cl.Op, cl.Value)
	case "error":
		return compareString(t.Error, cl.Op, cl.Value)
	default:
		return false, fault.Validation("unknown condition field %q", cl.Field)
	}
}

func compareNumber(have float64, op string, want float64) (bool, error) {
	switch op {
	case "eq":
		return have == want, nil
	case "ne":
		return have != want, nil
	case "gt":
		return have > want, nil
	case "gte":
		return have >= want, nil
	case "lt":
		return have < want, nil
	case "lte":
		return have <= want, nil
	default:
		return false, fault.Validation("operator %q is not valid for numbers", op)
	}
}

func compareString(have, op string, value any) (bool, error) {
	switch op {
	case "set":
		return have != "", nil
	case "unset":
		return have == "", nil
	}
	want, ok := value.(string)
	if !ok {
		return false, fault.Validation("condition value must be a string, got %v", value)
	}
	switch op {
	case "eq":
		return have == want, nil
	case "ne":
		return have != want, nil
	case "contains":
		return strings.Contains(have, want), nil
	default:
		return false, fault.Validation("operator %q is not valid for strings", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// describeActor is used in conflict messages.
func describeActor(a store.Actor) string {
	return fmt.Sprintf("%s actor", a)
}
