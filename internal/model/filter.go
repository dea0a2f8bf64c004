package model

import (
	"gorm.io/datatypes"
)

// Filter is the single conditional forward/label action attached to a rule.
// CreatedAt is an opaque string copied from the source system.
type Filter struct {
	ID        uint              `json:"id" gorm:"primaryKey;autoIncrement"`
	RuleID    uint              `json:"forwarding_id" gorm:"column:forwarding_id;not null;uniqueIndex"`
	Criteria  datatypes.JSONMap `json:"criteria" gorm:"not null"`
	Action    datatypes.JSONMap `json:"action" gorm:"not null"`
	CreatedAt string            `json:"created_at" gorm:"type:varchar(50);autoCreateTime:false"`
}

// TableName specifies the table name for Filter
func (Filter) TableName() string {
	return "forwardingfilter"
}

// Clone returns a deep copy of f so callers cannot alias stored maps.
func (f Filter) Clone() Filter {
	f.Criteria = CloneMap(f.Criteria)
	f.Action = CloneMap(f.Action)
	return f
}

// CloneMap deep-copies a JSON-shaped map.
func CloneMap(m map[string]interface{}) datatypes.JSONMap {
	if m == nil {
		return datatypes.JSONMap{}
	}
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return map[string]interface{}(CloneMap(t))
	case datatypes.JSONMap:
		return map[string]interface{}(CloneMap(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
