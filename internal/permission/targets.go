package permission

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// TargetKind enumerates the inter-agent target restrictions.
type TargetKind int

const (
	TargetUnrestricted TargetKind = iota
	TargetParentOnly
	TargetChildrenOnly
	TargetFamily
	TargetExplicit
	// TargetUnknown holds a value that did not parse as any known restriction.
	TargetUnknown
)

func (k TargetKind) String() string {
	switch k {
	case TargetUnrestricted:
		return "unrestricted"
	case TargetParentOnly:
		return "parent"
	case TargetChildrenOnly:
		return "children"
	case TargetFamily:
		return "family"
	case TargetExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// TargetRestriction limits which agents a tool may address.
type TargetRestriction struct {
	Kind   TargetKind
	Agents []string // Explicit only
	Raw    string   // Unknown only
}

// Unrestricted returns a restriction that allows every target.
func Unrestricted() *TargetRestriction { return &TargetRestriction{Kind: TargetUnrestricted} }

// ParentOnly restricts targets to the agent's parent.
func ParentOnly() *TargetRestriction { return &TargetRestriction{Kind: TargetParentOnly} }

// ChildrenOnly restricts targets to the agent's children.
func ChildrenOnly() *TargetRestriction { return &TargetRestriction{Kind: TargetChildrenOnly} }

// Family allows the parent and the children.
func Family() *TargetRestriction { return &TargetRestriction{Kind: TargetFamily} }

// Explicit allows only the listed agents.
func Explicit(ids ...string) *TargetRestriction {
	return &TargetRestriction{Kind: TargetExplicit, Agents: normalizeIDs(ids)}
}

// Clone returns a deep copy.
func (t *TargetRestriction) Clone() *TargetRestriction {
	if t == nil {
		return nil
	}
	c := *t
	if t.Agents != nil {
		c.Agents = append([]string{}, t.Agents...)
	}
	return &c
}

func (t *TargetRestriction) String() string {
	if t == nil {
		return TargetUnrestricted.String()
	}
	switch t.Kind {
	case TargetExplicit:
		return "explicit" + formatIDs(t.Agents)
	case TargetUnknown:
		return fmt.Sprintf("unknown(%s)", t.Raw)
	}
	return t.Kind.String()
}

// ParseTargetRestriction interprets a decoded JSON or YAML value.
// nil means unrestricted and yields a nil restriction.
func ParseTargetRestriction(v any) *TargetRestriction {
	switch val := v.(type) {
	case nil:
		return nil
	case *TargetRestriction:
		return val.Clone()
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "unrestricted", "any", "*":
			return Unrestricted()
		case "parent", "parent-only", "parent_only":
			return ParentOnly()
		case "children", "children-only", "children_only":
			return ChildrenOnly()
		case "family":
			return Family()
		}
		return &TargetRestriction{Kind: TargetUnknown, Raw: val}
	case []string:
		return Explicit(val...)
	case []any:
		ids := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return &TargetRestriction{Kind: TargetUnknown, Raw: fmt.Sprint(v)}
			}
			ids = append(ids, s)
		}
		return Explicit(ids...)
	}
	return &TargetRestriction{Kind: TargetUnknown, Raw: fmt.Sprint(v)}
}

// MarshalJSON encodes the restriction in the same shape ParseTargetRestriction reads.
func (t TargetRestriction) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TargetExplicit:
		ids := t.Agents
		if ids == nil {
			ids = []string{}
		}
		return json.Marshal(ids)
	case TargetUnknown:
		return json.Marshal(t.Raw)
	}
	return json.Marshal(t.Kind.String())
}

// UnmarshalJSON accepts a keyword string or a list of agent ids.
func (t *TargetRestriction) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed := ParseTargetRestriction(v)
	if parsed == nil {
		parsed = Unrestricted()
	}
	*t = *parsed
	return nil
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func formatIDs(ids []string) string {
	return "[" + strings.Join(ids, ", ") + "]"
}
