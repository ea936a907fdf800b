// Package authz implements permission evaluation for principals over
// protected system resources, including group inheritance and caching.
package authz

import (
	"sort"
	"strings"
	"time"
)

// PrincipalKind discriminates the two grantable principal types.
type PrincipalKind string

const (
	// KindUser identifies a user principal.
	KindUser PrincipalKind = "user"
	// KindGroup identifies a group principal.
	KindGroup PrincipalKind = "group"
)

// PrincipalRef identifies a user or group that can hold permissions.
type PrincipalRef struct {
	Kind PrincipalKind `json:"kind"`
	ID   int64         `json:"id"`
}

// User returns a user principal reference.
func User(id int64) PrincipalRef { return PrincipalRef{Kind: KindUser, ID: id} }

// Group returns a group principal reference.
func Group(id int64) PrincipalRef { return PrincipalRef{Kind: KindGroup, ID: id} }

// Standard capability names.
const (
	CapCreate  = "create"
	CapRead    = "read"
	CapUpdate  = "update"
	CapDelete  = "delete"
	CapPrint   = "print"
	CapHistory = "history"
)

// StandardCapabilities lists the six fixed capability flags.
func StandardCapabilities() []string {
	return []string{CapCreate, CapRead, CapUpdate, CapDelete, CapPrint, CapHistory}
}

// Capabilities is the set of actions granted on a single resource. The
// six standard flags are stored as booleans; anything else lives in the
// deduplicated, sorted Custom list.
type Capabilities struct {
	Create  bool     `json:"create"`
	Read    bool     `json:"read"`
	Update  bool     `json:"update"`
	Delete  bool     `json:"delete"`
	Print   bool     `json:"print"`
	History bool     `json:"history"`
	Custom  []string `json:"custom,omitempty"`
}

// CapabilitiesFromList splits action names into standard flags and
// custom entries. Names are trimmed and lowercased; duplicates collapse.
func CapabilitiesFromList(actions []string) Capabilities {
	var caps Capabilities
	seen := make(map[string]struct{}, len(actions))
	for _, action := range actions {
		action = strings.ToLower(strings.TrimSpace(action))
		if action == "" {
			continue
		}
		switch action {
		case CapCreate:
			caps.Create = true
		case CapRead:
			caps.Read = true
		case CapUpdate:
			caps.Update = true
		case CapDelete:
			caps.Delete = true
		case CapPrint:
			caps.Print = true
		case CapHistory:
			caps.History = true
		default:
			if _, dup := seen[action]; !dup {
				seen[action] = struct{}{}
				caps.Custom = append(caps.Custom, action)
			}
		}
	}
	sort.Strings(caps.Custom)
	return caps
}

// Allows reports whether action is granted, either as a standard flag
// or a custom capability.
func (c Capabilities) Allows(action string) bool {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case CapCreate:
		return c.Create
	case CapRead:
		return c.Read
	case CapUpdate:
		return c.Update
	case CapDelete:
		return c.Delete
	case CapPrint:
		return c.Print
	case CapHistory:
		return c.History
	case "":
		return false
	default:
		action = strings.ToLower(strings.TrimSpace(action))
		for _, custom := range c.Custom {
			if custom == action {
				return true
			}
		}
		return false
	}
}

// Merge combines two capability sets under most-permissive-wins: each
// standard flag is ORed and the custom sets are unioned. The operation
// is commutative and associative, so group iteration order never
// changes the outcome.
func (c Capabilities) Merge(other Capabilities) Capabilities {
	merged := Capabilities{
		Create:  c.Create || other.Create,
		Read:    c.Read || other.Read,
		Update:  c.Update || other.Update,
		Delete:  c.Delete || other.Delete,
		Print:   c.Print || other.Print,
		History: c.History || other.History,
	}
	if len(c.Custom) == 0 && len(other.Custom) == 0 {
		return merged
	}
	union := make(map[string]struct{}, len(c.Custom)+len(other.Custom))
	for _, name := range c.Custom {
		union[name] = struct{}{}
	}
	for _, name := range other.Custom {
		union[name] = struct{}{}
	}
	merged.Custom = make([]string, 0, len(union))
	for name := range union {
		merged.Custom = append(merged.Custom, name)
	}
	sort.Strings(merged.Custom)
	return merged
}

// Clear removes the named actions from the set.
func (c Capabilities) Clear(actions []string) Capabilities {
	for _, action := range actions {
		action = strings.ToLower(strings.TrimSpace(action))
		switch action {
		case CapCreate:
			c.Create = false
		case CapRead:
			c.Read = false
		case CapUpdate:
			c.Update = false
		case CapDelete:
			c.Delete = false
		case CapPrint:
			c.Print = false
		case CapHistory:
			c.History = false
		default:
			kept := c.Custom[:0:0]
			for _, custom := range c.Custom {
				if custom != action {
					kept = append(kept, custom)
				}
			}
			c.Custom = kept
		}
	}
	return c
}

// Empty reports whether no capability is granted. An empty set is
// treated the same as an absent permission row.
func (c Capabilities) Empty() bool {
	return !c.Create && !c.Read && !c.Update && !c.Delete && !c.Print && !c.History && len(c.Custom) == 0
}

// List returns all granted action names, standard flags first.
func (c Capabilities) List() []string {
	actions := make([]string, 0, 6+len(c.Custom))
	if c.Create {
		actions = append(actions, CapCreate)
	}
	if c.Read {
		actions = append(actions, CapRead)
	}
	if c.Update {
		actions = append(actions, CapUpdate)
	}
	if c.Delete {
		actions = append(actions, CapDelete)
	}
	if c.Print {
		actions = append(actions, CapPrint)
	}
	if c.History {
		actions = append(actions, CapHistory)
	}
	actions = append(actions, c.Custom...)
	return actions
}

// PermissionMap is the resolved view of a principal: effective
// capabilities keyed by resource identifier.
type PermissionMap map[string]Capabilities

// Allows reports whether the map grants action on the identified
// resource. Absent resources and empty capability sets both deny.
func (m PermissionMap) Allows(resourceIdentifier, action string) bool {
	caps, ok := m[resourceIdentifier]
	if !ok {
		return false
	}
	return caps.Allows(action)
}

// Permission is a stored grant tying one principal to one resource.
type Permission struct {
	ID                 int64
	Principal          PrincipalRef
	ResourceID         int64
	ResourceIdentifier string
	Capabilities       Capabilities
	Signature          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// joinCustom serializes the custom capability set for storage.
func joinCustom(custom []string) string {
	return strings.Join(custom, ",")
}

// splitCustom parses the stored custom capability column.
func splitCustom(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	sort.Strings(out)
	return out
}
