package lineedit

import "strings"

// TargetKind discriminates the addressee of an edit.
type TargetKind string

const (
	TargetActive    TargetKind = "active"
	TargetCharacter TargetKind = "character"
	TargetLocation  TargetKind = "location"
	TargetWorld     TargetKind = "world"
)

// ActiveKey is the canonical key for the currently open document.
const ActiveKey = "__active__"

// FileTarget identifies the addressee of an edit. Name carries the entity
// name (or world key) for non-active targets and is empty for Active.
type FileTarget struct {
	Kind TargetKind `json:"kind"`
	Name string     `json:"name,omitempty"`
}

func ActiveTarget() FileTarget {
	return FileTarget{Kind: TargetActive}
}

func CharacterTarget(name string) FileTarget {
	return FileTarget{Kind: TargetCharacter, Name: strings.TrimSpace(name)}
}

func LocationTarget(name string) FileTarget {
	return FileTarget{Kind: TargetLocation, Name: strings.TrimSpace(name)}
}

func WorldTarget(key string) FileTarget {
	return FileTarget{Kind: TargetWorld, Name: strings.TrimSpace(key)}
}

// Key returns the canonical string key used for grouping and lookup.
// Two targets addressing the same logical entity by different casing
// collide on this key; it is the sole identity the engine uses.
func (t FileTarget) Key() string {
	if t.Kind == TargetActive || t.Kind == "" {
		return ActiveKey
	}
	return string(t.Kind) + ":" + strings.ToLower(strings.TrimSpace(t.Name))
}

// ParseTargetKind maps a header kind string to a TargetKind.
func ParseTargetKind(raw string) (TargetKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return TargetActive, true
	case "character":
		return TargetCharacter, true
	case "location":
		return TargetLocation, true
	case "world":
		return TargetWorld, true
	default:
		return "", false
	}
}
