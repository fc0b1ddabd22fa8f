package domain

import "strings"

// ConditionType is one kind of rule condition. Values are single bits so they
// can be combined into a ConditionSet.
type ConditionType uint8

const (
	ConditionStatic ConditionType = 1 << iota
	ConditionGroup
	ConditionCategory
	ConditionAI
)

// conditionOrder is the evaluation order of condition types.
var conditionOrder = []ConditionType{ConditionStatic, ConditionGroup, ConditionCategory, ConditionAI}

func (c ConditionType) String() string {
	switch c {
	case ConditionStatic:
		return "STATIC"
	case ConditionGroup:
		return "GROUP"
	case ConditionCategory:
		return "CATEGORY"
	case ConditionAI:
		return "AI"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the type by name.
func (c ConditionType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ConditionSet is a small flag set over ConditionType.
type ConditionSet uint8

func (s ConditionSet) Has(c ConditionType) bool { return s&ConditionSet(c) != 0 }

func (s ConditionSet) Add(c ConditionType) ConditionSet { return s | ConditionSet(c) }

func (s ConditionSet) Remove(c ConditionType) ConditionSet { return s &^ ConditionSet(c) }

func (s ConditionSet) Empty() bool { return s == 0 }

// Types lists the set's members in evaluation order.
func (s ConditionSet) Types() []ConditionType {
	types := make([]ConditionType, 0, len(conditionOrder))
	for _, c := range conditionOrder {
		if s.Has(c) {
			types = append(types, c)
		}
	}
	return types
}

func (s ConditionSet) String() string {
	types := s.Types()
	names := make([]string, len(types))
	for i, c := range types {
		names[i] = c.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}
