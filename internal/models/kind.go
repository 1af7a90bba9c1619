package models

import "fmt"

// Kind selects which canonical vocabulary an operation works on.
type Kind string

const (
	KindEntity Kind = "entity"
	KindAspect Kind = "aspect"
)

// Kinds lists every canonical vocabulary in processing order.
var Kinds = []Kind{KindEntity, KindAspect}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindEntity, KindAspect:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// Companion returns the other side of an entity/aspect pair.
func (k Kind) Companion() Kind {
	if k == KindEntity {
		return KindAspect
	}
	return KindEntity
}
