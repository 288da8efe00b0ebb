package memutils

import (
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

// FlagStringMapping names the individual bits of a flag type so that combinations of them
// can be printed
type FlagStringMapping[T constraints.Integer] struct {
	names map[T]string
}

func NewFlagStringMapping[T constraints.Integer]() FlagStringMapping[T] {
	return FlagStringMapping[T]{names: make(map[T]string)}
}

func (m FlagStringMapping[T]) Register(flag T, str string) {
	m.names[flag] = str
}

// FlagsToString renders every set bit of value, joined by |
func (m FlagStringMapping[T]) FlagsToString(value T) string {
	if value == 0 {
		return "None"
	}

	var sb strings.Builder
	for bit := T(1); bit != 0 && value != 0; bit <<= 1 {
		if value&bit == 0 {
			continue
		}
		value &^= bit

		if sb.Len() > 0 {
			sb.WriteRune('|')
		}

		name, ok := m.names[bit]
		if ok {
			sb.WriteString(name)
		} else {
			sb.WriteString(fmt.Sprintf("UnknownFlag(%#x)", uint64(bit)))
		}
	}

	return sb.String()
}
