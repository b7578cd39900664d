// Package logclass defines the message classes of the monitoring history
// log and the bitmask used to select them in queries.
package logclass

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Class categorizes one history log line.
type Class uint8

const (
	// ClassInfo covers informational lines that fit no other class.
	ClassInfo Class = iota
	// ClassAlert covers host and service state-change alerts.
	ClassAlert
	// ClassProgram covers engine lifecycle lines (start, shutdown, log rotation).
	ClassProgram
	// ClassNotification covers notification delivery lines.
	ClassNotification
	// ClassPassive covers passive check result lines.
	ClassPassive
	// ClassCommand covers external command lines.
	ClassCommand
	// ClassState covers initial/current state dumps and timeperiod transitions.
	ClassState
	// ClassText covers free-form lines without a recognizable type.
	ClassText

	numClasses = iota
)

// Mask is a bitset of Classes.
type Mask uint

// AllClasses selects every class.
const AllClasses Mask = (1 << numClasses) - 1

var classNames = [numClasses]string{
	"info",
	"alert",
	"program",
	"notification",
	"passive",
	"command",
	"state",
	"text",
}

// Bit returns the mask bit for the class.
func (c Class) Bit() Mask { return 1 << c }

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// MarshalJSON encodes the class as its lowercase name.
func (c Class) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a class from its name.
func (c *Class) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Parse returns the class with the given name (case-insensitive).
func Parse(name string) (Class, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for i, n := range classNames {
		if n == want {
			return Class(i), nil
		}
	}
	return 0, fmt.Errorf("logclass: unknown class %q", name)
}

// Has reports whether the mask selects the class.
func (m Mask) Has(c Class) bool { return m&c.Bit() != 0 }

// Names returns the names of the selected classes in class order.
func (m Mask) Names() []string {
	var names []string
	for i := 0; i < numClasses; i++ {
		if m.Has(Class(i)) {
			names = append(names, classNames[i])
		}
	}
	return names
}

// ParseMask builds a mask from class names. An empty list selects all
// classes.
func ParseMask(names []string) (Mask, error) {
	if len(names) == 0 {
		return AllClasses, nil
	}
	var m Mask
	for _, name := range names {
		c, err := Parse(name)
		if err != nil {
			return 0, err
		}
		m |= c.Bit()
	}
	return m, nil
}
