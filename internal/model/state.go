// Package model provides data models for the check engine.
package model

import "strings"

// ServiceState is the monitoring state of a service: 0 OK, 1 WARN, 2 CRIT, 3 UNKNOWN.
type ServiceState int

const (
	StateOK      ServiceState = 0 // 正常
	StateWarn    ServiceState = 1 // 警告
	StateCrit    ServiceState = 2 // 严重
	StateUnknown ServiceState = 3 // 未知
)

var stateMarkers = [...]string{"", "(!)", "(!!)", "(?)"}

var stateNames = [...]string{"OK", "WARN", "CRIT", "UNKNOWN"}

// Marker returns the textual decoration appended to output lines of this state.
func (s ServiceState) Marker() string {
	if s < StateOK || s > StateUnknown {
		return stateMarkers[StateUnknown]
	}
	return stateMarkers[s]
}

// String implements fmt.Stringer.
func (s ServiceState) String() string {
	if s < StateOK || s > StateUnknown {
		return stateNames[StateUnknown]
	}
	return stateNames[s]
}

// Valid returns true for the four defined states.
func (s ServiceState) Valid() bool {
	return s >= StateOK && s <= StateUnknown
}

// ParseServiceState converts a state name or digit into a ServiceState.
func ParseServiceState(s string) (ServiceState, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "0", "OK":
		return StateOK, true
	case "1", "WARN", "WARNING":
		return StateWarn, true
	case "2", "CRIT", "CRITICAL":
		return StateCrit, true
	case "3", "UNKNOWN", "UNKN":
		return StateUnknown, true
	}
	return StateUnknown, false
}

// WorstState returns the numerically highest state, or OK if none is given.
func WorstState(states ...ServiceState) ServiceState {
	worst := StateOK
	for _, s := range states {
		if s > worst {
			worst = s
		}
	}
	return worst
}

// BestState returns the numerically lowest state, or OK if none is given.
func BestState(states ...ServiceState) ServiceState {
	if len(states) == 0 {
		return StateOK
	}
	best := states[0]
	for _, s := range states[1:] {
		if s < best {
			best = s
		}
	}
	return best
}
