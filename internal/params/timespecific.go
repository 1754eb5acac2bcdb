package params

// TimeperiodActive reports whether the named time period is currently active.
type TimeperiodActive func(name string) bool

// TimeperiodValue is a parameter override that applies while a time period is active.
type TimeperiodValue struct {
	Timeperiod string
	Value      Value
}

// TimespecificParameterSet is a default value plus time period overrides in priority order.
type TimespecificParameterSet struct {
	Default     Value
	Timeperiods []TimeperiodValue
}

// Evaluate returns the value in effect. For mappings all active overrides are merged over
// the default with earlier overrides taking precedence; otherwise the first active override wins.
func (s TimespecificParameterSet) Evaluate(active TimeperiodActive) Value {
	def, isMap := s.Default.(Map)
	if !isMap {
		for _, tp := range s.Timeperiods {
			if active != nil && active(tp.Timeperiod) {
				return tp.Value
			}
		}
		return s.Default
	}

	merged := make(map[string]Value, len(def.Entries))
	for k, v := range def.Entries {
		merged[k] = v
	}
	for i := len(s.Timeperiods) - 1; i >= 0; i-- {
		tp := s.Timeperiods[i]
		if active == nil || !active(tp.Timeperiod) {
			continue
		}
		if m, ok := tp.Value.(Map); ok {
			for k, v := range m.Entries {
				merged[k] = v
			}
		}
	}
	return Map{Entries: merged}
}

// TimespecificParameters is the ordered list of parameter sets configured for a service.
// Earlier sets take precedence.
type TimespecificParameters struct {
	Sets []TimespecificParameterSet
}

// Static wraps a plain value as time independent parameters.
func Static(v Value) TimespecificParameters {
	return TimespecificParameters{Sets: []TimespecificParameterSet{{Default: v}}}
}

// IsEmpty reports whether no parameter sets are configured.
func (p TimespecificParameters) IsEmpty() bool {
	return len(p.Sets) == 0
}

// Evaluate resolves the parameters in effect for the currently active time periods.
func (p TimespecificParameters) Evaluate(active TimeperiodActive) Value {
	if len(p.Sets) == 0 {
		return NewMap(nil)
	}
	first := p.Sets[0].Evaluate(active)
	if _, ok := first.(Map); !ok {
		return first
	}

	merged := make(map[string]Value)
	for i := len(p.Sets) - 1; i >= 0; i-- {
		m, ok := p.Sets[i].Evaluate(active).(Map)
		if !ok {
			continue
		}
		for k, v := range m.Entries {
			merged[k] = v
		}
	}
	return Map{Entries: merged}
}
