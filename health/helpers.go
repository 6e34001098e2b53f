package health

import (
	"strings"
	"time"
)

func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate rolls parts into one status for component. The worst part wins:
// one unhealthy part makes the whole unhealthy, else one degraded part makes
// it degraded. The message names the offending parts.
func Aggregate(component string, parts []Status) Status {
	if len(parts) == 0 {
		return NewHealthy(component, "Nothing registered")
	}

	byState := map[string][]string{}
	for _, p := range parts {
		byState[p.Status] = append(byState[p.Status], p.Component)
	}

	var out Status
	if names := byState[StateUnhealthy]; len(names) > 0 {
		out = NewUnhealthy(component, "Unhealthy: "+strings.Join(names, ", "))
	} else if names := byState[StateDegraded]; len(names) > 0 {
		out = NewDegraded(component, "Degraded: "+strings.Join(names, ", "))
	} else {
		out = NewHealthy(component, "All parts healthy")
	}
	out.SubStatuses = append([]Status(nil), parts...)
	return out
}
