package watch

// State is the polling loop's position within a cycle.
type State int

const (
	StateIdle State = iota
	StateSampling
	StateEvaluating
	StateHealthy
	StateUnhealthy
)

// String returns the lowercase state name used in logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateEvaluating:
		return "evaluating"
	case StateHealthy:
		return "healthy"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}
