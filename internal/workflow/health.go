package workflow

import "context"

// Health summarizes the readiness of a pipeline dependency.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// HealthChecker is implemented by dependencies that can probe themselves.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

func checkHealth(ctx context.Context, name string, dep any) Health {
	checker, ok := dep.(HealthChecker)
	if !ok || checker == nil {
		return Healthy(name)
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return Unhealthy(name, err.Error())
	}
	return Healthy(name)
}
