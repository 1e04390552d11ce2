package health

import (
	"context"
	"time"
)

// DefaultTimeout bounds an adapter check when none is given.
const DefaultTimeout = 5 * time.Second

// Checkable is anything with a HealthCheck, such as a store adapter.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker checks one adapter under a timeout.
type AdapterChecker struct {
	name     string
	adapter  Checkable
	timeout  time.Duration
	optional bool
}

// NewAdapterChecker wraps adapter. A zero timeout uses DefaultTimeout.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

// Optional reports failures as degraded rather than unhealthy.
func (c *AdapterChecker) Optional() *AdapterChecker {
	c.optional = true
	return c
}

// Name implements Checker.
func (c *AdapterChecker) Name() string {
	return c.name
}

// Check implements Checker.
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.adapter.HealthCheck(ctx)
	res := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		res.Status = StatusUnhealthy
		if c.optional {
			res.Status = StatusDegraded
		}
		res.Message = ""
		res.Error = err.Error()
	}
	return res
}

// PingChecker always reports healthy. It backs liveness, which only says
// the process is up.
type PingChecker struct {
	name string
}

// NewPingChecker creates a ping check.
func NewPingChecker(name string) *PingChecker {
	return &PingChecker{name: name}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(context.Context) CheckResult {
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "alive",
		Timestamp: time.Now(),
	}
}
