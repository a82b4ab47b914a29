package health

import (
	"context"
	"fmt"
	"time"
)

// PingChecker calls a ping function; any error is unhealthy
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker wraps ping, e.g. (*events.RedisForwarder).Ping
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (p *PingChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := p.ping(ctx); err != nil {
		return result(start, false, fmt.Sprintf("%s ping failed: %v", p.name, err))
	}
	return result(start, true, fmt.Sprintf("%s ping ok", p.name))
}

func (p *PingChecker) Type() CheckType {
	return CheckTypePing
}
