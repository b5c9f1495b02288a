package cache

import (
	"context"
	"time"
)

// DefaultPingTimeout bounds a single liveness ping.
const DefaultPingTimeout = 3 * time.Second

// Pinger is the part of Client the detector needs.
type Pinger interface {
	Ping(ctx context.Context) error
	Addr() string
}

// Detector reports the cache alive when it answers PING.
type Detector struct {
	Client  Pinger
	Timeout time.Duration
}

func (d Detector) Alive() (bool, error) {
	if d.Client == nil {
		return false, nil
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	// an unreachable server is "not alive", not an error
	return d.Client.Ping(ctx) == nil, nil
}

func (d Detector) Describe() string {
	if d.Client == nil {
		return "redis:<none>"
	}
	return "redis:" + d.Client.Addr()
}
