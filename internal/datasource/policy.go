package datasource

import "time"

// PoolPolicy is the process-wide pool configuration applied to every source.
type PoolPolicy struct {
	// MaxOpen caps open connections per source.
	MaxOpen int
	// MaxIdle is the number of idle connections retained per source.
	// database/sql has no minimum-idle knob; retaining MaxIdle connections
	// is the closest equivalent.
	MaxIdle int
	// IdleTimeout closes connections idle for longer than this.
	IdleTimeout time.Duration
	// ConnTimeout bounds connection acquisition and driver dialing.
	ConnTimeout time.Duration
	// MaxLifetime recycles connections older than this.
	MaxLifetime time.Duration
	// ProbeTimeout bounds the liveness probe run after a switch.
	ProbeTimeout time.Duration
}

// DefaultPoolPolicy returns the stock policy: 10 open, 2 idle, 5m idle
// timeout, 20s connection timeout, 20m lifetime, 5s probe.
func DefaultPoolPolicy() PoolPolicy {
	return PoolPolicy{
		MaxOpen:      10,
		MaxIdle:      2,
		IdleTimeout:  300 * time.Second,
		ConnTimeout:  20 * time.Second,
		MaxLifetime:  1200 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultPoolPolicy.
func (p PoolPolicy) withDefaults() PoolPolicy {
	d := DefaultPoolPolicy()
	if p.MaxOpen <= 0 {
		p.MaxOpen = d.MaxOpen
	}
	if p.MaxIdle <= 0 {
		p.MaxIdle = d.MaxIdle
	}
	if p.MaxIdle > p.MaxOpen {
		p.MaxIdle = p.MaxOpen
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = d.IdleTimeout
	}
	if p.ConnTimeout <= 0 {
		p.ConnTimeout = d.ConnTimeout
	}
	if p.MaxLifetime <= 0 {
		p.MaxLifetime = d.MaxLifetime
	}
	if p.ProbeTimeout <= 0 {
		p.ProbeTimeout = d.ProbeTimeout
	}
	return p
}
