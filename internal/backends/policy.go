package backends

import (
	"time"

	"github.com/czcorpus/wag-sub001/internal/config"
)

// VendorPolicy limits traffic to one vendor.
type VendorPolicy struct {
	// MaxInFlight limits concurrent requests; zero means unlimited
	MaxInFlight int
	// RatePerSec is the sustained request rate; zero means unlimited
	RatePerSec float64
	// Burst is the token bucket size
	Burst int
	// Timeout per request, retries included
	Timeout time.Duration
}

// Policy defines how vendors are called.
type Policy struct {
	Default        VendorPolicy
	Vendors        map[VendorID]VendorPolicy
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MaxBodySize    int64
}

// DefaultPolicy returns the default call policy
func DefaultPolicy() *Policy {
	return &Policy{
		Default: VendorPolicy{
			MaxInFlight: 10,
			Timeout:     30 * time.Second,
		},
		Vendors: map[VendorID]VendorPolicy{
			VendorKontext:  {MaxInFlight: 10, Timeout: 30 * time.Second},
			VendorMQuery:   {MaxInFlight: 10, Timeout: 30 * time.Second},
			VendorFCS:      {MaxInFlight: 4, Timeout: 20 * time.Second},
			VendorLCC:      {MaxInFlight: 4, RatePerSec: 5, Burst: 5, Timeout: 15 * time.Second},
			VendorDatamuse: {MaxInFlight: 4, RatePerSec: 10, Burst: 10, Timeout: 10 * time.Second},
			VendorElastic:  {MaxInFlight: 8, Timeout: 15 * time.Second},
		},
		MaxRetries:     2,
		RetryBaseDelay: 300 * time.Millisecond,
		RetryMaxDelay:  3 * time.Second,
		MaxBodySize:    20 * 1024 * 1024,
	}
}

// LoadPolicy creates a Policy from config
func LoadPolicy(cfg *config.Config) *Policy {
	policy := DefaultPolicy()
	if cfg == nil {
		return policy
	}
	for k, v := range cfg.Vendors {
		vp := policy.For(VendorID(k))
		if v.MaxInFlight > 0 {
			vp.MaxInFlight = v.MaxInFlight
		}
		if v.RatePerSec > 0 {
			vp.RatePerSec = v.RatePerSec
		}
		if v.Burst > 0 {
			vp.Burst = v.Burst
		}
		if v.TimeoutMs > 0 {
			vp.Timeout = time.Duration(v.TimeoutMs) * time.Millisecond
		}
		policy.Vendors[VendorID(k)] = vp
	}
	if cfg.HTTP.MaxRetries >= 0 {
		policy.MaxRetries = cfg.HTTP.MaxRetries
	}
	if cfg.HTTP.RetryBaseDelayMs > 0 {
		policy.RetryBaseDelay = time.Duration(cfg.HTTP.RetryBaseDelayMs) * time.Millisecond
	}
	if cfg.HTTP.MaxBodyBytes > 0 {
		policy.MaxBodySize = cfg.HTTP.MaxBodyBytes
	}
	return policy
}

// For returns the policy of a vendor, falling back to the default.
func (p *Policy) For(id VendorID) VendorPolicy {
	if vp, ok := p.Vendors[id]; ok {
		return vp
	}
	return p.Default
}
