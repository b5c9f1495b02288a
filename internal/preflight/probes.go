package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/katsctl/internal/detector"
	"github.com/loykin/katsctl/internal/store"
)

// Labels of the standard start battery, in order.
const (
	LabelConfig      = "config"
	LabelCache       = "redis"
	LabelStorage     = "database"
	LabelCredentials = "credentials"
	LabelModules     = "modules"
)

// DefaultModulesTimeout bounds the module import check.
const DefaultModulesTimeout = 30 * time.Second

// Pinger is satisfied by the cache client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConfigProbe passes when load succeeds.
func ConfigProbe(load func() error) Probe {
	return Check(LabelConfig, func(context.Context) (string, error) {
		if err := load(); err != nil {
			return "", err
		}
		return "loaded", nil
	})
}

// CacheProbe sends a single ping bounded by timeout.
func CacheProbe(p Pinger, addr string, timeout time.Duration) Probe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return Check(LabelCache, func(ctx context.Context) (string, error) {
		if p == nil {
			return "", errors.New("no cache client")
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return "", fmt.Errorf("%s: %w", addr, err)
		}
		return addr, nil
	})
}

// StorageProbe opens the store, pings it and closes it again.
func StorageProbe(open func() (store.Store, error)) Probe {
	return Check(LabelStorage, func(ctx context.Context) (string, error) {
		st, err := open()
		if err != nil {
			return "", err
		}
		defer func() { _ = st.Close() }()
		if err := st.Ping(ctx); err != nil {
			return "", err
		}
		return st.Dialect(), nil
	})
}

// CredentialsProbe fails when issues reports anything.
func CredentialsProbe(issues func() []string) Probe {
	return Check(LabelCredentials, func(context.Context) (string, error) {
		if is := issues(); len(is) > 0 {
			return "", errors.New(strings.Join(is, "; "))
		}
		return "present", nil
	})
}

// ModulesProbe runs the import command; exit 0 means importable.
func ModulesProbe(cmd detector.CommandDetector) Probe {
	if cmd.Timeout <= 0 {
		cmd.Timeout = DefaultModulesTimeout
	}
	return Check(LabelModules, func(ctx context.Context) (string, error) {
		if err := cmd.Check(ctx); err != nil {
			return "", err
		}
		return "importable", nil
	})
}
