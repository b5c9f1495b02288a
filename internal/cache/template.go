package cache

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// ServerConfig feeds the generated redis.conf.
type ServerConfig struct {
	Bind      string
	Port      int
	MaxMemory string
	Dir       string
	PIDFile   string
	LogFile   string
}

var confTemplate = template.Must(template.New("redis.conf").Parse(`# generated by katsctl
bind {{.Bind}}
port {{.Port}}
daemonize no
maxmemory {{.MaxMemory}}
maxmemory-policy allkeys-lru
save 900 1
save 300 10
save 60 10000
appendonly no
dir {{.Dir}}
pidfile {{.PIDFile}}
{{- if .LogFile}}
logfile {{.LogFile}}
{{- end}}
`))

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Bind == "" {
		c.Bind = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 6379
	}
	if c.MaxMemory == "" {
		c.MaxMemory = "256mb"
	}
	return c
}

// RenderConfig returns the redis.conf text for c.
func RenderConfig(c ServerConfig) (string, error) {
	var buf bytes.Buffer
	if err := confTemplate.Execute(&buf, c.withDefaults()); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// EnsureConfig writes the config to path unless a file already exists there.
// It reports whether a new file was written.
func EnsureConfig(path string, c ServerConfig) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	text, err := RenderConfig(c)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return false, err
	}
	return true, nil
}
