// Package template renders the starter files of a KATS project:
// katsctl.toml and a .env with placeholder credentials.
package template

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/template"
)

// TemplateType names a starter file.
type TemplateType string

const (
	TypeConfig TemplateType = "config"
	TypeEnv    TemplateType = "env"
)

// Values fill the templates.
type Values struct {
	MainCommand  string
	MainPattern  string
	RedisCommand string
	RedisPort    int
	ServerAddr   string
	LogLevel     string
	TradeMode    string
}

// Defaults mirror the built-in configuration.
func Defaults() Values {
	return Values{
		MainCommand:  "python3 -m kats.main",
		MainPattern:  "-m kats.main",
		RedisCommand: "redis-server",
		RedisPort:    6379,
		ServerAddr:   "127.0.0.1:8780",
		LogLevel:     "info",
		TradeMode:    "PAPER",
	}
}

var files = map[TemplateType]struct {
	name string
	perm os.FileMode
	tmpl *template.Template
}{
	TypeConfig: {"katsctl.toml", 0o644, template.Must(template.New("config").Parse(configTemplate))},
	// credentials live here
	TypeEnv: {".env", 0o600, template.Must(template.New("env").Parse(envTemplate))},
}

const configTemplate = `# katsctl supervisor configuration. Every key is optional.

[main]
command = "{{.MainCommand}}"
pattern = "{{.MainPattern}}"
grace = "15s"
start_window = "3s"

[cache]
command = "{{.RedisCommand}}"
port = {{.RedisPort}}
max_memory = "256mb"
ready_attempts = 10
ready_interval = "1s"

[log]
level = "{{.LogLevel}}"
file = "logs/katsctl.log"

[history]
# sqlite:///history.db, postgres://..., clickhouse://..., opensearch://...
dsn = ""

[server]
addr = "{{.ServerAddr}}"

[server.tls]
enabled = false
auto_generate = true

[schedule]
status_refresh = "@every 15s"
# e.g. "40 15 * * 1-5" to archive ticks after the close
redis_flush = ""
`

const envTemplate = `# KIS OpenAPI credentials
KIS_APP_KEY=your_app_key_here
KIS_APP_SECRET=your_app_secret_here
KIS_ACCOUNT_NO=your_account_no_here

TRADE_MODE={{.TradeMode}}
DB_URL=sqlite+aiosqlite:///kats.db
REDIS_URL=redis://localhost:{{.RedisPort}}
`

// SupportedTypes lists the template names, sorted.
func SupportedTypes() []string {
	out := make([]string, 0, len(files))
	for t := range files {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// FileName is the project-relative file a template is written to.
func FileName(t TemplateType) (string, error) {
	f, ok := files[t]
	if !ok {
		return "", fmt.Errorf("unsupported template type: %s", t)
	}
	return f.name, nil
}

// Render returns the file content.
func Render(t TemplateType, v Values) ([]byte, error) {
	f, ok := files[t]
	if !ok {
		return nil, fmt.Errorf("unsupported template type: %s", t)
	}
	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("render %s: %w", t, err)
	}
	return buf.Bytes(), nil
}

// ErrExists is returned by Write when the file is present and force is false.
var ErrExists = errors.New("file already exists")

// Write renders t into dir. An existing file is kept unless force is set.
func Write(dir string, t TemplateType, v Values, force bool) (string, error) {
	name, err := FileName(t)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("%s: %w", path, ErrExists)
	}
	data, err := Render(t, v)
	if err != nil {
		return path, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return path, err
	}
	return path, os.WriteFile(path, data, files[t].perm)
}
