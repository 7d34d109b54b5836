// Package config holds the resolved invocation arguments of a run.
package config

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ormasoftchile/dumper/pkg/sink"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

const redacted = "<REDACTED>"

// DefaultPoolSize bounds the concurrent queries a single task may issue.
const DefaultPoolSize = 4

// Arguments is the resolved invocation configuration handed to every task.
type Arguments struct {
	Connector   string            `yaml:"connector"`
	Output      string            `yaml:"output"`
	Continue    bool              `yaml:"continue"`
	DryRun      bool              `yaml:"dry_run"`
	PoolSize    int               `yaml:"pool_size"`
	URL         string            `yaml:"url,omitempty"`
	Password    string            `yaml:"password,omitempty"`
	Plan        string            `yaml:"plan,omitempty"`
	Trace       string            `yaml:"trace,omitempty"`
	HTTPTimeout time.Duration     `yaml:"http_timeout"`
	Vars        map[string]string `yaml:"vars,omitempty"`
	Verbose     bool              `yaml:"verbose"`
	LogFormat   string            `yaml:"log_format"`
	Pretty      bool              `yaml:"pretty"`
}

// FromEnv returns Arguments populated from DUMPER_* environment variables.
// A malformed value is a usage error.
func FromEnv() (Arguments, error) {
	a := Arguments{
		Connector: String(EnvConnector, ""),
		Output:    String(EnvOutput, ""),
		URL:       String(EnvURL, ""),
		Password:  String(EnvPassword, ""),
		Plan:      String(EnvPlan, ""),
		Trace:     String(EnvTrace, ""),
		LogFormat: "text",
	}
	var err error
	if a.PoolSize, err = Int(EnvPoolSize, DefaultPoolSize); err != nil {
		return Arguments{}, usage.Wrap(err, "invalid environment")
	}
	if a.HTTPTimeout, err = Duration(EnvTimeout, 30*time.Second); err != nil {
		return Arguments{}, usage.Wrap(err, "invalid environment")
	}
	return a, nil
}

// Validate reports missing or contradictory arguments as usage errors.
func (a *Arguments) Validate() error {
	var problems []string
	if strings.TrimSpace(a.Connector) == "" {
		problems = append(problems, "--connector is required")
	}
	if a.Output == "" && !a.DryRun {
		problems = append(problems, "--output is required")
	}
	if scheme, _, ok := strings.Cut(a.Output, "://"); ok && scheme != "s3" {
		problems = append(problems, "unsupported output scheme "+scheme+"://")
	}
	if a.PoolSize < 1 {
		problems = append(problems, "--pool-size must be at least 1")
	}
	if a.DryRun && a.Continue {
		problems = append(problems, "--dry-run cannot be combined with --continue")
	}
	if a.HTTPTimeout < 0 {
		problems = append(problems, "http timeout must not be negative")
	}
	if len(problems) == 0 {
		return nil
	}
	return usage.New("invalid arguments", problems...)
}

// Redacted returns a copy safe to persist: the password and any password
// embedded in the URL are replaced.
func (a Arguments) Redacted() Arguments {
	if a.Password != "" {
		a.Password = redacted
	}
	a.URL = RedactURL(a.URL)
	if len(a.Vars) > 0 {
		vars := make(map[string]string, len(a.Vars))
		for k, v := range a.Vars {
			vars[k] = v
		}
		a.Vars = vars
	}
	return a
}

// Secrets lists the literal secret values present in the arguments.
func (a Arguments) Secrets() []string {
	var out []string
	if a.Password != "" {
		out = append(out, a.Password)
	}
	if u, err := url.Parse(a.URL); err == nil && u.User != nil {
		if p, ok := u.User.Password(); ok && p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// RedactURL replaces the password of a URL with a placeholder. Unparseable
// values are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}

// ObjectConfigFromEnv reads object-store credentials for s3:// outputs.
func ObjectConfigFromEnv() (sink.ObjectConfig, error) {
	useSSL, err := Bool(EnvS3UseSSL, true)
	if err != nil {
		return sink.ObjectConfig{}, usage.Wrap(err, "invalid environment")
	}
	return sink.ObjectConfig{
		Endpoint:  String(EnvS3Endpoint, ""),
		AccessKey: String(EnvS3AccessKey, ""),
		SecretKey: String(EnvS3SecretKey, ""),
		Region:    String(EnvS3Region, ""),
		UseSSL:    useSSL,
	}, nil
}
