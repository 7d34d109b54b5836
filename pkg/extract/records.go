package extract

import (
	"context"
	"io"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/dumper/pkg/task"
)

// Well-known record paths written at the start of every run.
const (
	VersionPath   = "version.yaml"
	ArgumentsPath = "arguments.yaml"
)

type versionRecord struct {
	Program  string    `yaml:"program"`
	Version  string    `yaml:"version"`
	Go       string    `yaml:"go"`
	Platform string    `yaml:"platform"`
	Started  time.Time `yaml:"started"`
}

// NewVersion returns the task writing version.yaml.
func NewVersion(version string, now func() time.Time) *task.Func {
	if now == nil {
		now = time.Now
	}
	return task.NewFunc(VersionPath, func(_ context.Context, _ task.RunContext, w io.Writer) (any, error) {
		return nil, writeYAML(w, versionRecord{
			Program:  "dumper",
			Version:  version,
			Go:       runtime.Version(),
			Platform: runtime.GOOS + "/" + runtime.GOARCH,
			Started:  now().UTC(),
		})
	}, task.WithName("version"), task.Describe("write "+VersionPath))
}

// NewArguments returns the task writing arguments.yaml with secrets redacted.
func NewArguments() *task.Func {
	return task.NewFunc(ArgumentsPath, func(_ context.Context, rc task.RunContext, w io.Writer) (any, error) {
		args := rc.Arguments()
		if args == nil {
			return nil, writeYAML(w, map[string]any{})
		}
		return nil, writeYAML(w, args.Redacted())
	}, task.WithName("arguments"), task.Describe("write "+ArgumentsPath))
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
