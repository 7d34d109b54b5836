package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/ormasoftchile/dumper/pkg/task"
)

// CommandTask captures the standard output of a local command.
type CommandTask struct {
	task.Base
	argv []string
}

func NewCommand(path string, argv []string, opts ...task.Option) *CommandTask {
	return &CommandTask{Base: task.NewBase(path, opts...), argv: argv}
}

func (t *CommandTask) Run(ctx context.Context, rc task.RunContext) (any, error) {
	if len(t.argv) == 0 {
		return nil, errors.New("empty command")
	}
	_, err := t.WriteOutput(ctx, rc, func(w io.Writer) error {
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, t.argv[0], t.argv[1:]...)
		cmd.Stdout = w
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("%s: %w: %s", t.argv[0], err, msg)
			}
			return fmt.Errorf("%s: %w", t.argv[0], err)
		}
		return nil
	})
	return nil, err
}

func (t *CommandTask) String() string {
	if s := t.Base.String(); s != t.Name() {
		return s
	}
	return fmt.Sprintf("run %s: %s", t.Name(), strings.Join(t.argv, " "))
}

// FileTask copies a local file into its output.
type FileTask struct {
	task.Base
	source string
}

func NewFile(path, source string, opts ...task.Option) *FileTask {
	return &FileTask{Base: task.NewBase(path, opts...), source: source}
}

func (t *FileTask) Run(ctx context.Context, rc task.RunContext) (any, error) {
	_, err := t.WriteOutput(ctx, rc, func(w io.Writer) error {
		f, err := os.Open(t.source)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	return nil, err
}

func (t *FileTask) String() string {
	if s := t.Base.String(); s != t.Name() {
		return s
	}
	return fmt.Sprintf("copy %s from %s", t.Name(), t.source)
}
