// Package toolchain drives the external bot build and match tools as
// subprocesses.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"text/template"
)

// Command is an argv whose elements are text/template strings.
type Command []string

// compile parses every argument template.
func (c Command) compile() ([]*template.Template, error) {
	if len(c) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	tmpls := make([]*template.Template, len(c))
	for i, arg := range c {
		t, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("parse argument %q: %w", arg, err)
		}
		tmpls[i] = t
	}
	return tmpls, nil
}

func render(tmpls []*template.Template, data any) ([]string, error) {
	argv := make([]string, len(tmpls))
	for i, t := range tmpls {
		var b strings.Builder
		if err := t.Execute(&b, data); err != nil {
			return nil, fmt.Errorf("render argument %d: %w", i, err)
		}
		argv[i] = b.String()
	}
	return argv, nil
}

// run executes argv in dir and returns combined stdout and stderr.
// If ctx ends the process, ctx.Err() is returned so callers can tell a
// deadline from a tool failure.
func run(ctx context.Context, dir string, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out.Bytes(), ctxErr
	}
	if err != nil {
		return out.Bytes(), &CommandError{Argv: argv, Output: tail(out.String(), 2000), Err: err}
	}
	return out.Bytes(), nil
}

// CommandError reports a subprocess that could not be run or exited non-zero.
type CommandError struct {
	Argv   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v\n%s", strings.Join(e.Argv, " "), e.Err, e.Output)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
