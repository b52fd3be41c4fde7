package execute

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
)

// ExecuteScript runs a script file. The interpreter is taken from the
// argument when given, otherwise from the file's shebang line; with
// neither, the file is executed directly. A file missing its owner
// execute bit is granted one first.
func (e *Executor) ExecuteScript(ctx context.Context, path string, args []string, interpreter string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("script not found: %s", path)
	}

	if info.Mode()&0o100 == 0 {
		e.log.Warn("script is not executable, adding permission", zap.String("script", path))
		if err := os.Chmod(path, info.Mode()|0o100); err != nil {
			return Result{}, fmt.Errorf("making script executable: %w", err)
		}
	}

	if interpreter == "" {
		interpreter, err = shebang(path)
		if err != nil {
			return Result{}, err
		}
		if interpreter != "" {
			e.log.Info("detected interpreter", zap.String("interpreter", interpreter))
		}
	}

	var argv []string
	if interpreter != "" {
		// Shebang lines may carry arguments ("/usr/bin/env bash").
		words, err := shellquote.Split(interpreter)
		if err != nil {
			return Result{}, fmt.Errorf("parsing interpreter %q: %w", interpreter, err)
		}
		argv = append(argv, words...)
	}
	argv = append(argv, path)
	argv = append(argv, args...)

	return e.Execute(ctx, Request{Argv: argv}), nil
}

// shebang returns the interpreter directive from the first line of the
// file, or "" when the file carries none.
func shebang(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return "", nil
	}
	line := strings.TrimSpace(sc.Text())
	if !strings.HasPrefix(line, "#!") {
		return "", nil
	}
	return strings.TrimSpace(line[2:]), nil
}
