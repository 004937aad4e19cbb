package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"forest/internal/config"
	"forest/internal/queue"
)

// CommandProcessor shells out to the configured scan command. The command
// template supports {input}, {output_dir}, and {type} placeholders and must
// print "<artifact_path>\t<classification>" as its final stdout line.
type CommandProcessor struct {
	template string
	timeout  time.Duration
}

// NewCommandProcessor builds a processor from application config.
func NewCommandProcessor(cfg *config.Config) *CommandProcessor {
	return &CommandProcessor{
		template: cfg.Scanner.Command,
		timeout:  time.Duration(cfg.Scanner.TimeoutSeconds) * time.Second,
	}
}

// Process implements Processor.
func (p *CommandProcessor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(p.template) == "" {
		return Result{}, errors.New("scanner command not configured")
	}
	if _, err := os.Stat(req.InputPath); err != nil {
		return Result{}, fmt.Errorf("input image: %w", err)
	}

	hint := string(req.TypeHint)
	if hint == "" {
		hint = string(queue.ClassUnknown)
	}
	replacer := strings.NewReplacer(
		"{input}", req.InputPath,
		"{output_dir}", req.OutputDir,
		"{type}", hint,
	)
	args := strings.Fields(replacer.Replace(p.template))
	if len(args) == 0 {
		return Result{}, errors.New("scanner command expands to nothing")
	}

	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil && !errors.Is(ctx.Err(), context.Canceled) {
			return Result{}, queue.NewProcessingError(fmt.Sprintf("scan command timed out after %s", p.timeout), runCtx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			detail = err.Error()
		}
		return Result{}, queue.NewProcessingError("scan command failed: "+detail, err)
	}

	return parseCommandOutput(stdout.String())
}

func parseCommandOutput(output string) (Result, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			last = trimmed
			break
		}
	}
	if last == "" {
		return Result{}, queue.NewProcessingError("scan command produced no result line", nil)
	}

	fields := strings.Fields(last)
	artifactPath := fields[0]
	class := queue.ClassUnknown
	if len(fields) > 1 {
		if parsed, ok := queue.ParseClassification(fields[1]); ok {
			class = parsed
		}
	} else {
		class = ClassFromFileName(filepath.Base(artifactPath))
	}

	if _, err := os.Stat(artifactPath); err != nil {
		return Result{}, queue.NewProcessingError("scan result artifact missing", err)
	}
	return Result{ArtifactPath: artifactPath, Classification: class}, nil
}

// ClassFromFileName infers the creature class from a "<class>_..." name,
// the convention the scan pipeline uses for its output files.
func ClassFromFileName(name string) queue.Classification {
	prefix, _, found := strings.Cut(name, "_")
	if !found {
		return queue.ClassUnknown
	}
	if class, ok := queue.ParseClassification(prefix); ok && queue.ValidClass(class) {
		return class
	}
	return queue.ClassUnknown
}
