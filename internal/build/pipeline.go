// Package build runs the deployment build pipeline inside the isolated
// workload container: clone the source, run the build command, locate the
// static output directory and publish it to the artifact store. Every stage
// reports progress through the deployment's log stream.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/berth-dev/berth/internal/artifact"
	"github.com/berth-dev/berth/pkg/buildlog"
	"github.com/berth-dev/berth/pkg/config"
)

// Pipeline executes one deployment build end to end.
type Pipeline struct {
	cfg      config.BuilderConfig
	store    *artifact.Store
	producer *buildlog.Producer
	logger   *slog.Logger
}

// NewPipeline constructs a build pipeline.
func NewPipeline(cfg config.BuilderConfig, store *artifact.Store, producer *buildlog.Producer, logger *slog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, store: store, producer: producer, logger: logger}
}

// Run executes the pipeline. On success the artifact is fully uploaded and
// the success sentinel published; any failure publishes the failure sentinel
// before returning. The process exit code carries the outcome to the
// dispatcher, the sentinel carries it to log consumers.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.run(ctx); err != nil {
		p.producer.Line(ctx, fmt.Sprintf("build failed: %v", err))
		p.producer.Failed(ctx)
		return err
	}
	p.producer.Succeeded(ctx)
	return nil
}

func (p *Pipeline) run(ctx context.Context) error {
	workspace, err := NewWorkspace(p.cfg.WorkspaceRoot)
	if err != nil {
		return err
	}
	workdir, err := workspace.Prepare(p.cfg.DeploymentID)
	if err != nil {
		return err
	}
	defer func() {
		if err := workspace.Cleanup(workdir); err != nil {
			p.logger.Warn("workspace cleanup failed", "dir", workdir, "error", err)
		}
	}()

	p.producer.Line(ctx, "cloning "+p.cfg.RepoURL)
	cloneCtx, cancelClone := context.WithTimeout(ctx, p.cfg.CloneTimeout)
	err = clone(cloneCtx, p.cfg.RepoURL, workdir)
	cancelClone()
	if err != nil {
		return err
	}

	p.producer.Line(ctx, "running build: "+p.cfg.BuildCommand)
	buildCtx, cancelBuild := context.WithTimeout(ctx, p.cfg.BuildTimeout)
	err = runCommand(buildCtx, p.cfg.BuildCommand, workdir, func(line string) {
		p.producer.Line(ctx, line)
	})
	cancelBuild()
	if err != nil {
		return err
	}

	outputDir, err := findOutputDir(workdir, p.cfg.OutputDirs)
	if err != nil {
		return err
	}
	p.producer.Line(ctx, "uploading artifact from "+filepath.Base(outputDir))
	uploaded, err := p.store.UploadDir(ctx, p.cfg.DeploymentID, outputDir, func(rel string) {
		p.producer.Line(ctx, "uploading "+rel)
	})
	if err != nil {
		return err
	}
	if uploaded == 0 {
		return fmt.Errorf("build produced an empty output directory %s", outputDir)
	}
	p.producer.Line(ctx, fmt.Sprintf("uploaded %d files", uploaded))

	p.logger.Info("build complete",
		"deployment_id", p.cfg.DeploymentID,
		"output_dir", outputDir,
		"files", uploaded,
	)
	return nil
}

// findOutputDir returns the first candidate directory that exists in the
// build workspace. Candidates are a comma separated list checked in order.
func findOutputDir(workdir, candidates string) (string, error) {
	names := strings.Split(candidates, ",")
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		dir := filepath.Join(workdir, name)
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			return dir, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("check output dir %s: %w", dir, err)
		}
	}
	return "", fmt.Errorf("no output directory found (tried %s)", candidates)
}
