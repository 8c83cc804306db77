package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/docker/docker/client"

	"github.com/trydirect/deployctl/internal/cperrors"
)

// LocalBuilder drives "docker compose build" against a rendered compose
// document for local/dev orchestration paths (spec.md §4.12's non-MQ
// branch) — the project's identity lives in the compose project name, not
// on disk, so the document is written to a temp file rather than resolved
// from a workspace path.
type LocalBuilder struct {
	projectName string
	docker      *client.Client
}

// NewLocalBuilder constructs a LocalBuilder for one compose project name. The
// daemon connection is opened lazily from the environment (DOCKER_HOST etc.)
// the same way the Docker CLI itself does; a dial failure only surfaces once
// Build is actually called, not at construction time.
func NewLocalBuilder(projectName string) *LocalBuilder {
	return &LocalBuilder{projectName: projectName}
}

// Build pings the daemon, writes compose to a temp file, and runs
// `docker compose build` against it, returning combined stderr on failure.
func (b *LocalBuilder) Build(ctx context.Context, compose string, noCache bool) error {
	if err := b.ping(ctx); err != nil {
		return err
	}

	f, err := os.CreateTemp("", "deployctl-compose-*.yml")
	if err != nil {
		return cperrors.Internal("create temp compose file", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(compose); err != nil {
		f.Close()
		return cperrors.Internal("write temp compose file", err)
	}
	if err := f.Close(); err != nil {
		return cperrors.Internal("close temp compose file", err)
	}

	args := []string{"-p", b.projectName, "-f", f.Name(), "build"}
	if noCache {
		args = append(args, "--no-cache")
	}

	cmd := exec.CommandContext(ctx, "docker", append([]string{"compose"}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return cperrors.Upstream(cperrors.CodeBuildFailed, fmt.Errorf("docker compose build: %w: %s", err, stderr.String()))
	}
	return nil
}

// ping opens (and caches) the daemon connection and confirms it answers
// before shelling out, so a missing/unreachable daemon fails with a clear
// BUILD_FAILED error instead of `docker compose`'s own exec output.
func (b *LocalBuilder) ping(ctx context.Context) error {
	if b.docker == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return cperrors.Upstream(cperrors.CodeBuildFailed, fmt.Errorf("docker client: %w", err))
		}
		b.docker = cli
	}
	if _, err := b.docker.Ping(ctx); err != nil {
		return cperrors.Upstream(cperrors.CodeBuildFailed, fmt.Errorf("docker daemon unreachable: %w", err))
	}
	return nil
}
