package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/ports"
)

// DockerController stops and starts a container, or a compose service when
// ComposeFile is set.
type DockerController struct {
	runner      ports.CommandRunner
	health      *HTTPHealth
	Program     string
	Container   string
	ComposeFile string
	Service     string
	Timeout     time.Duration
}

func NewDockerController(runner ports.CommandRunner, health *HTTPHealth, container string) *DockerController {
	return &DockerController{runner: runner, health: health, Program: "docker", Container: container, Timeout: 5 * time.Minute}
}

func NewComposeController(runner ports.CommandRunner, health *HTTPHealth, composeFile, service string) *DockerController {
	return &DockerController{runner: runner, health: health, Program: "docker", ComposeFile: composeFile, Service: service, Timeout: 5 * time.Minute}
}

func (d *DockerController) Stop(ctx context.Context) error {
	return kgload.AtStage(kgload.StageStop, d.run(ctx, "stop"))
}

func (d *DockerController) Start(ctx context.Context) error {
	return kgload.AtStage(kgload.StageStart, d.run(ctx, "start"))
}

func (d *DockerController) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	return waitHealthy(ctx, d.health, timeout)
}

func (d *DockerController) args(verb string) ([]string, string) {
	if d.ComposeFile != "" {
		return []string{"compose", "-f", d.ComposeFile, verb, d.Service}, d.Service
	}
	return []string{verb, d.Container}, d.Container
}

func (d *DockerController) run(ctx context.Context, verb string) error {
	args, target := d.args(verb)
	if target == "" {
		return fmt.Errorf("docker %s: no container or service configured", verb)
	}
	ctx = logging.WithAttrs(ctx, slog.String("component", "lifecycle"), slog.String("target", target))
	logging.Info(ctx, "docker "+verb)

	res, err := d.runner.Run(ctx, ports.Command{Program: d.Program, Args: args, Timeout: d.Timeout})
	if err != nil {
		return errs.Wrapf(err, "docker %s %s", verb, target)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("docker %s %s exited with code %d: %s", verb, target, res.ExitCode, res.Output())
	}
	return nil
}

// NoopController is used when the service is managed elsewhere. WaitHealthy
// still polls when a health URL is configured.
type NoopController struct {
	health *HTTPHealth
}

func NewNoopController(health *HTTPHealth) *NoopController {
	return &NoopController{health: health}
}

func (n *NoopController) Stop(ctx context.Context) error {
	logging.Debug(ctx, "lifecycle none: stop skipped")
	return nil
}

func (n *NoopController) Start(ctx context.Context) error {
	logging.Debug(ctx, "lifecycle none: start skipped")
	return nil
}

func (n *NoopController) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	return waitHealthy(ctx, n.health, timeout)
}

func waitHealthy(ctx context.Context, health *HTTPHealth, timeout time.Duration) error {
	if health == nil || health.URL == "" {
		logging.Warn(ctx, "no health url configured, not waiting")
		return nil
	}
	return health.WaitHealthy(ctx, timeout)
}
