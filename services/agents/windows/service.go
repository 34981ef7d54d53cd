//go:build windows

// Package windows runs the CAD agent under the Service Control Manager.
package windows

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sys/windows/svc"

	"slsdispatch/pkg/logging"
	"slsdispatch/services/agents/cad"
)

const serviceName = "SLSAgent"

// Run starts the agent. Launched interactively it runs in the foreground until
// interrupted; launched by the SCM it runs until the service is stopped.
func Run(configPath string) error {
	logger := logging.Setup("sls-agent", os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfg, err := cad.LoadConfig(configPath)
	if err != nil {
		return err
	}
	agent := cad.NewService(cfg, cad.NewProber(cfg), logger)

	isService, err := svc.IsWindowsService()
	if err != nil {
		return fmt.Errorf("detecting service environment: %w", err)
	}

	if !isService {
		ctx, cancel := signalContext()
		defer cancel()
		if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	return svc.Run(serviceName, &program{agent: agent, log: logger})
}

type program struct {
	agent *cad.Service
	log   zerolog.Logger
}

func (p *program) Execute(_ []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const accepted = svc.AcceptStop | svc.AcceptShutdown
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.agent.Run(ctx) }()

	changes <- svc.Status{State: svc.Running, Accepts: accepted}

	for {
		select {
		case err := <-done:
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				p.log.Error().Err(err).Msg("agent loop exited")
				changes <- svc.Status{State: svc.StopPending}
				return false, 1
			}
			changes <- svc.Status{State: svc.StopPending}
			return false, 0
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				changes <- svc.Status{State: svc.StopPending}
				cancel()
				<-done
				return false, 0
			default:
			}
		}
	}
}
