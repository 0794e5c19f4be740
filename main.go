package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/samber/do/v2"
	"github.com/vreid/minefield/internal/pkg/common"
	"github.com/vreid/minefield/internal/pkg/escrow"
	"github.com/vreid/minefield/internal/pkg/events"
	"github.com/vreid/minefield/internal/pkg/gateway"
	"github.com/vreid/minefield/internal/pkg/lifecycle"
	"github.com/vreid/minefield/internal/pkg/match"
	"github.com/vreid/minefield/internal/pkg/registry"
	"github.com/vreid/minefield/internal/pkg/settlement"
	"github.com/vreid/minefield/internal/pkg/timer"
	"go.uber.org/zap"

	"github.com/urfave/cli/v3"
)

type MinefieldService struct {
	EchoService     *common.EchoService     `do:""`
	DatabaseService *common.DatabaseService `do:""`
	Logger          *zap.Logger             `do:""`

	TimerService      *timer.TimerService           `do:""`
	BusService        *events.BusService            `do:""`
	LifecycleService  *lifecycle.LifecycleService   `do:""`
	SettlementService *settlement.SettlementService `do:""`
	GatewayService    *gateway.GatewayService       `do:""`
}

func runServer(ctx context.Context, cmd *cli.Command) error {
	i := do.New()

	do.ProvideNamedValue(i, "port", cmd.Int("port"))
	do.ProvideNamedValue(i, "data-dir", cmd.String("data-dir"))
	do.ProvideNamedValue(i, "log-level", cmd.String("log-level"))

	do.ProvideNamedValue(i, "signature-secret", cmd.String("signature-secret"))
	do.ProvideNamedValue(i, "placement-seconds", cmd.Int("placement-seconds"))
	do.ProvideNamedValue(i, "turn-seconds", cmd.Int("turn-seconds"))
	do.ProvideNamedValue(i, "purge-grace-seconds", cmd.Int("purge-grace-seconds"))
	do.ProvideNamedValue(i, "match-ttl-minutes", cmd.Int("match-ttl-minutes"))

	do.ProvideNamedValue(i, "escrow-url", cmd.String("escrow-url"))
	do.ProvideNamedValue(i, "escrow-token", cmd.String("escrow-token"))
	do.ProvideNamedValue(i, "dev-balance", int64(cmd.Int("dev-balance")))

	do.ProvideNamedValue(i, "valkey-addr", cmd.String("valkey-addr"))
	do.ProvideNamedValue(i, "valkey-channel", cmd.String("valkey-channel"))

	do.ProvideValue[clockwork.Clock](i, clockwork.NewRealClock())

	outcomeChan := make(chan match.Outcome, 1000)
	var outcomeSource <-chan match.Outcome = outcomeChan
	var outcomeSink chan<- match.Outcome = outcomeChan

	do.ProvideNamedValue(i, "outcome-source", outcomeSource)
	do.ProvideNamedValue(i, "outcome-sink", outcomeSink)

	do.Provide(i, common.NewLogger)
	do.Provide(i, common.NewEchoService)
	do.Provide(i, common.NewDatabaseService)

	do.Provide(i, registry.NewRegistryService)
	do.Provide(i, timer.NewTimerService)
	do.Provide(i, escrow.NewEscrowService)
	do.Provide(i, events.NewBusService)
	do.Provide(i, lifecycle.NewLifecycleService)
	do.Provide(i, settlement.NewSettlementService)
	do.Provide(i, gateway.NewGatewayService)

	do.Provide(i, do.InvokeStruct[MinefieldService])

	minefieldService, err := do.Invoke[MinefieldService](i)
	if err != nil {
		return fmt.Errorf("failed to create minefield service: %w", err)
	}

	logger := minefieldService.Logger
	defer func() { _ = logger.Sync() }()

	minefieldService.SettlementService.Start()

	reclaimInterval := time.Duration(cmd.Int("reclaim-interval-seconds")) * time.Second

	err = minefieldService.LifecycleService.StartReclaimScheduler(reclaimInterval)
	if err != nil {
		return fmt.Errorf("failed to start reclaim scheduler: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)

	go func() {
		serverErr <- minefieldService.EchoService.Start()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint:mnd
	defer cancel()

	return errors.Join(
		minefieldService.EchoService.Shutdown(shutdownCtx),
		minefieldService.LifecycleService.Shutdown(),
		minefieldService.TimerService.Shutdown(),
		minefieldService.BusService.Shutdown(),
		minefieldService.DatabaseService.Shutdown(),
	)
}

func runToken(_ context.Context, cmd *cli.Command) error {
	ttl := time.Duration(cmd.Int("ttl-minutes")) * time.Minute

	token, err := gateway.IssueToken(cmd.String("signature-secret"), cmd.String("player"), ttl, time.Now())
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token) //nolint:forbidigo

	return nil
}

func signatureSecretFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "signature-secret",
		Value:   "secret",
		Sources: cli.EnvVars("MINEFIELD_SIGNATURE_SECRET"),
	}
}

func main() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(err)
	}

	//nolint:exhaustruct
	cmd := &cli.Command{
		Name: "minefield",
		Commands: []*cli.Command{
			{
				Name: "server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Value:   3000, //nolint:mnd
						Sources: cli.EnvVars("MINEFIELD_PORT"),
					},
					&cli.StringFlag{
						Name:    "data-dir",
						Value:   "./minefield/data",
						Sources: cli.EnvVars("MINEFIELD_DATA_DIR"),
					},
					&cli.StringFlag{
						Name:    "log-level",
						Value:   "info",
						Sources: cli.EnvVars("MINEFIELD_LOG_LEVEL"),
					},
					signatureSecretFlag(),
					&cli.IntFlag{
						Name:    "placement-seconds",
						Value:   30, //nolint:mnd
						Sources: cli.EnvVars("MINEFIELD_PLACEMENT_SECONDS"),
					},
					&cli.IntFlag{
						Name:    "turn-seconds",
						Value:   15, //nolint:mnd
						Sources: cli.EnvVars("MINEFIELD_TURN_SECONDS"),
					},
					&cli.IntFlag{
						Name:    "purge-grace-seconds",
						Value:   5, //nolint:mnd
						Sources: cli.EnvVars("MINEFIELD_PURGE_GRACE_SECONDS"),
					},
					&cli.IntFlag{
						Name:    "match-ttl-minutes",
						Value:   30, //nolint:mnd
						Sources: cli.EnvVars("MINEFIELD_MATCH_TTL_MINUTES"),
					},
					&cli.IntFlag{
						Name:    "reclaim-interval-seconds",
						Value:   60, //nolint:mnd
						Sources: cli.EnvVars("MINEFIELD_RECLAIM_INTERVAL_SECONDS"),
					},
					&cli.StringFlag{
						Name:    "escrow-url",
						Sources: cli.EnvVars("MINEFIELD_ESCROW_URL"),
					},
					&cli.StringFlag{
						Name:    "escrow-token",
						Sources: cli.EnvVars("MINEFIELD_ESCROW_TOKEN"),
					},
					&cli.IntFlag{
						Name:    "dev-balance",
						Value:   10000, //nolint:mnd
						Sources: cli.EnvVars("MINEFIELD_DEV_BALANCE"),
					},
					&cli.StringFlag{
						Name:    "valkey-addr",
						Sources: cli.EnvVars("MINEFIELD_VALKEY_ADDR"),
					},
					&cli.StringFlag{
						Name:    "valkey-channel",
						Value:   events.DefaultValkeyChannel,
						Sources: cli.EnvVars("MINEFIELD_VALKEY_CHANNEL"),
					},
				},
				Action: runServer,
			},
			{
				Name:  "token",
				Usage: "issue a player token for local testing",
				Flags: []cli.Flag{
					signatureSecretFlag(),
					&cli.StringFlag{
						Name:     "player",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "ttl-minutes",
						Value: 60, //nolint:mnd
					},
				},
				Action: runToken,
			},
		},
		DefaultCommand: "server",
	}

	err = cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
