package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mkolbe/agora/internal/transport"
	"github.com/mkolbe/agora/pkg/config"
	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
	"github.com/mkolbe/agora/pkg/providers"
	"github.com/mkolbe/agora/pkg/simulation"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agora",
		Short: "Agora runs worlds of agents and objects that coordinate through typed events.",
	}

	var configPath string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation from a YAML config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(configPath)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "agora.yaml", "simulation config file")

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the built-in ping/pong world with scripted reasoning",
		RunE:  runDemo,
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Export a config's event schemas as JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportSchemas(configPath)
		},
	}
	schemaCmd.Flags().StringVarP(&configPath, "config", "c", "agora.yaml", "simulation config file")

	for _, envFile := range []string{
		".env",
		"../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd.AddCommand(runCmd, demoCmd, schemaCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSimulation(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	sim := simulation.New(cfg, simulation.WithSimLogger(logger))
	if err := sim.Setup(ctx); err != nil {
		return err
	}

	if cfg.Transport.Listen != "" {
		srv := transport.NewServer(cfg.Transport.Listen, sim.World(), logger)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("transport failed", "error", err)
				cancel()
			}
		}()
	}

	// Surface per-recipient delivery failures while the world runs.
	go func() {
		for report := range sim.World().Broker().Reports() {
			logger.Warn("delivery report", "to", report.To, "error", report.Err)
		}
	}()

	return sim.Run(ctx)
}

// runDemo wires the canonical scenario: an echo object bound on ping, and
// a watcher agent that wakes on pong.
func runDemo(cmd *cobra.Command, args []string) error {
	cfg := &config.SimulationConfig{
		Name: "ping-pong",
		Schemas: []config.SchemaConfig{
			{Type: "ping", Fields: map[string]config.FieldConfig{
				"value": {Type: "int", Required: true},
			}},
			{Type: "pong", Fields: map[string]config.FieldConfig{
				"value": {Type: "int", Required: true},
			}},
		},
		Participants: []config.ParticipantConfig{
			{Kind: "object", ID: "echo", Name: "Echo", Description: "replies pong to ping"},
			{Kind: "agent", ID: "watcher", Name: "Watcher", Provider: "scripted",
				Wakeups: []string{"pong"}, ThinkTimeout: config.Duration(5 * time.Second)},
		},
		StopGrace: config.Duration(2 * time.Second),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	sim := simulation.New(cfg,
		simulation.WithSimLogger(logger),
		simulation.WithThinkerFactory(func(ctx context.Context, p config.ParticipantConfig) (core.Thinker, error) {
			return providers.NewScripted(map[string][]core.EventParameters{
				"pong": {{Type: "ping", Summary: "keep the rally going",
					Fields: map[string]any{"value": 1}}},
			}), nil
		}),
	)
	if err := sim.Setup(ctx); err != nil {
		return err
	}

	echo, _ := sim.Object("echo")
	registry := sim.World().Registry()
	if err := echo.Bind("ping", func(rec *event.Record) ([]*event.Record, error) {
		v, _ := rec.Field("value")
		out, err := registry.New("pong",
			map[string]any{"value": v},
			event.WithSummary("pong back"),
		)
		if err != nil {
			return nil, err
		}
		return []*event.Record{out}, nil
	}); err != nil {
		return err
	}

	// Serve the opening ping once the world is running.
	go func() {
		time.Sleep(100 * time.Millisecond)
		rec, err := registry.New("ping",
			map[string]any{"value": 0},
			event.WithSender("watcher"), event.WithSummary("opening serve"),
		)
		if err != nil {
			logger.Error("bad opening serve", "error", err)
			return
		}
		if err := sim.World().Broker().Submit(rec); err != nil {
			logger.Error("submit failed", "error", err)
		}
	}()

	return sim.Run(ctx)
}

func exportSchemas(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	for _, sc := range cfg.Schemas {
		schema, err := sc.Schema()
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(event.JSONSchema(schema), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	}
	return nil
}
