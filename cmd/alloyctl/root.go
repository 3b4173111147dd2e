package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/alloy/internal/config"
	"github.com/dreamware/alloy/pkg/cluster"
)

// app is the state shared by every subcommand.
type app struct {
	out      io.Writer
	errOut   io.Writer
	cfg      *config.Config
	logger   *slog.Logger
	manager  *cluster.Manager
	cfgPath  string
	mode     string
	nodes    []string
	maxNodes int
	timeout  time.Duration
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "alloyctl",
		Short: "Multi-node client for Alloy inference servers",
		Long: `alloyctl sends image, chat and audio requests to a set of Alloy servers,
falling back to the next server when one fails, and merges model listings
from all of them.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgPath, "config", "", "config file (.toml, .yaml or .yml)")
	flags.StringArrayVar(&a.nodes, "node", nil, "node base URL, repeatable; replaces configured nodes")
	flags.StringVar(&a.mode, "mode", "", "query mode: single, controlled_querying or broadcast")
	flags.IntVar(&a.maxNodes, "max-nodes", 0, "maximum nodes tried per call")
	flags.DurationVar(&a.timeout, "timeout", 0, "per-node call timeout")

	root.AddCommand(
		newModelsCmd(a),
		newChatCmd(a),
		newImageCmd(a),
		newAudioCmd(a),
		newHealthCmd(a),
	)
	return root
}

// setup loads the config, applies flag overrides and builds the manager.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Read(a.cfgPath, os.Getenv)
	if err != nil {
		return err
	}
	if len(a.nodes) > 0 {
		cfg.Nodes = make([]config.NodeConfig, 0, len(a.nodes))
		for _, url := range a.nodes {
			cfg.Nodes = append(cfg.Nodes, config.NodeConfig{BaseURL: url})
		}
	}

	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = a.mode
	}
	if flags.Changed("max-nodes") {
		cfg.MaxNodesToQuery = a.maxNodes
	}
	if flags.Changed("timeout") {
		cfg.CallTimeout = config.Duration{Duration: a.timeout}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = cfg.Logger(a.errOut)
	m, err := cfg.NewManager(a.logger)
	if err != nil {
		return fmt.Errorf("build cluster: %w", err)
	}
	a.manager = m
	return nil
}
