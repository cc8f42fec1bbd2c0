package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/auraspeak/spectrum"
	"github.com/auraspeak/spectrum/internal/config"
	"github.com/auraspeak/spectrum/pkg/command"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Run a registry node",
	Long:    `Runs a registry node. When the configuration file does not exist an interactive setup creates it first.`,
	GroupID: "node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if errors.Is(err, fs.ErrNotExist) {
			log.WithField("caller", "main").Infof("No configuration at %s, starting setup", configPath)
			cfg, err = config.Setup(configPath)
		}
		if err != nil {
			return err
		}

		log.SetLevel(cfg.LogLevel())
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			log.SetLevel(log.DebugLevel)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := spectrum.NewServer(ctx, cfg)
		if err != nil {
			return err
		}

		// SIGUSR1 dumps the channel table to the log.
		usr1 := make(chan os.Signal, 1)
		signal.Notify(usr1, syscall.SIGUSR1)
		defer signal.Stop(usr1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-usr1:
					srv.CommandCh <- command.CmdListChannels
				}
			}
		}()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-srv.OutCommandCh:
					log.WithField("caller", "main").Debugf("Server event: %s", ev)
				case ev := <-srv.TraceCh:
					// Only debug builds emit trace events.
					log.WithField("caller", "tracer").Debugf("%s %s %q node=%d", ev.Dir, ev.Remote, ev.Payload, ev.Node)
				}
			}
		}()

		return srv.Run()
	},
}

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Create a node configuration interactively",
	GroupID: "node",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			if force, _ := cmd.Flags().GetBool("force"); !force {
				return errors.New(configPath + " already exists, use --force to overwrite")
			}
		}
		_, err := config.Setup(configPath)
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Debug output")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite an existing configuration")
}
