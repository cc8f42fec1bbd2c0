package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/auraspeak/spectrum/internal/config"
	"github.com/auraspeak/spectrum/internal/loop"
	"github.com/auraspeak/spectrum/internal/node"
	"github.com/auraspeak/spectrum/internal/protocol"
	"github.com/auraspeak/spectrum/internal/router"
	"github.com/spf13/cobra"
)

// consoleConfig returns the node configuration, or the defaults when none exists.
func consoleConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		cfg.Node.ID = 1
		err = cfg.Validate()
	}
	return cfg, err
}

// openConsole opens a send-only endpoint on the control group. Replies go to onReply.
func openConsole(cfg *config.Config, onReply func(from net.Addr, reply string)) (*node.NodeManager, error) {
	nm, err := node.NewNodeManager(node.Options{
		Group:     cfg.ConsoleGroupAddr(),
		Interface: cfg.Registry.Interface,
		TTL:       cfg.Registry.MulticastTTL,
	}, router.NewRouter(), loop.New(context.Background(), 1), nil)
	if err != nil {
		return nil, err
	}
	nm.OnReply = onReply
	if err := nm.Open(); err != nil {
		nm.Close()
		return nil, err
	}
	return nm, nil
}

func collectReplies(cmd *cobra.Command, d *protocol.Directive) error {
	cfg, err := consoleConfig()
	if err != nil {
		return err
	}
	window, _ := cmd.Flags().GetDuration("window")

	var (
		mu    sync.Mutex
		total int
	)
	out := cmd.OutOrStdout()
	nm, err := openConsole(cfg, func(from net.Addr, reply string) {
		mu.Lock()
		defer mu.Unlock()
		if d.Type == protocol.DirectivePoll {
			if n, err := strconv.Atoi(strings.TrimSpace(reply)); err == nil {
				total += n
			}
		}
		fmt.Fprintf(out, "%s: %s\n", from, strings.TrimRight(reply, "\n"))
	})
	if err != nil {
		return err
	}
	defer nm.Close()

	if err := nm.Send(d); err != nil {
		return err
	}
	if window > 0 {
		time.Sleep(window)
	}
	if d.Type == protocol.DirectivePoll {
		mu.Lock()
		fmt.Fprintf(out, "total users: %d\n", total)
		mu.Unlock()
	}
	return nil
}

var sendCmd = &cobra.Command{
	Use:   "send <directive...>",
	Short: "Send a raw directive to the control group",
	Example: `  spectrumd send add 7 2412000 20000 239.202.108.9:11273
  spectrumd send stop`,
	GroupID: "console",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := protocol.Decode([]byte(strings.Join(args, " ")))
		if err != nil {
			return err
		}
		return collectReplies(cmd, d)
	},
}

var pollCmd = &cobra.Command{
	Use:     "poll <frequency> <bandwidth>",
	Short:   "Ask every node for its local users of a channel",
	GroupID: "console",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var nums [2]uint32
		for i, a := range args {
			v, err := strconv.ParseUint(a, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", []string{"frequency", "bandwidth"}[i], err)
			}
			nums[i] = uint32(v)
		}
		d := &protocol.Directive{
			Type:    protocol.DirectivePoll,
			Channel: protocol.Channel{Frequency: nums[0], Bandwidth: nums[1]},
		}
		return collectReplies(cmd, d)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(pollCmd)

	sendCmd.Flags().DurationP("window", "w", time.Second, "How long to wait for replies")
	pollCmd.Flags().DurationP("window", "w", 2*time.Second, "How long to wait for replies")
}
