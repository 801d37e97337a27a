package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"xpbridge/internal/config"
	"xpbridge/internal/transport"
)

var (
	probeChannel string
	probeTimeout time.Duration

	probeCmd = &cobra.Command{
		Use:   "probe [request]...",
		Short: "Send requests to a running bridge and print the replies",
		Long: `Connects to the bridge channel and sends each argument as one request line,
printing one reply per line. Without arguments, requests are read from stdin
until EOF.

  xpbridge probe "get:sim/altitude" "cmd:sim/flaps_down:hold:500"`,
		RunE: runProbe,
	}
)

func init() {
	probeCmd.Flags().StringVar(&probeChannel, "channel", "", "channel to dial (default: from config, else the platform default)")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "how long to wait for the bridge to accept")
}

func runProbe(cmd *cobra.Command, args []string) error {
	channel := probeChannel
	if channel == "" {
		if cfg, err := config.Load(configPath); err == nil {
			channel = cfg.Channel
		}
	}
	if channel == "" {
		channel = transport.DefaultChannel()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	conn, err := transport.Dial(ctx, channel)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", channel, err)
	}
	client := transport.NewClient(conn)
	defer client.Close()

	if len(args) > 0 {
		return probeAll(client, args, cmd.OutOrStdout())
	}
	return probeLines(client, cmd.InOrStdin(), cmd.OutOrStdout(), stdinIsTerminal())
}

func probeAll(c *transport.Client, requests []string, out io.Writer) error {
	for _, req := range requests {
		reply, err := c.Do(req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply)
	}
	return nil
}

func probeLines(c *transport.Client, in io.Reader, out io.Writer, prompt bool) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 4096), transport.MaxLineSize)
	for {
		if prompt {
			fmt.Fprint(out, "> ")
		}
		if !sc.Scan() {
			return sc.Err()
		}
		req := strings.TrimSpace(sc.Text())
		if req == "" {
			continue
		}
		reply, err := c.Do(req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply)
	}
}

// stdinIsTerminal reports whether stdin is interactive.
func stdinIsTerminal() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
