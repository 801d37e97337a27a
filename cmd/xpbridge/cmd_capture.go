package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"xpbridge/internal/capture"
)

var (
	dumpSession string

	captureCmd = &cobra.Command{
		Use:   "capture",
		Short: "Inspect traffic captures",
	}
	captureDumpCmd = &cobra.Command{
		Use:   "dump <file>",
		Short: "Verify a capture file and print its exchanges",
		Args:  cobra.ExactArgs(1),
		RunE:  runCaptureDump,
	}
)

func init() {
	captureDumpCmd.Flags().StringVar(&dumpSession, "session", "", "only print exchanges of this session id")
}

func runCaptureDump(cmd *cobra.Command, args []string) error {
	r, err := capture.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()
	return dumpRecords(r, cmd.OutOrStdout(), dumpSession)
}

type recordSource interface {
	Next() (capture.Record, error)
}

func dumpRecords(src recordSource, out io.Writer, session string) error {
	n := 0
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			fmt.Fprintf(out, "%d exchanges\n", n)
			return nil
		}
		if err != nil {
			return fmt.Errorf("after %d exchanges: %w", n, err)
		}
		if session != "" && rec.Session != session {
			continue
		}
		n++
		fmt.Fprintf(out, "%s %s #%d %s -> %s\n",
			rec.Time.UTC().Format(time.RFC3339Nano), rec.Session, rec.Seq, rec.Request, rec.Reply)
	}
}
