package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/citypulse/pkg/client"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream records from a CityPulse server",
	Long: `Connect to a CityPulse WebSocket endpoint and print every record received.
The connection is re-established after failures with a linear backoff.

Examples:
  # All city events
  citypulse watch

  # One sensor, as raw JSON
  citypulse watch --url ws://localhost:8000/ws/sensors/SENSOR_001 --json

  # Events plus two sensors on one connection
  citypulse watch -s sensor:SENSOR_001 -s sensor:SENSOR_002`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("url", "ws://localhost:8000/ws/events", "WebSocket URL")
	watchCmd.Flags().StringArrayP("subscribe", "s", nil, "Additional channel to subscribe (repeatable)")
	watchCmd.Flags().Bool("json", false, "Print raw envelopes as JSON lines")
	watchCmd.Flags().Int("max-attempts", client.DefaultMaxAttempts, "Reconnect attempts before giving up")
	watchCmd.Flags().Duration("base-delay", client.DefaultBaseDelay, "Delay multiplied by the attempt number between reconnects")
}

func runWatch(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")
	channels, _ := cmd.Flags().GetStringArray("subscribe")
	asJSON, _ := cmd.Flags().GetBool("json")
	maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
	baseDelay, _ := cmd.Flags().GetDuration("base-delay")

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	r := client.New(client.Config{
		URL:         url,
		BaseDelay:   baseDelay,
		MaxAttempts: maxAttempts,
		OnMessage: func(env types.DecodedEnvelope) {
			printEnvelope(out, env, asJSON)
		},
		OnReply: func(rep client.Reply) {
			if rep.Type == "error" {
				fmt.Fprintf(errOut, "server error: %s: %s\n", rep.Code, rep.Message)
			}
		},
	})
	remove := r.AddObserver(func(s client.State) {
		fmt.Fprintf(errOut, "%s %s\n", s, url)
	})
	defer remove()

	for _, ch := range channels {
		if err := r.Subscribe(ch); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return r.Run(ctx)
}

func printEnvelope(w io.Writer, env types.DecodedEnvelope, asJSON bool) {
	rec := env.Record()
	if rec == nil {
		return
	}
	if asJSON {
		b, err := types.MarshalEnvelope(rec)
		if err == nil {
			fmt.Fprintln(w, string(b))
		}
		return
	}

	switch {
	case env.Event != nil:
		ev := env.Event
		fmt.Fprintf(w, "%s  %-8s %-8s %s", ev.CreatedAt.Local().Format(time.TimeOnly), ev.Type, ev.Severity, ev.Title)
		if ev.Location != "" {
			fmt.Fprintf(w, " @ %s", ev.Location)
		}
		if len(ev.Metadata) > 0 {
			meta, _ := json.Marshal(ev.Metadata)
			fmt.Fprintf(w, " %s", meta)
		}
		fmt.Fprintln(w)
	case env.Reading != nil:
		rd := env.Reading
		fmt.Fprintf(w, "%s  %-8s %-12s %10.2f %s\n", rd.Timestamp.Local().Format(time.TimeOnly), "reading", rd.SensorID, rd.Value, rd.Unit)
	}
}
