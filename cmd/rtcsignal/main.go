// rtcsignal: answering-side WebRTC signaling client.
//
// It connects to a WebSocket signaling relay, announces itself with an
// "initiation" message, answers the peer's offer and exchanges ICE candidates
// until the PeerConnection is established. Remote media tracks are read and
// accounted until the peer goes away.
//
// Run "rtcsignal connect" without --url to be prompted interactively.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/rtcsignal/internal/config"
	"github.com/1ureka/rtcsignal/internal/media"
	"github.com/1ureka/rtcsignal/internal/signaling"
	"github.com/1ureka/rtcsignal/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rtcsignal",
		Short:         "Answer WebRTC offers relayed over a WebSocket signaling channel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newConnectCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rtcsignal v%s\n", version)
		},
	}
}

func newConnectCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a signaling relay and answer the peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.NewViper(cmd.Flags(), configFile)
			if err != nil {
				return err
			}

			cfg, err := config.Load(v)
			if errors.Is(err, config.ErrMissingURL) {
				// No URL anywhere → interactive mode.
				pterm.Println()
				v.Set(config.KeyURL, askURL())
				if !v.IsSet(config.KeyMode) {
					v.Set(config.KeyMode, string(askMode()))
				}
				cfg, err = config.Load(v)
			}
			if err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "configuration file (yaml, json or toml)")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// run establishes the session and keeps it alive until the peer disconnects
// or the user interrupts.
func run(ctx context.Context, cfg config.Config) error {
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("rtcsignal — v%s (%s mode)", version, cfg.Mode))
	pterm.Println()

	sink := media.NewSink()
	tr, err := signaling.Establish(ctx, cfg, signaling.WithTrackHandler(sink.Handle))
	if err != nil {
		return fmt.Errorf("failed to establish session: %w", err)
	}
	defer tr.Close()

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}
	util.LogSuccess("P2P session established — receiving media from peer")

	select {
	case <-tr.Done():
		util.LogInfo("peer connection ended (%s)", tr.ConnectionState())
	case <-ctx.Done():
		util.LogInfo("interrupted, closing session")
	}

	util.LogInfo("session summary: %s", util.Summary())
	return nil
}

// ---------------------------------------------------------------------------
// Prompts
// ---------------------------------------------------------------------------

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Signaling relay URL (e.g. wss://relay.example.com/ws)").
			Show()

		wsURL, err := config.NormalizeURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askMode lets the user pick the candidate exchange mode.
func askMode() config.Mode {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"eager    — send candidates as soon as they are gathered",
			"deferred — wait for the reqice handshake",
		}).
		WithDefaultText("Candidate exchange mode").
		Show()
	pterm.Println()

	mode, err := config.ParseMode(strings.Fields(choice + " eager")[0])
	if err != nil {
		return config.ModeEager
	}
	return mode
}
