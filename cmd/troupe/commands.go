package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/troupe/internal/app"
	"github.com/MrWong99/troupe/internal/config"
	"github.com/MrWong99/troupe/internal/tui"
	"github.com/MrWong99/troupe/internal/voice"
	"github.com/MrWong99/troupe/pkg/chat"
	"github.com/MrWong99/troupe/pkg/provider/stt"
)

// ── run ──────────────────────────────────────────────────────────────────────

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the session UI (default)",
	Args:  cobra.NoArgs,
	RunE:  runSession,
}

func runSession(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg.Logging.File, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	stopTelemetry, err := startTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := stopTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	events := tui.NewEvents()
	a, err := app.New(ctx, cfg, newRegistry(), app.WithVoiceObserver(events.Voice))
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(a); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	g.Go(func() error { return a.Serve(serveCtx) })
	g.Go(func() error {
		defer stopServe()
		return tui.Run(gctx, a.Machine(), events, tui.Options{PlayerName: cfg.Session.PlayerName, Recorder: a.Recorder()})
	})
	return g.Wait()
}

// ── say ──────────────────────────────────────────────────────────────────────

var (
	sayRole   string
	sayRecord bool
)

var sayCmd = &cobra.Command{
	Use:   "say <speaker> <text>...",
	Short: "Voice one line through the configured actors",
	Long: `say renders and plays a single line as if the speaker had said it.
The line is kept out of the session log unless --record is given.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		role, err := chat.ParseRole(sayRole)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		closeLog, err := setupLogging("", cfg.LogLevel)
		if err != nil {
			return err
		}
		defer closeLog()

		var opts []app.Option
		if !sayRecord {
			opts = append(opts, app.WithLog(chat.NewMemory()))
		}
		a, err := app.New(ctx, cfg, newRegistry(), opts...)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(a); err != nil {
				slog.Error("shutdown error", "err", err)
			}
		}()

		msg, err := a.Log().Append(chat.NewMessage(args[0], role, strings.Join(args[1:], " ")))
		if err != nil {
			return err
		}
		t := a.Voices().Enqueue(msg)
		select {
		case <-t.Done():
		case <-ctx.Done():
			a.Machine().StopAudio()
			return ctx.Err()
		}

		switch {
		case t.State() == voice.StateFailed:
			return t.Err()
		case t.Actor() == "":
			return fmt.Errorf("no voice actor claims speaker %q", msg.Speaker)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s voiced by %s\n", msg.Speaker, t.Actor())
		return nil
	},
}

// ── transcribe ───────────────────────────────────────────────────────────────

var transcribeStream bool

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file>",
	Short: "Transcribe a recording with the configured transcriber",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		closeLog, err := setupLogging("", cfg.LogLevel)
		if err != nil {
			return err
		}
		defer closeLog()

		if cfg.Transcriber.Name == "" {
			return errors.New("no transcriber configured")
		}
		if cmd.Flags().Changed("stream") {
			cfg.Transcriber.Stream = transcribeStream
		}
		cfg.Audio.Device = config.DeviceNone
		cfg.Audio.Input = config.InputNone
		a, err := app.New(ctx, cfg, newRegistry(), app.WithLog(chat.NewMemory()))
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(a); err != nil {
				slog.Error("shutdown error", "err", err)
			}
		}()

		m := a.Machine()
		if err := m.BeginNarrate(); err != nil {
			return err
		}
		defer m.CancelNarrate()

		errOut := cmd.ErrOrStderr()
		text, err := m.Transcribe(ctx, args[0], func(p stt.Partial) {
			if !p.Final {
				fmt.Fprint(errOut, p.Delta)
			}
		})
		if cfg.Transcriber.Stream {
			fmt.Fprintln(errOut)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(text))
		return nil
	},
}

// ── validate ─────────────────────────────────────────────────────────────────

var validateBackends bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: OK (%d agents, %d voice actors)\n", configPath, len(cfg.Agents), len(cfg.VoiceActors))
		if validateBackends {
			fmt.Fprint(out, describeBackends(newRegistry()))
		}
		return nil
	},
}

// ── summarise ────────────────────────────────────────────────────────────────

var (
	summarisePrevious []string
	summariseOut      string
)

var summariseCmd = &cobra.Command{
	Use:     "summarise",
	Aliases: []string{"summarize"},
	Short:   "Summarise the session log with the first language model agent",
	Long: `summarise writes a Markdown document with a summary of the session log
and a running summary that folds in earlier summaries passed via --previous,
oldest first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		closeLog, err := setupLogging("", cfg.LogLevel)
		if err != nil {
			return err
		}
		defer closeLog()

		previous := make([]string, 0, len(summarisePrevious))
		for _, p := range summarisePrevious {
			b, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("previous summary: %w", err)
			}
			previous = append(previous, string(b))
		}

		l, err := chat.Open(cfg.Session.MessagesPath)
		if err != nil {
			return err
		}
		defer l.Close()

		s, err := app.NewSummariser(cfg, newRegistry())
		if err != nil {
			return err
		}
		sum, err := s.Summarise(ctx, l.Messages(), previous)
		if err != nil {
			return err
		}

		if summariseOut == "" {
			_, err = fmt.Fprint(cmd.OutOrStdout(), sum.Markdown())
			return err
		}
		return os.WriteFile(summariseOut, []byte(sum.Markdown()), 0o644)
	},
}

// ── voices ───────────────────────────────────────────────────────────────────

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List the voice actors and the speakers they voice",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), voicesTable(cfg.VoiceActors))
		return nil
	},
}

// voicesTable renders one row per speaker, in routing order.
func voicesTable(actors []config.VoiceActorConfig) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ACTOR", "TYPE", "SPEAKER", "VOICE")
	for _, vc := range actors {
		for _, speaker := range slices.Sorted(maps.Keys(vc.Speakers)) {
			id := vc.Speakers[speaker]
			if id == "" {
				id = "(default)"
			}
			t.Row(vc.DisplayName(), vc.Type, speaker, id)
		}
	}
	return t.String()
}

func init() {
	sayCmd.Flags().StringVar(&sayRole, "role", string(chat.RoleAgent), "message role (agent, player, narration)")
	sayCmd.Flags().BoolVar(&sayRecord, "record", false, "append the line to the session log")

	transcribeCmd.Flags().BoolVar(&transcribeStream, "stream", false, "print partial transcripts while the backend works")

	validateCmd.Flags().BoolVar(&validateBackends, "backends", false, "also list the built-in backends")

	summariseCmd.Flags().StringSliceVar(&summarisePrevious, "previous", nil, "earlier summary files, oldest first")
	summariseCmd.Flags().StringVarP(&summariseOut, "out", "o", "", "write the summary to this file instead of stdout")
}
