// Package main provides the entry point for the tingshuo CLI, the speech
// subsystem of the Chinese learning app driven from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dacbuione/chinese-learning-sub000/internal/config"
	"github.com/dacbuione/chinese-learning-sub000/internal/speech"
	"github.com/dacbuione/chinese-learning-sub000/internal/tts"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile  string
	debug       bool
	metricsAddr string
	deviceName  string

	v       = config.New()
	cfg     config.Config
	secrets config.Secrets

	// the core of the running command, for live log level changes
	liveMu   sync.Mutex
	liveCore *speech.Core

	rootCmd = &cobra.Command{
		Use:   "tingshuo",
		Short: "Speak, listen and score Mandarin from the terminal",
		Long: paragraph(
			fmt.Sprintf("\nSpeak, listen and %s Mandarin from the terminal.", keyword("score")),
		),
		SilenceErrors:    true,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadConfig()
		},
	}
)

// loadConfig reads tingshuo.yml, .env and the environment into cfg. Bound
// flags take precedence over all three.
func loadConfig() error {
	used, err := config.Read(v, configFile)
	if err != nil {
		return err
	}
	if used != "" {
		configFile = used
		log.Debug("Using configuration file", "path", used)
	}

	secrets, err = config.LoadSecrets(".env")
	if err != nil {
		return err
	}

	cfg, err = config.Load(v, secrets)
	if err != nil {
		return err
	}

	if debug {
		cfg.LogLevel = "debug"
	}
	log.SetLevel(config.ParseLevel(cfg.LogLevel))

	if used != "" {
		config.Watch(v, secrets, log.WithPrefix("config"), func(c config.Config) {
			if !debug {
				setLogLevel(config.ParseLevel(c.LogLevel))
			}
		})
	}
	return nil
}

// setLogLevel applies a level to the default logger and to the loggers the
// running core derived from it.
func setLogLevel(level log.Level) {
	log.SetLevel(level)

	liveMu.Lock()
	defer liveMu.Unlock()
	if liveCore != nil {
		liveCore.SetLogLevel(level)
	}
}

// openCore builds the speech core for one command and starts the metrics
// endpoint when an address is configured. The returned context is
// cancelled on SIGINT or SIGTERM.
func openCore(cmd *cobra.Command, needs speech.Needs) (context.Context, *speech.Core, func(), error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	core, err := speech.Build(ctx, cfg, needs, log.Default())
	if err != nil {
		stop()
		return nil, nil, nil, err
	}

	liveMu.Lock()
	liveCore = core
	liveMu.Unlock()

	if addr := cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := core.Metrics().Serve(ctx, addr, log.WithPrefix("metrics")); err != nil {
				log.Error("Metrics endpoint failed", "addr", addr, "err", err)
			}
		}()
	}

	cleanup := func() {
		liveMu.Lock()
		liveCore = nil
		liveMu.Unlock()

		if err := core.Close(); err != nil {
			log.Warn("Shutdown incomplete", "err", err)
		}
		stop()
	}
	return ctx, core, cleanup, nil
}

// readText returns the text to speak from args, a file, or stdin when the
// only argument is "-" or nothing was given and stdin is a pipe.
func readText(args []string, file string, stdin io.Reader, stdinIsPipe bool) (string, error) {
	switch {
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("unable to read file: %w", err)
		}
		return string(b), nil
	case len(args) == 1 && args[0] == "-", len(args) == 0 && stdinIsPipe:
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read from stdin: %w", err)
		}
		return string(b), nil
	case len(args) == 0:
		return "", errors.New("nothing to say: pass text, --file or pipe to stdin")
	default:
		return strings.Join(args, " "), nil
	}
}

func stdinIsPipe() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice == 0
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec
}

// requestFlags are the synthesis options shared by speak, synthesize and
// cache warm.
type requestFlags struct {
	locale  string
	voice   string
	rate    float64
	pitch   float64
	volume  float64
	pinyin  string
	noTones bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.locale, "locale", "L", "", "locale (zh-CN, zh-TW, vi-VN, en-US)")
	cmd.Flags().StringVar(&f.voice, "voice", "", "provider voice id")
	cmd.Flags().Float64VarP(&f.rate, "rate", "r", ttypes.NormalRate, "speaking rate multiplier")
	cmd.Flags().Float64Var(&f.pitch, "pitch", 0, "pitch in semitones")
	cmd.Flags().Float64Var(&f.volume, "volume", ttypes.MaxVolume, "volume from 0 to 1")
	cmd.Flags().StringVar(&f.pinyin, "pinyin", "", "pinyin used for tone markup (\"ni3 hao3\" or \"nǐ hǎo\")")
	cmd.Flags().BoolVar(&f.noTones, "no-tones", false, "do not send tone markup to providers")
}

func (f *requestFlags) request(text string) ttypes.SynthesisRequest {
	locale := cfg.Synthesis.Locale
	if f.locale != "" {
		locale = ttypes.Locale(f.locale)
	}
	req := tts.NewRequest(text, locale)
	req.VoiceID = f.voice
	req.Rate = f.rate
	req.Pitch = f.pitch
	req.Volume = f.volume
	req.MarkupEnabled = cfg.Synthesis.Markup && !f.noTones
	req.Tone = ttypes.ToneMarkup{Pinyin: f.pinyin}
	return req
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorLine(err))
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	defaultConfig := config.AppName + ".yml"
	if dirs, err := config.Dirs(); err == nil && len(dirs) > 0 {
		defaultConfig = filepath.Join(dirs[0], config.AppName+".yml")
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfig))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	rootCmd.PersistentFlags().StringVar(&deviceName, "device", "", "audio output device (oto or mock)")

	_ = v.BindPFlag("playback.device", rootCmd.PersistentFlags().Lookup("device"))
	_ = v.BindPFlag("metrics.addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))

	rootCmd.AddCommand(
		speakCmd,
		synthesizeCmd,
		recognizeCmd,
		assessCmd,
		providersCmd,
		cacheCmd,
		configCmd,
		manCmd,
	)
}

// errorLine formats a command error with its reason code.
func errorLine(err error) string {
	return fmt.Sprintf("%s %s %s", errorStyle.Render("error"), err, faint.Render("("+ttypes.ReasonCode(err)+")"))
}
