package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dacbuione/chinese-learning-sub000/internal/audio"
	"github.com/dacbuione/chinese-learning-sub000/internal/speech"
	"github.com/dacbuione/chinese-learning-sub000/internal/tone"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

var (
	speakFlags  requestFlags
	speakFile   string
	speakPlayer string
	speakQuiet  bool

	speakCmd = &cobra.Command{
		Use:   "speak [TEXT|-]",
		Short: "Speak text aloud",
		Long: paragraph(fmt.Sprintf("\n%s text sentence by sentence through the provider chain. Markdown is reduced to its text first; later sentences are synthesized into the cache while earlier ones play.", keyword("Speak"))),
		Example: paragraph("tingshuo speak 你好\ntingshuo speak --pinyin \"ni3 hao3\" 你好\ntingshuo speak --rate 0.75 --file lesson.md\necho 谢谢 | tingshuo speak"),
		RunE: runSpeak,
	}

	synthFlags  requestFlags
	synthFile   string
	synthOutput string

	synthesizeCmd = &cobra.Command{
		Use:     "synthesize [TEXT|-]",
		Aliases: []string{"synth"},
		Short:   "Write synthesized audio to a file",
		Long:    paragraph(fmt.Sprintf("\n%s text to audio bytes without playing it. Play-only providers are skipped.", keyword("Synthesize"))),
		Example: paragraph("tingshuo synthesize -o hello.mp3 你好\ntingshuo synth -o - 谢谢 > thanks.mp3"),
		RunE:    runSynthesize,
	}
)

func init() {
	speakFlags.register(speakCmd)
	speakCmd.Flags().StringVarP(&speakFile, "file", "f", "", "read text from a file")
	speakCmd.Flags().StringVarP(&speakPlayer, "player", "p", "cli", "player id the sessions run on")
	speakCmd.Flags().BoolVarP(&speakQuiet, "quiet", "q", false, "do not print sentences as they play")

	synthFlags.register(synthesizeCmd)
	synthesizeCmd.Flags().StringVarP(&synthFile, "file", "f", "", "read text from a file")
	synthesizeCmd.Flags().StringVarP(&synthOutput, "output", "o", "", "output file, - for stdout (default <fingerprint>.<format>)")
}

func runSpeak(cmd *cobra.Command, args []string) error {
	text, err := readText(args, speakFile, os.Stdin, stdinIsPipe())
	if err != nil {
		return err
	}
	sentences := tone.Sentences(tone.PlainText(text))
	if len(sentences) == 0 {
		return ttypes.ErrEmptyText
	}

	ctx, core, cleanup, err := openCore(cmd, speech.Needs{Playback: true})
	if err != nil {
		return err
	}
	defer cleanup()

	if len(sentences) > 1 {
		if speakFlags.pinyin != "" {
			log.Warn("Ignoring --pinyin for multi-sentence text", "sentences", len(sentences))
		}
		warmCtx, cancelWarm := context.WithCancel(ctx)
		defer cancelWarm()
		go func() {
			template := speakFlags.request("")
			template.Tone = ttypes.ToneMarkup{}
			if _, err := core.Warm(warmCtx, strings.Join(sentences[1:], "\n"), template, 2); err != nil && warmCtx.Err() == nil {
				log.Debug("Prefetch incomplete", "err", err)
			}
		}()
	}

	tty := isTerminal(os.Stdout) && !speakQuiet
	for _, s := range sentences {
		req := speakFlags.request(s)
		if len(sentences) > 1 {
			req.Tone = ttypes.ToneMarkup{}
		}
		if err := speakOne(ctx, core, req, tty); err != nil {
			return err
		}
	}
	return nil
}

// speakOne plays one sentence and waits for it to end.
func speakOne(ctx context.Context, core *speech.Core, req ttypes.SynthesisRequest, tty bool) error {
	pb, err := core.Speak(ctx, speakPlayer, req, audio.Options{})
	if err != nil {
		return err
	}
	if !speakQuiet {
		fmt.Printf("%s %s %s\n", keyword("▶"), req.Text, faint.Render(pb.Source))
	}

	if tty {
		unsubscribe := core.Player().OnProgress(speakPlayer, func(s ttypes.AudioSession) {
			if s.SessionID != pb.Session.ID() || s.DurationMs <= 0 {
				return
			}
			fmt.Printf("\r  %s", faint.Render(progressLabel(s)))
		})
		defer func() {
			unsubscribe()
			fmt.Print("\r\033[K")
		}()
	}

	select {
	case <-pb.Session.Done():
		return pb.Session.Err()
	case <-ctx.Done():
		core.Stop(speakPlayer)
		return ctx.Err()
	}
}

func progressLabel(s ttypes.AudioSession) string {
	pos := time.Duration(s.PositionMs) * time.Millisecond
	total := time.Duration(s.DurationMs) * time.Millisecond
	return fmt.Sprintf("%s / %s", pos.Truncate(100*time.Millisecond), total.Truncate(100*time.Millisecond))
}

func runSynthesize(cmd *cobra.Command, args []string) error {
	text, err := readText(args, synthFile, os.Stdin, stdinIsPipe())
	if err != nil {
		return err
	}

	ctx, core, cleanup, err := openCore(cmd, speech.Needs{})
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := core.Synthesize(ctx, synthFlags.request(text))
	if err != nil {
		return err
	}

	if synthOutput == "-" {
		_, err := os.Stdout.Write(res.Payload.Data)
		return err
	}

	out := synthOutput
	if out == "" {
		out = res.Fingerprint[:12] + "." + string(res.Payload.Format)
	}
	if err := os.WriteFile(out, res.Payload.Data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("unable to write audio: %w", err)
	}

	fmt.Println(field("file", out))
	fmt.Println(field("source", res.Source))
	fmt.Println(field("format", string(res.Payload.Format)))
	fmt.Println(field("size", humanize.Bytes(uint64(len(res.Payload.Data)))))
	fmt.Println(field("fingerprint", res.Fingerprint))
	for _, a := range res.Attempts {
		fmt.Println(field("skipped", fmt.Sprintf("%s %s", a.Provider, faint.Render(a.Err.Error()))))
	}
	return nil
}
