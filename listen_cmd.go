package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dacbuione/chinese-learning-sub000/internal/audio"
	"github.com/dacbuione/chinese-learning-sub000/internal/speech"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// listenFlags configure one recognition attempt.
type listenFlags struct {
	locale       string
	duration     time.Duration
	alternatives int
}

func (f *listenFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.locale, "locale", "L", "", "locale to recognize (default synthesis.locale)")
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "how long to listen (default recognition.default_duration)")
	cmd.Flags().IntVar(&f.alternatives, "alternatives", 3, "alternative transcripts to request")
}

func (f *listenFlags) config() ttypes.RecognitionConfig {
	locale := cfg.Synthesis.Locale
	if f.locale != "" {
		locale = ttypes.Locale(f.locale)
	}
	return ttypes.RecognitionConfig{
		Locale:          locale,
		MaxAlternatives: f.alternatives,
		PartialResults:  true,
		Duration:        f.duration,
	}
}

var (
	recognizeFlags listenFlags

	recognizeCmd = &cobra.Command{
		Use:     "recognize",
		Aliases: []string{"listen"},
		Short:   "Transcribe one spoken attempt from the microphone",
		Long:    paragraph(fmt.Sprintf("\n%s for a bounded time and print the transcript. When time runs out before a final result the best partial result is printed.", keyword("Listen"))),
		Example: paragraph("tingshuo recognize\ntingshuo recognize --duration 3s --locale zh-TW"),
		Args:    cobra.NoArgs,
		RunE:    runRecognize,
	}

	assessFlags listenFlags
	assessModel bool

	assessCmd = &cobra.Command{
		Use:     "assess EXPECTED",
		Aliases: []string{"score"},
		Short:   "Listen to an attempt and score it against the expected text",
		Long:    paragraph(fmt.Sprintf("\n%s one attempt at the expected text, syllable by syllable. Use --model to hear the expected text first.", keyword("Score"))),
		Example: paragraph("tingshuo assess 你好\ntingshuo assess --model --duration 4s 我很好"),
		Args:    cobra.MinimumNArgs(1),
		RunE:    runAssess,
	}
)

func init() {
	recognizeFlags.register(recognizeCmd)
	assessFlags.register(assessCmd)
	assessCmd.Flags().BoolVarP(&assessModel, "model", "m", false, "speak the expected text before listening")
}

func runRecognize(cmd *cobra.Command, _ []string) error {
	ctx, core, cleanup, err := openCore(cmd, speech.Needs{Recognition: true})
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Println(faint.Render("Listening…"))
	res, err := core.Recognize(ctx, recognizeFlags.config(), recognizeFlags.duration)
	if err != nil {
		return err
	}
	printRecognition(res)
	return nil
}

func runAssess(cmd *cobra.Command, args []string) error {
	expected := strings.Join(args, " ")

	ctx, core, cleanup, err := openCore(cmd, speech.Needs{Playback: assessModel, Recognition: true})
	if err != nil {
		return err
	}
	defer cleanup()

	rc := assessFlags.config()
	if assessModel {
		pb, err := core.Speak(ctx, "model", modelRequest(expected, rc.Locale), audio.Options{})
		if err != nil {
			return err
		}
		select {
		case <-pb.Session.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	fmt.Println(faint.Render("Your turn…"))
	a, err := core.Assess(ctx, expected, rc, assessFlags.duration)
	if err != nil {
		return err
	}

	printRecognition(a.Recognition)
	fmt.Println()
	printPronunciation(a.Pronunciation)
	return nil
}

// modelRequest is the reference recording played by --model.
func modelRequest(text string, locale ttypes.Locale) ttypes.SynthesisRequest {
	f := requestFlags{locale: string(locale), rate: ttypes.NormalRate, volume: ttypes.MaxVolume}
	return f.request(text)
}

func printRecognition(res ttypes.RecognitionResult) {
	transcript := res.Transcript
	if transcript == "" {
		transcript = faint.Render("(nothing heard)")
	}
	fmt.Println(field("heard", transcript))
	fmt.Println(field("confidence", fmt.Sprintf("%.0f%%", res.Confidence*100)))
	if res.TimedOut {
		fmt.Println(field("note", faint.Render("time ran out before a final result")))
	}
	for i, alt := range res.Alternatives {
		if i == 0 && alt.Transcript == res.Transcript {
			continue
		}
		fmt.Println(field("or", fmt.Sprintf("%s %s", alt.Transcript, faint.Render(fmt.Sprintf("%.0f%%", alt.Confidence*100)))))
	}
}

func printPronunciation(pr ttypes.PronunciationResult) {
	var syllables []string
	for _, s := range pr.Breakdown {
		if s.Match {
			syllables = append(syllables, passStyle.Render(s.Expected))
			continue
		}
		spoken := s.Spoken
		if spoken == "" {
			spoken = "∅"
		}
		syllables = append(syllables, failStyle.Render(s.Expected)+faint.Render("("+spoken+")"))
	}
	fmt.Println(field("expected", strings.Join(syllables, " ")))

	verdict := failStyle.Render("try again")
	if pr.Passed {
		verdict = passStyle.Render("passed")
	}
	fmt.Println(field("accuracy", fmt.Sprintf("%.0f%% %s", pr.Accuracy*100, verdict)))
}
