package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ent0n29/vaani/internal/app"
	"github.com/ent0n29/vaani/internal/tutor"
)

// buildOneShot builds the service for a single request and waits for the
// worker handshake so the first call does not race it.
func (c *cli) buildOneShot(ctx context.Context) (*app.BuildResult, error) {
	cfg, logger, err := c.load()
	if err != nil {
		return nil, err
	}
	if c.logLevel == "" {
		logger = logger.Level(zerolog.WarnLevel)
	}
	res, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if res.Bridge != nil {
		res.Bridge.Initialize(ctx)
	}
	return res, nil
}

func (c *cli) askCmd() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Print one tutor response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			res, err := c.buildOneShot(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = res.Cleanup() }()

			out := cmd.OutOrStdout()
			text := strings.Join(args, " ")
			resp, err := res.Tutor.GenerateResponse(ctx, text, nil, nil, tutor.ParseLanguage(language))
			if err != nil {
				return err
			}
			if t, ok := tutor.AsResponse(resp.Teaching); ok {
				printTeaching(out, t)
			} else {
				fmt.Fprintln(out, resp.Text)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "(%s, %s)\n", resp.Language, resp.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "language hint: english, hindi or hinglish")
	return cmd
}

func (c *cli) quizCmd() *cobra.Command {
	var (
		topic  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "quiz",
		Short: "Print one multiple-choice question",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			res, err := c.buildOneShot(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = res.Cleanup() }()

			q, err := res.Tutor.GenerateQuiz(ctx, topic)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(q)
			}
			fmt.Fprintf(out, "[%s] %s\n", q.Question.Topic, q.Question.Question)
			for i, o := range q.Question.Options {
				fmt.Fprintf(out, "  %c) %s\n", 'a'+i, o)
			}
			fmt.Fprintf(out, "answer: %s\n", q.Question.Answer)
			if q.Question.Explanation != "" {
				fmt.Fprintf(out, "why: %s\n", q.Question.Explanation)
			}
			if q.IsFallback {
				fmt.Fprintln(cmd.ErrOrStderr(), "(offline question bank)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "random", "grammar, vocabulary, tenses, prepositions, idioms, pronunciation or random")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the question as JSON")
	return cmd
}

func printTeaching(out io.Writer, t tutor.TeachingResponse) {
	line := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			fmt.Fprintf(out, "%-10s %s\n", label+":", v)
		}
	}
	line("mode", string(t.Mode))
	line("english", t.English)
	line("you said", t.YourSentence)
	line("better", t.BetterSentence)
	line("hindi", t.HindiExplanation)
	if len(t.Mistakes) > 0 {
		line("mistakes", strings.Join(t.Mistakes, "; "))
	}
	line("tip", t.Tip)
	line("practice", t.Practice)
}
