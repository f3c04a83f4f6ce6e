package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/vaani/internal/audio"
	"github.com/ent0n29/vaani/internal/conversation"
	"github.com/ent0n29/vaani/internal/tutor"
	"github.com/ent0n29/vaani/internal/voice"
)

func (c *cli) talkCmd() *cobra.Command {
	var noTTS bool
	cmd := &cobra.Command{
		Use:   "talk",
		Short: "Practice speaking through the local microphone (needs the portaudio build tag)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !audio.MicrophoneAvailable() {
				return errors.New("talk: microphone support not built in (rebuild with -tags portaudio)")
			}
			ctx, stop := signalContext()
			defer stop()
			res, err := c.buildOneShot(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = res.Cleanup() }()

			speaker, err := audio.NewSpeakerPlayer()
			if err != nil {
				return err
			}
			vadCfg := audio.DefaultVADConfig()
			vadCfg.Threshold = res.Config.VoiceVADThreshold
			ctrl := voice.NewController(voice.Deps{
				Capture:     func() (voice.Capture, error) { return audio.NewMicrophoneCapture() },
				VAD:         audio.NewEnergyVAD(vadCfg),
				Transcriber: res.Providers.Transcriber,
				Responder:   res.Tutor,
				Synthesizer: res.Providers.Synthesizer,
				Player: voice.PlayerFunc(func(ctx context.Context, clip voice.Clip) error {
					return speaker.Play(ctx, clip.Samples, clip.SampleRate)
				}),
				Stages: res.Metrics,
				Logger: res.Logger,
			}, res.Voice)
			defer ctrl.Stop()

			conv, err := res.Store.Create(ctx, "")
			if err != nil {
				return err
			}
			return talkLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), ctrl, res.Store, conv.ID, !noTTS)
		},
	}
	cmd.Flags().BoolVar(&noTTS, "no-tts", false, "print replies without speaking them")
	return cmd
}

// talkLoop runs one voice turn per Enter press until EOF, "q" or ctx ends.
func talkLoop(ctx context.Context, in io.Reader, out io.Writer, ctrl *voice.Controller, store conversation.Store, convID string, tts bool) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		fmt.Fprint(out, "press Enter to speak (q to quit): ")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || strings.EqualFold(strings.TrimSpace(line), "q") {
				return nil
			}
		}

		history, err := store.Recent(ctx, convID, conversation.DefaultRecent)
		if err != nil {
			return err
		}
		events := voice.NewEventStream(0)
		if err := ctrl.Start(voice.StartConfig{History: history, TTSEnabled: tts, Observer: events}); err != nil {
			return err
		}
		// A stopped controller goes quiet, so the stream is closed here.
		stopOnCancel := context.AfterFunc(ctx, func() {
			ctrl.Stop()
			events.Close()
		})

		var heard string
		for ev := range events.Events() {
			switch ev.Type {
			case voice.EventListening:
				fmt.Fprintln(out, "listening...")
			case voice.EventTranscription:
				heard = ev.Text
				fmt.Fprintf(out, "you (%s): %s\n", ev.Language, ev.Text)
			case voice.EventResponseComplete:
				printReply(out, ev.Text, ev.Teaching)
				if err := appendTurn(ctx, store, convID, heard, ev.Text); err != nil {
					fmt.Fprintf(out, "! history not saved: %v\n", err)
				}
			case voice.EventError:
				fmt.Fprintf(out, "! %v\n", ev.Err)
			}
		}
		stopOnCancel()
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printReply(out io.Writer, text string, t tutor.Teaching) {
	if r, ok := tutor.AsResponse(t); ok {
		printTeaching(out, r)
		return
	}
	fmt.Fprintf(out, "vaani: %s\n", text)
}

func appendTurn(ctx context.Context, store conversation.Store, convID, user, assistant string) error {
	if _, err := store.AppendMessage(ctx, convID, conversation.Message{Role: conversation.RoleUser, Content: user}); err != nil {
		return err
	}
	_, err := store.AppendMessage(ctx, convID, conversation.Message{Role: conversation.RoleAssistant, Content: assistant})
	return err
}
