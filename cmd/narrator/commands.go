package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/loqalabs/loqa-narrator/internal/narration"
	"github.com/loqalabs/loqa-narrator/internal/runtime"
	"github.com/spf13/cobra"
)

func newSayCmd(opts *options) *cobra.Command {
	var (
		voice        string
		audioPath    string
		captionsPath string
	)
	cmd := &cobra.Command{
		Use:   "say [TEXT]",
		Short: "Narrate TEXT (or stdin with -) into a WAV file and caption JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[0]
			if text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = strings.TrimSpace(string(data))
			}

			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			backends, err := runtime.BuildBackends(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer backends.Close()

			pipeline := runtime.NewPipeline(cfg, backends.Router, nil, logger)
			out, err := pipeline.Narrate(cmd.Context(), narration.Request{Text: text, Voice: voice})
			if err != nil {
				return fmt.Errorf("narrate (%s): %w", narration.ErrorKind(err), err)
			}

			if err := os.WriteFile(audioPath, out.Audio, 0o644); err != nil {
				return fmt.Errorf("write audio: %w", err)
			}

			payload, err := json.MarshalIndent(out.Captions, "", "  ")
			if err != nil {
				return fmt.Errorf("encode captions: %w", err)
			}
			if captionsPath == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
				return err
			}
			if err := os.WriteFile(captionsPath, append(payload, '\n'), 0o644); err != nil {
				return fmt.Errorf("write captions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %.2fs via %s (%s), %d captions\n",
				audioPath, out.AudioLengthSeconds, out.Backend, out.Language, len(out.Captions))
			return nil
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "voice or speaker name")
	cmd.Flags().StringVarP(&audioPath, "output", "o", "narration.wav", "WAV output path")
	cmd.Flags().StringVar(&captionsPath, "captions", "", "caption JSON output path (stdout when empty)")
	return cmd
}

func newVoicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices of the configured backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			backends, err := runtime.BuildBackends(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer backends.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tVOICE")
			for _, v := range backends.Local.Voices() {
				fmt.Fprintf(w, "local\t%s\n", v)
			}
			if backends.Remote != nil {
				for _, v := range backends.Remote.Voices() {
					fmt.Fprintf(w, "remote\t%s (speaker %d)\n", v, backends.Remote.SpeakerID(v))
				}
			}
			return w.Flush()
		},
	}
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe the remote synthesis engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			backends, err := runtime.BuildBackends(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer backends.Close()

			if backends.Remote == nil {
				return errors.New("no remote endpoint configured (set VOICEVOX_URL or remote.endpoint)")
			}
			speakers, err := backends.Remote.Speakers(cmd.Context())
			if err != nil {
				return fmt.Errorf("probe %s: %w", backends.Remote.Endpoint(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d speakers\n", backends.Remote.Endpoint(), len(speakers))
			for _, s := range speakers {
				for _, style := range s.Styles {
					fmt.Fprintf(cmd.OutOrStdout(), "  %3d  %s (%s)\n", style.ID, s.Name, style.Name)
				}
			}
			return nil
		},
	}
}
