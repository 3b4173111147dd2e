package main

import (
	"github.com/spf13/cobra"

	"github.com/dreamware/alloy/pkg/alloy"
)

func newAudioCmd(a *app) *cobra.Command {
	req := &alloy.AudioRequest{}

	cmd := &cobra.Command{
		Use:   "audio",
		Short: "Synthesise speech and print the JSON result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := a.manager.Audio(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(a, resp)
		},
	}

	cmd.Flags().StringVar(&req.ModelID, "model", "", "model id")
	cmd.Flags().StringVarP(&req.Text, "text", "t", "", "text to speak")
	cmd.Flags().StringVar(&req.Speaker, "speaker", "", "speaker voice")
	cmd.Flags().StringVar(&req.Language, "language", "", "language code")
	cmd.Flags().StringVar(&req.Instruct, "instruct", "", "style instruction")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
