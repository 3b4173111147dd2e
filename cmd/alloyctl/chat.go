package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dreamware/alloy/pkg/alloy"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		model   string
		message string
		system  string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send one chat message and print the reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := &alloy.ChatRequest{Model: model}
			if system != "" {
				req.Messages = append(req.Messages, alloy.Message{Role: "system", Content: system})
			}
			req.Messages = append(req.Messages, alloy.Message{Role: "user", Content: message})

			resp, err := a.manager.Chat(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(a, resp)
			}
			_, err = fmt.Fprintln(a.out, resp.Message.Content)
			return err
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model id")
	cmd.Flags().StringVarP(&message, "message", "m", "", "user message")
	cmd.Flags().StringVar(&system, "system", "", "optional system prompt")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
