package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dreamware/alloy/pkg/alloy"
)

func newImageCmd(a *app) *cobra.Command {
	var (
		model  string
		prompt string
		outDir string
		params map[string]string
	)

	cmd := &cobra.Command{
		Use:   "image",
		Short: "Generate images and write them to a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := &alloy.ImageRequest{
				ModelID:      model,
				Prompt:       prompt,
				Params:       parseParams(params),
				DecodeImages: outDir != "",
			}
			resp, err := a.manager.Image(cmd.Context(), req)
			if err != nil {
				return err
			}

			if outDir == "" {
				return printJSON(a, resp.Fields)
			}
			if len(resp.Images) == 0 {
				return fmt.Errorf("image response from model %s contained no images", model)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			for i, img := range resp.Images {
				path := filepath.Join(outDir, fmt.Sprintf("image-%d.png", i))
				if err := os.WriteFile(path, img, 0o644); err != nil {
					return err
				}
				fmt.Fprintln(a.out, path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model id")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "image prompt")
	cmd.Flags().StringVar(&outDir, "out", "", "directory for decoded images; prints raw JSON when empty")
	cmd.Flags().StringToStringVar(&params, "param", nil, "extra request field as key=value, repeatable")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

// parseParams turns key=value flags into JSON values: numbers, booleans and
// JSON literals keep their type, anything else stays a string.
func parseParams(raw map[string]string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = n
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
			continue
		}
		var decoded any
		if json.Unmarshal([]byte(v), &decoded) == nil {
			out[k] = decoded
			continue
		}
		out[k] = v
	}
	return out
}
