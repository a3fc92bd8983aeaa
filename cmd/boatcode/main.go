// Command boatcode encodes, decodes and renders boat configurator codes
// offline, using the same codec as the portal API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/runferry/portal/internal/configurator"
	"github.com/runferry/portal/model"
)

const defaultBaseURL = "https://runferry.com.ua/configurator"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "boatcode",
		Short:         "Work with boat configurator codes",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("base-url", defaultBaseURL, "public configurator URL used for share links")
	root.AddCommand(newEncodeCmd(), newDecodeCmd(), newQRCmd(), newPalettesCmd())
	return root
}

func newEncodeCmd() *cobra.Command {
	var lenient bool
	cmd := &cobra.Command{
		Use:   "encode [configuration.json]",
		Short: "Encode a configuration read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var c configurator.Configuration
			if err := json.NewDecoder(in).Decode(&c); err != nil {
				return fmt.Errorf("reading configuration: %w", err)
			}
			if !lenient {
				if err := configurator.Validate(c); err != nil {
					return describe(err)
				}
			}
			code, err := configurator.Encode(c)
			if err != nil {
				return describe(err)
			}
			base, _ := cmd.Flags().GetString("base-url")
			fmt.Fprintln(cmd.OutOrStdout(), code)
			fmt.Fprintln(cmd.OutOrStdout(), configurator.ShareURL(base, code))
			return nil
		},
	}
	cmd.Flags().BoolVar(&lenient, "lenient", false, "skip palette and sticker set checks")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	var resolved bool
	cmd := &cobra.Command{
		Use:   "decode CODE",
		Short: "Decode a code into its configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := configurator.Decode(args[0])
			if err != nil {
				return describe(err)
			}
			var out any = c
			if resolved {
				out = struct {
					Code          string                     `json:"code"`
					Configuration configurator.Configuration `json:"configuration"`
					Resolved      configurator.Resolved      `json:"resolved"`
				}{configurator.Normalize(args[0]), c, configurator.Resolve(c)}
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&resolved, "resolved", false, "include palette colors")
	return cmd
}

func newQRCmd() *cobra.Command {
	var (
		output string
		size   int
	)
	cmd := &cobra.Command{
		Use:   "qr CODE",
		Short: "Render the share link of a code as a PNG QR code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := configurator.Decode(args[0]); err != nil {
				return describe(err)
			}
			base, _ := cmd.Flags().GetString("base-url")
			png, err := configurator.QRPNG(base, args[0], size)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(png)
				return err
			}
			return os.WriteFile(output, png, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().IntVar(&size, "size", 256, "image size in pixels")
	return cmd
}

func newPalettesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "palettes",
		Short: "Print the hull colors, sticker colors and sticker sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), configurator.Catalogue())
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describe flattens an error envelope and its field details into one error.
func describe(err error) error {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		return err
	}
	msg := ee.Code + ": " + ee.Message
	for _, d := range ee.Details {
		msg += fmt.Sprintf("\n  %s: %s", d.Field, d.Message)
	}
	return fmt.Errorf("%s", msg)
}
