package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/hospital-agent/internal/llm"
	"github.com/MimeLyc/hospital-agent/internal/tools"
)

func newToolsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalog offered to the model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := tools.DefaultRegistry()
			if err != nil {
				return err
			}
			return printTools(cmd.OutOrStdout(), registry, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, yaml or schema")
	return cmd
}

func printTools(w io.Writer, registry *tools.Registry, format string) error {
	switch format {
	case "text":
		for _, def := range registry.All() {
			required := def.RequiredParams()
			line := fmt.Sprintf("%-24s GET %s", def.Name, def.Endpoint)
			if len(required) > 0 {
				line += "  (requires " + strings.Join(required, ", ") + ")"
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(map[string]any{"tools": registry.All()})
	case "schema":
		schemas := make(map[string]json.RawMessage, registry.Count())
		for _, def := range registry.All() {
			schemas[def.Name] = def.SchemaJSON()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(schemas)
	default:
		return errors.Errorf("unknown format %q", format)
	}
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the configured LLM provider accepts the credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if err := cfg.ValidateCredential(); err != nil {
				return err
			}
			client, err := llm.New(cfg.LLM, nil)
			if err != nil {
				return err
			}
			pinger, ok := client.(llm.Pinger)
			if !ok {
				return errors.Errorf("provider %s does not support connectivity checks", client.Name())
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.LLM.Timeout)
			defer cancel()

			start := time.Now()
			if err := pinger.Ping(ctx); err != nil {
				return errors.Wrapf(err, "ping %s", client.Name())
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s reachable in %s\n", client.Name(), time.Since(start).Round(time.Millisecond))
			return err
		},
	}
}
