// File: cmd/tools.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Dimmmas28/wabe/internal/config"
	"github.com/Dimmmas28/wabe/internal/harness"
	"github.com/Dimmmas28/wabe/internal/observability"
)

// newToolsCmd creates the `tools` command, which starts a tool server and
// prints the catalogue it advertises.
func newToolsCmd(launcher func(config.ToolServerConfig) harness.SessionFactory) *cobra.Command {
	var asJSON bool

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools advertised by the browser tool server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return listTools(ctx, observability.GetLogger(), launcher(cfg.ToolServer()), asJSON, cmd.OutOrStdout())
		},
	}

	toolsCmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw tool schemas as JSON.")
	return toolsCmd
}

func listTools(ctx context.Context, logger *zap.Logger, launch harness.SessionFactory, asJSON bool, out io.Writer) error {
	session, err := launch(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to start tool server: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			logger.Warn("Tool server shutdown reported an error", zap.Error(err))
		}
	}()

	tools, err := session.ListTools(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	if asJSON {
		data, err := json.MarshalIndent(tools, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize tools: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	fmt.Fprintln(out, harness.ToolsSection(tools))
	return nil
}
