package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragon/ragon/pkg/logger"
	"github.com/ragon/ragon/pkg/version"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ragon",
		Short:         "RAGON knowledge gateway",
		Long:          "Serve the organizational knowledge base to MCP clients over SSE.",
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.String("env-file", ".env", "Path to the environment variables file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.Bool("log-source", false, "Include source file and line in logs")
	flags.Bool("debug", false, "Enable debug mode (sets log level to debug)")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		debug, err := cmd.Flags().GetBool("debug")
		if err != nil {
			return fmt.Errorf("failed to get debug flag: %w", err)
		}
		if debug {
			if err := cmd.Flags().Set("log-level", "debug"); err != nil {
				return err
			}
		}
		if _, err := loadEnvFile(cmd); err != nil {
			return err
		}
		level, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
		if err != nil {
			return err
		}
		log := logger.SetupLogger(level, logJSON, logSource)
		cmd.SetContext(logger.ContextWithLogger(cmd.Context(), log))
		return nil
	}

	root.AddCommand(
		ServeCmd(),
		ProbeCmd(),
		VersionCmd(),
	)
	return root
}
