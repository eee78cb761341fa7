package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/intent-engine/internal/analysis"
	"github.com/untoldecay/intent-engine/internal/config"
	"github.com/untoldecay/intent-engine/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:     "mcp",
	GroupID: "workspace",
	Short:   "Run the tool server on stdin/stdout",
	Long: `Run the JSON-RPC 2.0 tool server: one request per line on stdin, one
response per line on stdout. Intended to be spawned by an AI coding
assistant; logs go to .intent-engine/mcp.log, never to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		proj, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		server := mcp.NewServer(proj, svc, sessionID(), os.Stdin, os.Stdout)

		// Analysis turns on by presence: endpoint, key, and model all set.
		if cfg := analysisConfig(); cfg.Enabled() {
			analyzer, err := analysis.New(cfg, svc.Store, stderrLogger())
			if err != nil {
				return err
			}
			server.SetAnalysisTrigger(analyzer)
		}

		return server.Serve(ctx)
	},
}

// analysisConfig assembles the analyzer settings from IE_LLM_ENDPOINT,
// IE_LLM_API_KEY, and IE_LLM_MODEL (config keys llm.*); the model falls
// back to analysis.model.
func analysisConfig() analysis.Config {
	cfg := analysis.Config{
		Endpoint: config.GetString("llm.endpoint"),
		APIKey:   config.GetString("llm.api-key"),
		Model:    config.GetString("llm.model"),
		Cooldown: config.GetDuration("analysis.cooldown"),
	}
	if cfg.Model == "" {
		cfg.Model = config.GetString("analysis.model")
	}
	return cfg
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
