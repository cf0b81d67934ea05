// Command bridgebot relays conversations between two remote chat bots.
package main

import (
	"fmt"
	"io"
	"os"

	"bridgebot/internal/bridge"
	"bridgebot/internal/config"
	"bridgebot/internal/logging"
	"bridgebot/internal/perception"
	"bridgebot/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose        bool
	configPath     string
	conversationID string

	// Loaded by PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bridgebot",
	Short: "Relay a conversation between two chat bots",
	Long: `bridgebot relays turns between two remote chat-completion bots: each bot's reply
becomes the other's next prompt until a turn count, a stop token or a safety cap ends
the session.

Commands accepted by serve and send:
  /bridge <botA> <botB> [turns|auto]: <topic>
  /reflect <question>
  reset
  ping`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		if verbose {
			loaded.Logging.Level = "debug"
		}

		logger, err = logging.Initialize(logging.Options{
			Level:      loaded.Logging.Level,
			Format:     loaded.Logging.Format,
			Categories: loaded.Logging.Categories,
		})
		if err != nil {
			return err
		}
		cfg = loaded
		logger.Debug("configuration loaded",
			zap.String("path", configPath),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("memory_backend", cfg.Memory.Backend))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&conversationID, "conversation", "", "Conversation id (default: a new id per run)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildService wires the remote client, the session store and the dispatcher.
// The returned closer releases the store.
func buildService(cfg *config.Config) (*bridge.Service, func(), error) {
	client, err := perception.NewClientFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	client = perception.NewTracingClient(client, perception.LogTrace)

	sessions, err := store.New(cfg.Memory.Backend, cfg.Memory.MaxHistory)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if c, ok := sessions.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logging.Get(logging.CategoryBoot).Warn("closing session store: %v", err)
			}
		}
	}
	logging.Boot("service ready: provider=%s memory=%s max_history=%d",
		cfg.LLM.Provider, cfg.Memory.Backend, cfg.Memory.MaxHistory)
	return bridge.NewService(client, sessions, cfg), closer, nil
}
