package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mev-engine/mev-opportunity-engine/internal/app"
	"github.com/mev-engine/mev-opportunity-engine/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the opportunity engine",
	Long: `Start the opportunity engine to begin decoding pending swaps and
detecting opportunities. The engine runs continuously until stopped.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().String("bind", "", "bind address for API server (overrides config)")
	startCmd.Flags().Int("port", 0, "port for API server (overrides config)")
	startCmd.Flags().String("rpc-url", "", "chain RPC endpoint (overrides config)")
	startCmd.Flags().String("ws-url", "", "chain websocket endpoint (overrides config)")

	viper.BindPFlag("server.host", startCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", startCmd.Flags().Lookup("port"))
	viper.BindPFlag("chain.rpc_url", startCmd.Flags().Lookup("rpc-url"))
	viper.BindPFlag("chain.ws_url", startCmd.Flags().Lookup("ws-url"))
}

func runStart(cmd *cobra.Command, args []string) error {
	fmt.Println("🚀 Starting opportunity engine...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if viper.GetBool("debug") {
		fmt.Printf("Configuration loaded: %+v\n", cfg)
	}

	// Create application with dependency injection
	engine := fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
		),
		app.Module,
		fx.Invoke(func(lifecycle fx.Lifecycle, application *app.Application) {
			lifecycle.Append(fx.Hook{
				OnStart: application.Start,
				OnStop:  application.Stop,
			})
		}),
	)

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\n🛑 Shutdown signal received, stopping engine...")
		cancel()
	}()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	// Wait for shutdown
	<-ctx.Done()

	if err := engine.Stop(context.Background()); err != nil {
		fmt.Printf("⚠️  Error during shutdown: %v\n", err)
	}

	fmt.Println("✅ Opportunity engine stopped")
	return nil
}
