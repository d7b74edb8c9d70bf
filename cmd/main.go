package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kcl-antivirus/internal/bootstrap"
	"kcl-antivirus/internal/config"
	"kcl-antivirus/internal/logging"
)

var (
	cfgFile string

	Version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "kcl-antivirus",
	Short: "KCLAntivirus raid and malware protection for Discord",
	Long: `KCLAntivirus scans attachments and links posted in Discord servers against
a file and URL reputation service, watches join and message bursts for raids,
and responds by deleting, timing out, warning or locking the server down.`,
	SilenceUsage: true,
	RunE:         runBot,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and start protecting servers",
	RunE:  runBot,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and print the effective settings",
	RunE:  runCheckConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("KCLAntivirus %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "config file (missing file means defaults plus environment)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	fmt.Println("Starting KCLAntivirus Advanced Protection System")

	b := bootstrap.New(cfgFile)
	if err := b.Initialize(); err != nil {
		return err
	}

	if err := b.Start(); err != nil {
		logging.Critical("Startup failed: %v", err)
		b.Stop()
		return err
	}

	logging.Info("KCLAntivirus is running. Press Ctrl+C to stop.")
	waitForShutdown()

	if err := b.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	fmt.Println("Shutdown complete")
	return nil
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration OK (%s)\n", cfgFile)
	fmt.Fprintf(out, "  bot token set:       %v\n", cfg.Bot.Token != "")
	fmt.Fprintf(out, "  reputation API key:  %v\n", cfg.Scanner.APIKey != "")
	fmt.Fprintf(out, "  database:            %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "  raid thresholds:     %d joins / %d messages in %s\n", cfg.Raid.JoinThreshold, cfg.Raid.MessageThreshold, cfg.Raid.Window)
	fmt.Fprintf(out, "  max file size:       %d MB\n", cfg.Scanner.MaxFileSizeMB)
	fmt.Fprintf(out, "  metrics:             %v (%s)\n", cfg.Metrics.Enabled, cfg.Metrics.Address)
	return nil
}

func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nShutdown signal received")
}
