package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/epressworld/epress-sub000/config"
	"github.com/epressworld/epress-sub000/crypto"
	"github.com/epressworld/epress-sub000/server"
	"github.com/epressworld/epress-sub000/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "epress",
	Short: "Self-hosted federated publishing node",
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openStore reads the config and connects to the database. The caller
// must close the returned store.
func openStore(log *slog.Logger) (*config.Config, *store.Store, error) {
	cfg, err := config.ReadFromFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(store.Config{
		Driver:  cfg.Database.Driver,
		DSN:     cfg.Database.DSN,
		BlobDir: cfg.Storage.BlobDir,
		Log:     log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return cfg, st, nil
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Initialize the database, node identity and settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(false)

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			cfg := config.Default(filepath.Dir(configPath))
			if err := cfg.WriteToFile(configPath); err != nil {
				return err
			}
			fmt.Printf("Wrote default configuration to %s\n", configPath)
			fmt.Println("Fill in the [node] section (address, url, title) and run install again.")
			return nil
		}

		cfg, st, err := openStore(log)
		if err != nil {
			return err
		}
		defer st.Close()

		if cfg.Node.Address == "" || cfg.Node.URL == "" {
			return fmt.Errorf("config %s: node.address and node.url are required for install", configPath)
		}
		address, err := crypto.ChecksumAddress(cfg.Node.Address)
		if err != nil {
			return fmt.Errorf("config %s: node.address: %w", configPath, err)
		}

		ctx := cmd.Context()
		if self, err := st.Self(ctx); err == nil {
			fmt.Printf("Already installed as %s (%s)\n", self.Address, self.URL)
			return nil
		}

		node, err := st.CreateSelf(ctx, address, cfg.Node.URL, cfg.Node.Title, cfg.Node.Description)
		if err != nil {
			return err
		}

		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generating jwt secret: %w", err)
		}
		pushKey, err := crypto.GenerateKey()
		if err != nil {
			return err
		}

		settings := map[string]string{
			store.SettingJWTSecret:      hex.EncodeToString(secret),
			store.SettingPushPublicKey:  pushKey.Address().Hex(),
			store.SettingPushPrivateKey: pushKey.Hex(),
			store.SettingAllowFollow:    "true",
			store.SettingAllowComment:   "true",
			store.SettingEnableRSS:      "true",
		}
		for key, value := range settings {
			if err := st.SetSetting(ctx, key, value); err != nil {
				return err
			}
		}

		fmt.Printf("Installed node %s\n", node.Address)
		fmt.Printf("URL:   %s\n", node.URL)
		fmt.Printf("Title: %s\n", node.Title)
		return nil
	},
}

var serveVerbose bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the node",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(serveVerbose)

		cfg, st, err := openStore(log)
		if err != nil {
			return err
		}
		defer st.Close()

		self, err := st.Self(cmd.Context())
		if err != nil {
			return fmt.Errorf("node identity missing, run `epress install` first: %w", err)
		}

		srv, err := server.New(server.Config{
			ListenAddr:      cfg.ListenAddr,
			EnablePprof:     cfg.EnablePprof,
			PeerTimeout:     cfg.PeerTimeout(),
			CleanupInterval: cfg.CleanupInterval(),
			Log:             log,
		}, st)
		if err != nil {
			return err
		}

		log.Info("starting node",
			"address", self.Address,
			"url", self.URL,
			"listen", cfg.ListenAddr,
		)
		srv.RunInBackground()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop

		log.Info("shutting down")
		srv.Shutdown()
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete orphaned content rows and blobs once",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(false)

		_, st, err := openStore(log)
		if err != nil {
			return err
		}
		defer st.Close()

		report, err := st.CleanupOrphaned(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Scanned %d orphan candidates, deleted %d rows (%d with blobs)\n",
			report.TotalProcessed, report.DeletedCount, report.FileDeletedCount)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "epress.toml", "path to the configuration file")
	serveCmd.Flags().BoolVar(&serveVerbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanupCmd)
}
