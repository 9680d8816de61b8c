package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pushchain/payout-relay/relayer/config"
	"github.com/pushchain/payout-relay/relayer/constant"
	"github.com/pushchain/payout-relay/relayer/core"
	"github.com/pushchain/payout-relay/relayer/logger"
	"github.com/pushchain/payout-relay/relayer/txlog"
)

// Set with -ldflags "-X main.Version=... -X main.Commit=..."
var (
	Version = "dev"
	Commit  = ""
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(txLogCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Listen for purchases and send payouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(homeDir)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			secrets, err := config.LoadSecrets()
			if err != nil {
				return err
			}

			log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := core.NewRelayClient(ctx, &cfg, secrets, core.Dependencies{}, log)
			if err != nil {
				return err
			}
			defer client.Close()

			return client.Start(ctx)
		},
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(homeDir, constant.ConfigSubdir, constant.ConfigFileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}

			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			if err := config.Save(cfg, homeDir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📝 Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func txLogCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tx-log",
		Short: "Print the relay log of terminal payout outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(homeDir)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			entries, err := txlog.Read(cfg.ResolvedTxLogPath())
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(cmd.OutOrStdout(), "no payouts recorded yet")
					return nil
				}
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			return printEntries(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the log as a JSON array")
	return cmd
}

func printEntries(out io.Writer, entries []txlog.Entry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTATUS\tBUYER\tPAYOUT (wei)\tSOURCE TX\tDEST TX\tREASON")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s:%d\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Status, e.Buyer, e.PayoutAmount,
			e.SourceTxHash, e.LogIndex, e.DestTxHash, e.Reason)
	}
	return w.Flush()
}

func statusCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				cfg, err := config.LoadOrDefault(homeDir)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				url = fmt.Sprintf("http://localhost:%d", cfg.QueryServerPort)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/status", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("relay not reachable at %s: %w", url, err)
			}
			defer resp.Body.Close()

			var body json.RawMessage
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("failed to decode status: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("relay returned %s: %s", resp.Status, body)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(body)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "query server base URL (default from config)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print payoutrelayd version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Name:    %s\n", "payoutrelayd")
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit:  %s\n", Commit)
		},
	}
}
