package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/neilberkman/querychat/internal/core/config"
	"github.com/neilberkman/querychat/internal/core/db"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show configuration and storage details",
	Long: `Show where querychat keeps its chats, which server it talks to,
and the size of each stored entry.`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	cfg := a.Config
	fmt.Println("Configuration")
	fmt.Println("=============")
	if cfg.LoadedAt != "" {
		fmt.Printf("Config File:    %s\n", cfg.LoadedAt)
	} else {
		fmt.Printf("Config File:    (defaults)\n")
	}
	fmt.Printf("Server:         %s\n", cfg.BackendURL)
	fmt.Printf("Timeout:        %s\n", cfg.Timeout)
	fmt.Printf("Messages/Chat:  %d\n", cfg.MaxMessages)
	fmt.Printf("Max File Size:  %s\n", humanize.IBytes(uint64(cfg.MaxFileBytes)))
	fmt.Println()

	fmt.Println("Storage")
	fmt.Println("=======")
	fmt.Printf("Backend:        %s\n", cfg.Storage)

	if cfg.Storage == config.StorageRedis {
		fmt.Printf("Address:        %s\n", cfg.Redis.Addr)
		fmt.Printf("Key Prefix:     %s\n", cfg.Redis.Prefix)
		if cfg.Redis.TTL > 0 {
			fmt.Printf("Expiry:         %s\n", cfg.Redis.TTL)
		}
		return nil
	}

	fmt.Printf("Location:       %s\n", cfg.DBPath)
	if fi, err := os.Stat(cfg.DBPath); err == nil {
		fmt.Printf("Size:           %s\n", humanize.Bytes(uint64(fi.Size())))
	}

	database := a.Database()
	if database == nil {
		return nil
	}
	entries, err := database.KV(db.ScopeDurable).Entries(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Printf("%-20s %10s  %s\n", "KEY", "SIZE", "UPDATED")
	for _, e := range entries {
		fmt.Printf("%-20s %10s  %s\n", e.Key, humanize.Bytes(uint64(e.Size)), formatTimestamp(e.UpdatedAt))
	}
	return nil
}
