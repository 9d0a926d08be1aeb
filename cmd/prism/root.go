package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/prism/dynamo"
	"github.com/jacentio/prism/gcpfirestore"
	"github.com/jacentio/prism/mem"
	"github.com/jacentio/prism/store"
)

const version = "0.3.0"

var (
	dataStore *store.Store

	rootCmd = &cobra.Command{
		Use:   "prism",
		Short: "document store client",
		Long: fmt.Sprintf(`prism (v%s)

A client for prism document stores. Paths are slash-delimited: an even
number of segments addresses a document (users/u1), an odd number a
collection (users). Documents are JSON objects on stdin/stdout.`, version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of prism",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("prism v%s\n", version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("backend", "mem", "backend to use (mem, dynamo, firestore)")
	rootCmd.PersistentFlags().String("table", "", "DynamoDB table name (dynamo backend)")
	rootCmd.PersistentFlags().Int("shards", 1, "number of partition-key shards per collection (dynamo backend)")
	rootCmd.PersistentFlags().Duration("poll-interval", 250*time.Millisecond, "watch poll interval (dynamo backend)")
	rootCmd.PersistentFlags().String("project", "", "GCP project ID (firestore backend)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig loads .env files and binds PRISM_* environment variables, so
// PRISM_TABLE=documents works the same as --table documents.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("prism")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// setupStore opens the configured backend and wraps it in the facade. It
// runs as PersistentPreRunE on every data command.
func setupStore(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return err
	}

	ctx := cmd.Context()
	backend := viper.GetString("backend")

	switch backend {
	case "mem":
		dataStore = store.New(mem.New(), store.Config{})
	case "dynamo":
		table := viper.GetString("table")
		if table == "" {
			return fmt.Errorf("dynamo backend requires --table or PRISM_TABLE")
		}
		conn, err := dynamo.Open(ctx, dynamo.Config{
			Table:        table,
			NumShards:    viper.GetInt("shards"),
			PollInterval: viper.GetDuration("poll-interval"),
		})
		if err != nil {
			return fmt.Errorf("open dynamo backend: %w", err)
		}
		dataStore = store.New(conn, store.Config{})
	case "firestore":
		project := viper.GetString("project")
		if project == "" {
			return fmt.Errorf("firestore backend requires --project or PRISM_PROJECT")
		}
		conn, err := gcpfirestore.Open(ctx, project)
		if err != nil {
			return fmt.Errorf("open firestore backend: %w", err)
		}
		dataStore = store.New(conn, store.Config{})
	default:
		return fmt.Errorf("invalid backend %s (expected one of: mem, dynamo, firestore)", backend)
	}
	return nil
}

// teardownStore closes the backend after the command finishes.
func teardownStore(cmd *cobra.Command, _ []string) error {
	if dataStore == nil {
		return nil
	}
	return dataStore.Close()
}
