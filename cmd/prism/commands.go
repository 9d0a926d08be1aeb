package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/prism/docpath"
	"github.com/jacentio/prism/store"
)

// readDocument parses one JSON document from args[i] if present, otherwise
// from stdin.
func readDocument(args []string, i int) (store.Document, error) {
	var raw []byte
	if len(args) > i {
		raw = []byte(args[i])
	} else {
		var err error
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
	}
	var doc store.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func printDocument(doc store.Document) error {
	out, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var (
	createCmd = &cobra.Command{
		Use:                "create [collection] [json]",
		Short:              "Creates a document with a backend-assigned id",
		Args:               cobra.RangeArgs(1, 2),
		PersistentPreRunE:  setupStore,
		PersistentPostRunE: teardownStore,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args, 1)
			if err != nil {
				return err
			}
			created, err := dataStore.Create(cmd.Context(), args[0], doc)
			if err != nil {
				return err
			}
			return printDocument(created)
		},
	}

	getCmd = &cobra.Command{
		Use:                "get [path]",
		Short:              "Reads the document at a path",
		Args:               cobra.ExactArgs(1),
		PersistentPreRunE:  setupStore,
		PersistentPostRunE: teardownStore,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := dataStore.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if doc == nil {
				return fmt.Errorf("no document at %s", args[0])
			}
			return printDocument(doc)
		},
	}

	setCmd = &cobra.Command{
		Use:                "set [path] [json]",
		Short:              "Writes the full document at a path, creating or overwriting it",
		Args:               cobra.RangeArgs(1, 2),
		PersistentPreRunE:  setupStore,
		PersistentPostRunE: teardownStore,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args, 1)
			if err != nil {
				return err
			}
			if err := dataStore.Set(cmd.Context(), args[0], doc); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}

	updateCmd = &cobra.Command{
		Use:                "update [path] [json]",
		Short:              "Merges fields into an existing document",
		Args:               cobra.RangeArgs(1, 2),
		PersistentPreRunE:  setupStore,
		PersistentPostRunE: teardownStore,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args, 1)
			if err != nil {
				return err
			}
			if err := dataStore.Update(cmd.Context(), args[0], doc); err != nil {
				return err
			}
			fmt.Println("update successfully")
			return nil
		},
	}

	deleteCmd = &cobra.Command{
		Use:                "delete [path]",
		Short:              "Deletes the document at a path",
		Args:               cobra.ExactArgs(1),
		PersistentPreRunE:  setupStore,
		PersistentPostRunE: teardownStore,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dataStore.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}

	listCmd = &cobra.Command{
		Use:                "list [collection]",
		Short:              "Lists the documents of a collection, one JSON object per line",
		Args:               cobra.ExactArgs(1),
		PersistentPreRunE:  setupStore,
		PersistentPostRunE: teardownStore,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := store.ListOptions{
				OrderBy: viper.GetString("order-by"),
				Desc:    viper.GetBool("desc"),
				Limit:   viper.GetInt("limit"),
			}
			if cursor := viper.GetString("start-after"); cursor != "" {
				opts.StartAfterPath = cursor
			}
			docs, err := dataStore.ListAll(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			for _, doc := range docs {
				if err := printDocument(doc); err != nil {
					return err
				}
			}
			return nil
		},
	}

	watchCmd = &cobra.Command{
		Use:                "watch [path|collection]",
		Short:              "Streams document states as JSON lines until interrupted",
		Long:               "Streams the watched document (even segment count) or collection result set (odd segment count) as JSON lines, one emission per change, until SIGINT or SIGTERM.",
		Args:               cobra.ExactArgs(1),
		PersistentPreRunE:  setupStore,
		PersistentPostRunE: teardownStore,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			path := args[0]
			var stop func()
			var err error
			if docpath.IsDocument(path) {
				stop, err = dataStore.Watch(path).Subscribe(func(doc store.Document, err error) {
					emitWatch(doc, err)
				})
			} else {
				stop, err = dataStore.WatchAll(path, store.ListOptions{}).Subscribe(func(docs []store.Document, err error) {
					emitWatch(docs, err)
				})
			}
			if err != nil {
				return err
			}
			defer stop()

			<-ctx.Done()
			return nil
		},
	}

	mirrorCmd = &cobra.Command{
		Use:                "mirror [primary] [mirror...]",
		Short:              "Replicates the primary document to every mirror path",
		Args:               cobra.MinimumNArgs(2),
		PersistentPreRunE:  setupStore,
		PersistentPostRunE: teardownStore,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dataStore.Mirror(cmd.Context(), args[0], args[1:], nil); err != nil {
				return err
			}
			fmt.Println("mirror successfully")
			return nil
		},
	}
)

func init() {
	listCmd.Flags().String("order-by", "", "field to sort by (default: id order)")
	listCmd.Flags().Bool("desc", false, "sort from largest to smallest")
	listCmd.Flags().Int("limit", 0, "cap the number of results (0 = no cap)")
	listCmd.Flags().String("start-after", "", "document path to resume strictly after")
}

// emitWatch prints one watch emission as a JSON line. Errors go to stderr;
// the stream continues so transient backend errors are visible but not
// fatal to the terminal session.
func emitWatch(v any, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		return
	}
	out, merr := json.Marshal(v)
	if merr != nil {
		fmt.Fprintf(os.Stderr, "encode emission: %v\n", merr)
		return
	}
	fmt.Println(string(out))
}
