package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drummonds/pdf2pics/engine"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List and manage named collections of PDFs",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list [name]",
	Short: "List collection names, or the members of one collection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := commandApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			if a.orchestrator.Collections == nil {
				return errors.New("no collections configured, set COLLECTIONS_FILE or DATABASE_TYPE")
			}
			members, err := a.orchestrator.Collections.ListCollection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, member := range members {
				fmt.Fprintln(out, member)
			}
			return nil
		}

		names, err := a.collectionNames(cmd)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	},
}

var collectionsSaveCmd = &cobra.Command{
	Use:   "save <name> <pdf>...",
	Short: "Create or replace a collection in the database",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := commandApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.repository == nil {
			return errors.New("saving collections needs DATABASE_TYPE to be set")
		}
		if err := a.repository.SaveCollection(cmd.Context(), args[0], args[1:]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved collection %s with %d members\n", args[0], len(args)-1)
		return nil
	},
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection from the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := commandApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.repository == nil {
			return errors.New("deleting collections needs DATABASE_TYPE to be set")
		}
		if err := a.repository.DeleteCollection(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted collection %s\n", args[0])
		return nil
	},
}

func init() {
	collectionsCmd.AddCommand(collectionsListCmd, collectionsSaveCmd, collectionsDeleteCmd)
}

func commandApp(cmd *cobra.Command) (*app, error) {
	cfg, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func (a *app) collectionNames(cmd *cobra.Command) ([]string, error) {
	lister, ok := a.orchestrator.Collections.(engine.CollectionLister)
	if !ok {
		return nil, nil
	}
	return lister.CollectionNames(cmd.Context())
}
