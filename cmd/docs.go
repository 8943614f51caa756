package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List and manage indexed documents",
	Args:  cobra.NoArgs,
	RunE:  runDocsList,
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE:  runDocsList,
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete [doc_id]",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsDelete,
}

func init() {
	docsCmd.AddCommand(docsListCmd, docsDeleteCmd)
	rootCmd.AddCommand(docsCmd)
}

func runDocsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	records, closePool, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closePool()

	docs, err := records.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No documents.")
		return nil
	}
	for _, d := range docs {
		fmt.Printf("%s  %s  owner=%s  %s\n",
			d.ID, d.Filename, d.Owner, d.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runDocsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	records, closePool, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closePool()

	if err := records.DeleteDocument(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
