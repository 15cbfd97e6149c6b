package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/szaher/minime/internal/rag"
)

type ingestOptions struct {
	dryRun bool
}

func newIngestCmd() *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Export the Notion knowledge base into the document index",
		Long: `Reads every page of the configured Notion database, renders its blocks
as markdown and upserts one record per page into the Pinecone index that
search_docs queries. Records are keyed by page id, so re-running refreshes
edited pages in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			rc := d.cfg.RAG
			if rc.NotionAPIKey == "" || rc.NotionDatabaseID == "" {
				return errors.New("ingest needs rag.notion_api_key and rag.notion_database_id")
			}
			src := rag.NewNotionSource(rc.NotionAPIKey, rc.NotionDatabaseID, rc.NotionTitleProperty)

			if opts.dryRun {
				docs, err := src.Documents(ctx)
				if err != nil {
					return err
				}
				for _, doc := range docs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d chars\n", doc.ID, doc.Title, len(doc.Text))
				}
				return nil
			}

			if rc.IndexHost == "" || rc.PineconeAPIKey == "" {
				return errors.New("ingest needs rag.index_host and rag.pinecone_api_key")
			}
			index, err := d.index()
			if err != nil {
				return err
			}
			n, err := rag.Ingest(ctx, src, index, d.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d records into %s\n", n, rc.Namespace)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "List the exported pages without writing to the index")
	return cmd
}
