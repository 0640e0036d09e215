// Package indexer rebuilds the searchable corpus.
//
// A refresh runs four stages:
//
//  1. Fetch: the configured fetcher.Fetcher returns every source page
//  2. Extract: pages become types.Document values (parallel, Config.Workers)
//  3. Embed: documents are embedded in batches of Config.BatchSize
//  4. Store: each batch is upserted inside one storage transaction
//
// Documents are keyed by a stable id derived from their path, so running
// Refresh again replaces rows instead of duplicating them. Documents removed
// upstream are not deleted.
//
// # Basic Usage
//
//	idx := indexer.New(f, emb, store, indexer.WithConfig(indexer.Config{Workers: 4}))
//	stats, err := idx.Refresh(ctx)
//	if errors.Is(err, indexer.ErrRefreshInProgress) {
//	    // another refresh is running
//	}
//	fmt.Printf("indexed %d of %d, %d failed\n", stats.Indexed, stats.Fetched, stats.Failed)
//
// # Error Handling
//
// Per-page problems (fetch error, unparseable frontmatter, store rejection)
// are counted in Statistics.Failed and listed in Statistics.ErrorMessages.
// A failed embedding batch is logged and its documents are stored without a
// vector. Refresh only returns an error when the corpus cannot be fetched,
// the context is canceled, or a transaction cannot be committed.
package indexer
