// Package midras is a Go client for the midras multi-vector (ColBERT-style)
// embedding service, with a pluggable vector store for indexing and search.
//
// Two facades share one engine and behave identically apart from their
// concurrency model:
//
//	client, _ := midras.New(apiKey)
//	defer client.Close()
//	resp, _ := client.EmbedPDF(ctx, "report.pdf", 10, false)
//	_, _ = client.CreateIndex(ctx, "reports")
//	for i, emb := range resp.Embeddings {
//	    _, _ = client.AddPoint(ctx, "reports", midras.IntID(int64(i+1)), emb, map[string]any{"page": i + 1})
//	}
//	matches, _ := client.Query(ctx, "reports", "quarterly revenue", 5)
//
// The cooperative facade returns futures:
//
//	ac, _ := midras.NewAsync(apiKey, midras.WithConcurrentBatches(4))
//	defer ac.Close()
//	resp, err := ac.EmbedPDF(ctx, "report.pdf", 10, false).Await(ctx)
//
// A Client only accepts a blocking vectorstore.Store and an AsyncClient only
// a cooperative vectorstore.AsyncStore; wrap a goroutine-safe Store with
// vectorstore.Async to use it from an AsyncClient.
package midras
