/*
Package storage holds lines received by the development sink.

Two backends implement Storage:
  - memory: bounded in-memory slice, the default
  - badger: BadgerDB (LSM tree + Snappy compression), enabled with --data-dir

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	err = store.Write(ctx, []metrics.Metric{
	    {Name: "api.requests", Type: metrics.CounterType, Value: 1, Timestamp: time.Now()},
	})

	lines, err := store.Query(ctx, storage.QueryRequest{
	    Start: time.Now().Add(-time.Hour),
	    Names: []string{"api.requests"},
	    Limit: 100,
	})

Queries return lines oldest first. Names and Types filters are ORed
within themselves and ANDed with each other and the time range.
*/
package storage
