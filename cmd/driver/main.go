package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/core"
	"tiny_mvcc/pkg/db"
	"tiny_mvcc/pkg/logger"
	"tiny_mvcc/pkg/metrics"
	"tiny_mvcc/pkg/txn"
)

func main() {
	backend := flag.String("backend", "memory", "storage backend: memory, sqlite or mmap")
	path := flag.String("path", "tiny_mvcc.db", "database file for the sqlite and mmap backends")
	jsonLogs := flag.Bool("json", false, "log as JSON")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	flag.Parse()

	log := logger.NewText(os.Stderr, slog.LevelInfo)
	if *jsonLogs {
		log = logger.NewJSON(os.Stderr, slog.LevelInfo)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewPrometheus("tiny_mvcc", registry)
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	opts := []db.Option{db.WithLogger(log), db.WithMetrics(collector)}
	switch *backend {
	case "sqlite":
		opts = append(opts, db.WithSqlite(*path))
	case "mmap":
		opts = append(opts, db.WithMmap(*path))
	}

	ctx := context.Background()
	database, err := db.Open(ctx, opts...)
	if err != nil {
		panic(err)
	}
	defer database.Close()

	// Test 1:  Normal Read and Write
	first, err := database.Update(ctx, func(c *txn.CommandTxn) error {
		return c.Set([]byte("HDD"), []byte("Hard disk"))
	})
	if err != nil {
		panic(err)
	}

	_, err = database.Update(ctx, func(c *txn.CommandTxn) error {
		return c.Set([]byte("HDD"), []byte("Hard disk drive"))
	})
	if err != nil {
		panic(err)
	}
	printKey(database, "HDD")

	// Test 2: Conflict
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := database.Update(ctx, func(c *txn.CommandTxn) error {
			_, _, _ = c.Get([]byte("HDD"))
			_ = c.Set([]byte("SSD"), []byte("Solid state drive"))
			time.Sleep(25 * time.Millisecond)
			return nil
		})
		if !errors.Is(err, core.TxnConflictErr) {
			panic(fmt.Sprintf("expected a conflict, got %v", err))
		}
	}()

	go func() {
		defer wg.Done()
		_, err := database.Update(ctx, func(c *txn.CommandTxn) error {
			_ = c.Set([]byte("HDD"), []byte("Hard disk"))
			time.Sleep(10 * time.Millisecond)
			return nil
		})
		if err != nil {
			panic(err)
		}
	}()
	wg.Wait()
	printKey(database, "HDD")

	// Test 3: Time travel
	past, err := database.BeginQueryAt(first)
	if err != nil {
		panic(err)
	}
	value, _, _ := past.Get([]byte("HDD"))
	fmt.Printf("HDD@%d = %s\n", first, value)
	past.Done()

	// Test 4: Change data capture
	consumer, err := database.NewConsumer(cdc.DefaultPollConsumerConfig("driver"), func(_ context.Context, records []cdc.Cdc) error {
		for _, record := range records {
			for _, change := range record.Changes {
				fmt.Printf("cdc %d/%d %s %s: %q -> %q\n", record.Version, change.Sequence,
					change.Change.Kind, change.Change.Key, change.Change.Pre, change.Change.Post)
			}
		}
		return nil
	})
	if err != nil {
		panic(err)
	}
	if _, err := consumer.PollOnce(ctx); err != nil {
		panic(err)
	}

	// Test 5: Retention
	result, err := database.Sweep(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("sweep below %d removed %d versions and %d cdc records\n",
		result.Bound, result.VersionsRemoved, result.CdcRemoved)
}

func printKey(database *db.Db, key string) {
	_ = database.View(func(q *txn.QueryTxn) error {
		value, exists, err := q.Get([]byte(key))
		if err != nil {
			return err
		}
		fmt.Println(exists)
		fmt.Println(string(value))
		return nil
	})
}
