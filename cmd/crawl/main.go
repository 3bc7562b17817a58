// Command crawl is a thin batch driver over the extraction engine: it
// reads a JSON list of sites, runs Engine.Extract across them with a
// bounded worker pool, and prints a JSON report. It is a caller of the
// library, not part of its contract.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"noticecrawler/config"
	"noticecrawler/engine"
	"noticecrawler/logging"
	"noticecrawler/store"
)

// Site is one row of the batch driver's input list.
type Site struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SiteReport is one site's outcome in the final report.
type SiteReport struct {
	Site    string `json:"site"`
	URL     string `json:"url"`
	Success bool   `json:"success"`
	Method  string `json:"method,omitempty"`
	Count   int    `json:"count"`
	Saved   int    `json:"saved,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report is the batch driver's top-level JSON output. RunID identifies
// this invocation so multiple reports can be correlated downstream
// (e.g. joined against the table store's crawled_at column).
type Report struct {
	RunID     string         `json:"run_id"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Methods   map[string]int `json:"methods"`
	Sites     []SiteReport   `json:"sites"`
}

func main() {
	var (
		sitesPath   string
		configPath  string
		concurrency int
		save        bool
		storeURL    string
		storeTable  string
		storeKey    string
	)

	root := &cobra.Command{
		Use:   "crawl",
		Short: "Run the notice-board extraction engine across a list of universities",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			sites, err := loadSites(sitesPath)
			if err != nil {
				return fmt.Errorf("loading site list: %w", err)
			}

			cfg, err := config.Load(ctx, configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			log, err := logging.New(cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			defer log.Sync() //nolint:errcheck

			eng, err := engine.New(cfg, nil, log)
			if err != nil {
				return fmt.Errorf("initializing engine: %w", err)
			}

			var st store.Store
			if save {
				st = store.NewTableClient(storeURL, storeTable, storeKey)
			}

			if concurrency <= 0 {
				concurrency = cfg.BatchSize
			}
			report := run(ctx, eng, st, sites, concurrency)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	root.Flags().StringVar(&sitesPath, "sites", "sites.json", "path to a JSON list of {name,url} sites")
	root.Flags().StringVar(&configPath, "config", "", "path to a config.pkl (defaults to the standard location)")
	root.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (defaults to batch_size)")
	root.Flags().BoolVar(&save, "save", false, "persist extracted notices to the configured table store")
	root.Flags().StringVar(&storeURL, "store-url", "", "table store base URL (e.g. a PostgREST /rest/v1 endpoint)")
	root.Flags().StringVar(&storeTable, "store-table", "university_notices", "table store table name")
	root.Flags().StringVar(&storeKey, "store-key", "", "table store API key")

	// Exit codes: 0 on completion even with partial per-site failures,
	// 1 on a fatal initialization error (bad config, unreadable site list).
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadSites(path string) ([]Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sites []Site
	if err := json.Unmarshal(data, &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// run feeds sites through a bounded worker pool and collects results.
func run(ctx context.Context, eng *engine.Engine, st store.Store, sites []Site, concurrency int) Report {
	jobs := make(chan Site)
	results := make(chan SiteReport)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for site := range jobs {
				results <- extractOne(ctx, eng, st, site)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, s := range sites {
			select {
			case jobs <- s:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	report := Report{RunID: uuid.NewString(), Total: len(sites), Methods: map[string]int{}}
	for r := range results {
		report.Sites = append(report.Sites, r)
		if r.Success {
			report.Succeeded++
			report.Methods[r.Method]++
		} else {
			report.Failed++
		}
	}
	return report
}

func extractOne(ctx context.Context, eng *engine.Engine, st store.Store, site Site) SiteReport {
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result := eng.Extract(callCtx, site.URL, site.Name)
	r := SiteReport{
		Site:    site.Name,
		URL:     site.URL,
		Success: result.Success,
		Method:  string(result.Method),
		Count:   len(result.Notices),
		Error:   result.Error,
	}
	if result.Success && st != nil {
		saved, err := st.Save(callCtx, site.Name, result.Notices)
		if err != nil {
			r.Error = err.Error()
		}
		r.Saved = saved
	}
	return r
}
