// Command cachectl inspects and maintains a persisted cache store without
// starting the agent.
//
//	cachectl stats
//	cachectl list [-expired=true|false]
//	cachectl clear
//	cachectl sweep
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/onnwee/event-companion/backend/internal/cache"
	"github.com/onnwee/event-companion/backend/internal/config"
	"github.com/onnwee/event-companion/backend/internal/logger"
	"github.com/onnwee/event-companion/backend/internal/store"
)

const usage = "usage: cachectl <stats|list|clear|sweep> [flags]"

var errUsage = errors.New(usage)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	// logs go to stderr so stdout stays machine readable
	logger.InitWithWriter(cfg.LogLevel, os.Stderr)

	if err := run(context.Background(), cfg, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type statsOutput struct {
	Prefix      string `json:"prefix"`
	Entries     int    `json:"entries"`
	Expired     int    `json:"expired"`
	Bytes       int64  `json:"bytes"`
	BudgetBytes int64  `json:"budget_bytes"`
}

func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	expired := fs.String("expired", "", "list only expired (true) or live (false) entries")
	if err := fs.Parse(rest); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}

	st, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	engine := cache.New(st, cache.Options{
		Prefix:        cfg.CacheKeyPrefix,
		MaxBytes:      cfg.CacheMaxBytes,
		EvictFraction: cfg.CacheEvictFraction,
	})

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch cmd {
	case "stats":
		entries := engine.Metadata(ctx)
		o := statsOutput{Prefix: engine.Prefix(), Entries: len(entries), BudgetBytes: engine.MaxBytes()}
		for _, m := range entries {
			o.Bytes += m.Size
			if m.Expired {
				o.Expired++
			}
		}
		return enc.Encode(o)
	case "list":
		entries := engine.Metadata(ctx)
		if *expired != "" {
			want, err := strconv.ParseBool(*expired)
			if err != nil {
				return fmt.Errorf("list: invalid -expired value %q", *expired)
			}
			kept := entries[:0]
			for _, m := range entries {
				if m.Expired == want {
					kept = append(kept, m)
				}
			}
			entries = kept
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
		if entries == nil {
			entries = []cache.Metadata{}
		}
		return enc.Encode(entries)
	case "clear":
		n := len(engine.Metadata(ctx))
		if !engine.ClearAll(ctx) {
			return errors.New("clear: store rejected the operation")
		}
		return enc.Encode(map[string]int{"removed": n})
	case "sweep":
		return enc.Encode(map[string]int{"removed": engine.SweepExpired(ctx)})
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}
