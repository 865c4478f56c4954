// cmemory is the CLI entrypoint for the hybrid knowledge memory core: a
// thin wiring layer over internal/core, with subcommands for the record,
// retrieve, link, reflect, decay, restore, reindex, materialize and list
// operations of MemoryCore.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/vthunder/cmemory/internal/config"
	"github.com/vthunder/cmemory/internal/core"
	"github.com/vthunder/cmemory/internal/embedding"
	"github.com/vthunder/cmemory/internal/reasoner"
	"github.com/vthunder/cmemory/internal/retriever"
	"github.com/vthunder/cmemory/internal/types"
)

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfgPath := os.Getenv("CMEMORY_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	embedder := embedding.NewClient(cfg.OllamaBaseURL, cfg.EmbeddingModel)
	reasonerClient := reasoner.NewClient(cfg.OllamaBaseURL, cfg.ReasoningModel)

	mc, err := core.New(cfg, embedder, reasonerClient)
	if err != nil {
		log.Fatalf("core: %v", err)
	}
	defer mc.Close()

	ctx := context.Background()
	cmd, args := os.Args[1], os.Args[2:]

	var cmdErr error
	switch cmd {
	case "record":
		cmdErr = runRecord(ctx, mc, args)
	case "retrieve":
		cmdErr = runRetrieve(ctx, mc, args)
	case "link":
		cmdErr = runLink(mc, args)
	case "reflect":
		cmdErr = runReflect(ctx, mc, args)
	case "decay":
		cmdErr = runDecay(ctx, mc, args)
	case "restore":
		cmdErr = runRestore(ctx, mc, args)
	case "reindex":
		cmdErr = runReindex(ctx, mc, args)
	case "materialize":
		cmdErr = runMaterialize(ctx, mc, args)
	case "list":
		cmdErr = runList(mc, args)
	default:
		usage()
		os.Exit(1)
	}

	if cmdErr != nil {
		log.Fatalf("%s: %v", cmd, cmdErr)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: cmemory <command> [flags]

commands:
  record      --title T --body B [--tags a,b,c]
  retrieve    --query Q [--top-k N] [--mode dense|rrf] [--boost a,b] [--exclude a,b]
  link        --source ID --target ID --kind K [--weight W]
  reflect     --seed ID
  decay       --policy time|usage|both
  restore     --id ID
  reindex
  materialize --goal G --max-tokens N
  list`)
}

func runRecord(ctx context.Context, mc *core.MemoryCore, args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	title := fs.String("title", "", "block title")
	body := fs.String("body", "", "block body")
	tags := fs.String("tags", "", "comma-separated tags")
	infoType := fs.String("information-type", "", "information_type")
	fs.Parse(args)

	b, err := mc.Record(ctx, core.RecordInput{
		Title:           *title,
		Body:            *body,
		Tags:            splitCSV(*tags),
		InformationType: types.InformationType(*infoType),
	})
	if err != nil {
		return err
	}
	return printJSON(b)
}

func runRetrieve(ctx context.Context, mc *core.MemoryCore, args []string) error {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	query := fs.String("query", "", "search query")
	topK := fs.Int("top-k", 5, "result count")
	mode := fs.String("mode", "dense", "dense|rrf")
	boost := fs.String("boost", "", "comma-separated boost terms")
	exclude := fs.String("exclude", "", "comma-separated exclusion terms")
	fs.Parse(args)

	results, err := mc.Retrieve(ctx, retriever.Request{
		Query:   *query,
		TopK:    *topK,
		Mode:    types.RetrievalMode(*mode),
		Boost:   splitCSV(*boost),
		Exclude: splitCSV(*exclude),
	})
	if err != nil {
		return err
	}
	return printJSON(results)
}

func runLink(mc *core.MemoryCore, args []string) error {
	fs := flag.NewFlagSet("link", flag.ExitOnError)
	source := fs.String("source", "", "source block id")
	target := fs.String("target", "", "target block id")
	kind := fs.String("kind", "", "relationship kind")
	weight := fs.Float64("weight", 1.0, "relationship weight")
	fs.Parse(args)

	return mc.Link(*source, *target, *kind, *weight)
}

func runReflect(ctx context.Context, mc *core.MemoryCore, args []string) error {
	fs := flag.NewFlagSet("reflect", flag.ExitOnError)
	seed := fs.String("seed", "", "seed block id")
	fs.Parse(args)

	n, err := mc.Reflect(ctx, *seed)
	if err != nil {
		return err
	}
	fmt.Printf("%d relationships written\n", n)
	return nil
}

func runDecay(ctx context.Context, mc *core.MemoryCore, args []string) error {
	fs := flag.NewFlagSet("decay", flag.ExitOnError)
	policy := fs.String("policy", "time", "time|usage|both")
	fs.Parse(args)

	archived, err := mc.DecayEvaluate(ctx, types.DecayPolicy(*policy))
	if err != nil {
		return err
	}
	return printJSON(archived)
}

func runRestore(ctx context.Context, mc *core.MemoryCore, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	id := fs.String("id", "", "block id")
	fs.Parse(args)

	return mc.RestoreArchived(ctx, *id)
}

func runReindex(ctx context.Context, mc *core.MemoryCore, args []string) error {
	n, err := mc.ReindexAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d blocks reindexed\n", n)
	return nil
}

func runMaterialize(ctx context.Context, mc *core.MemoryCore, args []string) error {
	fs := flag.NewFlagSet("materialize", flag.ExitOnError)
	goal := fs.String("goal", "", "task goal")
	maxTokens := fs.Int("max-tokens", 2000, "token budget")
	fs.Parse(args)

	result, err := mc.MaterializeContext(ctx, *goal, *maxTokens)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runList(mc *core.MemoryCore, args []string) error {
	blocks, err := mc.ListBlocks()
	if err != nil {
		return err
	}
	return printJSON(blocks)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
