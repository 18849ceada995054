package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/gops/agent"

	"github.com/vecdex/vecdex/service"
)

func main() {
	startGops()
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "store":
		storeCmd(os.Args[2:])
	case "search":
		searchCmd(os.Args[2:])
	case "stats":
		statsCmd(os.Args[2:])
	case "delete-doc":
		deleteDocCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: vecdex <command> [options]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  store       Store one chunk embedding")
	fmt.Fprintln(os.Stderr, "  search      Query nearest chunks for a vector")
	fmt.Fprintln(os.Stderr, "  stats       Show index statistics")
	fmt.Fprintln(os.Stderr, "  delete-doc  Delete a document's indexes")
}

func storeCmd(args []string) {
	flags := flag.NewFlagSet("store", flag.ExitOnError)
	configPath := flags.String("config", "", "config yaml (optional)")
	base := flags.String("base", "", "index base directory")
	model := flags.String("model", "", "embedding model name")
	dimension := flags.Int("dim", 0, "vector dimension (defaults to vector length)")
	document := flags.String("doc", "", "document id for per-document indexing")
	chunk := flags.Float64("chunk", 0, "chunk id")
	vectorSpec := flags.String("vector", "", "comma-separated float vector (required)")
	_ = flags.Parse(args)

	svc := newService(*configPath, *base)
	defer func() { _ = svc.Close(context.Background()) }()
	vector, err := parseVector(*vectorSpec)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	err = svc.StoreEmbedding(context.Background(), &service.StoreEmbeddingRequest{
		ChunkID:    *chunk,
		DocumentID: *document,
		Embedding:  vector,
		Model:      *model,
		Dimensions: *dimension,
	})
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	fmt.Printf("stored chunk %v (%d dims)\n", *chunk, len(vector))
}

func searchCmd(args []string) {
	flags := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := flags.String("config", "", "config yaml (optional)")
	base := flags.String("base", "", "index base directory")
	model := flags.String("model", "", "embedding model name")
	dimension := flags.Int("dim", 0, "vector dimension (defaults to vector length)")
	document := flags.String("doc", "", "document id for per-document search")
	k := flags.Int("k", 10, "number of results")
	threshold := flags.Float64("threshold", -1, "max distance (negative disables)")
	vectorSpec := flags.String("vector", "", "comma-separated float query vector (required)")
	_ = flags.Parse(args)

	svc := newService(*configPath, *base)
	defer func() { _ = svc.Close(context.Background()) }()
	vector, err := parseVector(*vectorSpec)
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	opts := []service.QueryOption{}
	if *model != "" {
		opts = append(opts, service.WithModel(*model))
	}
	if *dimension > 0 {
		opts = append(opts, service.WithDimension(*dimension))
	}
	if *document != "" {
		opts = append(opts, service.WithDocumentID(*document))
	}
	if *threshold >= 0 {
		opts = append(opts, service.WithDistanceThreshold(*threshold))
	}
	result, err := svc.Search(context.Background(), vector, *k, opts...)
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	if result.Empty() {
		fmt.Println("no matches")
		return
	}
	for i := range result.ChunkIDs {
		fmt.Printf("%2d. chunk %d distance %.6f\n", i+1, result.ChunkIDs[i], result.Distances[i])
	}
}

func statsCmd(args []string) {
	flags := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := flags.String("config", "", "config yaml (optional)")
	base := flags.String("base", "", "index base directory")
	model := flags.String("model", "", "embedding model name")
	dimension := flags.Int("dim", 0, "vector dimension")
	document := flags.String("doc", "", "document id")
	_ = flags.Parse(args)

	svc := newService(*configPath, *base)
	defer func() { _ = svc.Close(context.Background()) }()
	opts := []service.QueryOption{}
	if *model != "" {
		opts = append(opts, service.WithModel(*model))
	}
	if *dimension > 0 {
		opts = append(opts, service.WithDimension(*dimension))
	}
	if *document != "" {
		opts = append(opts, service.WithDocumentID(*document))
	}
	stats, err := svc.GetIndexStats(context.Background(), opts...)
	if err != nil {
		log.Fatalf("stats: %v", err)
	}
	fmt.Printf("model: %s\ndimension: %d\nindex type: %s\ntotal vectors: %d\ninitialized: %v\n",
		stats.CurrentModel, stats.Dimension, stats.IndexType, stats.TotalVectors, stats.IsInitialized)
}

func deleteDocCmd(args []string) {
	flags := flag.NewFlagSet("delete-doc", flag.ExitOnError)
	configPath := flags.String("config", "", "config yaml (optional)")
	base := flags.String("base", "", "index base directory")
	document := flags.String("doc", "", "document id (required)")
	_ = flags.Parse(args)

	svc := newService(*configPath, *base)
	defer func() { _ = svc.Close(context.Background()) }()
	if err := svc.DeleteDocumentIndex(context.Background(), *document); err != nil {
		log.Fatalf("delete-doc: %v", err)
	}
	fmt.Printf("deleted indexes for document %s\n", *document)
}

func newService(configPath, base string) *service.Service {
	opts := []service.Option{}
	if configPath != "" {
		cfg, err := service.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		opts = append(opts, service.WithConfig(cfg))
	}
	if base != "" {
		opts = append(opts, service.WithBasePath(base))
	}
	svc, err := service.New(opts...)
	if err != nil {
		log.Fatalf("service: %v", err)
	}
	return svc
}

func parseVector(spec string) ([]float32, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("vector is required")
	}
	parts := strings.Split(spec, ",")
	vector := make([]float32, len(parts))
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("vector component %d: %w", i, err)
		}
		vector[i] = float32(value)
	}
	return vector, nil
}

func startGops() {
	if err := agent.Listen(agent.Options{ShutdownCleanup: true}); err != nil {
		log.Printf("gops: %v", err)
	}
}
