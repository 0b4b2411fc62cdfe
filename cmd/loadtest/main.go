package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
)

type loadMode string

const (
	modeCreate        loadMode = "create"
	modeCreateRead    loadMode = "create-read"
	modeCreateDeliver loadMode = "create-deliver"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	products    []string
	quantity    int
	pageLimit   int
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue, timeoutValue, durationValue, productsValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-read | create-deliver")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of create-deliver scenarios that cancel instead of deliver (0..100)")
	fs.StringVar(&productsValue, "products", "1,2", "comma-separated catalog product ids for each order")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity of every order item")
	fs.IntVar(&cfg.pageLimit, "page-limit", 10, "page size for findAllOrders in create-read mode")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	for _, id := range strings.Split(productsValue, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.products = append(cfg.products, id)
		}
	}

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return cfg, errors.New("connections must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}
	if len(cfg.products) == 0 {
		return cfg, errors.New("at least one product id is required")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if cfg.pageLimit <= 0 {
		return cfg, errors.New("page-limit must be > 0")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateRead:
		return modeCreateRead, nil
	case modeCreateDeliver:
		return modeCreateDeliver, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]orderClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	result := run(cfg, clients)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// run раздаёт сценарии воркерам и собирает итоговый отчёт.
func run(cfg config, clients []orderClient) report {
	startedAt := time.Now()
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		client := clients[workerID%len(clients)]
		go func(cli orderClient) {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(cli, cfg, id, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}(client)
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}
