// Command grapevine runs one recipe-sharing node on the local network.
//
// Nodes find each other over multicast and swap published recipes
// over QUIC. Type commands on stdin:
//
//	ls p                                     known peers
//	ls r                                     all known recipes, plus a network refresh
//	ls r local                               locally authored recipes
//	create r <name>|<ingredient,...>|<instructions>
//	publish r <id>
//
// Responses print to stdout, as do lines for things that happen
// unprompted, like recipes arriving from peers.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grapevine-net/grapevine"
	"github.com/grapevine-net/grapevine/gvdisco"
	"github.com/grapevine-net/grapevine/gvmetrics"
	"github.com/grapevine-net/grapevine/gvsub"
	"github.com/grapevine-net/grapevine/recipebook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// A .env file in the working directory may carry GRAPEVINE_* variables.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	return runNode(ctx, log, cfg)
}

func runNode(ctx context.Context, log *slog.Logger, cfg config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	laddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", cfg.Listen, err)
	}
	uc, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("failed to bind %q: %w", cfg.Listen, err)
	}
	defer uc.Close()

	dConn, gAddr, err := gvdisco.Open(cfg.Group)
	if err != nil {
		return err
	}
	// The node's discovery layer owns dConn from here.

	store, err := recipebook.NewStore(log.With("sys", "store"), recipebook.StoreConfig{
		Dir: cfg.DataDir,
	})
	if err != nil {
		_ = dConn.Close()
		return err
	}
	defer store.Close()

	var metrics *gvmetrics.Metrics
	if cfg.MetricsAddr != "" {
		metrics = gvmetrics.New(prometheus.DefaultRegisterer)
		serveMetrics(ctx, log, cfg.MetricsAddr)
	}

	n, err := grapevine.NewNode(ctx, log, grapevine.NodeConfig{
		UDPConn: uc,

		DiscoveryConn:  dConn,
		DiscoveryGroup: gAddr,

		AdvertiseAddrs: cfg.AdvertiseAddrs,
		Name:           cfg.Name,

		Store: store,

		AnnounceInterval: time.Duration(cfg.AnnounceInterval),
		PeerTimeout:      time.Duration(cfg.PeerTimeout),

		Metrics: metrics,
	})
	if err != nil {
		// Closing twice is harmless, and on most failure paths
		// nobody else ever took the discovery socket.
		_ = dConn.Close()
		return err
	}

	log.Info("Node up", "id", n.ID(), "addr", n.Addr())
	fmt.Printf("your peer id: %s\n", n.ID())

	go printOutputs(ctx, n.Outputs())

	readCommands(ctx, n)

	cancel()
	n.Wait()
	return nil
}

// printOutputs relays the node's asynchronous output feed to stdout.
func printOutputs(ctx context.Context, out *gvsub.Feed[string]) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-out.Ready:
			fmt.Println(out.Val)
			out = out.Next
		}
	}
}

// readCommands feeds stdin lines to the node until EOF or shutdown.
func readCommands(ctx context.Context, n *grapevine.Node) {
	lines := make(chan string)
	go func() {
		defer close(lines)

		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
				// Okay.
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				// stdin closed; time to go.
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}

			out, err := n.Execute(ctx, line)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if out != "" {
				fmt.Println(out)
			}
		}
	}
}

// serveMetrics exposes the default Prometheus registry until ctx ends.
func serveMetrics(ctx context.Context, log *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", gvmetrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	context.AfterFunc(ctx, func() {
		_ = srv.Close()
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Metrics server stopped", "err", err)
		}
	}()
}
