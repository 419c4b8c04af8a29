// Package main scans the local host for attribution signals. Collected
// signals are printed as a batch, published to Kafka for a running daemon,
// or correlated immediately for a one-shot report.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"opsec-attrib/internal/correlation"
	"opsec-attrib/internal/detect/dns"
	"opsec-attrib/internal/detect/userland"
	"opsec-attrib/internal/kafka"
	"opsec-attrib/internal/signal"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		source      string
		resolvConf  string
		vpnAS       string
		dohEnabled  bool
		brokers     string
		topic       string
		report      bool
		outPath     string
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.StringVar(&source, "source", "attrib-scan", "Batch source name")
	flag.StringVar(&resolvConf, "resolv-conf", "/etc/resolv.conf", "Resolver configuration to inspect")
	flag.StringVar(&vpnAS, "vpn-as", "", "AS number of the VPN exit, for resolver mismatch checks")
	flag.BoolVar(&dohEnabled, "doh", false, "Whether DNS-over-HTTPS is in use")
	flag.StringVar(&brokers, "brokers", "", "Kafka brokers; publish the batch instead of printing it")
	flag.StringVar(&topic, "topic", "attrib.signals", "Kafka signal topic")
	flag.BoolVar(&report, "report", false, "Correlate locally and print a report instead of a batch")
	flag.StringVar(&outPath, "out", "", "Write output to a file instead of stdout")
	flag.Parse()

	if showVersion {
		fmt.Printf("attrib-scan %s\n", version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	now := time.Now().UTC()
	var signals []signal.Signal

	// Local environment: timezone, locale, OS, identifying variables.
	env := userland.CaptureEnvironment(now)
	signals = append(signals, userland.NewEnvironmentAnalyzer().Analyze(env, now)...)

	// Resolver configuration.
	resolvers, err := parseResolvConf(resolvConf)
	if err != nil {
		logger.Warn("failed to read resolver configuration", "path", resolvConf, "error", err)
	} else {
		signals = append(signals, dns.NewResolverAnalyzer().Analyze(dns.ResolverConfig{
			Resolvers:  resolvers,
			VPNAS:      vpnAS,
			DoHEnabled: dohEnabled,
		}, now)...)
	}

	// Any binaries named as arguments.
	binaryAnalyzer := userland.NewBinaryAnalyzer()
	for _, path := range flag.Args() {
		binSignals, err := binaryAnalyzer.Analyze(path, now)
		if err != nil {
			logger.Warn("failed to analyze binary", "path", path, "error", err)
			continue
		}
		signals = append(signals, binSignals...)
	}

	logger.Info("scan complete", "signals", len(signals))

	batch := signal.NewBatch(source, signals)

	switch {
	case brokers != "":
		if err := publishBatch(brokers, topic, batch, logger); err != nil {
			logger.Error("failed to publish batch", "error", err)
			os.Exit(1)
		}
		logger.Info("batch published", "batch_id", batch.BatchID, "topic", topic)

	case report:
		engine := correlation.NewEngine(correlation.DefaultEngineConfig(), logger)
		engine.AddSignals(batch.Signals)
		engine.CorrelateAll()

		data, err := engine.GenerateReport().Encode()
		if err != nil {
			logger.Error("failed to encode report", "error", err)
			os.Exit(1)
		}
		if err := writeOutput(outPath, data); err != nil {
			logger.Error("failed to write report", "error", err)
			os.Exit(1)
		}

	default:
		data, err := json.MarshalIndent(batch, "", "  ")
		if err != nil {
			logger.Error("failed to encode batch", "error", err)
			os.Exit(1)
		}
		if err := writeOutput(outPath, data); err != nil {
			logger.Error("failed to write batch", "error", err)
			os.Exit(1)
		}
	}
}

// publishBatch sends the batch to the daemon's signal topic.
func publishBatch(brokers, topic string, batch *signal.Batch, logger *slog.Logger) error {
	cfg := kafka.DefaultConfig()
	cfg.Brokers = strings.Split(brokers, ",")
	cfg.Topic = topic

	publisher, err := kafka.NewPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return publisher.Publish(ctx, batch)
}

// parseResolvConf extracts nameserver addresses from a resolv.conf file.
func parseResolvConf(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var resolvers []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "nameserver" {
			resolvers = append(resolvers, fields[1])
		}
	}
	return resolvers, scanner.Err()
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
