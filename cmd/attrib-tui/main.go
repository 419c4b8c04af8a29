// Package main provides the terminal report viewer.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"opsec-attrib/internal/reportcache"
	"opsec-attrib/internal/tui"
	"opsec-attrib/internal/tui/source"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		reportPath  string
		redisAddr   string
		redisDB     int
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&showVersion, "v", false, "Show version and exit (shorthand)")
	flag.StringVar(&reportPath, "report", "reports/attribution.json", "Path to the exported report")
	flag.StringVar(&reportPath, "r", "reports/attribution.json", "Path to the exported report (shorthand)")
	flag.StringVar(&redisAddr, "redis", "", "Redis address; read the report cache instead of a file")
	flag.IntVar(&redisDB, "redis-db", 0, "Redis database number")
	flag.Parse()

	if showVersion {
		fmt.Printf("attrib-tui %s\n", version)
		os.Exit(0)
	}

	var src source.Source
	if redisAddr != "" {
		cfg := reportcache.DefaultConfig()
		cfg.Addr = redisAddr
		cfg.DB = redisDB
		cfg.Password = os.Getenv("ATTRIB_REDIS_PASSWORD")

		store, err := reportcache.NewRedisStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		src = source.NewCacheSource(reportcache.New(store, 24*time.Hour, nil))
	} else {
		src = source.NewFileSource(reportPath)
	}

	if err := tui.Run(src); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
