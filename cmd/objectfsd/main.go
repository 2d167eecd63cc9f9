// Command objectfsd mounts an S3 bucket as a POSIX filesystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/objectfs/internal/adapter"
	"github.com/objectfs/objectfs/internal/config"
)

const stopTimeout = 30 * time.Second

func main() {
	var (
		storageURI    = flag.String("storage", "", "storage URI to mount, e.g. s3://my-bucket")
		mountPoint    = flag.String("mountpoint", "", "local directory to mount the filesystem at")
		configFile    = flag.String("config", "", "path to a YAML configuration file (optional)")
		keyValueFile  = flag.String("legacy-config", "", "path to a key=value configuration file, overlaid after -config (optional)")
		printDefaults = flag.Bool("print-defaults", false, "print the default configuration as YAML and exit")
	)
	flag.Usage = usage
	flag.Parse()

	cfg := config.NewDefault()

	if *printDefaults {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			log.Fatalf("failed to marshal default configuration: %v", err)
		}
		fmt.Print(string(data))
		return
	}

	if *storageURI == "" || *mountPoint == "" {
		usage()
		os.Exit(2)
	}

	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			log.Fatalf("failed to load configuration file %s: %v", *configFile, err)
		}
	}
	if *keyValueFile != "" {
		if err := cfg.LoadFromKeyValueFile(*keyValueFile); err != nil {
			log.Fatalf("failed to load legacy configuration file %s: %v", *keyValueFile, err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatalf("failed to apply environment overrides: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := adapter.New(ctx, *storageURI, *mountPoint, cfg)
	if err != nil {
		log.Fatalf("failed to construct adapter: %v", err)
	}

	if err := a.Start(ctx); err != nil {
		log.Fatalf("failed to start objectfsd: %v", err)
	}

	log.Printf("objectfsd running, mounted %s at %s (press Ctrl+C to stop)", *storageURI, *mountPoint)
	<-ctx.Done()

	log.Printf("shutdown signal received, unmounting...")
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		log.Fatalf("error during shutdown: %v", err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s -storage s3://bucket -mountpoint /path/to/dir [flags]\n\n", os.Args[0])
	flag.PrintDefaults()
}
