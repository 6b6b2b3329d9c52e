package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"vaultline.org/internal/config"
	"vaultline.org/internal/migrate"
	"vaultline.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn       = flag.String("dsn", os.Getenv(config.EnvPGDSN), "PostgreSQL DSN")
		seedsPath = flag.String("seeds", "", "Directory of SQL seed files")
		timeout   = flag.Duration("timeout", 30*time.Second, "Overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatalf("missing DSN: provide via -dsn or %s", config.EnvPGDSN)
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var seeds fs.FS
	if *seedsPath != "" {
		seeds = os.DirFS(*seedsPath)
	}
	mgr := migrate.NewManager(store.DB(), pg.Migrations(), seeds)

	switch flag.Arg(0) {
	case "up":
		var applied []string
		if applied, err = mgr.Up(ctx); err == nil {
			fmt.Printf("applied %d migration(s)\n", len(applied))
		}
	case "down":
		var name string
		if name, err = mgr.Down(ctx); err == nil {
			fmt.Printf("rolled back %s\n", name)
		}
	case "seed":
		var applied []string
		if applied, err = mgr.Seed(ctx); err == nil {
			fmt.Printf("applied %d seed(s)\n", len(applied))
		}
	case "status":
		var history []migrate.Applied
		if history, err = mgr.Status(ctx); err == nil {
			for _, item := range history {
				fmt.Printf("%s\t%s\n", item.Name, item.AppliedAt.UTC().Format(time.RFC3339))
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
