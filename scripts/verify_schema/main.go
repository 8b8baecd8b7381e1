package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/somboon29/MT5-Bot/pkg/db"
)

// verify_schema checks that a paper book database carries every table the
// paper gateway uses and prints row counts.
//
// Usage:
//   go run ./scripts/verify_schema -db ./data/paper.db

var tables = []string{"paper_account", "paper_positions", "paper_deals", "paper_orders"}

func main() {
	path := flag.String("db", "./data/paper.db", "paper book path")
	flag.Parse()

	fmt.Printf("Verifying database at: %s\n", *path)
	database, err := db.New(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	missing := 0
	for _, name := range tables {
		var found string
		err := database.DB.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&found)
		if err != nil {
			fmt.Printf("✗ %s missing\n", name)
			missing++
			continue
		}
		var rows int
		if err := database.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+name).Scan(&rows); err != nil {
			fmt.Printf("✗ %s unreadable: %v\n", name, err)
			missing++
			continue
		}
		fmt.Printf("✓ %s (%d rows)\n", name, rows)
	}
	if missing > 0 {
		fmt.Printf("\n%d table(s) missing; run the bot once with DRY_RUN=true to migrate\n", missing)
		os.Exit(1)
	}
	fmt.Println("\nSchema OK")
}
