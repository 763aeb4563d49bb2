// Command clear-trades resets the ledger to a clean slate for local
// development: it truncates the position history log and re-seeds
// ledger_state to an empty snapshot. Refuses to run without --confirm.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ridgeline-systems/perpctl/internal/config"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	confirmFlag := flag.Bool("confirm", false, "confirm deletion, must be explicit")
	flag.Parse()

	if !*confirmFlag {
		fmt.Println("SAFETY CHECK - must confirm reset")
		fmt.Println()
		fmt.Println("This will DELETE all position history and reset the ledger")
		fmt.Println("to zero open positions and zero daily P&L.")
		fmt.Println()
		fmt.Println("To proceed, run:")
		fmt.Println("  clear-trades --confirm")
		fmt.Println()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("clear-trades requires database_url to be set")
	}

	ctx := context.Background()
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	fmt.Println("resetting ledger state")
	fmt.Println()

	result, err := db.ExecContext(ctx, `DELETE FROM position_history`)
	if err != nil {
		log.Fatalf("failed to delete position history: %v", err)
	}
	deleted, _ := result.RowsAffected()
	fmt.Printf("  deleted %d history records\n", deleted)

	_, err = db.ExecContext(ctx, `
		UPDATE ledger_state
		SET version = version + 1,
		    accumulator = '{"TotalReservedRisk":"0","ActivePositions":{},"DailyPnL":"0","DailyLossBreachAt":null,"CurrentUTCDate":""}'::jsonb,
		    positions = '{}'::jsonb,
		    updated_at = now()
		WHERE id = 1
	`)
	if err != nil {
		log.Fatalf("failed to reset ledger_state: %v", err)
	}
	fmt.Println("  ledger_state reset to empty snapshot")

	fmt.Println()
	fmt.Println("clean slate ready, you can now run: engine --config config/config.json")
}
