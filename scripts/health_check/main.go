package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/somboon29/MT5-Bot/pkg/config"
	"github.com/somboon29/MT5-Bot/pkg/db"
	"github.com/somboon29/MT5-Bot/pkg/exchanges/mt5bridge"
)

// health_check probes what the bot depends on: the terminal bridge (live) or
// the paper book (dry run), and the status server when one is configured.
//
// Usage:
//   go run ./scripts/health_check

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	report := HealthReport{Overall: "healthy"}
	add := func(s HealthStatus) {
		s.Timestamp = time.Now()
		if s.Status != "healthy" {
			report.Overall = "unhealthy"
		}
		report.Services = append(report.Services, s)
	}

	if cfg.DryRun {
		add(checkPaperBook(ctx, cfg.DryRunDBPath))
	} else {
		add(checkBridge(ctx, cfg))
	}
	if cfg.StatusAddr != "" {
		add(checkStatusServer(ctx, cfg.StatusAddr))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
	if report.Overall != "healthy" {
		os.Exit(1)
	}
}

func checkPaperBook(ctx context.Context, path string) HealthStatus {
	s := HealthStatus{Service: "paper_book"}
	database, err := db.Open(path)
	if err != nil {
		s.Status, s.Message = "unhealthy", err.Error()
		return s
	}
	defer database.Close()

	acct, err := database.GetAccount(ctx)
	switch {
	case errors.Is(err, db.ErrNotFound):
		s.Status, s.Message = "healthy", "account not seeded yet"
	case err != nil:
		s.Status, s.Message = "unhealthy", err.Error()
	default:
		s.Status, s.Message = "healthy", fmt.Sprintf("balance %.2f %s", acct.Balance, acct.Currency)
	}
	return s
}

func checkBridge(ctx context.Context, cfg config.Config) HealthStatus {
	s := HealthStatus{Service: "mt5bridge"}
	client := mt5bridge.NewClient(mt5bridge.Config{
		BaseURL:   cfg.BridgeURL,
		Token:     cfg.BridgeToken,
		RateLimit: cfg.BridgeRateLimit,
		Timeout:   cfg.BridgeTimeout,
	}, zerolog.Nop())
	if err := client.Connect(ctx); err != nil {
		s.Status, s.Message = "unhealthy", err.Error()
		return s
	}
	acct, err := client.AccountSnapshot(ctx)
	if err != nil {
		s.Status, s.Message = "unhealthy", err.Error()
		return s
	}
	s.Status = "healthy"
	s.Message = fmt.Sprintf("balance %.2f, clock offset %s", acct.Balance, client.Clock().Offset())
	return s
}

func checkStatusServer(ctx context.Context, addr string) HealthStatus {
	s := HealthStatus{Service: "status_server"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+localAddr(addr)+"/health", nil)
	if err != nil {
		s.Status, s.Message = "unhealthy", err.Error()
		return s
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		s.Status, s.Message = "unhealthy", err.Error()
		return s
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		s.Status, s.Message = "unhealthy", fmt.Sprintf("status %d", res.StatusCode)
		return s
	}
	s.Status = "healthy"
	return s
}

// localAddr turns a listen address like ":8080" into a dialable one.
func localAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	return addr
}
