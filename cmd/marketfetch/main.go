package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"marketfetch/internal/adapters/aliexpress"
	"marketfetch/internal/adapters/ebay"
	"marketfetch/internal/adapters/images"
	"marketfetch/internal/adapters/table"
	"marketfetch/internal/config"
	"marketfetch/internal/core/domain"
	"marketfetch/internal/logger"
	"marketfetch/internal/resolver"
	"marketfetch/internal/service"
)

func main() {
	// Load .env if present; variables may also be set directly.
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found")
	}

	fmt.Println("AliExpress & eBay Product Scraper")
	fmt.Println(strings.Repeat("=", 60))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nConfiguration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New("logs")
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	aliClient := aliexpress.New(cfg, log)
	ebayClient := ebay.New(cfg, log)
	imageClient := &http.Client{Timeout: cfg.RequestTimeout}
	downloader := images.New(cfg.DownloadFolder, cfg.ImageQuality, imageClient, log)
	orchestrator := service.New(aliClient, ebayClient, downloader, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn("received interrupt signal, cancelling")
		cancel()
	}()

	stdin := bufio.NewReader(os.Stdin)

	if len(os.Args) > 1 {
		input := os.Args[1]
		switch {
		case isFile(input):
			runTable(ctx, orchestrator, stdin, input)
		case resolver.DetectMarketplace(input) != domain.MarketplaceUnknown:
			orchestrator.PrintSummary([]*domain.ProcessingResult{
				orchestrator.ProcessSingleLink(ctx, input, nil, ""),
			})
		default:
			fmt.Printf("Invalid input: %s\n", input)
			fmt.Println("Usage: marketfetch <file.xlsx|file.csv|product_url>")
			os.Exit(1)
		}
		return
	}

	// Interactive mode.
	fmt.Println("\nSelect mode:")
	fmt.Println("1. Process table file (Excel/CSV)")
	fmt.Println("2. Process single product URL")

	choice := prompt(stdin, "\nEnter choice (1 or 2): ")
	switch choice {
	case "1":
		path := prompt(stdin, "Enter path to table file: ")
		if !isFile(path) {
			fmt.Printf("File not found: %s\n", path)
			os.Exit(1)
		}
		runTable(ctx, orchestrator, stdin, path)
	case "2":
		url := prompt(stdin, "Enter product URL (AliExpress or eBay): ")
		orchestrator.PrintSummary([]*domain.ProcessingResult{
			orchestrator.ProcessSingleLink(ctx, url, nil, ""),
		})
	default:
		fmt.Println("Invalid choice")
		os.Exit(1)
	}
}

// runTable drives a table batch. When the link column cannot be located it
// prompts for a corrected column name once, then gives up.
func runTable(ctx context.Context, orchestrator *service.Orchestrator, stdin *bufio.Reader, path string) {
	_, err := orchestrator.ProcessTable(ctx, path, "")
	if err == nil {
		return
	}

	var colErr *table.ColumnNotFoundError
	if !errors.As(err, &colErr) {
		fmt.Printf("Failed to process table: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nAvailable columns:")
	for _, col := range colErr.Available {
		fmt.Printf("  - %s\n", col)
	}
	column := prompt(stdin, "\nEnter the column name containing product links: ")

	if _, err := orchestrator.ProcessTable(ctx, path, column); err != nil {
		fmt.Printf("Invalid column name: %v\n", err)
		os.Exit(1)
	}
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
