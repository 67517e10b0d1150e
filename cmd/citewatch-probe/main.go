package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/citewatch/citewatch/internal/probe"
)

func main() {
	fmt.Println("🔍 Citewatch - Probe Connectivity Test")
	fmt.Println("======================================")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	domain := flag.String("domain", "", "domain to check (required)")
	siteID := flag.Int64("site-id", 0, "site id to attribute the check to")
	timeout := flag.Duration("timeout", 45*time.Second, "probe request timeout")
	flag.Parse()

	if *domain == "" {
		fmt.Println("❌ -domain is required")
		flag.Usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("PROBE_BASE_URL")
	if baseURL == "" {
		fmt.Println("❌ PROBE_BASE_URL is not set")
		os.Exit(1)
	}

	client := probe.NewClient(baseURL, os.Getenv("PROBE_API_KEY"), *timeout)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+5*time.Second)
	defer cancel()

	fmt.Printf("\n📡 Checking %s against %s...\n", *domain, baseURL)
	res := client.Check(ctx, *siteID, *domain)

	if !res.Success {
		fmt.Println("❌ Check failed (see log output above)")
		os.Exit(1)
	}

	fmt.Printf("✅ SUCCESS: cited by %d of %d platforms\n", res.CitedCount, len(res.Results))
	for _, pr := range res.Results {
		mark := "—"
		if pr.Cited {
			mark = "✅"
		}
		fmt.Printf("   %s %-12s recommended %v\n", mark, pr.Platform, pr.RecommendedDomains)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err == nil {
		fmt.Println("\n📄 Raw result:")
		fmt.Println(string(out))
	}
}
