package main

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/query"
	"FlowSpectra/internal/server"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// --- Main Function ---
func main() {
	mode := flag.String("mode", "api", "Query mode: 'api' for the vector summary over HTTP, 'stats' for engine counters, 'health' for the gRPC health check, 'direct' to query ClickHouse directly.")
	apiAddr := flag.String("api", "http://localhost:8080", "Base URL of the HTTP API.")
	grpcAddr := flag.String("grpc", "localhost:50051", "Address of the gRPC health service.")
	configPath := flag.String("config", "configs/config.yaml", "Configuration file, used by direct mode.")
	from := flag.String("from", "", "Start of the window in RFC3339 format (optional).")
	to := flag.String("to", "", "End of the window in RFC3339 format (optional).")
	flag.Parse()

	log.Printf("Running in '%s' mode.", *mode)

	switch *mode {
	case "api":
		params := url.Values{}
		if *from != "" {
			params.Set("from", *from)
		}
		if *to != "" {
			params.Set("to", *to)
		}
		getJSON(*apiAddr + "/api/v1/vectors/summary?" + params.Encode())
	case "stats":
		getJSON(*apiAddr + "/api/v1/stats")
	case "health":
		checkHealth(*grpcAddr)
	case "direct":
		directQueryClickHouse(*configPath, *from, *to)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api', 'stats', 'health' or 'direct'.", *mode)
	}
}

// --- API Query Logic ---
func getJSON(apiURL string) {
	log.Printf("Sending request to %s", apiURL)
	resp, err := http.Get(apiURL)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		log.Printf("Could not prettify JSON, printing raw response:")
		fmt.Println(string(respBody))
		return
	}
	log.Println("---")
	fmt.Println(prettyJSON.String())
}

// --- Health Check Logic ---
func checkHealth(addr string) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Error creating gRPC client: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: server.ServiceName})
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}
	fmt.Printf("%s: %s\n", server.ServiceName, resp.GetStatus())
}

// --- Direct ClickHouse Query Logic ---
func directQueryClickHouse(configPath, fromStr, toStr string) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	var chCfg *config.ClickHouseConfig
	for i := range cfg.Sinks {
		if cfg.Sinks[i].Type == "clickhouse" {
			chCfg = &cfg.Sinks[i].ClickHouse
			break
		}
	}
	if chCfg == nil {
		log.Fatalf("No ClickHouse sink found in %s.", configPath)
	}

	var from, to time.Time
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			log.Fatalf("Invalid from time format: %v", err)
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			log.Fatalf("Invalid to time format: %v", err)
		}
	}

	querier, err := query.NewClickHouseQuerier(*chCfg)
	if err != nil {
		log.Fatalf("Error connecting to ClickHouse: %v", err)
	}
	log.Println("Successfully connected to ClickHouse.")

	summary, err := querier.SummarizeVectors(context.Background(), from, to)
	if err != nil {
		log.Fatalf("Error executing query: %v", err)
	}

	log.Println("--- Vector Summary (Direct) ---")
	if len(summary.Reasons) == 0 {
		log.Println("No data found for the specified criteria.")
	}
	for _, r := range summary.Reasons {
		fmt.Printf("EndReason: %s\n", r.EndReason)
		fmt.Printf("  Flows: %d (partial %d)\n", r.Flows, r.PartialFlows)
		fmt.Printf("  Packets: %d\n", r.Packets)
		fmt.Printf("  Bytes: %d\n", r.Bytes)
		fmt.Printf("  MeanDuration: %.3fs\n", r.MeanDuration)
		fmt.Println("---------------------")
	}
}
