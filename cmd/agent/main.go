package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fleet-policy/pkg/agentclient"
	"fleet-policy/pkg/version"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "backend base URL")
	agentID := flag.String("agent-id", "", "external agent id (required)")
	token := flag.String("token", os.Getenv("AGENT_TOKEN"), "bearer token for the ws channel")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Build)
		return
	}
	if *agentID == "" {
		log.Fatal("missing -agent-id")
	}

	runner := func(taskID uint) (string, error) {
		log.Printf("running task id=%d", taskID)
		return fmt.Sprintf("task %d completed", taskID), nil
	}
	client := agentclient.New(*server, *agentID, *token, runner)
	if client == nil {
		log.Fatalf("bad server URL: %s", *server)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Printf("agent starting id=%s server=%s", *agentID, *server)
	client.Run(ctx)
}
