// Standalone signal relay for deploying without the TUI client.
// Equivalent to `gomeet --serve`, packaged for container images.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mkarlsen/gomeet/pkg/signal"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	flag.Parse()

	// PORT env var wins for cloud deployments.
	if envPort := os.Getenv("PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", port)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	server := signal.NewServer(log)
	addr := fmt.Sprintf(":%d", *port)

	if err := server.StartServer(addr); err != nil {
		log.WithError(err).Fatal("relay error")
	}
}
