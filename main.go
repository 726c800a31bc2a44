package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	sig "github.com/mkarlsen/gomeet/pkg/signal"
)

// DefaultSignalServer is the default remote relay for joining meetings.
const DefaultSignalServer = "wss://meet.mkarlsen.dev/ws"

// LocalSignalServer is the URL for a locally running relay.
const LocalSignalServer = "ws://localhost:8080/ws"

// Config holds runtime configuration
type Config struct {
	ServeMode bool
	Port      int
	Room      string
	Name      string
	SignalURL string
	Help      bool

	// TURN server configuration
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool // Force TURN relay (no direct P2P)
}

func parseFlags() Config {
	config := Config{}
	var localMode bool

	flag.BoolVar(&config.ServeMode, "serve", false, "Run as signal relay only")
	flag.BoolVar(&config.ServeMode, "s", false, "Run as signal relay only (shorthand)")

	flag.IntVar(&config.Port, "port", 8080, "Signal relay port")
	flag.IntVar(&config.Port, "p", 8080, "Signal relay port (shorthand)")

	flag.StringVar(&config.Name, "name", "", "Display name shown to other participants")
	flag.StringVar(&config.Name, "n", "", "Display name (shorthand)")

	flag.StringVar(&config.SignalURL, "signal", "", "Custom signal relay URL (overrides default)")
	flag.BoolVar(&localMode, "local", false, "Use local signal relay ("+LocalSignalServer+")")

	// TURN server flags
	flag.StringVar(&config.TURNServer, "turn", "", "TURN server URL (e.g., turn:turn.example.com:3478)")
	flag.StringVar(&config.TURNUser, "turn-user", "", "TURN server username")
	flag.StringVar(&config.TURNPass, "turn-pass", "", "TURN server password")
	flag.BoolVar(&config.ForceRelay, "force-relay", false, "Force TURN relay (disable direct P2P)")

	flag.BoolVar(&config.Help, "help", false, "Show help")
	flag.BoolVar(&config.Help, "h", false, "Show help (shorthand)")

	flag.Parse()

	// --local sets SignalURL to the local relay
	if localMode {
		config.SignalURL = LocalSignalServer
	}

	// Positional argument: the room code to join
	config.Room = strings.TrimSpace(flag.Arg(0))

	return config
}

func printHelp() {
	fmt.Println(`GoMeet - P2P Video Meetings in Your Terminal

Usage: gomeet [options] [room-code]

Joining with no room code creates a new room with a generated code.
Media flows directly between participants; the relay only carries
connection-setup messages.

Options:
  --name, -n <name>      Display name shown to other participants
  --local                Use local signal relay (` + LocalSignalServer + `)
  --signal <url>         Custom signal relay URL (overrides default)
  --serve, -s            Run as signal relay only
  --port, -p <port>      Signal relay port (default: 8080)
  --help, -h             Show help

Network Options:
  --turn <url>           TURN server URL (e.g., turn:turn.example.com:3478)
  --turn-user <user>     TURN server username
  --turn-pass <pass>     TURN server password
  --force-relay          Force TURN relay (disable direct P2P connections)

Examples:
  gomeet                         # Create a new room
  gomeet HAPPY-OTTER-42          # Join an existing room
  gomeet --serve                 # Run a local signal relay
  gomeet --local HAPPY-OTTER-42  # Join through a local relay

TUI Controls:
  c             Publish camera + microphone
  v             Publish screen share
  x             Stop publishing (placeholder stream)
  tab           Toggle chat panel
  enter         Send chat message
  q / ctrl+c    Leave the meeting`)
}

func main() {
	config := parseFlags()

	if config.Help {
		printHelp()
		return
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Server-only mode
	if config.ServeMode {
		runSignalRelay(config.Port, log)
		return
	}

	settings := DefaultSettings()
	sm, err := NewSettingsManager()
	if err == nil {
		settings, _ = sm.Load()
	}

	if config.Name != "" {
		settings.Name = config.Name
	}
	if settings.Name == "" {
		settings.Name = defaultDisplayName()
	}
	if config.SignalURL != "" {
		settings.SignalURL = config.SignalURL
	}
	if sm != nil {
		if err := sm.Save(settings); err != nil {
			log.WithError(err).Debug("saving settings")
		}
	}

	room := config.Room
	if room == "" {
		room = sig.GenerateRoomCode()
	}

	// The TUI owns the terminal; logging goes to a file instead.
	if f, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
		log.SetOutput(f)
		defer f.Close()
	}

	iceConfig := ICEConfig{
		TURNServer: config.TURNServer,
		TURNUser:   config.TURNUser,
		TURNPass:   config.TURNPass,
		ForceRelay: config.ForceRelay,
	}

	if err := RunTUI(room, settings, iceConfig, log); err != nil {
		fmt.Fprintf(os.Stderr, "gomeet: %v\n", err)
		os.Exit(1)
	}
}

func defaultDisplayName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "guest"
}

func runSignalRelay(port int, log *logrus.Logger) {
	// PORT env var wins for cloud deployments.
	if envPort := os.Getenv("PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}

	server := sig.NewServer(log)
	addr := fmt.Sprintf(":%d", port)

	fmt.Printf("Starting signal relay on http://localhost%s\n", addr)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.StartServer(addr); err != nil {
		log.WithError(err).Fatal("relay error")
	}
}
