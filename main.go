package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/JocelynWordSmith/polly/internal/config"
	"github.com/JocelynWordSmith/polly/internal/db"
	"github.com/JocelynWordSmith/polly/internal/fsutil"
	"github.com/JocelynWordSmith/polly/internal/mcu"
	"github.com/JocelynWordSmith/polly/internal/recorder"
	"github.com/JocelynWordSmith/polly/internal/robot"
	"github.com/JocelynWordSmith/polly/internal/serialmux"
	"github.com/JocelynWordSmith/polly/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run with a mock MCU instead of real hardware")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	configPath = flag.String("config", "", "Path to runtime config JSON")
	serialPath = flag.String("serial", "", "Serial device path (overrides config)")
)

func main() {
	flag.Parse()

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	device := cfg.GetSerialDevice()
	if *serialPath != "" {
		device = *serialPath
	}
	addr := cfg.GetListenAddr()
	if *listen != "" {
		addr = *listen
	}

	opts := serialmux.PortOptions{BaudRate: cfg.GetSerialBaudRate()}
	var link *serialmux.Link
	if *devMode {
		link = serialmux.NewLinkWithOpener(device, opts, mockOpener())
		link.BootQuiescence = 100 * time.Millisecond
	} else {
		link = serialmux.NewLink(device, opts)
	}

	events, err := db.Open(cfg.GetDatabasePath())
	if err != nil {
		log.Fatalf("failed to open event database: %v", err)
	}
	defer events.Close()

	rt := robot.New(cfg,
		link,
		mcu.NewBridge(link, nil),
		recorder.NewRecorder(fsutil.OSFileSystem{}, cfg.GetDatasetDir()),
		events,
		nil, // thermal endpoints are attached by the platform layer
	)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the supervisor, which owns every bridge task
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rt.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("runtime terminated: %v", err)
		}
		log.Print("runtime stopped")
	}()

	// HTTP server goroutine: websocket hub, status, admin debug routes
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		rt.Hub().Attach(mux)
		mux.HandleFunc("/status", rt.Hub().ServeStatus)
		mux.HandleFunc("/", rt.Hub().RejectUnknown)

		// admin debugging routes (accessible only locally or over Tailscale)
		link.AttachAdminRoutes(mux)
		events.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    addr,
			Handler: mux,
		}

		go func() {
			log.Printf("polly %s listening on %s (serial %s)", version.Version, addr, device)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// mockOpener returns a port opener backed by a MockPort that emits synthetic
// telemetry, so the full stack can run on a workstation without hardware.
func mockOpener() serialmux.SerialPortOpener {
	return func(path string, opts serialmux.PortOptions) (serialmux.SerialPorter, error) {
		port := serialmux.NewMockPort()
		go func() {
			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
			for range ticker.C {
				if port.Closed() {
					return
				}
				port.FeedLine(fmt.Sprintf(`{"t":%d,"d":55,"b":7.4}`, time.Now().UnixMilli()))
			}
		}()
		return port, nil
	}
}
