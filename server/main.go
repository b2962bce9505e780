package main

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

func setupLogging() (*os.File, error) {
	if err := os.MkdirAll("logs", 0755); err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile("logs/server.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	multiWriter := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multiWriter)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return logFile, nil
}

func compressLog() {
	source := "logs/server.log"
	timestamp := time.Now().Format("20060102-150405")
	target := fmt.Sprintf("logs/logs-%s.tar.gz", timestamp)

	file, err := os.Open(source)
	if err != nil {
		log.Printf("Failed to open log for compression: %v", err)
		return
	}
	defer file.Close()

	outFile, err := os.Create(target)
	if err != nil {
		log.Printf("Failed to create compressed log file: %v", err)
		return
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	info, err := file.Stat()
	if err != nil {
		log.Printf("Failed to stat log file: %v", err)
		return
	}

	header, err := tar.FileInfoHeader(info, info.Name())
	if err != nil {
		log.Printf("Failed to create tar header: %v", err)
		return
	}
	header.Name = "server.log"

	if err := tw.WriteHeader(header); err != nil {
		log.Printf("Failed to write tar header: %v", err)
		return
	}

	if _, err := io.Copy(tw, file); err != nil {
		log.Printf("Failed to compress log: %v", err)
		return
	}

	log.Printf("Log compressed to %s", target)
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		fmt.Printf("Failed to setup logging: %v\n", err)
		return
	}
	defer logFile.Close()

	configFile := flag.String("config", "server_config.json", "Path to configuration file")
	flag.Parse()

	config := NewConfig(*configFile)
	if err := config.Load(); err != nil {
		log.Printf("Error loading config: %v", err)
	}

	store := NewStore(config.DataDir)
	if err := store.Load(); err != nil {
		// Startup data errors are non-recoverable; refuse to serve a
		// whitelist we could not read.
		log.Fatalf("CRITICAL ERROR: FAILURE TO INITIALIZE: %v", err)
	}
	log.Printf("[Store] Loaded datasets at version %d", store.Version())

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			log.Printf("Shutting down server...")
			compressLog()
			os.Remove("logs/server.log")
			os.Exit(0)
		})
	}

	surface := NewConsoleSurface(config.ServerID)

	hub := NewHub(config)
	go hub.Run()

	whitelist := NewWhitelist(store, surface, config, hub)
	whitelist.OnShutdown = shutdown
	hub.OnWhitelistRequest = whitelist.RequestWhitelist

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head>
    <title>censord</title>
    <style>
        body { font-family: sans-serif; text-align: center; padding-top: 50px; }
        code { background: #f4f4f4; padding: 5px; border-radius: 5px; }
    </style>
</head>
<body>
    <h1>censord relay</h1>
    <p>Whitelist version %d, %d client(s) connected.</p>
    <p>External clients connect over the websocket endpoint <code>/ws</code>.</p>
</body>
</html>
`, store.Version(), hub.ClientCount())
	})

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})

	http.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		status := map[string]int{
			"version": store.Version(),
			"clients": hub.ClientCount(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})

	serverAddr := fmt.Sprintf("%s:%s", config.Host, config.Port)
	server := &http.Server{Addr: serverAddr}

	go func() {
		log.Printf("Server started on %s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-stop
		shutdown()
	}()

	console := NewConsole(hub, config, store, whitelist, surface, shutdown)
	console.Run()
}
