// Command statusd is a read-only companion process: it opens the same
// ledger store the engine writes to and serves an HTTP status snapshot
// plus a WebSocket push feed for an operator dashboard. It never places
// an order or mutates ledger state, mirroring the teacher's separation
// between the trading engine process and its dashboard API process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/config"
	"github.com/ridgeline-systems/perpctl/internal/dashboard"
	"github.com/ridgeline-systems/perpctl/internal/ledger"
	"github.com/ridgeline-systems/perpctl/internal/obslog"
	"github.com/ridgeline-systems/perpctl/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type server struct {
	ledger      *ledger.Ledger
	broadcaster *dashboard.Broadcaster
	logger      *log.Logger
}

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	port := flag.String("port", "8081", "status server port")
	flag.Parse()

	logger := log.New(os.Stdout, "[statusd] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal("statusd requires database_url to be set (nothing to read without a shared ledger store)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	obs := obslog.New(os.Stdout)
	riskLedger := ledger.New(store, cfg.Risk, decimal.NewFromFloat(cfg.Capital), logger, obs)

	broadcaster := dashboard.NewBroadcaster(logger)
	go broadcaster.Run()

	publisher := dashboard.NewPublisher(riskLedger, broadcaster, 5*time.Second, logger)
	publisher.Start(ctx)
	defer publisher.Stop()

	srv := &server{ledger: riskLedger, broadcaster: broadcaster, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", srv.handleStatus)
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/ws", srv.handleWebSocket)

	httpServer := &http.Server{
		Addr:         ":" + *port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("status server listening on :%s", *port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := dashboard.BuildSnapshot(r.Context(), s.ledger)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"ok"}`)
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	client := &dashboard.Client{ID: r.RemoteAddr, Send: make(chan dashboard.WebSocketMessage, 256)}
	s.broadcaster.Register(client)
	defer s.broadcaster.Unregister(client)

	s.logger.Printf("websocket: client connected from %s", client.ID)

	go s.writePump(ws, client)
	s.readPump(ws, client)
}

func (s *server) writePump(ws *websocket.Conn, client *dashboard.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(message); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.logger.Printf("websocket write error for %s: %v", client.ID, err)
				}
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *server) readPump(ws *websocket.Conn, client *dashboard.Client) {
	defer func() {
		s.broadcaster.Unregister(client)
		s.logger.Printf("websocket: client disconnected from %s", client.ID)
	}()

	ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Printf("websocket read error for %s: %v", client.ID, err)
			}
			return
		}
	}
}
