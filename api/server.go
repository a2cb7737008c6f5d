// Package api serves sync status over HTTP and streams cycle results to
// WebSocket subscribers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerman17/gcs-block-sync/consts"
	"github.com/containerman17/gcs-block-sync/syncer"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
)

type Server struct {
	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	zstdEnc    *zstd.Encoder
	cycles     atomic.Uint64

	mu     sync.RWMutex
	latest map[string]syncer.CycleResult
	subs   map[*subscriber]struct{}
}

type subscriber struct {
	network string // empty: all networks
	frames  chan []byte
}

// Info is the /info response
type Info struct {
	Cycles   uint64               `json:"cycles"`
	Networks []syncer.CycleResult `json:"networks"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func NewServer() *Server {
	ctx, cancel := context.WithCancel(context.Background())
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	return &Server{
		ctx:     ctx,
		cancel:  cancel,
		zstdEnc: enc,
		latest:  make(map[string]syncer.CycleResult),
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish records a cycle result and fans it out to subscribers. A
// subscriber whose buffer is full is dropped.
func (s *Server) Publish(res syncer.CycleResult) {
	frame, err := s.encode(res)
	if err != nil {
		log.Printf("[Server] Failed to encode cycle result: %v", err)
		return
	}
	s.cycles.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[res.Network] = res
	for sub := range s.subs {
		if sub.network != "" && sub.network != res.Network {
			continue
		}
		select {
		case sub.frames <- frame:
		default:
			log.Printf("[Server] Dropping slow subscriber")
			delete(s.subs, sub)
			close(sub.frames)
		}
	}
}

// Status returns the latest cycle result of a network
func (s *Server) Status(network string) (syncer.CycleResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.latest[network]
	return res, ok
}

// Start listens on addr and returns the bound address
func (s *Server) Start(addr string) (string, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("GET /ws", s.handleWS)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{Handler: mux}
	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			log.Printf("[Server] HTTP server error: %v", err)
		}
	}()

	bound := listener.Addr().String()
	log.Printf("[Server] Listening on %s", bound)
	return bound, nil
}

func (s *Server) Stop() {
	s.cancel()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
}

func (s *Server) encode(res syncer.CycleResult) ([]byte, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	return s.zstdEnc.EncodeAll(data, nil), nil
}

func (s *Server) info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{Cycles: s.cycles.Load(), Networks: make([]syncer.CycleResult, 0, len(s.latest))}
	for _, res := range s.latest {
		info.Networks = append(info.Networks, res)
	}
	sort.Slice(info.Networks, func(i, j int) bool {
		return info.Networks[i].Network < info.Networks[j].Network
	})
	return info
}

// handleInfo returns the latest result per network as JSON
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.info()); err != nil {
		log.Printf("[Server] Failed to write info: %v", err)
	}
}

// subscribe registers a subscriber and returns the frames it should see
// first: the latest result of every network it follows
func (s *Server) subscribe(network string) (*subscriber, [][]byte) {
	sub := &subscriber{network: network, frames: make(chan []byte, consts.ServerSubscriberBuffer)}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub] = struct{}{}

	names := make([]string, 0, len(s.latest))
	for name := range s.latest {
		if network == "" || name == network {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var backlog [][]byte
	for _, name := range names {
		if frame, err := s.encode(s.latest[name]); err == nil {
			backlog = append(backlog, frame)
		}
	}
	return sub, backlog
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.frames)
	}
}

// handleWS upgrades to WebSocket and streams cycle results
// Binary frames: zstd(CycleResult JSON), one result per frame
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	network := r.URL.Query().Get("network")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub, backlog := s.subscribe(network)
	defer s.unsubscribe(sub)

	log.Printf("[Server] Client connected (network=%q)", network)
	if err := s.stream(conn, sub, backlog); err != nil {
		log.Printf("[Server] Client stream ended: %v", err)
	}
}

func (s *Server) stream(conn *websocket.Conn, sub *subscriber, backlog [][]byte) error {
	for _, frame := range backlog {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return err
		}
	}
	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case frame, ok := <-sub.frames:
			if !ok {
				return fmt.Errorf("subscriber dropped")
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return err
			}
		}
	}
}
