package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/containerman17/gcs-block-sync/planner"
	"github.com/containerman17/gcs-block-sync/syncer"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer()
	addr, err := s.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, addr
}

func result(network string, maxHeight uint64, copied ...string) syncer.CycleResult {
	return syncer.CycleResult{
		Network:   network,
		Phase:     syncer.Polling,
		PhaseName: syncer.Polling.String(),
		MaxHeight: maxHeight,
		Range:     planner.Range{Start: maxHeight - 5, End: maxHeight + 4},
		Copied:    copied,
	}
}

func readResult(t *testing.T, conn *websocket.Conn, dec *zstd.Decoder) syncer.CycleResult {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("frame type = %d, want binary", kind)
	}
	plain, err := dec.DecodeAll(data, nil)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	var res syncer.CycleResult
	if err := json.Unmarshal(plain, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return res
}

func TestInfo(t *testing.T) {
	s, addr := startServer(t)
	s.Publish(result("mainnet", 100))
	s.Publish(result("devnet", 20))
	s.Publish(result("mainnet", 110, "gs://b/mainnet-110-a.json"))

	resp, err := http.Get("http://" + addr + "/info")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Cycles != 3 {
		t.Errorf("Cycles = %d, want 3", info.Cycles)
	}
	if len(info.Networks) != 2 || info.Networks[0].Network != "devnet" {
		t.Fatalf("Networks = %+v", info.Networks)
	}
	if info.Networks[1].MaxHeight != 110 || info.Networks[1].PhaseName != "polling" {
		t.Errorf("mainnet status = %+v", info.Networks[1])
	}

	if res, ok := s.Status("mainnet"); !ok || res.MaxHeight != 110 {
		t.Errorf("Status(mainnet) = %+v, %v", res, ok)
	}
	if _, ok := s.Status("unknown"); ok {
		t.Error("Status of an unknown network should be absent")
	}
}

func TestStream(t *testing.T) {
	s, addr := startServer(t)
	s.Publish(result("mainnet", 100))

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	// Latest status first, then live results
	if res := readResult(t, conn, dec); res.Network != "mainnet" || res.MaxHeight != 100 {
		t.Errorf("backlog = %+v", res)
	}

	s.Publish(result("mainnet", 101, "gs://b/mainnet-101-a.json"))
	res := readResult(t, conn, dec)
	if res.MaxHeight != 101 || len(res.Copied) != 1 {
		t.Errorf("live result = %+v", res)
	}
	if res.Range != (planner.Range{Start: 96, End: 105}) {
		t.Errorf("Range = %v", res.Range)
	}
}

func TestStreamNetworkFilter(t *testing.T) {
	s, addr := startServer(t)
	s.Publish(result("mainnet", 100))

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws?network=devnet", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	// No devnet backlog; wait until the subscription is registered
	deadline := time.Now().Add(5 * time.Second)
	for {
		s.mu.RLock()
		n := len(s.subs)
		s.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Publish(result("mainnet", 101))
	s.Publish(result("devnet", 7))

	if res := readResult(t, conn, dec); res.Network != "devnet" || res.MaxHeight != 7 {
		t.Errorf("filtered stream delivered %+v", res)
	}
}
