package tcpfeed

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"breakerd/internal/broadcast"
	"breakerd/internal/engine"
	"breakerd/internal/ingest"
	"breakerd/internal/power"
	"breakerd/internal/store"
)

func startFeed(t *testing.T) (net.Addr, *engine.Engine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	seed := `{"cards":{},"breakers":{"B1":{"id":"B1","consumption_rate":1}},"controllers":{}}`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	eng := engine.New(store.NewFile(path), power.NopBackend{}, broadcast.NewHub())
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go New(ingest.NewGateway(eng)).Serve(ctx, ln)
	return ln.Addr(), eng
}

func waitForBalance(t *testing.T, eng *engine.Engine, uid string, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if card, ok := eng.Card(uid); ok && card.Balance == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	card, _ := eng.Card(uid)
	t.Fatalf("card %s never reached balance %f (last: %+v)", uid, want, card)
}

func TestFeedAppliesBothWireShapes(t *testing.T) {
	addr, eng := startFeed(t)
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintln(conn, `{"uid":"C1","seconds":10,"breaker_id":"B1","controller":"node-1"}`)
	fmt.Fprintln(conn, "uid=C1;seconds=5;breaker_id=B1;controller=node-1")
	waitForBalance(t, eng, "C1", 15)

	b, _ := eng.Breaker("B1")
	if !b.On || b.CardUID != "C1" {
		t.Fatalf("breaker not powered and associated: %+v", b)
	}
}

func TestFeedDropsMalformedLinesKeepsConnection(t *testing.T) {
	addr, eng := startFeed(t)
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintln(conn, "this is not a report")
	fmt.Fprintln(conn, `{"uid":"C1","seconds":-3,"breaker_id":"B1"}`)
	// Connection must survive the garbage and accept the next report.
	fmt.Fprintln(conn, `{"uid":"C1","seconds":7,"breaker_id":"B1"}`)
	waitForBalance(t, eng, "C1", 7)
}

func TestFeedRejectsUnknownBreakerWithoutClosing(t *testing.T) {
	addr, eng := startFeed(t)
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintln(conn, `{"uid":"C1","seconds":9,"breaker_id":"ghost"}`)
	fmt.Fprintln(conn, `{"uid":"C1","seconds":9,"breaker_id":"B1"}`)
	waitForBalance(t, eng, "C1", 9)
}

func TestFeedDropsOversizedLineKeepsConnection(t *testing.T) {
	addr, eng := startFeed(t)
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// A line far past any scanner buffer must be dropped, not end the
	// session.
	huge := strings.Repeat("x", 2*1024*1024)
	fmt.Fprintln(conn, huge)
	fmt.Fprintln(conn, `{"uid":"C1","seconds":4,"breaker_id":"B1"}`)
	waitForBalance(t, eng, "C1", 4)
}

func TestClosedConnectionsLeaveNoGoroutines(t *testing.T) {
	addr, _ := startFeed(t)

	baseline := runtime.NumGoroutine()
	for i := 0; i < 30; i++ {
		conn, err := net.Dial("tcp", addr.String())
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		fmt.Fprintln(conn, `{"uid":"C1","seconds":1,"breaker_id":"B1"}`)
		conn.Close()
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline+5 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("goroutines did not settle: baseline %d, now %d", baseline, runtime.NumGoroutine())
}
