package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

type report struct {
	UID        string  `json:"uid"`
	Seconds    float64 `json:"seconds"`
	BreakerID  string  `json:"breaker_id"`
	Controller string  `json:"controller"`
}

// Simulates one controller on the persistent socket: a tap-in burst
// followed by periodic usage reports, alternating the two wire forms.
func main() {
	addr := flag.String("addr", "localhost:7700", "controller feed address")
	uid := flag.String("uid", "04A1B2C3", "card uid to report")
	breaker := flag.String("breaker", "B1", "breaker id")
	count := flag.Int("count", 20, "reports to send")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Msg("dial failed")
	}
	defer conn.Close()

	for i := 0; i < *count; i++ {
		seconds := 10 + rand.Float64()*20
		if i%2 == 0 {
			r := report{UID: *uid, Seconds: seconds, BreakerID: *breaker, Controller: "sim-001"}
			payload, _ := json.Marshal(r)
			fmt.Fprintf(conn, "%s\n", payload)
		} else {
			fmt.Fprintf(conn, "uid=%s;seconds=%.1f;breaker_id=%s;controller=sim-001\n", *uid, seconds, *breaker)
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Info().Int("reports", *count).Msg("simulation done")
}
