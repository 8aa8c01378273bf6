package diag

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/hearthd/hearth/pkg/types"
)

const (
	probeMaxAttempts  = 3
	handshakeDeadline = time.Second
)

// probeBackoff returns the delay before attempt n (0-based): 0.25 s,
// 0.5 s, 1.0 s, each with 0-100 ms of jitter.
func probeBackoff(attempt int) time.Duration {
	base := 250 * time.Millisecond << attempt
	return base + time.Duration(rand.Intn(100))*time.Millisecond
}

// ProbeResult is the outcome of one handshake-verified TCP probe.
type ProbeResult struct {
	Status types.DiagStatus
	// Host is the candidate that accepted the connection, for logging.
	Host string
}

// dialTimeout is swappable for tests.
var dialTimeout = net.DialTimeout

// ProbeService connects to host:port and verifies the service identifies
// itself: it sends {"ping": tag} and accepts only {"pong": tag} within one
// second. A connection with a wrong or garbled answer is "uncertain" — the
// port is alive but held by something else. The connect budget is three
// attempts total, spread over the candidate hosts.
func ProbeService(host string, port int, tag string) ProbeResult {
	attempt := 0
	for _, candidate := range candidateHosts(host) {
		if attempt >= probeMaxAttempts {
			break
		}
		if attempt > 0 {
			time.Sleep(probeBackoff(attempt - 1))
		}
		attempt++

		conn, err := dialTimeout("tcp", net.JoinHostPort(candidate, fmt.Sprint(port)), handshakeDeadline)
		if err != nil {
			continue
		}
		status := handshake(conn, tag)
		conn.Close()
		return ProbeResult{Status: status, Host: candidate}
	}
	return ProbeResult{Status: types.DiagNotReachable}
}

// candidateHosts expands loopback-ish inputs into the fallback order.
func candidateHosts(host string) []string {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return []string{"127.0.0.1", "localhost", "::1"}
	}
	return []string{host, "127.0.0.1", "localhost", "::1"}
}

func handshake(conn net.Conn, tag string) types.DiagStatus {
	deadline := time.Now().Add(handshakeDeadline)
	conn.SetDeadline(deadline)

	if err := json.NewEncoder(conn).Encode(map[string]string{"ping": tag}); err != nil {
		return types.DiagUncertain
	}

	var reply struct {
		Pong string `json:"pong"`
	}
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return types.DiagUncertain
	}
	if reply.Pong != tag {
		return types.DiagUncertain
	}
	return types.DiagReachable
}
