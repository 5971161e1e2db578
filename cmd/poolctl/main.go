// Command poolctl is a small operations CLI for a running poolwarden server.
//
// Usage:
//
//	poolctl [flags] <command> [args]
//
// Commands:
//
//	stats                       print pool statistics
//	acquire <identity>          acquire an instance for identity
//	stopped <instance-id>       report an instance as stopped
//	drain                       stop all warm unassigned instances
//	configure <target> <every>  set warm target and refresh interval
//
// Example:
//
//	poolctl --server=http://localhost:8080 acquire user-42
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type cli struct {
	server string
	apiKey string
	client *http.Client
}

func main() {
	var (
		server  = flag.String("server", "http://localhost:8080", "poolwarden server base URL")
		apiKey  = flag.String("api-key", os.Getenv("SERVER_API_KEY"), "API key (defaults to SERVER_API_KEY)")
		timeout = flag.Duration("timeout", 30*time.Second, "request timeout")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	log.SetFlags(0)

	c := &cli{
		server: *server,
		apiKey: *apiKey,
		client: &http.Client{Timeout: *timeout},
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "stats":
		err = c.stats()
	case "acquire":
		if flag.NArg() < 2 {
			log.Fatal("acquire requires an identity argument")
		}
		err = c.acquire(flag.Arg(1))
	case "stopped":
		if flag.NArg() < 2 {
			log.Fatal("stopped requires an instance id argument")
		}
		err = c.stopped(flag.Arg(1))
	case "drain":
		err = c.drain()
	case "configure":
		if flag.NArg() < 3 {
			log.Fatal("configure requires warm target and refresh interval arguments")
		}
		err = c.configure(flag.Arg(1), flag.Arg(2))
	default:
		log.Printf("unknown command: %s", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: poolctl [flags] <command> [args]

Commands:
  stats                       print pool statistics
  acquire <identity>          acquire an instance for identity
  stopped <instance-id>       report an instance as stopped
  drain                       stop all warm unassigned instances
  configure <target> <every>  set warm target and refresh interval

Flags:
`)
	flag.PrintDefaults()
}

func (c *cli) stats() error {
	body, err := c.do(http.MethodGet, "/api/v1/pool/stats", nil)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func (c *cli) acquire(identity string) error {
	payload, _ := json.Marshal(map[string]string{"identity": identity})
	body, err := c.do(http.MethodPost, "/api/v1/instances/acquire", payload)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func (c *cli) stopped(instanceID string) error {
	_, err := c.do(http.MethodPost, "/api/v1/instances/"+instanceID+"/stopped", nil)
	if err != nil {
		return err
	}
	log.Printf("reported %s stopped", instanceID)
	return nil
}

func (c *cli) drain() error {
	body, err := c.do(http.MethodPost, "/api/v1/pool/drain", nil)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func (c *cli) configure(target, every string) error {
	if _, err := time.ParseDuration(every); err != nil {
		return fmt.Errorf("invalid refresh interval %q: %w", every, err)
	}
	payload, err := json.Marshal(map[string]any{
		"warm_target":      atoi(target),
		"refresh_interval": every,
	})
	if err != nil {
		return err
	}
	body, err := c.do(http.MethodPut, "/api/v1/pool/config", payload)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func atoi(s string) int {
	n := 0
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		log.Fatalf("invalid number: %s", s)
	}
	return n
}

func (c *cli) do(method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.server+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}
	return data, nil
}

func printJSON(data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		// Not JSON, print as-is
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
