package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	file := flag.String("f", "-", "event JSON file, - for stdin")
	flag.Parse()

	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://localhost:8080"
	}

	in := io.Reader(os.Stdin)
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Println("Cannot open event:", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	if err := post(client, api, os.Getenv("API_KEY"), in, os.Stdout); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// post forwards one event to the service and prints the decision it made.
func post(client *http.Client, api, key string, in io.Reader, out io.Writer) error {
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read event: %w", err)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("event is not valid JSON")
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(api, "/")+"/api/events", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error contacting API: %w", err)
	}
	defer resp.Body.Close()

	var res struct {
		Identity string   `json:"identity"`
		Decision string   `json:"decision"`
		Reason   string   `json:"reason"`
		Filtered bool     `json:"filtered"`
		Sent     []string `json:"sent"`
		Failed   []string `json:"failed"`
		Error    string   `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&res)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if res.Error != "" {
			return fmt.Errorf("API returned status %s: %s", resp.Status, res.Error)
		}
		return fmt.Errorf("API returned status: %s", resp.Status)
	}

	switch {
	case res.Filtered:
		fmt.Fprintf(out, "%s filtered (%s)\n", res.Identity, res.Reason)
	case res.Decision == "send":
		fmt.Fprintf(out, "%s sent to %s\n", res.Identity, strings.Join(res.Sent, ", "))
		if len(res.Failed) > 0 {
			fmt.Fprintf(out, "%s failed for %s\n", res.Identity, strings.Join(res.Failed, ", "))
		}
	default:
		fmt.Fprintf(out, "%s suppressed (%s)\n", res.Identity, res.Reason)
	}
	return nil
}
