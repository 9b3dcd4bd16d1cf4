// Package main runs a demo websocket client for route plan events: it
// stores a small optimized plan, subscribes to its stream and approves it.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

const demoRequest = `{
  "createPlan": true,
  "title": "ws demo",
  "tasks": [
    {"id": "demo-1", "coordinates": {"lat": 52.520, "lng": 13.405}, "weight": 1},
    {"id": "demo-2", "coordinates": {"lat": 52.510, "lng": 13.390}, "weight": 2},
    {"id": "demo-3", "coordinates": {"lat": 52.500, "lng": 13.420}, "weight": 1}
  ]
}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	resp, err := post(base+"/v1/optimize/coordinates", []byte(demoRequest))
	if err != nil {
		log.Fatal(err)
	}
	var optResp struct {
		Method string `json:"method"`
		Plan   *struct {
			ID string `json:"id"`
		} `json:"plan"`
	}
	err = json.NewDecoder(resp.Body).Decode(&optResp)
	_ = resp.Body.Close()
	if err != nil {
		log.Fatal(err)
	}
	if optResp.Plan == nil {
		log.Fatal("no plan returned")
	}
	planID := optResp.Plan.ID
	log.Printf("Plan ID: %s (method %s)", planID, optResp.Method)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/route-plans/stream", RawQuery: "planId=" + url.QueryEscape(planID)}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var evt map[string]any
			if err := c.ReadJSON(&evt); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %v (%v)", evt["type"], evt["reason"])
		}
	}()

	time.Sleep(500 * time.Millisecond)
	if resp, err := post(fmt.Sprintf("%s/v1/route-plans/%s/status", base, planID), []byte(`{"status":"approved"}`)); err == nil {
		_ = resp.Body.Close()
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}

func post(u string, body []byte) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "ws-demo")
	return http.DefaultClient.Do(req)
}
