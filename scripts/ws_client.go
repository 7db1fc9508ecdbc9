// Package main runs a demo WebSocket client for the live dispatch feed.
//
//	go run scripts/ws_client.go ws://localhost:8080/v1/feed
package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"
)

func main() {
	url := "ws://localhost:8080/v1/feed"
	if len(os.Args) > 1 {
		url = os.Args[1]
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", url, err)
		os.Exit(1)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fmt.Println(string(msg))
		}
	}()

	select {
	case <-interrupt:
	case <-done:
	}
}
