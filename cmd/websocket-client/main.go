package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/TotallyBullshit/SignalR/internal/chat"
	"github.com/TotallyBullshit/SignalR/internal/client"
)

func main() {
	endpointURL := flag.String("url", "http://localhost:8080/chat", "Endpoint URL (e.g., http://localhost:8080/chat)")
	room := flag.String("room", "", "Room to speak into, joined at connect time")
	name := flag.String("name", "", "Display name announced when joining")
	flag.Parse()

	cfg := client.Config{URL: *endpointURL}
	if *room != "" {
		cfg.Groups = []string{*room}
	}

	c := client.NewWebSocket(cfg)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	log.Printf("Connected to %s as %s", *endpointURL, c.ClientID())

	if *room != "" && *name != "" {
		if err := c.Send(ctx, chat.Message{Action: chat.ActionJoin, Room: *room, Name: *name}); err != nil {
			log.Fatalf("Failed to join %s: %v", *room, err)
		}
	}

	go func() {
		for frame := range c.Frames() {
			for _, raw := range frame.Messages {
				printEvent(raw)
			}
		}
	}()

	fmt.Println("Type your messages (or '/quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if text == "/quit" || text == "/exit" {
			break
		}

		if err := c.Send(ctx, chat.Message{Action: chat.ActionSay, Room: *room, Text: text}); err != nil {
			log.Printf("Failed to send message: %v", err)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}

	log.Println("Disconnected from server")
}

func printEvent(raw json.RawMessage) {
	var ev chat.Event
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Kind == "" {
		fmt.Printf(">> %s\n", string(raw))
		return
	}

	switch ev.Kind {
	case chat.EventMessage:
		if ev.Room != "" {
			fmt.Printf("[%s @ %s]: %s\n", ev.Sender, ev.Room, ev.Text)
		} else {
			fmt.Printf("[%s]: %s\n", ev.Sender, ev.Text)
		}
	case chat.EventJoined:
		fmt.Printf("*** %s joined %s ***\n", ev.Sender, ev.Room)
	case chat.EventLeft:
		fmt.Printf("*** %s left %s ***\n", ev.Sender, ev.Room)
	case chat.EventPresence:
		fmt.Printf("*** %d client(s) connected ***\n", ev.Count)
	default:
		fmt.Printf(">> %s\n", string(raw))
	}
}
