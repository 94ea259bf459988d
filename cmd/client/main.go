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
	transportName := flag.String("transport", client.TransportLongPolling, "Transport: longPolling or webSockets")
	name := flag.String("name", "", "Display name announced when joining rooms")
	flag.Parse()

	c, err := client.New(*transportName, client.Config{URL: *endpointURL})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	log.Printf("Connected to %s as %s via %s", *endpointURL, c.ClientID(), *transportName)

	// Print frames as they arrive
	go func() {
		for frame := range c.Frames() {
			for _, raw := range frame.Messages {
				printEvent(raw)
			}
		}
	}()

	fmt.Println("Type messages, '/join <room>', '/leave <room>', '/to <room> <text>', or '/quit' to exit:")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if text == "/quit" || text == "/exit" {
			break
		}

		msg, ok := parseInput(text, *name)
		if !ok {
			fmt.Println("Unknown command. Use '/join <room>', '/leave <room>', '/to <room> <text>', or plain text.")
			continue
		}

		if err := c.Send(ctx, msg); err != nil {
			log.Printf("Failed to send message: %v", err)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}

	log.Println("Disconnected from server")
}

// parseInput turns one input line into a chat message. Plain text says to
// everyone; commands address rooms.
func parseInput(text, name string) (chat.Message, bool) {
	if room, ok := strings.CutPrefix(text, "/join "); ok {
		return chat.Message{Action: chat.ActionJoin, Room: strings.TrimSpace(room), Name: name}, true
	}
	if room, ok := strings.CutPrefix(text, "/leave "); ok {
		return chat.Message{Action: chat.ActionLeave, Room: strings.TrimSpace(room)}, true
	}
	if rest, ok := strings.CutPrefix(text, "/to "); ok {
		room, body, found := strings.Cut(strings.TrimSpace(rest), " ")
		if !found {
			return chat.Message{}, false
		}
		return chat.Message{Action: chat.ActionSay, Room: room, Text: body}, true
	}
	if strings.HasPrefix(text, "/") {
		return chat.Message{}, false
	}
	return chat.Message{Action: chat.ActionSay, Text: text}, true
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
