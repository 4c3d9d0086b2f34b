// Command chat is a terminal client for the event chat service. It drives
// the SDK the way the mobile app does: one shared connection, the full room
// set joined ambiently for live previews and unread counts, and a focused
// room for reading and sending.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"shipmate/client"
	"shipmate/client/rest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	baseURL := getEnv("CHAT_API_URL", "http://localhost:8080")
	wsURL := getEnv("CHAT_WS_URL", "ws://localhost:8080/ws")
	token := os.Getenv("CHAT_TOKEN")
	userID := os.Getenv("CHAT_USER_ID")
	if token == "" || userID == "" {
		return fmt.Errorf("CHAT_TOKEN and CHAT_USER_ID must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	tokenProvider := func(context.Context) (string, error) { return token, nil }

	api := rest.NewClient(baseURL, rest.TokenProvider(tokenProvider))

	cm := client.NewConnectionManager(client.Config{
		URL:    wsURL,
		Token:  tokenProvider,
		Logger: logger,
	})
	defer cm.Disconnect()

	if err := cm.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	rooms, err := api.ListEventChats(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}
	if len(rooms) == 0 {
		return fmt.Errorf("no event chats for this user")
	}

	tracker := client.NewUnreadTracker(ctx, cm, api, userID)
	defer tracker.Close()
	tracker.Seed(toSnapshots(rooms))

	coordinator := client.NewRoomCoordinator(cm)
	defer coordinator.Close()

	ids := make([]string, 0, len(rooms))
	for _, room := range rooms {
		ids = append(ids, room.EventID)
	}
	coordinator.SetDesiredRooms(ctx, ids)

	capSub := cm.OnCapacity(func(ev client.CapacityEvent) {
		if ev.IsFull {
			fmt.Printf("\r[capacity] event %s is now full\n> ", ev.EventID)
			return
		}
		fmt.Printf("\r[capacity] event %s: %d going, %d spots left\n> ", ev.EventID, ev.Going, ev.Spots)
	})
	defer capSub.Cancel()

	printRooms(rooms, tracker)
	focusID := rooms[0].EventID

	focus, err := coordinator.Focus(ctx, focusID, client.FocusHandlers{
		OnMessage: func(ev client.MessageEvent) {
			fmt.Printf("\r[%s] %s: %s\n> ", ev.EventID, ev.Message.SenderName, ev.Message.Text)
		},
		OnTyping: func(ev client.TypingEvent) {
			if ev.Started {
				fmt.Printf("\r[%s] %s is typing...\n> ", ev.EventID, ev.UserName)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("open room %s: %w", focusID, err)
	}
	defer focus.Close()

	tracker.SetActiveRoom(focusID)
	if err := tracker.MarkRead(ctx, focusID); err != nil {
		logger.Warn("mark read failed", "event_id", focusID, "error", err)
	}

	if err := printHistory(ctx, api, focusID); err != nil {
		return err
	}

	fmt.Printf("chatting in %s, type a message and press enter (ctrl-c to quit)\n", focusID)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			cm.TypingStop(focusID)
			if _, err := cm.SendEventMessage(ctx, focusID, text, client.SendOptions{}); err != nil {
				if client.IsRecoverable(err) {
					fmt.Println("send rejected:", err)
					continue
				}
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

func printHistory(ctx context.Context, api *rest.Client, eventID string) error {
	messages, err := api.GetMessages(ctx, eventID, 20, 0)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	// Newest first on the wire, oldest first on screen.
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		fmt.Printf("[%s] %s: %s\n", eventID, msg.SenderName, msg.Text)
	}
	return nil
}

func printRooms(rooms []rest.RoomSummary, tracker *client.UnreadTracker) {
	sorted := make([]rest.RoomSummary, len(rooms))
	copy(sorted, rooms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Title < sorted[j].Title })

	fmt.Println("your event chats:")
	for _, room := range sorted {
		line := fmt.Sprintf("  %s (%s)", room.Title, room.EventID)
		if unread := tracker.Unread(room.EventID); unread > 0 {
			line += fmt.Sprintf(" [%d unread]", unread)
		}
		if room.LastMessage != nil {
			line += " - " + room.LastMessage.Text
		}
		fmt.Println(line)
	}
}

func toSnapshots(rooms []rest.RoomSummary) []client.RoomSnapshot {
	snapshots := make([]client.RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		snap := client.RoomSnapshot{
			EventID:     room.EventID,
			Title:       room.Title,
			UnreadCount: room.UnreadCount,
		}
		if room.LastMessage != nil {
			snap.LastMessage = &client.MessagePreview{
				Text:       room.LastMessage.Text,
				SenderID:   room.LastMessage.SenderID,
				SenderName: room.LastMessage.SenderName,
				SentAt:     room.LastMessage.SentAt,
			}
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
