package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hilthontt/nearchat/internal/coordinator"
	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/configs"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"github.com/hilthontt/nearchat/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	var (
		configFlag = pflag.String("config", "", "path to the YAML config file")
		modeFlag   = pflag.StringP("mode", "m", "relay", "transport: relay or direct")
		nameFlag   = pflag.StringP("name", "n", "", "display name")
		roomFlag   = pflag.StringP("room", "r", "", "room code")
		logLevel   = pflag.String("log-level", "warn", "client log level")
	)
	pflag.Parse()

	cfg, err := configs.Load(configs.DetermineConfigPath(*configFlag))
	if err != nil {
		log.Fatal(err)
	}
	cfg.Logger.Level = *logLevel

	mode, err := coordinator.ParseMode(*modeFlag)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, mode, *nameFlag, *roomFlag, logger); err != nil {
		logger.Error(logging.General, logging.Shutdown, "client stopped", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *configs.Config, mode coordinator.Mode, name, room string, logger logging.Logger) error {
	local, err := store.Open(ctx, store.Options{Path: cfg.Store.Path, Capacity: cfg.Store.Capacity, Logger: logger})
	if err != nil {
		return err
	}
	defer local.Close()

	coord, err := coordinator.New(coordinator.Options{
		Relay:         relayFactory(cfg, logger),
		Direct:        directFactory(cfg, logger),
		Store:         local,
		Encryption:    cfg.Encryption.Enabled,
		TypingTimeout: cfg.Typing.Timeout,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer coord.Disconnect()

	coord.Subscribe(render)

	if name != "" || room != "" {
		if room == "" {
			if room, err = domain.GenerateRoomCode(); err != nil {
				return err
			}
		}
		if err := coord.JoinRoom(ctx, domain.User{DisplayName: name, RoomCode: room}); err != nil {
			return err
		}
	} else {
		user, ok, err := coord.Resume(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no saved session: pass --name and --room")
		}
		fmt.Printf("resuming as %s in room %s\n", user.DisplayName, user.RoomCode)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.DirectLink.OpenTimeout)
	defer cancel()
	if err := coord.Connect(connectCtx, mode); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, coord, line); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, coord *coordinator.Coordinator, line string) bool {
	switch strings.TrimSpace(line) {
	case "/quit":
		return true
	case "/history":
		history, err := coord.LocalHistory(ctx)
		if err != nil {
			fmt.Println("!", err)
			return false
		}
		for _, msg := range history {
			printMessage(msg)
		}
		return false
	case "":
		return false
	}

	if err := coord.Send(ctx, line); err != nil {
		fmt.Println("!", err)
	}
	return false
}

func render(ev coordinator.Event) {
	switch e := ev.(type) {
	case coordinator.Connected:
		if e.Path != "" {
			fmt.Printf("* connected (%s via %s)\n", e.Mode, e.Path)
		} else {
			fmt.Printf("* connected (%s)\n", e.Mode)
		}
	case coordinator.Disconnected:
		fmt.Printf("* disconnected: %v\n", e.Err)
	case coordinator.RoomHistory:
		fmt.Printf("* room %s, %d earlier messages\n", e.RoomCode, len(e.Messages))
		for _, msg := range e.Messages {
			printMessage(msg)
		}
	case coordinator.MessageReceived:
		printMessage(e.Message)
	case coordinator.RoomMembers:
		names := make([]string, 0, len(e.Members))
		for _, m := range e.Members {
			names = append(names, m.DisplayName)
		}
		fmt.Printf("* members: %s\n", strings.Join(names, ", "))
	case coordinator.MemberJoined:
		fmt.Printf("* %s joined\n", e.Member.UserName)
	case coordinator.MemberLeft:
		fmt.Printf("* %s left\n", e.Member.UserName)
	case coordinator.UserTyping:
		fmt.Printf("* %s is typing...\n", e.UserName)
	case coordinator.Error:
		fmt.Printf("! %s: %s\n", e.Kind, e.Detail)
	}
}

func printMessage(msg coordinator.ChatMessage) {
	who := msg.SenderName
	if msg.IsMine {
		who = "me"
	}
	suffix := ""
	if msg.DeliveryFailed {
		suffix = " (not delivered)"
	}
	fmt.Printf("[%s] %s: %s%s\n", msg.Timestamp, who, msg.Text, suffix)
}
