package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/adapters/media"
	"github.com/peercall/peercall/internal/adapters/rtc"
	sig "github.com/peercall/peercall/internal/adapters/signal"
	"github.com/peercall/peercall/internal/app/call"
	"github.com/peercall/peercall/internal/app/chat"
	"github.com/peercall/peercall/internal/config"
	"github.com/peercall/peercall/internal/domain"
	"github.com/peercall/peercall/internal/protocol"
)

// identity pairs the local user with the relay-assigned id. The id arrives
// on the first frame after every (re)connect, so reads and writes race with
// the read loop.
type identity struct {
	mu   sync.RWMutex
	id   string
	user *domain.User
}

func (i *identity) set(id string) {
	i.mu.Lock()
	i.id = id
	i.mu.Unlock()
}

func (i *identity) get() (string, string) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.id, i.user.DisplayName
}

func (i *identity) rename(name string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.user.SetDisplayName(name)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	user, err := domain.NewUser(cfg.DisplayName)
	if err != nil {
		log.Warn().Err(err).Str("name", cfg.DisplayName).Msg("invalid display name")
		user, _ = domain.NewUser("Anonymous")
	}
	self := &identity{user: user}

	source, err := media.NewSource()
	if err != nil {
		log.Fatal().Err(err).Msg("media source")
	}
	engine, err := rtc.NewEngine(
		rtc.ICEConfig(cfg.STUNServers, cfg.TURNServer, cfg.TURNUsername, cfg.TURNCredential),
		source.RegisterCodecs,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("rtc engine")
	}

	client := sig.NewClient(cfg.RelayURL, sig.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		BaseDelay:  cfg.ReconnectBase,
		MaxDelay:   cfg.ReconnectCap,
		MaxRetries: cfg.ReconnectMax,
	})

	mgr := call.NewManager(call.Config{
		Signal: client,
		Links:  engine,
		Media:  source,
		Self:   self.get,
		OnMessage: func(msg domain.Message) {
			fmt.Printf("* %s\n", msg.Text)
		},
		OnError: func(err error) {
			fmt.Printf("! %s\n", err)
		},
	})

	room := chat.NewRelay(chat.Config{
		Signal:       client,
		Self:         self.get,
		MaxFileBytes: cfg.MaxFileBytes,
		OnMessage: func(msg domain.Message) {
			switch msg.Kind {
			case domain.MessageFile:
				fmt.Printf("[%s] sent a file: %s (%s)\n", msg.Sender, msg.FileName, msg.FileType)
			default:
				fmt.Printf("[%s] %s\n", msg.Sender, msg.Text)
			}
		},
		OnTyping: func(sender string, active bool) {
			if active {
				fmt.Printf("… %s is typing\n", sender)
			}
		},
	})

	client.SetHandler(func(env protocol.Envelope) {
		switch env.Type {
		case protocol.KindUserID:
			self.set(env.UserID)
			fmt.Printf("connected as %s\n", env.UserID)
		case protocol.KindCallOffer, protocol.KindCallAnswer, protocol.KindICECandidate,
			protocol.KindCallRejected, protocol.KindCallEnded:
			mgr.HandleEnvelope(env)
		default:
			room.HandleEnvelope(env)
		}
	})
	client.OnStatus(func(conn sig.Connection, err error) {
		mgr.TransportStatus(conn.State != sig.StatusOpen, err)
	})

	go func() {
		if err := client.Run(ctx); errors.Is(err, domain.ErrConnectionLost) {
			fmt.Println("connection lost, giving up")
			cancel()
		}
	}()

	go readCommands(ctx, cancel, self, mgr, room)

	<-ctx.Done()
	mgr.EndCall()
}

func readCommands(ctx context.Context, quit context.CancelFunc, self *identity, mgr *call.Manager, room *chat.Relay) {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 64*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := room.SendText(line); err != nil {
				fmt.Printf("! %s\n", err)
			}
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "/call":
			err = mgr.StartCall(false)
		case "/video":
			err = mgr.StartCall(true)
		case "/accept":
			err = mgr.AcceptCall()
		case "/reject":
			mgr.RejectCall()
		case "/hangup":
			mgr.EndCall()
		case "/mute":
			mgr.ToggleMute()
		case "/cam":
			mgr.ToggleCamera()
		case "/send":
			err = sendFile(room, strings.TrimSpace(arg))
		case "/name":
			err = self.rename(strings.TrimSpace(arg))
		case "/status":
			snap := mgr.Snapshot()
			fmt.Printf("status=%s video=%v muted=%v elapsed=%s peer=%s\n",
				snap.Status, snap.IsVideo, snap.Muted, snap.Elapsed, snap.RemotePartyName)
		case "/quit":
			quit()
			return
		default:
			fmt.Println("commands: /call /video /accept /reject /hangup /mute /cam /send <path> /name <name> /status /quit")
		}
		if err != nil {
			fmt.Printf("! %s\n", err)
		}
	}
}

func sendFile(room *chat.Relay, path string) error {
	if path == "" {
		return errors.New("usage: /send <path>")
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	return room.SendFile(filepath.Base(path), mimeType, payload)
}
