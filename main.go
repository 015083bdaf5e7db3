package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	appcfg "MaterniChat/global/config"
	"MaterniChat/logger"
	"MaterniChat/middleware/security"
	"MaterniChat/service/broker"
	"MaterniChat/service/chatserver"
	"MaterniChat/service/engine"
	"MaterniChat/service/history"
	"MaterniChat/service/storage"
	rds "MaterniChat/service/storage/redis"
	"MaterniChat/service/transport"
)

func main() {
	mode := flag.String("mode", "client", "gateway | client")
	endpoint := flag.String("endpoint", "ws://127.0.0.1:8080/ws", "gateway websocket endpoint")
	port := flag.Int("port", 8080, "gateway port")
	user := flag.String("user", "patient-1", "user id")
	role := flag.String("role", "patient", "doctor | patient")
	secret := flag.String("secret", "dev-only-secret", "jwt secret shared with the gateway")
	redisAddr := flag.String("redis", "", "redis addr for the room-list cache (optional)")
	mongoURI := flag.String("mongo", "", "mongo uri for message history (optional)")
	natsURL := flag.String("nats", "", "nats url for room event fan-out (optional)")
	flag.Parse()
	defer logger.Sync()

	appcfg.ConfigIds(100)

	switch *mode {
	case "gateway":
		runGateway(*port, *secret, *mongoURI, *natsURL)
	case "client":
		runClient(*endpoint, *user, *role, *secret, *redisAddr)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}
}

func runGateway(port int, secret, mongoURI, natsURL string) {
	cfg := appcfg.DefaultGateway()
	cfg.Port = port
	cfg.JWTSecret = secret

	var store history.Store = history.NewMemoryStore()
	if mongoURI != "" {
		ms, err := history.NewMongoStore(context.Background(), appcfg.MongoConfig{URI: mongoURI})
		if err != nil {
			logger.Errorf("mongo history unavailable, using memory: %v", err)
		} else {
			store = ms
		}
	}

	var pub *broker.Publisher
	if natsURL != "" {
		p, err := broker.NewPublisher(appcfg.NatsConfig{URL: natsURL}, cfg.NodeID)
		if err != nil {
			logger.Errorf("nats unavailable, fan-out disabled: %v", err)
		} else {
			pub = p
			defer pub.Close()
		}
	}

	srv := chatserver.New(cfg, store, pub)
	if err := srv.Run(); err != nil {
		logger.Errorf("gateway stopped: %v", err)
		os.Exit(1)
	}
}

func runClient(endpoint, user, role, secret, redisAddr string) {
	token, _, err := security.Generate(security.DefaultOptions([]byte(secret)), user, role)
	if err != nil {
		logger.Errorf("mint token: %v", err)
		os.Exit(1)
	}

	var roomCache *storage.Cache
	if redisAddr != "" {
		if err := rds.Init(rds.Config{Addr: redisAddr}); err != nil {
			logger.Warnf("redis unavailable, room cache disabled: %v", err)
		} else {
			roomCache = storage.NewCache(storage.NewRedisKV(), "consult:"+user)
			defer func() { _ = rds.Close() }()
		}
	}

	cfg := appcfg.DefaultEngine()
	cfg.Endpoint = endpoint
	eng := engine.New(cfg, transport.NewWSClient(transport.WSConf{}))

	eng.Subscribe(func(s engine.State) {
		logger.Debugf("state status=%s rooms=%d err=%v", s.Status, len(s.Rooms), s.Err)
	})
	eng.OnRoomCreated(func(r engine.Room) {
		logger.Infof("room created id=%s patient=%s mode=%s", r.ID, r.PatientID, r.Mode)
		cacheRooms(roomCache, eng)
	})
	eng.OnRoomStatusChanged(func(roomID string, mode engine.RoomMode) {
		logger.Infof("room %s switched to %s", roomID, mode)
	})
	eng.OnMessage(func(m engine.Message) {
		logger.Infof("[%s] %s: %s", m.RoomID, m.SenderID, m.Content)
		cacheRooms(roomCache, eng)
	})

	if err := eng.Connect(user, token); err != nil {
		logger.Errorf("connect: %v", err)
		os.Exit(1)
	}
	defer eng.Disconnect()

	// tiny REPL: /join <room>, /rooms, or a message for the active room
	fmt.Println("connected as", user, "("+role+"). commands: /rooms, /join <id>, /quit")
	sc := bufio.NewScanner(os.Stdin)
	activeRoom := ""
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "/quit":
			return
		case line == "/rooms":
			for _, r := range eng.ListRooms() {
				fmt.Printf("  %s patient=%s mode=%s unread=%d\n", r.ID, r.PatientID, r.Mode, r.Unread)
			}
		case strings.HasPrefix(line, "/join "):
			roomID := strings.TrimSpace(strings.TrimPrefix(line, "/join "))
			if err := eng.JoinRoom(roomID); err != nil {
				fmt.Println("join failed:", err)
				continue
			}
			activeRoom = roomID
			fmt.Println("joined", roomID)
		case line == "":
		default:
			if activeRoom == "" {
				rooms := eng.ListRooms()
				if len(rooms) == 0 {
					fmt.Println("no room yet, wait for roomCreated or /join <id>")
					continue
				}
				activeRoom = rooms[0].ID
				_ = eng.JoinRoom(activeRoom)
			}
			if _, err := eng.SendMessage(activeRoom, line); err != nil {
				fmt.Println("send failed:", err)
			}
		}
	}
}

func cacheRooms(cache *storage.Cache, eng *engine.Engine) {
	if cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cache.Set(ctx, "rooms", eng.ListRooms(), 5*time.Minute); err != nil {
		logger.Debugf("room cache write failed: %v", err)
	}
}
