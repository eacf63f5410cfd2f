// Command encontro-bot is a headless participant for demos and soak
// testing: it joins a room, marks itself ready, streams a slowly drifting
// synthetic presence, and logs what the server tells it.
package main

import (
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danrezi-gif/encontro/internal/client"
	"github.com/danrezi-gif/encontro/internal/presence"
	"github.com/danrezi-gif/encontro/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://localhost:3001/ws", "server WebSocket URL")
	roomID := flag.String("room", "demo", "room to join")
	readyAfter := flag.Duration("ready-after", 2*time.Second, "delay before marking ready")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	clock := clockwork.NewRealClock()
	network := client.NewNetworkManager(*url, clock)
	room := client.NewRoomManager(network)
	sync := client.NewPresenceSync(network, clock)

	room.OnConnected = func(userID string, participants []string) {
		log.Info().
			Str("user_id", userID).
			Strs("participants", participants).
			Msg("joined room")
	}
	room.OnUserJoined = func(userID string) {
		log.Info().Str("user_id", userID).Msg("participant joined")
	}
	room.OnUserLeft = func(userID string) {
		log.Info().Str("user_id", userID).Msg("participant left")
	}

	network.Subscribe(func(msg protocol.ServerMessage) {
		switch msg := msg.(type) {
		case *protocol.CeremonyStart:
			log.Info().
				Time("start_at", time.UnixMilli(msg.StartTime)).
				Msg("ceremony starting")
		case *protocol.PhaseChange:
			ev := log.Info().Str("phase", string(msg.Phase))
			if msg.DurationMS != nil {
				ev = ev.Dur("duration", time.Duration(*msg.DurationMS)*time.Millisecond)
			}
			ev.Msg("phase change")
		case *protocol.MergeConfirm:
			log.Info().Str("partner", msg.PartnerUserID).Msg("merge confirmed")
		case *protocol.Error:
			log.Warn().Str("message", msg.Message).Msg("server error")
		}
	})
	network.SubscribeState(func(s client.ConnState) {
		log.Info().Stringer("state", s).Msg("connection state")
		if s == client.StateDisconnected {
			log.Error().Msg("gave up reconnecting")
			os.Exit(1)
		}
	})

	if err := room.JoinRoom(*roomID); err != nil {
		log.Warn().Err(err).Msg("initial connect failed, retrying in background")
	}
	sync.StartSending()

	go func() {
		time.Sleep(*readyAfter)
		if err := room.MarkReady(); err != nil {
			log.Warn().Err(err).Msg("mark ready failed")
		}
	}()

	// Drift in a slow circle at eye height, hue rotating with it.
	go func() {
		start := time.Now()
		state := presence.DefaultState(start)
		ticker := time.NewTicker(time.Second / client.SendRate)
		defer ticker.Stop()
		for range ticker.C {
			t := time.Since(start).Seconds()
			state.Position = presence.Vec3{
				X: 2 * math.Cos(t/10),
				Y: 1.6,
				Z: 2 * math.Sin(t/10),
			}
			state.Rotation = presence.Quat{
				Y: math.Sin(t / 20),
				W: math.Cos(t / 20),
			}.Normalize()
			state.ColorState.H = math.Mod(state.ColorState.H+0.2, 360)
			state.MovementRhythm = 0.5 + 0.5*math.Sin(t/5)
			sync.SetLocalState(state)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("leaving")
	sync.Dispose()
	room.LeaveRoom()
}
