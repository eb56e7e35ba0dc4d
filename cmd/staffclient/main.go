// Command staffclient is the staff-side process. The foreground keeps the
// realtime subscriptions alive and renders the request countdown; the
// background worker polls for chat messages and raises notifications. The
// two halves share no state and talk only through channels.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-dispatch-backend/internal/client"
	"github.com/tbourn/go-dispatch-backend/internal/clock"
	"github.com/tbourn/go-dispatch-backend/internal/config"
	"github.com/tbourn/go-dispatch-backend/internal/countdown"
	"github.com/tbourn/go-dispatch-backend/internal/domain"
	httpapi "github.com/tbourn/go-dispatch-backend/internal/http"
	"github.com/tbourn/go-dispatch-backend/internal/observability"
	"github.com/tbourn/go-dispatch-backend/internal/realtime"
	"github.com/tbourn/go-dispatch-backend/internal/supervisor"
	"github.com/tbourn/go-dispatch-backend/internal/sysutil"
	"github.com/tbourn/go-dispatch-backend/internal/worker"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	if cfg.Client.StaffID == "" || cfg.Client.StoreID == "" {
		log.Fatal().Msg("STAFF_ID and STAFF_STORE_ID are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Build{Version: version, Role: "staffclient"})
	if err != nil {
		log.Fatal().Err(err).Msg("otel")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("staff client stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	cc := cfg.Client
	coord := cfg.Coordination
	lg := log.Logger.With().Str("staff_id", cc.StaffID).Str("store_id", cc.StoreID).Logger()

	api, err := client.New(client.Options{
		BaseURL:     cc.ServerURL,
		APIBasePath: cfg.APIBasePath,
		ActorID:     cc.StaffID,
		Role:        domain.RoleStaff,
		Log:         lg,
	})
	if err != nil {
		return err
	}
	dialer := &realtime.Dialer{
		BaseURL:     cc.ServerURL,
		Path:        httpapi.RealtimePath,
		ReadTimeout: 2 * coord.HeartbeatInterval,
		Log:         lg,
	}

	// Channels are the only link between the two contexts.
	beats := make(chan worker.Heartbeat, 1)
	restart := make(chan struct{}, 1)
	nav := make(chan worker.ClientMessage, 1)

	notifier := &terminalNotifier{out: os.Stdout}
	bg := worker.New(worker.Config{
		HeartbeatInterval: coord.HeartbeatInterval,
		PollInterval:      coord.PollInterval,
		KeepaliveInterval: coord.KeepaliveInterval,
	}, api, api, notifier, &channelHost{nav: nav, out: os.Stdout}, lg)
	bg.Attach(beats)

	presenter := countdown.New(clock.System{}, cc.RecentConsumedGrace)
	requestsTopic := realtime.RequestsTopic(cc.StoreID)

	sup, err := supervisor.New(supervisor.Options{
		Topics:      []string{realtime.TopicStaffChat, requestsTopic},
		Subscriber:  dialer,
		Fetch:       api.Fetch,
		Debounce:    cc.RebuildDebounce,
		SettleDelay: cc.SettleDelay,
		// Heartbeats come from the worker, so the watchdog runs on its interval.
		HeartbeatInterval: coord.HeartbeatInterval,
		OnSnapshot: func(topic string, snap any) {
			switch v := snap.(type) {
			case client.RequestsSnapshot:
				presenter.Update(v.Latest)
			case client.ChatSnapshot:
				lg.Debug().Int("messages", len(v.Messages)).Msg("chat refreshed")
			}
		},
		OnEvent: func(ev realtime.Event) {
			if ev.Topic != realtime.TopicStaffChat || ev.Op != realtime.OpInsert {
				return
			}
			var m domain.ChatMessage
			if err := ev.DecodeRow(&m); err == nil {
				fmt.Printf("💬 %s (%s): %s\n", m.SenderID, m.SenderRole, m.Message)
			}
		},
		OnState: func(st supervisor.State) {
			lg.Info().Str("state", st.String()).Msg("connection")
		},
		OnStale: func() {
			select {
			case restart <- struct{}{}:
			default:
			}
		},
		OnUnavailable: func(err error) {
			lg.Error().Err(err).Msg("realtime unavailable; still retrying")
		},
		Log: lg,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// Background context.
	g.Go(func() error {
		if err := bg.Start(ctx); err != nil {
			return err
		}
		defer bg.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-restart:
				bg.Restart()
			}
		}
	})
	g.Go(func() error {
		pushLoop(ctx, dialer, bg, lg)
		return nil
	})

	// Foreground context.
	g.Go(func() error { return sup.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-beats:
				sup.Beat()
			case msg := <-nav:
				lg.Info().Str("view", msg.View).Str("entity_id", msg.EntityID).Msg("navigate")
				sup.Rebuild(supervisor.TriggerNavigation)
			}
		}
	})
	g.Go(func() error {
		var prev countdown.View
		presenter.Run(ctx, time.Second, func(v countdown.View) {
			if viewChanged(prev, v) {
				printView(v)
			}
			prev = v
		})
		return nil
	})
	g.Go(func() error {
		resumed, release := notifyResume()
		defer release()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-resumed:
				sup.Rebuild(supervisor.TriggerVisibility)
			}
		}
	})

	lines := make(chan string)
	go readLines(os.Stdin, lines)
	g.Go(func() error {
		fmt.Print(helpText)
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					<-ctx.Done()
					return nil
				}
				cmd, ok := parseCommand(line)
				if !ok {
					continue
				}
				if cmd.name == "quit" || cmd.name == "exit" {
					return context.Canceled
				}
				handleCommand(ctx, cmd, cc.StoreID, api, sup, bg, presenter, notifier, lg)
			}
		}
	})

	return g.Wait()
}

func handleCommand(ctx context.Context, cmd command, storeID string, api *client.Client, sup *supervisor.Supervisor, bg *worker.Worker, p *countdown.Presenter, n *terminalNotifier, lg zerolog.Logger) {
	switch cmd.name {
	case "visible":
		sup.Rebuild(supervisor.TriggerVisibility)
	case "focus":
		sup.Rebuild(supervisor.TriggerFocus)
	case "nav":
		sup.Rebuild(supervisor.TriggerNavigation)
	case "visit":
		guests, err := strconv.Atoi(cmd.arg)
		if err != nil || guests <= 0 {
			fmt.Println("usage: visit <guests>")
			return
		}
		out, err := api.RecordVisit(ctx, storeID, guests)
		if err != nil {
			lg.Warn().Err(err).Msg("visit report failed")
			return
		}
		if out.Consumed != nil {
			fmt.Printf("visit %s fulfilled request %s (%s)\n", out.Visit.ID, out.Consumed.ID, out.Consumed.Kind)
		} else {
			fmt.Printf("visit %s recorded\n", out.Visit.ID)
		}
	case "say":
		if cmd.arg == "" {
			fmt.Println("usage: say <text>")
			return
		}
		if _, err := api.PostMessage(ctx, cmd.arg); err != nil {
			lg.Warn().Err(err).Msg("post failed")
		}
	case "open":
		ev, ok := n.lastClick()
		if !ok {
			fmt.Println("no notification yet")
			return
		}
		bg.Click(ev)
	case "status":
		st := sup.Stats()
		fmt.Printf("state=%s gen=%d handles=%d rebuilds=%d coalesced=%d discarded=%d last_seen=%d\n",
			st.State, st.Gen, st.Handles, st.Rebuilds, st.Coalesced, st.Discarded, bg.LastSeen())
		reg := sup.Registry()
		for _, topic := range reg.Topics() {
			if h, ok := reg.Get(topic); ok {
				fmt.Printf("  %s gen=%d %s\n", topic, h.Gen, h.Status())
			}
		}
	case "refresh":
		snap, err := sup.Refresh(ctx, realtime.RequestsTopic(storeID))
		if err != nil {
			lg.Warn().Err(err).Msg("refresh failed")
			return
		}
		if rs, ok := snap.(client.RequestsSnapshot); ok {
			p.Update(rs.Latest)
			printView(p.Render(time.Now()))
		}
	default:
		fmt.Print(helpText)
	}
}

// pushLoop keeps the worker's out-of-band push subscription open. It is
// separate from the foreground subscriptions and retries on its own.
func pushLoop(ctx context.Context, d *realtime.Dialer, bg *worker.Worker, lg zerolog.Logger) {
	backoff := time.Second
	for ctx.Err() == nil {
		st, err := d.Subscribe(ctx, realtime.TopicStaffPush)
		if err != nil {
			lg.Debug().Err(err).Dur("retry_in", backoff).Msg("push subscribe failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second
		for ev := range st.Events() {
			bg.Deliver(ev.Row)
		}
		_ = st.Close()
		if err := st.Err(); err != nil {
			lg.Debug().Err(err).Msg("push subscription lost")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}
}

// viewChanged reports whether v is worth printing: a visibility or state
// change, or a new minute of the countdown.
func viewChanged(prev, v countdown.View) bool {
	return prev.Visible != v.Visible || prev.State != v.State ||
		prev.Remaining/time.Minute != v.Remaining/time.Minute
}

func printView(v countdown.View) {
	switch {
	case !v.Visible:
		fmt.Println("⏱  no active request")
	case v.Urgent:
		fmt.Printf("⏱  request active: %s remaining\n", v.Text)
	default:
		fmt.Printf("⏱  request %s\n", v.Text)
	}
}

func readLines(f *os.File, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out <- sc.Text()
	}
}
