package main // Entry point for a check-in kiosk device

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rollcall-app/rollcall/internal/clock"
	"github.com/rollcall-app/rollcall/internal/config"
	"github.com/rollcall-app/rollcall/internal/engine"
	"github.com/rollcall-app/rollcall/internal/model"
	"github.com/rollcall-app/rollcall/internal/roster"
	"github.com/rollcall-app/rollcall/internal/storage"
)

func main() {
	cfg := config.LoadKiosk()
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	log.Printf("kiosk %s starting against %s", cfg.DeviceID, cfg.ServerURL)

	// Durable storage: local Redis when reachable, otherwise memory-only
	// (queued work then lives only as long as the process).
	var store storage.Store
	if client := config.NewRedisClient(); client != nil {
		store = storage.NewRedis(client, "rollcall:"+cfg.DeviceID+":")
	} else {
		log.Printf("redis unavailable, offline queue will not survive a restart")
		store = storage.NewMemory()
	}

	api := engine.NewHTTPClient(cfg.ServerURL, 10*time.Second)
	clk := clock.New(api.ServerTime)

	snapshots := engine.NewSnapshotStore(store, clk.Now, cfg.SnapshotStale)
	outbox := engine.NewOutbox(store, clk.Now, cfg.QueueMaxAge)

	occ := model.OccurrenceKey{EventID: cfg.EventID, Date: time.Now().Format("2006-01-02")}
	var channel engine.Channel
	if cfg.RealtimeEnabled {
		channel = engine.NewWSChannel(wsURL(cfg.ServerURL, occ), cfg.AckTimeout)
	}
	selector := engine.NewSelector(channel, api, engine.SelectorConfig{
		RealtimeEnabled: cfg.RealtimeEnabled,
		AllowFallback:   cfg.AllowFallback,
	})

	rec := engine.NewReconciler(snapshots, outbox, selector, api, clk, engine.ReconcilerConfig{
		Grace: cfg.GraceWindow,
		OnNotice: func(n engine.Notice) {
			log.Printf("notice: %s (person %d)", n.Message, n.PersonID)
		},
	})
	selector.OnPush(rec.ApplyPush)
	selector.OnReconnect(rec.HandleReconnect)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repaint from durable state before the first round trip completes.
	snapshots.Load(ctx)
	outbox.Load(ctx)
	clk.Sync(ctx)
	rec.SetActive(ctx, occ)
	go selector.Run(ctx)

	// Without a realtime channel there are no reconnect signals, so
	// expiry and replay run on a timer instead.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if outbox.Len() > 0 && !selector.Status().Offline() {
					rec.ReplayOutbox(ctx)
				} else {
					outbox.Expire()
				}
			}
		}
	}()

	runConsole(ctx, rec)
}

// runConsole reads operator commands from stdin.  A production kiosk has
// a touch UI in front of the same engine calls.
func runConsole(ctx context.Context, rec *engine.Reconciler) {
	fmt.Println("commands: list | toggle <personID> | family <familyID> | status | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "list":
			printRoster(rec)
		case "toggle":
			if id, err := strconv.ParseUint(arg(fields), 10, 64); err == nil {
				rec.Toggle(ctx, id)
			}
		case "family":
			if id, err := strconv.ParseUint(arg(fields), 10, 64); err == nil {
				rec.ToggleFamily(ctx, id)
			}
		case "status":
			st := rec.ConnectionState()
			fmt.Printf("mode=%s channel=%v\n", st.Mode, st.ChannelConnected)
		case "quit":
			return
		}
	}
}

func arg(fields []string) string {
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func printRoster(rec *engine.Reconciler) {
	records, visitors := rec.Records()
	for _, g := range roster.Fold(records) {
		fmt.Printf("%s (%d/%d present)\n", g.Label, g.PresentCount(), len(g.Members))
		for _, m := range g.Members {
			fmt.Printf("  [%s] %s %s (#%d)\n", mark(m.Present), m.FirstName, m.LastName, m.PersonID)
		}
	}
	if len(visitors) > 0 {
		fmt.Println("visitors:")
		for _, v := range visitors {
			fmt.Printf("  [%s] %s %s (#%d)\n", mark(v.Present), v.FirstName, v.LastName, v.PersonID)
		}
	}
}

func mark(present bool) string {
	if present {
		return "x"
	}
	return " "
}

// wsURL derives the websocket endpoint for one occurrence from the HTTP
// base URL.
func wsURL(base string, occ model.OccurrenceKey) string {
	ws := strings.Replace(base, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)
	return fmt.Sprintf("%s/v1/events/%d/occurrences/%s/ws", ws, occ.EventID, occ.Date)
}
