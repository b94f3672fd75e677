// Command callsim runs a kiosk and an officer agent against a coordination
// server over an in-process media layer. It places one call, holds it, hangs
// up from the officer side and prints the server's call stats.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kiosk-call/internal/calls"
	"kiosk-call/internal/config"
	"kiosk-call/internal/coordclient"
	"kiosk-call/internal/kiosk"
	"kiosk-call/internal/media/loopback"
	"kiosk-call/internal/officer"
	"kiosk-call/internal/push"
	"kiosk-call/pkg/logger"
)

func main() {
	hold := flag.Duration("hold", 5*time.Second, "how long to keep the call up")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAgent()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	if err := run(ctx, cfg, *hold, log); err != nil {
		log.Error("simulation failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AgentConfig, hold time.Duration, log *slog.Logger) error {
	allow := kiosk.AllowList(cfg.AllowList)
	kioskID := cfg.KioskID
	if kioskID == 0 {
		kioskID = 1
	}
	officerID := cfg.OfficerID
	if officerID == 0 {
		ids := allow.Officers(kioskID)
		if len(ids) == 0 {
			return fmt.Errorf("kiosk %d has no officers on its allow-list", kioskID)
		}
		officerID = ids[0]
	}

	api := coordclient.New(cfg.CoordURL)
	net := loopback.NewNetwork()

	off, err := officer.New(officer.Config{
		OfficerID:    officerID,
		AutoAnswer:   cfg.AutoAnswer,
		RingTimeout:  cfg.RingTimeout,
		PollInterval: cfg.PollInterval,
		Media:        net,
		Devices:      loopback.NewDevices(),
		API:          api,
		Logger:       log,
	})
	if err != nil {
		return err
	}
	kio, err := kiosk.New(kiosk.Config{
		KioskID:       kioskID,
		AllowList:     allow,
		PollInterval:  cfg.PollInterval,
		RegisterCalls: true,
		Media:         net,
		Devices:       loopback.NewDevices(),
		API:           api,
		Window: kiosk.WindowFunc(func(msg kiosk.WindowMessage) {
			log.Info("window message", "type", msg.Type, "officer_id", msg.OfficerID)
		}),
		Logger: log,
	})
	if err != nil {
		return err
	}

	if err := off.Start(ctx); err != nil {
		return fmt.Errorf("officer start: %w", err)
	}
	defer off.Stop()
	if err := kio.Start(ctx); err != nil {
		return fmt.Errorf("kiosk start: %w", err)
	}
	defer kio.Stop()

	if cfg.PushURL != "" {
		closers, err := subscribe(ctx, cfg.PushURL, kioskID, officerID, kio, off, log)
		if err != nil {
			return err
		}
		defer func() {
			for _, c := range closers {
				_ = c.Close()
			}
		}()
	}

	if err := kio.PlaceCall(ctx, officerID); err != nil {
		return fmt.Errorf("place call: %w", err)
	}
	if !cfg.AutoAnswer {
		if err := off.Accept(ctx); err != nil {
			return fmt.Errorf("accept: %w", err)
		}
	}

	snap := off.Snapshot()
	log.Info("call up", "kiosk_id", kioskID, "officer_id", officerID, "call_id", snap.CallID, "status", snap.Status)

	select {
	case <-ctx.Done():
	case <-time.After(hold):
	}

	if err := off.EndCall(); err != nil && !errors.Is(err, officer.ErrNoActiveCall) {
		return err
	}

	statsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stats, err := api.Stats(statsCtx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	printStats(stats)
	return nil
}

// subscribe joins both agents to their push rooms and feeds events into the controllers.
func subscribe(ctx context.Context, url string, kioskID, officerID int64, kio *kiosk.Controller, off *officer.Controller, log *slog.Logger) ([]*push.Client, error) {
	oc, err := push.Dial(ctx, url, logger.Component(log, "push"))
	if err != nil {
		return nil, err
	}
	if err := oc.Register(push.RoleOfficer, officerID); err != nil {
		_ = oc.Close()
		return nil, err
	}
	kc, err := push.Dial(ctx, url, logger.Component(log, "push"))
	if err != nil {
		_ = oc.Close()
		return nil, err
	}
	if err := kc.Register(push.RoleKiosk, kioskID); err != nil {
		_ = oc.Close()
		_ = kc.Close()
		return nil, err
	}

	go func() {
		for msg := range oc.Events() {
			if msg.Event != push.EventNewCall {
				continue
			}
			var rec calls.Record
			if err := msg.Decode(&rec); err != nil {
				log.Warn("bad new-call frame", "err", err)
				continue
			}
			off.NotifyNewCall(rec)
		}
	}()
	go func() {
		for msg := range kc.Events() {
			if msg.Event != push.EventCallStarted {
				continue
			}
			var started push.CallStarted
			if err := msg.Decode(&started); err != nil {
				log.Warn("bad call-started frame", "err", err)
				continue
			}
			kio.NotifyCallStarted(started.CallID)
		}
	}()
	return []*push.Client{oc, kc}, nil
}

func printStats(s calls.Stats) {
	fmt.Printf("total=%d completed=%d acknowledged=%d pending=%d\n",
		s.Total, s.Completed, s.AcknowledgedNotCompleted, s.StillPending)
}
