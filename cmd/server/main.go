package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"breakerd/internal/broadcast"
	"breakerd/internal/config"
	"breakerd/internal/engine"
	"breakerd/internal/httpapi"
	"breakerd/internal/ingest"
	"breakerd/internal/mqttfeed"
	"breakerd/internal/power"
	"breakerd/internal/scheduler"
	"breakerd/internal/store"
	"breakerd/internal/tcpfeed"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	switch config.StoreBackend() {
	case "postgres":
		sqlStore, err := store.OpenSQL(config.DBDSN())
		if err != nil {
			log.Fatal().Err(err).Msg("db connect failed")
		}
		defer sqlStore.Close()
		st = sqlStore
	default:
		st = store.NewFile(config.DataPath())
	}

	var backend power.Backend = power.NopBackend{}
	if url := config.PowerURL(); url != "" {
		backend = power.NewHTTP(url, config.PowerToken())
	}

	hub := broadcast.NewHub()
	eng := engine.New(st, backend, hub)
	if err := eng.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("state load failed, refusing to start on corrupt store")
	}

	gw := ingest.NewGateway(eng)

	go scheduler.New(eng, config.TickInterval()).Run(ctx)

	feed := tcpfeed.New(gw)
	go func() {
		if err := feed.Listen(ctx, config.TCPAddr()); err != nil {
			log.Fatal().Err(err).Msg("controller feed failed")
		}
	}()

	if broker := config.MQTTBroker(); broker != "" {
		mq := mqttfeed.New(gw)
		if err := mq.Start(ctx, broker, config.MQTTTopic()); err != nil {
			log.Fatal().Err(err).Msg("mqtt connect failed")
		}
		defer mq.Stop()
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	httpapi.Register(app, eng, gw, hub, backend, config.APIKey())

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	addr := config.APIAddr()
	log.Info().Str("addr", addr).Msg("api listening")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server exit")
	}
}
