// Command portal-stub runs a development server implementing the legal
// clinic portal's authentication contract. It backs clinicctl during local
// development and the integration tests.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ucmc/clinic-client/internal/core/domain"
	"github.com/ucmc/clinic-client/internal/infrastructure/stubserver"
	"github.com/ucmc/clinic-client/internal/pkg/config"
	"github.com/ucmc/clinic-client/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadStub(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "portal-stub:", err)
		os.Exit(1)
	}

	logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: cfg.Env == "development"})
	log := logger.For("portal-stub")

	deps := stubserver.Deps{}

	if cfg.Mongo.URI != "" {
		client, db, err := stubserver.ConnectMongo(ctx, stubserver.MongoConfig{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("connect mongo")
		}
		defer func() {
			_ = client.Disconnect(context.Background())
		}()
		deps.Mongo = db
		deps.Users = stubserver.NewMongoUsers(db)
		log.Info().Str("database", cfg.Mongo.Database).Msg("users backed by mongo")
	} else {
		users := stubserver.NewInMemoryUsers()
		seedDevUsers(ctx, users)
		deps.Users = users
		log.Info().Msg("users kept in memory with seeded dev accounts")
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("connect redis")
		}
		defer rdb.Close()
		deps.Redis = rdb
		deps.Recovery = stubserver.NewRedisRecovery(rdb)
	} else {
		deps.Recovery = stubserver.NewMemoryRecovery()
	}

	e := stubserver.New(cfg, deps, log)

	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Msg("portal stub listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}

// seedDevUsers gives the in-memory repository one account per role so the
// stub is usable out of the box.
func seedDevUsers(ctx context.Context, users *stubserver.InMemoryUsers) {
	stubserver.Seed(ctx, users, domain.User{
		Email:   "coordinator@ucmc.edu.co",
		Name:    "Carolina",
		Surname: "Mejia",
		Role:    domain.RoleCoordinator,
	}, "coordinator123")
	stubserver.Seed(ctx, users, domain.User{
		Email:   "professor@ucmc.edu.co",
		Name:    "Ricardo",
		Surname: "Salazar",
		Role:    domain.RoleProfessor,
	}, "professor123")
	stubserver.Seed(ctx, users, domain.User{
		Email:       "student@ucmc.edu.co",
		Name:        "Laura",
		Surname:     "Gomez",
		Role:        domain.RoleStudent,
		StudentCode: "20231001",
		Program:     "Derecho",
		Semester:    7,
	}, "student123")
}
