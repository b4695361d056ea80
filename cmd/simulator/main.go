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

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-location-simulator/internal/auth"
	"github.com/ukydev/fleet-location-simulator/internal/backend"
	"github.com/ukydev/fleet-location-simulator/internal/config"
	"github.com/ukydev/fleet-location-simulator/internal/db"
	"github.com/ukydev/fleet-location-simulator/internal/handlers"
	"github.com/ukydev/fleet-location-simulator/internal/middleware"
	"github.com/ukydev/fleet-location-simulator/internal/models"
	"github.com/ukydev/fleet-location-simulator/internal/simulator"
	"github.com/ukydev/fleet-location-simulator/internal/sink"
	"github.com/ukydev/fleet-location-simulator/internal/stream"
)

const serviceSubject = "location-simulator"

// app holds the wired components of one simulator process.
type app struct {
	sim     *simulator.Simulator
	hub     *stream.Hub
	history db.PositionCollection
	handler http.Handler
	closers []func()
}

func (a *app) close() {
	a.sim.Close()
	if a.hub != nil {
		a.hub.Close()
	}
	a.releaseClosers()
}

// releaseClosers tears down connections in reverse order of opening.
func (a *app) releaseClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// components are the collaborators a configuration can select from.
type components struct {
	backend  *backend.Client
	vehicles db.VehicleCollection
	history  db.PositionCollection
	hub      *stream.Hub
}

func newAuthService(cfg *config.Config) *auth.Service {
	var operators []models.Operator
	if cfg.OperatorPasswordHash != "" {
		operators = append(operators, models.Operator{
			Username:     cfg.OperatorUsername,
			PasswordHash: cfg.OperatorPasswordHash,
			Role:         models.RoleOperator,
		})
	}
	return auth.NewService(cfg.JWTSecret, cfg.JWTExpiry, operators...)
}

// tokenSource picks how backend calls authenticate: a fixed token wins,
// otherwise a service token is minted when a signing secret is shared.
func tokenSource(cfg *config.Config, authService *auth.Service) backend.TokenSource {
	switch {
	case cfg.AuthToken != "":
		return backend.StaticToken(cfg.AuthToken)
	case cfg.JWTSecret != "":
		return backend.ServiceToken(authService, serviceSubject)
	default:
		return backend.StaticToken("")
	}
}

func needsMongo(cfg *config.Config) bool {
	return cfg.Directory == config.DirectoryMongo || cfg.HasSink(config.SinkMongo)
}

func selectDirectory(cfg *config.Config, c *components) (simulator.Directory, error) {
	switch cfg.Directory {
	case config.DirectoryHTTP:
		return c.backend, nil
	case config.DirectoryMongo:
		if c.vehicles == nil {
			return nil, errors.New("mongo directory selected without a database")
		}
		return db.VehicleDirectory{Vehicles: c.vehicles}, nil
	default:
		return nil, fmt.Errorf("unknown directory %q", cfg.Directory)
	}
}

// buildSinks assembles the configured sinks. Brokers are connected here and
// their teardown is appended to a.
func buildSinks(cfg *config.Config, c *components, a *app, logger log.FieldLogger) (sink.Multi, error) {
	var sinks sink.Multi
	for _, name := range cfg.Sinks {
		switch name {
		case config.SinkHTTP:
			sinks = append(sinks, sink.Named{Name: name, Sink: c.backend})
		case config.SinkMongo:
			if c.vehicles == nil {
				return nil, errors.New("mongo sink selected without a database")
			}
			sinks = append(sinks, sink.Named{Name: name, Sink: &db.LocationSink{Vehicles: c.vehicles, History: c.history}})
		case config.SinkMQTT:
			client, err := sink.NewMQTTClient(cfg.MQTTBroker, cfg.MQTTClientID)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func() { client.Disconnect(250) })
			sinks = append(sinks, sink.Named{Name: name, Sink: sink.NewMQTTSink(client)})
			logger.WithField("broker", cfg.MQTTBroker).Info("Connected to MQTT broker")
		case config.SinkAMQP:
			conn, err := amqp.Dial(cfg.RabbitMQURL)
			if err != nil {
				return nil, fmt.Errorf("rabbitmq dial: %w", err)
			}
			a.closers = append(a.closers, func() { conn.Close() })
			s, err := sink.NewAMQPSink(conn)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, sink.Named{Name: name, Sink: s})
			logger.Info("Connected to RabbitMQ")
		case config.SinkWS:
			if c.hub == nil {
				c.hub = stream.NewHub(logger)
				a.hub = c.hub
			}
			sinks = append(sinks, sink.Named{Name: name, Sink: c.hub})
		default:
			return nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	if len(sinks) == 0 {
		return nil, errors.New("no location sink configured")
	}
	return sinks, nil
}

// newApp wires every component. c.vehicles and c.history are expected to be
// set already when the configuration needs MongoDB.
func newApp(cfg *config.Config, c *components, logger log.FieldLogger) (*app, error) {
	authService := newAuthService(cfg)
	if c.backend == nil {
		c.backend = backend.New(cfg.APIBaseURL, tokenSource(cfg, authService))
	}

	a := &app{history: c.history}
	directory, err := selectDirectory(cfg, c)
	if err != nil {
		return nil, err
	}
	sinks, err := buildSinks(cfg, c, a, logger)
	if err != nil {
		a.releaseClosers()
		return nil, err
	}

	a.sim = simulator.New(directory, sinks,
		simulator.WithLogger(logger),
		simulator.WithDefaultInterval(cfg.TickInterval),
	)

	var streamHandler http.Handler
	if a.hub != nil {
		streamHandler = http.HandlerFunc(a.hub.ServeWS)
	}

	authMiddleware := middleware.NewAuthMiddleware(authService, logger)
	router := handlers.NewRouter(
		handlers.NewAuthHandler(authService, logger),
		handlers.NewSimulationHandler(a.sim, a.history, logger),
		streamHandler,
		authMiddleware,
	)
	limiter := middleware.NewRateLimitMiddleware()
	a.handler = middleware.RequestLogger(logger)(limiter.RateLimit(cfg.RateLimitPerMinute, time.Minute)(router))

	return a, nil
}

// autoStart starts the given vehicles. Failures are logged and skipped.
func (a *app) autoStart(ctx context.Context, vehicleIDs []string, logger log.FieldLogger) int {
	started := 0
	for _, id := range vehicleIDs {
		if err := a.sim.StartSimulation(ctx, id, 0); err != nil {
			logger.WithField("vehicle_id", id).WithError(err).Warn("Skipping vehicle")
			continue
		}
		started++
	}
	return started
}

func main() {
	cfg := config.Load()
	log.SetLevel(cfg.LogLevel)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &components{}
	var mongoClose func()
	if needsMongo(cfg) {
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to MongoDB")
		}
		mongoClose = func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(shutdownCtx); err != nil {
				log.WithError(err).Warn("Failed to disconnect from MongoDB")
			}
		}
		database := client.Database(cfg.MongoDB)
		c.vehicles = &db.MongoCollection{Collection: database.Collection("vehicles")}
		c.history = &db.PositionHistory{Collection: database.Collection("positions")}
		log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")
	}

	a, err := newApp(cfg, c, logger)
	if err != nil {
		if mongoClose != nil {
			mongoClose()
		}
		log.WithError(err).Fatal("Failed to wire simulator")
	}
	if mongoClose != nil {
		a.closers = append([]func(){mongoClose}, a.closers...)
	}

	log.WithFields(log.Fields{
		"api_url":   cfg.APIBaseURL,
		"directory": cfg.Directory,
		"sinks":     cfg.Sinks,
		"interval":  cfg.TickInterval,
	}).Info("Starting location simulator")

	if len(cfg.Vehicles) > 0 {
		started := a.autoStart(ctx, cfg.Vehicles, logger)
		log.WithFields(log.Fields{"requested": len(cfg.Vehicles), "started": started}).Info("Auto-started simulations")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("Control API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown")
	}
	a.close()
	log.Info("Simulator stopped")
}
