package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	commonauth "readsync/server/common/auth"
	"readsync/server/common/infra/cache"
	"readsync/server/common/infra/db"
	"readsync/server/common/infra/mq"
	"readsync/server/common/infra/object"
	commonlog "readsync/server/common/log"
	sessionapi "readsync/server/sessiond/api"
	"readsync/server/sessiond/repository"
	sessionservice "readsync/server/sessiond/service"
)

type Config struct {
	Port          string
	DatabaseDSN   string
	RedisAddr     string
	AMQPURL       string
	MinIOEndpoint string
	MinIOAccess   string
	MinIOSecret   string
	MinIOBucket   string
	MinIOUseSSL   bool
	JWTSecret     string
	JWTTTLMinutes int
}

type Server struct {
	HTTPServer *http.Server

	pool      *pgxpool.Pool
	publisher *sessionservice.EventPublisher
}

func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	sessionRepo := repository.NewSessionRepository(pool)
	annotationRepo := repository.NewAnnotationRepository(pool)
	logRepo := repository.NewLogRepository(pool)
	userRepo := repository.NewUserRepository(pool)

	presence := sessionservice.NewPresenceService(cache.NewClient(cfg.RedisAddr))

	// The broker and object store are optional: without them events are
	// only persisted and deleted sessions are not archived.
	var publisher *sessionservice.EventPublisher
	if cfg.AMQPURL != "" {
		conn, err := mq.NewConnection(cfg.AMQPURL)
		if err != nil {
			commonlog.Warnf("connect amqp %s: %v", cfg.AMQPURL, err)
		} else if publisher, err = sessionservice.NewEventPublisher(conn); err != nil {
			commonlog.Warnf("open amqp channel: %v", err)
			publisher = nil
		}
	}

	var archiver *sessionservice.ArchiveService
	if cfg.MinIOEndpoint != "" {
		objClient, err := object.NewClient(cfg.MinIOEndpoint, cfg.MinIOAccess, cfg.MinIOSecret, cfg.MinIOUseSSL)
		if err != nil {
			commonlog.Warnf("connect minio %s: %v", cfg.MinIOEndpoint, err)
		} else if err := object.EnsureBucket(ctx, objClient, cfg.MinIOBucket); err != nil {
			commonlog.Warnf("ensure bucket %s: %v", cfg.MinIOBucket, err)
		} else {
			archiver = sessionservice.NewArchiveService(objClient, cfg.MinIOBucket, sessionRepo, annotationRepo, logRepo)
		}
	}

	logSvc := sessionservice.NewEventLogService(logRepo, publisher)
	sessionSvc := sessionservice.NewSessionService(sessionRepo, presence, logSvc, archiver)
	annotationSvc := sessionservice.NewAnnotationService(annotationRepo, sessionRepo, logSvc)
	userSvc := sessionservice.NewUserService(userRepo)
	auth := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	h := sessionapi.NewHandler(userSvc, sessionSvc, annotationSvc, logSvc, auth)

	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{HTTPServer: httpServer, pool: pool, publisher: publisher}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	if s.publisher != nil {
		s.publisher.Close()
	}
	s.pool.Close()
	return err
}
