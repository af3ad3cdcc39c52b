package handlers

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/halovoice/voice-caller/internal/call"
	"github.com/halovoice/voice-caller/internal/store"
	"github.com/halovoice/voice-caller/internal/telephony"
	"github.com/halovoice/voice-caller/pkg/env"
	"github.com/halovoice/voice-caller/pkg/logger"
	"github.com/halovoice/voice-caller/pkg/mongo"
)

type Handler struct {
	cfg         *env.Config
	redisClient *redis.Client
	mongoClient *mongo.Client
	logger      *zap.Logger
	manager     *call.Manager
	recorder    *store.MongoRecorder
	hub         *telephony.StreamHub
}

func NewHandler(
	cfg *env.Config,
	redisClient *redis.Client,
	mongoClient *mongo.Client,
	manager *call.Manager,
	recorder *store.MongoRecorder,
	hub *telephony.StreamHub,
) *Handler {
	return &Handler{
		cfg:         cfg,
		redisClient: redisClient,
		mongoClient: mongoClient,
		logger:      logger.Log,
		manager:     manager,
		recorder:    recorder,
		hub:         hub,
	}
}
