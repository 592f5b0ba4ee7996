package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/audiencehub/audiencehub/collection"
	"github.com/audiencehub/audiencehub/collector/reddit"
	"github.com/audiencehub/audiencehub/server"
	"github.com/audiencehub/audiencehub/storage"
	"github.com/audiencehub/audiencehub/utils"
	"github.com/audiencehub/audiencehub/utils/dotenv"
	Logger "github.com/audiencehub/audiencehub/utils/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const defaultCollectionInterval = 6 * time.Hour

func init() {
	Logger.Log.Info("api server initialized")
}

func cleanup() {
	Logger.Log.Info("api server shutdown")
}

// collectionInterval reads COLLECTION_INTERVAL (a time.Duration string, e.g.
// "6h") and falls back to the default on absence or parse failure.
func collectionInterval() time.Duration {
	raw := os.Getenv("COLLECTION_INTERVAL")
	if raw == "" {
		return defaultCollectionInterval
	}
	interval, err := time.ParseDuration(raw)
	if err != nil {
		Logger.Log.Warnf("invalid COLLECTION_INTERVAL %q, using default: %v", raw, err)
		return defaultCollectionInterval
	}
	return interval
}

// newTracker prefers Redis when configured so status is visible across
// processes, and degrades to the in-memory tracker otherwise.
func newTracker() collection.Tracker {
	if os.Getenv("REDIS_HOST") == "" {
		return collection.NewMemoryTracker()
	}
	tracker, err := collection.NewRedisTracker()
	if err != nil {
		Logger.Log.Warnf("redis unavailable, falling back to in-memory tracker: %v", err)
		return collection.NewMemoryTracker()
	}
	return tracker
}

func main() {
	defer cleanup()
	flag.Parse()
	// Rebuild the log entry now that -service and -dev have real values.
	Logger.InitLogger()

	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}

	db, err := utils.GetDBConnection()
	if err != nil {
		Logger.Log.Fatalf("cannot connect to DB: %v", err)
	}
	utils.DatabaseSetupAndMigration(db)

	audienceStore := storage.NewAudienceStore(db)
	itemStore := storage.NewItemStore(db)
	tracker := newTracker()
	provider := reddit.NewClient()

	orchestrator := collection.NewOrchestrator(provider, itemStore, audienceStore, tracker)
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	scheduler := collection.NewScheduler(bus, audienceStore, collectionInterval())
	executor := collection.NewExecutor(bus, orchestrator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := executor.Run(ctx); err != nil {
			Logger.Log.Errorf("executor stopped: %v", err)
		}
	}()
	go func() {
		if err := scheduler.Run(ctx); err != nil {
			Logger.Log.Errorf("scheduler stopped: %v", err)
		}
	}()

	// Default With the Logger and Recovery middleware already attached
	router := gin.Default()
	router.Use(cors.Default())

	server.NewHandler(audienceStore, tracker, scheduler).Register(router)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	Logger.Log.Info("api server starts up")
	router.Run(":8080")
}
