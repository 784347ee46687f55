package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Data-Integrities/backend-ai/internal/config"
	"github.com/Data-Integrities/backend-ai/internal/handlers"
	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/middleware"
	"github.com/Data-Integrities/backend-ai/internal/services"
)

// Services is everything the HTTP layer serves.
type Services struct {
	Store       *services.ExecutionStore
	History     *services.HistoryService
	Operations  *services.OperationService
	Poller      *services.StatusPoller
	Push        *services.PushReceiver
	Broadcaster *services.Broadcaster
	Commands    *services.TaskQueue
	UI          *services.TaskQueue
}

// agentRequestsPerMinute bounds callback, push and task-poll traffic per client IP.
const agentRequestsPerMinute = 600

func New(cfg *config.Config, svc Services, log *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.PathPrefix(cfg.Server.PathPrefix))

	prefix := r.Group(cfg.Server.PathPrefix)

	executionHandler := handlers.NewExecutionHandler(svc.Store, svc.History)
	streamHandler := handlers.NewStreamHandler(svc.Broadcaster, cfg.Stream.GetHeartbeat(), log)
	operationHandler := handlers.NewOperationHandler(svc.Operations)
	actorHandler := handlers.NewActorHandler(svc.Poller, svc.Push)
	versionHandler := handlers.NewVersionHandler(svc.Store, svc.Broadcaster)

	limiter := middleware.NewRateLimiter(agentRequestsPerMinute, time.Minute)
	agentAuth := []gin.HandlerFunc{
		limiter.Middleware(),
		middleware.SmallBodyLimit(),
		middleware.CallbackAuth(cfg.Callback.Token),
	}

	prefix.GET("/health", versionHandler.Health)

	api := prefix.Group("/api")
	api.Use(middleware.DefaultBodyLimit())
	{
		api.GET("/version", versionHandler.Info)

		api.POST("/operations", operationHandler.Start)
		api.POST("/batches/:action", operationHandler.StartBatch)

		api.GET("/executions", executionHandler.List)
		api.GET("/executions/history", executionHandler.History)
		api.GET("/executions/stream", streamHandler.SSE)
		api.GET("/executions/ws", streamHandler.WebSocket)
		api.GET("/executions/:id", executionHandler.Get)

		api.GET("/actors", actorHandler.List)
		api.POST("/poller/run", actorHandler.Poll)

		agents := api.Group("", agentAuth...)
		{
			agents.POST("/executions/:id/complete", executionHandler.Complete)
			agents.POST("/executions/:id/fail", executionHandler.Fail)
			agents.POST("/executions/:id/log", executionHandler.AppendLog)
			agents.POST("/actors/:name/events", actorHandler.Event)
		}

		mountQueue(api.Group("/tasks"), handlers.NewTaskHandler(svc.Commands), agentAuth)
		mountQueue(api.Group("/ui/tasks"), handlers.NewTaskHandler(svc.UI), agentAuth)
	}

	if cfg.Server.PathPrefix != "" && cfg.Server.PathPrefix != "/" {
		r.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusFound, cfg.Server.PathPrefix+"/health")
		})
	}

	return r
}

// mountQueue registers the queue routes. Producers enqueue freely; polling
// actors authenticate like every other agent.
func mountQueue(g *gin.RouterGroup, h *handlers.TaskHandler, agentAuth []gin.HandlerFunc) {
	g.POST("", h.Enqueue)
	g.GET("", h.List)
	g.GET("/:id", h.Get)

	agents := g.Group("", agentAuth...)
	agents.GET("/pending", h.Pending)
	agents.POST("/:id/result", h.PostResult)
}
