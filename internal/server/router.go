package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"samay/internal/config"
)

// NewRouter wires every route. Public routes skip authentication; the rest
// require a bearer token, and admin routes additionally require ADMIN.
func NewRouter(cfg config.ServerConfig, deps Deps) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	h := &handlers{Deps: deps, errorResponder: errorResponder{production: cfg.IsProduction()}}

	r := gin.New()
	r.Use(h.Recovery())
	r.Use(RequestLogger())
	r.Use(CORS(cfg.CORSOrigins))
	r.NoRoute(h.notFound)

	// Public
	r.GET("/", h.root)
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := r.Group("/auth")
	{
		public.POST("/register", h.register)
		public.POST("/login", h.login)
		public.POST("/logout", h.logout)
	}

	protected := r.Group("/")
	protected.Use(h.RequireAuth(deps.Auth))
	admin := protected.Group("/")
	admin.Use(h.RequireAdmin())

	protected.GET("/auth/me", h.me)

	// Activities
	activities := protected.Group("/activities")
	{
		activities.POST("", h.ingest)
		activities.GET("", h.listActivities)
		activities.GET("/stats", h.stats)
		activities.GET("/top-apps", rangeQuery(h, deps.Activities.TopApps))
		activities.GET("/top", rangeQuery(h, deps.Activities.TopActivities))
		activities.GET("/for-user-select", rangeQuery(h, deps.Activities.ForSelection))
		activities.GET("/user-select/:userId", h.userSelectData)
		activities.POST("/select", h.selectActivities)
		activities.POST("/add-project", h.addToProject)
		activities.PUT("/:id", h.updateActivity)
		activities.DELETE("/:id", h.deleteActivity)
	}

	// Projects
	protected.GET("/projects", h.listProjects)
	protected.GET("/projects/:id", h.getProject)
	admin.POST("/projects", h.createProject)
	admin.PUT("/projects/:id", h.updateProject)
	admin.DELETE("/projects/:id", h.deleteProject)
	admin.POST("/projects/:id/users", h.addProjectUsers)
	admin.DELETE("/projects/:id/users/:userId", h.removeProjectUser)

	// Insights
	protected.GET("/insights", h.getInsight)
	protected.GET("/insights/history", h.insightHistory)
	protected.POST("/insights/generate", h.generateInsight)

	// Tags
	protected.GET("/tags", h.listTags)
	admin.POST("/tags", h.createTag)

	// Jobs
	admin.POST("/jobs/:name/run", h.runJob)

	return r
}
