package httpserver

import (
	"log"
	"net/http"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/http/handlers"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/health", deps.API.Health)
	mux.HandleFunc("/v1/stats", deps.API.Stats)
	mux.HandleFunc("/v1/describe/video", deps.API.DescribeVideo)
	mux.HandleFunc("/v1/describe/image", deps.API.DescribeImage)
	mux.HandleFunc("/v1/jobs", deps.API.Jobs)
	mux.HandleFunc("/v1/jobs/", deps.API.JobByID)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
