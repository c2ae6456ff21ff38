// 文件: internal/api/routes.go
package api

import (
	"ISS_Harvester/internal/task"
	"ISS_Harvester/pkg/database"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RegisterRoutes 注册所有API路由
func RegisterRoutes(tm *task.Manager, db database.Store) *chi.Mux {
	return registerRoutes(NewAPIHandlers(tm, db))
}

func registerRoutes(handlers *APIHandlers) *chi.Mux {
	r := chi.NewRouter()

	// --- 中间件 (Middleware) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- API路由 ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks/harvest", handlers.HandleStartHarvestTask)
		r.Get("/tasks/{taskId}", handlers.HandleGetTaskStatus)
		r.Post("/tasks/{taskId}/cancel", handlers.HandleCancelTask)
		r.Post("/tasks/{taskId}/download-progress", handlers.HandleDownloadProgress)
		r.Get("/metadata", handlers.HandleListMetadata)
		r.Get("/metadata/{nasaId}", handlers.HandleGetMetadata)
		r.Get("/config", handlers.HandleGetConfig)
		r.Put("/config", handlers.HandleUpdateConfig)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
