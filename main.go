package main

import (
	"log"
	"os"
	"strings"
	"time"

	"animealchemist_back/authorization"
	"animealchemist_back/characters"
	"animealchemist_back/images"
	"animealchemist_back/videos"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

// corsConfig builds the CORS policy from CORS_ALLOW_ORIGINS, falling back to
// allow-all for local development.
func corsConfig() cors.Config {
	config := cors.DefaultConfig()
	config.AllowHeaders = append(config.AllowHeaders, "Authorization")
	config.AllowCredentials = true
	config.MaxAge = 12 * time.Hour

	raw := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS"))
	if raw == "" {
		config.AllowAllOrigins = true
		config.AllowCredentials = false
		return config
	}

	origins := make([]string, 0)
	for _, origin := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	config.AllowOrigins = origins
	return config
}

func main() {
	mustLoadEnv()

	r := gin.Default()
	r.Use(cors.New(corsConfig()))

	authModule, err := authorization.RegisterRoutes(r)
	if err != nil {
		log.Fatalf("register auth routes: %v", err)
	}
	guard := authModule.Guard()

	charactersModule, err := characters.RegisterRoutes(r, guard)
	if err != nil {
		log.Fatalf("register character routes: %v", err)
	}

	imagesModule, err := images.RegisterRoutes(r, guard, authModule, charactersModule)
	if err != nil {
		log.Fatalf("register image routes: %v", err)
	}

	if _, err := videos.RegisterRoutes(r, guard, authModule, charactersModule, imagesModule); err != nil {
		log.Fatalf("register video routes: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}
