package main

import (
	"context"
	"errors"
	"html/template"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"

	"github.com/pingme/pingme-server/internal/boot"
	"github.com/pingme/pingme-server/internal/chatstore"
	"github.com/pingme/pingme-server/internal/handlers"
	"github.com/pingme/pingme-server/internal/hub"
	"github.com/pingme/pingme-server/internal/service/auth"
	"github.com/pingme/pingme-server/internal/service/ledger"
	"github.com/pingme/pingme-server/internal/service/presence"
	"github.com/pingme/pingme-server/internal/service/router"
	"github.com/pingme/pingme-server/internal/session"
)

type Template struct {
	templates *template.Template
	watcher   *fsnotify.Watcher
}

func (t *Template) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}

func (t *Template) Watch() {
	var err error

	t.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		log.Fatalf("watcher: %+v", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-t.watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) {
					log.Infof("modified file: %s", event.Name)
					t.templates = template.Must(template.ParseGlob("ui/views/*.html"))
				}
			case err, ok := <-t.watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("watcher: %+v", err)
			}
		}
	}()

	err = t.watcher.Add("./ui/views")
	if err != nil {
		log.Fatalf("watcher: %+v", err)
	}
}

func (t *Template) Close() {
	if t.watcher != nil {
		t.watcher.Close()
	}
}

func NewTemplate() (*Template, error) {
	t := &Template{
		templates: template.Must(template.ParseGlob("ui/views/*.html")),
	}
	return t, nil
}

func main() {
	config, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}

	if err := os.MkdirAll(config.MediaDirectory, 0o755); err != nil {
		log.Fatalf("creating media directory: %+v", err)
	}

	store, err := chatstore.New(&config)
	if err != nil {
		log.Fatalf("opening chat store: %+v", err)
	}
	defer store.Close()

	server := echo.New()
	server.Use(middleware.BodyLimit("100M"))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("pingme"))
	server.Use(middleware.Recover())

	server.Logger.SetLevel(log.INFO)

	headers := []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization}
	server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     headers,
		AllowCredentials: true,
	}))

	authService := auth.New(&config, store)
	presenceTracker := presence.NewTracker(store)
	deliveryLedger := ledger.New(store)
	registry := hub.NewRegistry()
	messageRouter := router.New(store, registry)

	sessionDeps := session.Deps{
		Validator: authService,
		Members:   store,
		Presence:  presenceTracker,
		Ledger:    deliveryLedger,
		Router:    messageRouter,
		Registry:  registry,
		Logger:    server.Logger,
	}

	t, _ := NewTemplate()
	defer t.Close()
	if config.IsDevelopment() {
		t.Watch()
	}
	server.Renderer = t

	server.GET("/", func(c echo.Context) error {
		return c.Render(http.StatusOK, "app.html", nil)
	})
	server.Static("/media", config.MediaDirectory)

	server.GET("/ws/echo", handlers.EchoSocket())
	server.GET("/ws/chat/:threadID", handlers.ChatSocket(sessionDeps))

	authGroup := server.Group("/api/auth")
	authGroup.POST("/register", handlers.Register(authService))
	authGroup.POST("/login", handlers.Login(authService))
	authGroup.GET("/me", handlers.Me(), handlers.RequireAuth(authService))
	authGroup.PATCH("/update", handlers.UpdateProfile(store), handlers.RequireAuth(authService))

	chatGroup := server.Group("/api/chat", handlers.RequireAuth(authService))
	chatGroup.GET("/", handlers.ListThreads(store, deliveryLedger))
	chatGroup.POST("/create", handlers.CreateThread(store, deliveryLedger))
	chatGroup.GET("/:threadID/messages/", handlers.ListMessages(store, deliveryLedger))
	chatGroup.POST("/:threadID/read", handlers.MarkThreadRead(store, deliveryLedger))
	chatGroup.POST("/:threadID/send", handlers.SendMessage(messageRouter))
	chatGroup.POST("/:threadID/media", handlers.UploadMedia(store, messageRouter, config.MediaDirectory))

	go func() {
		metrics := echo.New()
		metrics.GET("/metrics", echoprometheus.NewHandler())
		if err := metrics.Start(config.MetricsAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(config.BindAddress); err != nil && err != http.ErrServerClosed {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		server.Logger.Fatal(err)
	}
}
