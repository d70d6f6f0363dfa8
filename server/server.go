// Package server exposes the notification subsystem over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/gin-gonic/gin"

	"github.com/lira-edu/lira-backend/notify"
	"github.com/lira-edu/lira-backend/pairing"
	"github.com/lira-edu/lira-backend/storage"
	"github.com/lira-edu/lira-backend/users"
)

// Options carries the collaborators the server routes requests to.
type Options struct {
	Addr      string
	JWTSecret string

	// PublicKey is the raw VAPID public key handed to browsers. Empty when
	// no signer could be configured; the key endpoint then reports an error
	// instead of serving a stale key.
	PublicKey []byte

	Subscriptions storage.Storage
	Users         users.Store
	Coordinator   *notify.Coordinator
	Pairing       pairing.Store
	PairingTTL    time.Duration

	Logger *clog.Logger
}

type Server struct {
	addr       string
	publicKey  []byte
	subs       storage.Storage
	users      users.Store
	coord      *notify.Coordinator
	pairing    pairing.Store
	pairingTTL time.Duration
	router     *gin.Engine
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = clog.FromContext(context.Background())
	}
	pairingTTL := opts.PairingTTL
	if pairingTTL <= 0 {
		pairingTTL = 5 * time.Minute
	}

	s := &Server{
		addr:       opts.Addr,
		publicKey:  opts.PublicKey,
		subs:       opts.Subscriptions,
		users:      opts.Users,
		coord:      opts.Coordinator,
		pairing:    opts.Pairing,
		pairingTTL: pairingTTL,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/vapid-public-key", s.handleVAPIDPublicKey)
	api.POST("/pairing-claim", s.handlePairingClaim)

	authed := api.Group("", Auth(opts.JWTSecret))
	authed.POST("/subscribe", s.handleSubscribe)
	authed.POST("/subscribe-mobile", s.handleSubscribeMobile)
	authed.POST("/unsubscribe-mobile", s.handleUnsubscribeMobile)
	authed.POST("/pairing-code", s.handlePairingCode)
	authed.POST("/send-to-user", s.handleSendToUser)
	authed.POST("/send-to-many", s.handleSendToMany)
	authed.GET("/users-with-subscriptions", s.handleUsersWithSubscriptions)
	authed.GET("/all-users", s.handleAllUsers)

	s.router = r
	return s
}

// Handler returns the server's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run blocks serving HTTP until the context is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
