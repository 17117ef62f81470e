package web

import (
	"time"

	"diet-coach/internal/calendar"
	"diet-coach/internal/logging"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// Options configures NewApp.
type Options struct {
	Sessions   *calendar.Registry
	JWTService *JWTService
	Logger     *zap.Logger
	// RateLimit is the number of requests allowed per client per second. Zero disables limiting.
	RateLimit int
}

// NewApp builds the fiber app serving the calendar API.
func NewApp(opts Options) *fiber.App {
	logger := logging.OrNop(opts.Logger)
	app := fiber.New(fiber.Config{
		AppName:               "diet-coach",
		DisableStartupMessage: true,
		BodyLimit:             maxUploadBytes + 1<<20,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return errorResponse(c, err)
		},
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		Output:     zap.NewStdLog(logger.Named("http")).Writer(),
	}))
	if opts.RateLimit > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        opts.RateLimit,
			Expiration: 1 * time.Second,
		}))
	}

	routes := Config{
		App:        app,
		Handler:    NewHandler(opts.Sessions, validator.New(), logger),
		JWTService: opts.JWTService,
		Sessions:   opts.Sessions,
	}
	routes.Setup()
	return app
}

// Config groups what the route table needs.
type Config struct {
	App        *fiber.App
	Handler    *Handler
	JWTService *JWTService
	Sessions   *calendar.Registry
}

func (c *Config) Setup() {
	c.GuestRoute()
	api := c.App.Group("/api", RequireAuth(c.JWTService))
	c.Calendar(api)
	c.Swap(api)
	c.Plan(api)
	api.Post("/logout", c.Handler.Logout)
}

func (c *Config) GuestRoute() {
	c.App.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"status": "ok", "sessions": c.Sessions.Len()})
	})
}

func (c *Config) Calendar(api fiber.Router) {
	cal := api.Group("/calendar")
	{
		cal.Get("/week", c.Handler.Week)
		cal.Get("/day", c.Handler.Day)
		cal.Post("/week/:dir", c.Handler.MoveWeek)
		cal.Post("/day/:idx", c.Handler.SelectDay)
		cal.Post("/today", c.Handler.Today)
	}

	api.Post("/meals/:id/check-in", c.Handler.CheckIn)
	api.Post("/meals/:id/swap", c.Handler.OpenSwap)
	api.Post("/days/:day/types/:type/check-in", c.Handler.MarkAllDone)
}

func (c *Config) Swap(api fiber.Router) {
	sw := api.Group("/swap")
	{
		sw.Get("/", c.Handler.SwapStatus)
		sw.Get("/search", c.Handler.SwapSearch)
		sw.Post("/query", c.Handler.SwapQuery)
		sw.Post("/mode", c.Handler.SwapMode)
		sw.Post("/text", c.Handler.SwapText)
		sw.Post("/image", c.Handler.SwapImage)
		sw.Post("/voice", c.Handler.SwapVoice)
		sw.Post("/select", c.Handler.SwapSelect)
		sw.Post("/close", c.Handler.SwapClose)
	}
}

func (c *Config) Plan(api fiber.Router) {
	api.Get("/evaluation", c.Handler.Evaluation)
	api.Post("/evaluation/advance", c.Handler.Advance)
	api.Post("/evaluation/reset", c.Handler.ResetWeeks)

	plan := api.Group("/plan")
	{
		plan.Post("/generate", c.Handler.Generate)
		plan.Post("/regenerate", c.Handler.Regenerate)
		plan.Post("/extend", c.Handler.Extend)
	}
}
