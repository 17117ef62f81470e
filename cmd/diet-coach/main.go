package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"diet-coach/internal/app"
	"diet-coach/internal/calendar"
	"diet-coach/internal/coach"
	"diet-coach/internal/config"
	"diet-coach/internal/database"
	"diet-coach/internal/logging"
	"diet-coach/internal/mealplan"
	"diet-coach/internal/metrics"
	"diet-coach/internal/web"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewDB(cfg.DatabasePath, logger)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	metricsStore := metrics.NewStore(db.SQL, logger)
	client, err := coach.NewClient(cfg, coach.WithObserver(metricsStore))
	if err != nil {
		log.Fatalf("Failed to create backend client: %v", err)
	}

	var jwtService *web.JWTService
	if cfg.WebJWTSecret != "" {
		jwtService = web.NewJWTService(cfg.WebJWTSecret, "diet-coach")
	}

	cmd, args := os.Args[1], os.Args[2:]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	userID := fs.String("user", os.Getenv("DIET_COACH_USER"), "User to act as")

	newApp := func() *app.App {
		if *userID == "" {
			log.Fatalf("-user or DIET_COACH_USER is required")
		}
		cal := calendar.New(*userID, client.ForUser(*userID), calendar.Options{Logger: logger, Location: cfg.Location})
		return app.NewApp(cal, metricsStore, jwtService, os.Stdout, logger)
	}

	ctx := context.Background()
	switch cmd {
	case "week":
		offset := fs.Int("offset", 0, "Weeks to move from today's week")
		fs.Parse(args)
		err = newApp().Week(ctx, *offset)
	case "day":
		fs.Parse(args)
		index := -1
		if fs.NArg() > 0 {
			index = mustInt(fs.Arg(0), "day index")
		}
		err = newApp().Day(ctx, index)
	case "check-in":
		fs.Parse(args)
		if fs.NArg() != 1 {
			log.Fatalf("Usage: diet-coach check-in [-user id] <mealID>")
		}
		err = newApp().CheckIn(ctx, int64(mustInt(fs.Arg(0), "meal id")))
	case "mark-all":
		fs.Parse(args)
		if fs.NArg() != 2 {
			log.Fatalf("Usage: diet-coach mark-all [-user id] <day> <mealType>")
		}
		mealType, perr := mealplan.ParseMealType(fs.Arg(1))
		if perr != nil {
			log.Fatalf("Invalid meal type: %v", perr)
		}
		err = newApp().MarkAllDone(ctx, mustInt(fs.Arg(0), "day"), mealType)
	case "evaluate":
		advance := fs.Bool("advance", false, "Move on if the week is passed")
		reset := fs.Bool("reset", false, "Restart the plan from week 1")
		fs.Parse(args)
		action := app.EvaluateOnly
		switch {
		case *advance && *reset:
			log.Fatalf("-advance and -reset are mutually exclusive")
		case *advance:
			action = app.EvaluateAdvance
		case *reset:
			action = app.EvaluateReset
		}
		err = newApp().Evaluate(ctx, action)
	case "generate":
		regenerate := fs.Bool("regenerate", false, "Replace the current plan")
		fs.Parse(args)
		err = newApp().Generate(ctx, *regenerate)
	case "metrics-cleanup":
		days := fs.Int("days", 30, "Keep records for the last N days")
		fs.Parse(args)
		err = app.NewApp(nil, metricsStore, nil, os.Stdout, logger).CleanupMetrics(ctx, *days)
	case "token":
		ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
		fs.Parse(args)
		if *userID == "" {
			log.Fatalf("-user or DIET_COACH_USER is required")
		}
		err = app.NewApp(nil, nil, jwtService, os.Stdout, logger).IssueToken(*userID, *ttl)
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, coach.UserMessage(err))
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

func mustInt(s, what string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("Invalid %s %q", what, s)
	}
	return n
}

func printUsage() {
	fmt.Println("Usage: diet-coach <command> [-user id] [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  week [-offset n]             Show today's week, or n weeks away")
	fmt.Println("  day [index]                  Show today, or day 0-6 of today's week")
	fmt.Println("  check-in <mealID>            Confirm a meal was eaten")
	fmt.Println("  mark-all <day> <mealType>    Check in every meal of one type on a plan day")
	fmt.Println("  evaluate [-advance|-reset]   Score the current week")
	fmt.Println("  generate [-regenerate]       Create a meal plan")
	fmt.Println("  metrics-cleanup [-days n]    Remove old backend call records")
	fmt.Println("  token [-ttl 24h]             Issue a web API token for -user")
}
