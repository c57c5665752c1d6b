// Command eddy-tail follows live changes on EddyDB tables and prints them
// to the terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	eddy "github.com/eddydb/eddy-go"
	"github.com/eddydb/eddy-go/connection"
	"github.com/eddydb/eddy-go/internal/clog"
	"github.com/eddydb/eddy-go/internal/version"
)

func main() {
	app := &cli.App{
		Name:    "eddy-tail",
		Usage:   "Follow live changes on EddyDB tables",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Value:   "ws://127.0.0.1:8000/rpc",
				Usage:   "EddyDB endpoint",
			},
			&cli.StringFlag{
				Name:    "namespace",
				Aliases: []string{"n"},
				Value:   "test",
				Usage:   "namespace to use",
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Value:   "test",
				Usage:   "database to use",
			},
			&cli.StringSliceFlag{
				Name:     "table",
				Aliases:  []string{"t"},
				Required: true,
				Usage:    "table to follow (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print notifications as JSON lines on stdout",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Action: tail,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func tail(c *cli.Context) error {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	handler := clog.New(os.Stderr, level)
	defer handler.Close()
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := eddy.Connect(ctx, c.String("url"), eddy.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	if err := db.Use(ctx, c.String("namespace"), c.String("database")); err != nil {
		return fmt.Errorf("use: %w", err)
	}

	asJSON := c.Bool("json")
	tables := c.StringSlice("table")
	ids := make([]string, 0, len(tables))
	for _, table := range tables {
		id, err := db.Live(ctx, table)
		if err != nil {
			return fmt.Errorf("live %s: %w", table, err)
		}
		if err := db.ListenLive(id, func(note connection.Notification) {
			printNote(logger, table, note, asJSON)
		}); err != nil {
			return err
		}
		ids = append(ids, id)
		logger.Info("following table", "table", table, "live_id", id)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range ids {
		if err := db.Kill(killCtx, id); err != nil {
			logger.Warn("kill failed", "live_id", id, "error", err)
		}
	}
	return nil
}

func printNote(logger *slog.Logger, table string, note connection.Notification, asJSON bool) {
	if note.Action == connection.ActionClose {
		logger.Info("stream closed", "table", table, "detail", note.Detail)
		return
	}

	if asJSON {
		line, err := json.Marshal(struct {
			Table  string            `json:"table"`
			Action connection.Action `json:"action"`
			Result json.RawMessage   `json:"result,omitempty"`
		}{table, note.Action, note.Result})
		if err != nil {
			logger.Warn("encode notification", "error", err)
			return
		}
		fmt.Println(string(line))
		return
	}

	logger.Info("change",
		"table", table,
		"action", note.Action,
		"record", string(note.Result),
	)
}
