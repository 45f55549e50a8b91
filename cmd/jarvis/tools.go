package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/suPer8Hu/omi-jarvis/internal/activation"
	"github.com/suPer8Hu/omi-jarvis/internal/db"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the database tables",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			gdb, err := db.Connect(cfg.DB.Driver, cfg.DB.DSN)
			if err != nil {
				return err
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := db.Migrate(gdb, models()...); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func smsCommand() *cli.Command {
	return &cli.Command{
		Name:      "sms",
		Usage:     "Send a test text message",
		ArgsUsage: "[message]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "to",
				Usage: "Destination number (defaults to sms.default_number)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			msg := strings.Join(c.Args().Slice(), " ")
			if msg == "" {
				msg = "This is a test message from your Omi AI system!"
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := &app{cfg: cfg}
			res, err := a.sender().Send(ctx, msg, c.String("to"))
			if err != nil {
				return err
			}
			fmt.Printf("sent: text_id=%s quota_remaining=%d\n", res.TextID, res.QuotaRemaining)
			return nil
		},
	}
}

func detectCommand() *cli.Command {
	return &cli.Command{
		Name:      "detect",
		Usage:     "Check text for an activation phrase",
		ArgsUsage: "<text>",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			text := strings.Join(c.Args().Slice(), " ")
			ok, phrase := activation.NewDetector(cfg.Activation.Phrases).Detect(text)
			if !ok {
				fmt.Println("no activation phrase")
				return cli.Exit("", 1)
			}
			fmt.Printf("activated by %q\n", phrase)
			return nil
		},
	}
}
