package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/KodeKenobi/nusuru-admin/internal/models"
)

var sendCommand = &cli.Command{
	Name:  "send",
	Usage: "send a notification to one or more device tokens and print the report",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:     "token",
			Usage:    "device token, repeat for several",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "title",
			Value: "Test Notification",
		},
		&cli.StringFlag{
			Name:  "body",
			Value: "This is a test notification from your app!",
		},
		&cli.StringFlag{
			Name:  "type",
			Value: "test",
			Usage: "data payload type tag",
		},
	},
	Action: send,
}

func send(cCtx *cli.Context) error {
	// the report goes to stdout, logs to stderr
	cfg, logr, err := loadConfig(cCtx, os.Stderr)
	if err != nil {
		return err
	}

	p, err := newPipeline(cfg, logr, false)
	if err != nil {
		return err
	}
	defer p.Close()

	req := &models.DispatchRequest{
		Tokens: cCtx.StringSlice("token"),
		Notification: &models.Notification{
			Title: cCtx.String("title"),
			Body:  cCtx.String("body"),
		},
		Data: models.Data{"type": cCtx.String("type")},
	}

	report, err := p.dispatcher.Dispatch(cCtx.Context, req)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", req.RequestID, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Success {
		return cli.Exit(fmt.Sprintf("%d of %d deliveries failed", report.FailureCount, report.Total), 2)
	}
	return nil
}
