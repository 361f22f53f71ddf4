package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var globalFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "env-file",
		Usage: "dotenv file(s) to load before reading the environment (default .env)",
	},
}

func main() {
	app := &cli.App{
		Name:  "nusuru-push",
		Usage: "Dispatch push notifications through FCM with a service account",
		Flags: globalFlags,
		Commands: []*cli.Command{
			serveCommand,
			sendCommand,
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
