package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	login "github.com/tcomad/unibot"
	"github.com/tcomad/unibot/internal/helpers"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name: "unibot helper",
		Commands: []*cli.Command{
			runSignWidget,
			runGenerateSecret,
		},
	}

	app.RunAndExitOnError()
}

// runSignWidget prints a /login url carrying a widget payload signed the way
// Telegram signs it, for exercising a local deployment without Telegram.
var runSignWidget = &cli.Command{
	Name: "sign-widget",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "bot-token",
			EnvVars:  []string{"UNIBOT_BOT_TOKEN"},
			Required: true,
		},
		&cli.StringFlag{
			Name:  "login-url",
			Value: "http://localhost:8080/login",
		},
		&cli.Int64Flag{
			Name:     "id",
			Required: true,
		},
		&cli.StringFlag{
			Name: "username",
		},
		&cli.StringFlag{
			Name: "first-name",
		},
		&cli.StringFlag{
			Name: "photo-url",
		},
	},
	Action: func(cmd *cli.Context) error {
		u, err := url.Parse(cmd.String("login-url"))
		if err != nil {
			return err
		}

		fields := map[string]string{
			"id":        strconv.FormatInt(cmd.Int64("id"), 10),
			"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
		}

		for flag, field := range map[string]string{
			"username":   "username",
			"first-name": "first_name",
			"photo-url":  "photo_url",
		} {
			if v := cmd.String(flag); v != "" {
				fields[field] = v
			}
		}

		fields[login.HashField] = login.SignWidget(fields, cmd.String("bot-token"))

		q := url.Values{}
		for k, v := range fields {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()

		fmt.Println(u.String())
		return nil
	},
}

var runGenerateSecret = &cli.Command{
	Name:  "gen-secret",
	Usage: "print a random hex secret, e.g. for --cookie-secret",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "bytes",
			Value: 32,
		},
	},
	Action: func(cmd *cli.Context) error {
		secret, err := helpers.RandomHex(cmd.Int("bytes"))
		if err != nil {
			return err
		}

		fmt.Println(secret)
		return nil
	},
}
