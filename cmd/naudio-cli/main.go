package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lisuiheng/naudio-go/core"
	"github.com/lisuiheng/naudio-go/logger"
	"github.com/lisuiheng/naudio-go/pkg/interfaces"
	"github.com/lisuiheng/naudio-go/utils"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:        "naudio-cli",
		Usage:       "send recorder/player commands over the naudio channel",
		Description: "connects to a running naudio service and prints each response as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "naudio yaml config file",
				Sources: cli.EnvVars("NAUDIO_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "service base url, overrides system.network.url",
			},
			&cli.StringFlag{
				Name:  "channel",
				Usage: "channel name, overrides system.channel",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer token, overrides system.network.access_token",
				Sources: cli.EnvVars("NAUDIO_TOKEN"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "time to wait for a response",
				Value: 10 * time.Second,
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "connection attempts before giving up",
				Value: 3,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "start-recording",
				Usage: "start recording to a new file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "file extension selecting container and codec",
						Value: "3gp",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return invoke(ctx, c, interfaces.MethodStartRecording, map[string]any{"format": c.String("format")})
				},
			},
			{
				Name:  "stop-recording",
				Usage: "stop recording and print the file path",
				Action: func(ctx context.Context, c *cli.Command) error {
					return invoke(ctx, c, interfaces.MethodStopRecording, nil)
				},
			},
			{
				Name:      "play",
				Usage:     "play a recording",
				ArgsUsage: "<path>",
				Action: func(ctx context.Context, c *cli.Command) error {
					path, err := requireArg(c)
					if err != nil {
						return err
					}
					return invoke(ctx, c, interfaces.MethodPlayRecording, map[string]any{"path": path})
				},
			},
			{
				Name:  "stop-playing",
				Usage: "stop the current playback",
				Action: func(ctx context.Context, c *cli.Command) error {
					return invoke(ctx, c, interfaces.MethodStopPlaying, nil)
				},
			},
			{
				Name:      "delete",
				Usage:     "delete a recording",
				ArgsUsage: "<path>",
				Action: func(ctx context.Context, c *cli.Command) error {
					path, err := requireArg(c)
					if err != nil {
						return err
					}
					return invoke(ctx, c, interfaces.MethodDeleteRecording, map[string]any{"path": path})
				},
			},
			{
				Name:  "status",
				Usage: "print recorder and player status",
				Action: func(ctx context.Context, c *cli.Command) error {
					return invoke(ctx, c, interfaces.MethodGetStatus, nil)
				},
			},
			{
				Name:      "call",
				Usage:     "send an arbitrary method with key=value string arguments",
				ArgsUsage: "<method> [key=value...]",
				Action: func(ctx context.Context, c *cli.Command) error {
					method, err := requireArg(c)
					if err != nil {
						return err
					}
					args, err := parseArguments(c.Args().Tail())
					if err != nil {
						return err
					}
					return invoke(ctx, c, method, args)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func requireArg(c *cli.Command) (string, error) {
	if c.Args().Len() < 1 {
		return "", fmt.Errorf("%s: missing argument %s", c.Name, c.ArgsUsage)
	}
	return c.Args().First(), nil
}

func parseArguments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q, want key=value", pair)
		}
		args[key] = value
	}
	return args, nil
}

func loadConfig(c *cli.Command) (core.Config, error) {
	cfg, err := core.LoadConfig(c.String("config"))
	if err != nil {
		return core.Config{}, err
	}
	if url := c.String("url"); url != "" {
		cfg.System.Network.URL = url
	}
	if channel := c.String("channel"); channel != "" {
		cfg.System.Channel = channel
	}
	if token := c.String("token"); token != "" {
		cfg.System.Network.AccessToken = token
	}
	return cfg, nil
}

func invoke(ctx context.Context, c *cli.Command, method string, args map[string]any) error {
	level := "warn"
	if c.Bool("debug") {
		level = "debug"
	}
	if err := logger.Init(logger.Config{Level: level, Outputs: []string{"stderr"}}); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	transport, err := core.NewProtocol(cfg)
	if err != nil {
		return err
	}

	backoff := utils.NewExponentialBackoffWith(200*time.Millisecond, 2*time.Second)
	err = utils.Retry(ctx, backoff, int(c.Int("retries")), func(ctx context.Context) error {
		err := transport.Connect(ctx)
		if err != nil {
			logger.Debug("Connect failed", "url", cfg.System.Network.URL, "error", err)
		}
		return err
	})
	if err != nil {
		return err
	}
	defer transport.Close()

	ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()

	resp, err := transport.Call(ctx, interfaces.MethodCall{Method: method, Arguments: args})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if rerr := resp.Err(); rerr != nil && !errors.Is(rerr, interfaces.ErrNotImplemented) {
		return cli.Exit("", 2)
	}
	return nil
}
