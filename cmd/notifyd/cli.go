package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"notifyd/internal/app"
	"notifyd/internal/fdn"
)

const callTimeout = 5 * time.Second

// defaultConfigPath is $XDG_CONFIG_HOME/notifyd/notifyd.yaml.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "notifyd.yaml"
	}
	return filepath.Join(dir, "notifyd", "notifyd.yaml")
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   defaultConfigPath(),
		EnvVars: []string{"NOTIFYD_CONFIG"},
		Usage:   "Path to the YAML or JSON config",
	}
}

func busFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "bus-name",
		Value: fdn.DefaultName,
		Usage: "Well-known name of the running daemon",
	}
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "notifyd",
		Usage:   "Desktop notification daemon",
		Version: Version,
		Flags:   []cli.Flag{configFlag()},
		Action:  runDaemon,
		Commands: []*cli.Command{
			runCmd(),
			checkCmd(),
			statusCmd(),
			controlCmd("close-all", "Close every displayed notification", func(ctx context.Context, c *fdn.Client) error {
				return c.CloseAll(ctx)
			}),
			controlCmd("close-top", "Close the top displayed notification", func(ctx context.Context, c *fdn.Client) error {
				return c.CloseTop(ctx)
			}),
			controlCmd("history-pop", "Show the most recent notification from history again", func(ctx context.Context, c *fdn.Client) error {
				return c.HistoryPop(ctx)
			}),
			actionCmd(),
			fullscreenCmd(),
			versionCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Run the daemon (default)",
		Flags:  []cli.Flag{configFlag()},
		Action: runDaemon,
	}
}

func runDaemon(c *cli.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(c.String("config"))
	if err != nil {
		return err
	}
	if err := a.Start(c.Context); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	reason := app.StopAppStop
	select {
	case sig := <-sigs:
		reason = stopReason(sig)
	case <-a.Done():
	}
	if a.Err() != nil {
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func stopReason(sig os.Signal) app.StopReason {
	switch sig {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	}
	return app.StopUnknown
}

func checkCmd() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate the config and compile its rules",
		Flags: []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			rep, err := app.Check(c.String("config"))
			if err != nil {
				return err
			}
			printReport(c.App.Writer, rep)
			return nil
		},
	}
}

func printReport(w io.Writer, rep app.Report) {
	fmt.Fprintf(w, "%s: ok, %d rule(s)\n", rep.Path, rep.Rules)
	for _, err := range rep.Patterns {
		fmt.Fprintf(w, "warning: %v\n", err)
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show or set whether notifications are displayed",
		Flags: []cli.Flag{
			busFlag(),
			&cli.StringFlag{Name: "set", Usage: "Set running to true or false"},
			&cli.BoolFlag{Name: "listen", Aliases: []string{"l"}, Usage: "Print every change of running"},
		},
		Action: func(c *cli.Context) error {
			client, err := fdn.Dial(c.String("bus-name"))
			if err != nil {
				return err
			}
			defer client.Close()

			if raw := c.String("set"); raw != "" {
				v, err := strconv.ParseBool(raw)
				if err != nil {
					return fmt.Errorf("--set: %w", err)
				}
				ctx, cancel := context.WithTimeout(c.Context, callTimeout)
				defer cancel()
				if err := client.SetRunning(ctx, v); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(c.Context, callTimeout)
			v, err := client.Running(ctx)
			cancel()
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, runningText(v))

			if !c.Bool("listen") {
				return nil
			}
			lctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = client.ListenRunning(lctx, func(v bool) {
				fmt.Fprintln(c.App.Writer, runningText(v))
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func runningText(v bool) string {
	if v {
		return "running"
	}
	return "paused"
}

// controlCmd wraps a no-argument control method.
func controlCmd(name, usage string, fn func(context.Context, *fdn.Client) error) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{busFlag()},
		Action: func(c *cli.Context) error {
			return withClient(c, fn)
		},
	}
}

func actionCmd() *cli.Command {
	return &cli.Command{
		Name:      "action",
		Usage:     "Invoke an action on a displayed notification",
		ArgsUsage: "<id> <key>",
		Flags:     []cli.Flag{busFlag()},
		Action: func(c *cli.Context) error {
			id, key, err := parseActionArgs(c.Args().Slice())
			if err != nil {
				return err
			}
			return withClient(c, func(ctx context.Context, client *fdn.Client) error {
				return client.InvokeAction(ctx, id, key)
			})
		},
	}
}

func parseActionArgs(args []string) (uint32, string, error) {
	if len(args) != 2 {
		return 0, "", fmt.Errorf("expected <id> <key>, got %d argument(s)", len(args))
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil || id == 0 {
		return 0, "", fmt.Errorf("invalid notification id %q", args[0])
	}
	if args[1] == "" {
		return 0, "", errors.New("action key is required")
	}
	return uint32(id), args[1], nil
}

func fullscreenCmd() *cli.Command {
	return &cli.Command{
		Name:      "fullscreen",
		Usage:     "Tell the daemon whether a fullscreen window is focused",
		ArgsUsage: "<true|false>",
		Flags:     []cli.Flag{busFlag()},
		Action: func(c *cli.Context) error {
			v, err := strconv.ParseBool(c.Args().First())
			if err != nil {
				return fmt.Errorf("fullscreen: %w", err)
			}
			return withClient(c, func(ctx context.Context, client *fdn.Client) error {
				return client.SetFullscreen(ctx, v)
			})
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "notifyd %s\n", Version)
			return nil
		},
	}
}

func withClient(c *cli.Context, fn func(context.Context, *fdn.Client) error) error {
	client, err := fdn.Dial(c.String("bus-name"))
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := context.WithTimeout(c.Context, callTimeout)
	defer cancel()
	return fn(ctx, client)
}
