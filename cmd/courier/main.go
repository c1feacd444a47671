package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	courier "github.com/courier-im/courier/internal/courier"
	"github.com/courier-im/courier/internal/courier/config"
	"github.com/courier-im/courier/internal/courier/delta"
	"github.com/courier-im/courier/internal/courier/session"
	"github.com/courier-im/courier/pkg/logging"
	"github.com/courier-im/courier/pkg/metrics"
)

func main() {
	app := &cli.App{
		Name:  "courier",
		Usage: "realtime messenger client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "cookies",
				Usage: "path to the cookie file",
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			listenCommand(),
			sendCommand(),
			threadsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(c *cli.Context, process logging.ProcessName) (logging.Logger, error) {
	if err := config.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}

	logConfig := logging.NewDefaultConfig(process)
	if !config.IsDevMode() {
		logConfig.Environment = logging.Production
	}
	if err := logging.InitProcessLogger(logConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logging.GetProcessLogger(), nil
}

func cookiePath(c *cli.Context) string {
	if path := c.String("cookies"); path != "" {
		return path
	}
	return config.GetCookieFile()
}

func clientConfig() *courier.Config {
	cfg := courier.DefaultClientConfig()
	cfg.Session.BaseURL = config.GetBaseURL()
	cfg.Session.AuthURL = config.GetAuthURL()
	if ua := config.GetUserAgent(); ua != "" {
		cfg.Session.UserAgent = ua
	}
	cfg.LabelTablePath = config.GetLabelTablePath()
	cfg.AutoMarkDelivered = config.IsAutoMarkDelivered()
	cfg.Decoder.SelfListen = config.IsSelfListen()
	cfg.Transport.CallTimeout = config.GetCallTimeout()
	cfg.Transport.PresenceInterval = config.GetPresenceInterval()
	cfg.TokenRefreshSchedule = config.GetRefreshSchedule()
	return cfg
}

// login authenticates with credentials and persists the session cookies.
func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "authenticate and store session cookies",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Usage: "account email (falls back to COURIER_USERNAME)"},
		},
		Action: func(c *cli.Context) error {
			logger, err := setup(c, logging.ClientProcess)
			if err != nil {
				return err
			}
			defer logging.Shutdown()

			username := c.String("username")
			if username == "" {
				username = config.GetUsername()
			}
			if username == "" {
				return fmt.Errorf("no username given (flag --username or COURIER_USERNAME)")
			}

			password := config.GetPassword()
			if password == "" {
				fmt.Fprintf(os.Stderr, "Password for %s: ", username)
				raw, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = string(raw)
			}

			creds := session.Credentials{
				Username:   username,
				Password:   password,
				TOTPSecret: config.GetTOTPSecret(),
			}

			client, err := courier.Login(c.Context, creds, clientConfig(), logger)
			if err != nil {
				return err
			}
			defer client.Stop()

			path := cookiePath(c)
			if err := client.SaveCookies(path); err != nil {
				return err
			}
			logger.Info("Logged in", "account_id", client.Session().AccountID(), "cookie_file", path)
			fmt.Printf("logged in as %s, cookies saved to %s\n", client.Session().AccountID(), path)
			return nil
		},
	}
}

// listen subscribes to the event stream and prints events until interrupted.
func listenCommand() *cli.Command {
	return &cli.Command{
		Name:  "listen",
		Usage: "stream events to stdout",
		Action: func(c *cli.Context) error {
			logger, err := setup(c, logging.ListenerProcess)
			if err != nil {
				return err
			}
			defer logging.Shutdown()

			cfg := clientConfig()
			if port := config.GetMetricsPort(); port != "" {
				collector := metrics.NewCollector("courier")
				cfg.Metrics = metrics.NewWireMetrics(collector)
				collector.Start()
				defer collector.Stop()

				mux := http.NewServeMux()
				mux.Handle("/metrics", collector.Handler())
				srv := &http.Server{Addr: ":" + port, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("Metrics server stopped", "error", err)
					}
				}()
				defer srv.Close()
			}

			client, err := loginWithCookies(c, cfg, logger)
			if err != nil {
				return err
			}
			defer client.Stop()

			events, err := client.Subscribe(c.Context)
			if err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

			for {
				select {
				case <-sig:
					logger.Info("Shutting down...")
					return nil
				case ev, ok := <-events:
					if !ok {
						return fmt.Errorf("event stream closed")
					}
					printEvent(ev)
					if disc, isDisc := ev.(delta.Disconnected); isDisc {
						return disc.Err
					}
				}
			}
		},
	}
}

func printEvent(ev delta.Event) {
	switch e := ev.(type) {
	case delta.Message:
		fmt.Printf("[%s] %s %s: %s\n", e.Timestamp.Format(time.TimeOnly), e.ThreadID, e.SenderID, e.Body)
	case delta.MessageReply:
		fmt.Printf("[%s] %s %s (re %q): %s\n",
			e.Message.Timestamp.Format(time.TimeOnly), e.Message.ThreadID, e.Message.SenderID, e.Quoted.Body, e.Message.Body)
	case delta.Reaction:
		if e.Emoji == "" {
			fmt.Printf("%s removed a reaction on %s\n", e.ActorID, e.MessageID)
		} else {
			fmt.Printf("%s reacted %s on %s\n", e.ActorID, e.Emoji, e.MessageID)
		}
	case delta.TypingState:
		if e.Typing {
			fmt.Printf("%s is typing in %s\n", e.UserID, e.ThreadID)
		}
	case delta.DecodeWarning:
		fmt.Printf("decode warning (%s)\n", e.Class)
	default:
		fmt.Printf("%s: %+v\n", ev.Kind(), ev)
	}
}

// send delivers one message and exits.
func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "send a text message",
		ArgsUsage: "<text>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "thread", Usage: "group thread id"},
			&cli.StringFlag{Name: "to", Usage: "recipient account id for a direct message"},
		},
		Action: func(c *cli.Context) error {
			logger, err := setup(c, logging.ClientProcess)
			if err != nil {
				return err
			}
			defer logging.Shutdown()

			text := c.Args().First()
			if text == "" {
				return fmt.Errorf("no message text given")
			}
			threadID := c.String("thread")
			to := c.String("to")
			if (threadID == "") == (to == "") {
				return fmt.Errorf("exactly one of --thread or --to is required")
			}

			client, err := loginWithCookies(c, clientConfig(), logger)
			if err != nil {
				return err
			}
			defer client.Stop()

			if _, err := client.Subscribe(c.Context); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
			defer cancel()

			if threadID != "" {
				r, err := client.SendText(ctx, threadID, text)
				if err != nil {
					return err
				}
				fmt.Printf("sent (offline id %s)\n", r.OfflineID)
			} else {
				r, err := client.SendDirect(ctx, to, text)
				if err != nil {
					return err
				}
				fmt.Printf("sent (offline id %s)\n", r.OfflineID)
			}
			return nil
		},
	}
}

// threads lists the account's conversations.
func threadsCommand() *cli.Command {
	return &cli.Command{
		Name:  "threads",
		Usage: "list conversations",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: func(c *cli.Context) error {
			logger, err := setup(c, logging.ClientProcess)
			if err != nil {
				return err
			}
			defer logging.Shutdown()

			client, err := loginWithCookies(c, clientConfig(), logger)
			if err != nil {
				return err
			}
			defer client.Stop()

			cursor := ""
			remaining := c.Int("limit")
			for remaining > 0 {
				page, next, err := client.Queries().Threads(c.Context, remaining, cursor)
				if err != nil {
					return err
				}
				for _, th := range page {
					kind := "direct"
					if th.IsGroup {
						kind = "group"
					}
					name := th.Name
					if name == "" {
						name = th.ThreadID
					}
					fmt.Printf("%-30s %-6s unread=%s\n", name, kind, strconv.Itoa(th.UnreadCount))
				}
				remaining -= len(page)
				if next == "" || len(page) == 0 {
					break
				}
				cursor = next
			}
			return nil
		},
	}
}

func loginWithCookies(c *cli.Context, cfg *courier.Config, logger logging.Logger) (*courier.Client, error) {
	cookies, err := session.LoadCookies(cookiePath(c))
	if err != nil {
		return nil, fmt.Errorf("no usable cookies, run `courier login` first: %w", err)
	}
	return courier.Login(c.Context, session.Credentials{Cookies: cookies}, cfg, logger)
}
