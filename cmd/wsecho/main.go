// wsecho is a WebSocket echo tool: it either serves an echo endpoint,
// or connects to one and echoes stdin lines through it.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/duplex/pkg/client"
	"github.com/tzrikka/duplex/pkg/frame"
	"github.com/tzrikka/duplex/pkg/handshake"
	"github.com/tzrikka/duplex/pkg/message"
	"github.com/tzrikka/duplex/pkg/server"
	"github.com/tzrikka/duplex/pkg/session"
	"github.com/tzrikka/duplex/pkg/wserr"
	"github.com/tzrikka/xdg"
)

const (
	ConfigDirName  = "wsecho"
	ConfigFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "wsecho",
		Usage:   "Serve a WebSocket echo endpoint, or talk to one",
		Version: bi.Main.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "simple setup, but unsafe for production",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Accept WebSocket connections and echo all data messages",
				Flags:  serveFlags(),
				Action: serve,
			},
			{
				Name:      "connect",
				Usage:     "Connect to a WebSocket server and echo stdin lines through it",
				Flags:     connectFlags(),
				Action:    connect,
				ArgsUsage: "ws[s]://host[:port][/path]",
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func serveFlags() []cli.Flag {
	path := configFile()
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "TCP listening address",
			Value: "127.0.0.1:8080",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHO_ADDR"),
				toml.TOML("server.addr", path),
			),
		},
		&cli.StringSliceFlag{
			Name:  "protocols",
			Usage: "supported subprotocol tokens",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHO_PROTOCOLS"),
				toml.TOML("server.protocols", path),
			),
		},
	}
}

func connectFlags() []cli.Flag {
	path := configFile()
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "protocols",
			Usage: "subprotocol tokens to offer, in preference order",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHO_PROTOCOLS"),
				toml.TOML("client.protocols", path),
			),
		},
		&cli.StringFlag{
			Name:  "origin",
			Usage: "Origin header value",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHO_ORIGIN"),
				toml.TOML("client.origin", path),
			),
		},
	}
}

// configFile returns the path to the app's configuration file.
// It also creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		log.Fatal().Err(err).Caller().Send()
	}
	return altsrc.StringSourcer(path)
}

// initLog initializes the logger, based on whether
// the tool is running in development mode or not.
func initLog(devMode bool) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if !devMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
		return
	}

	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05.000",
	}).With().Caller().Logger()
}

func serve(ctx context.Context, cmd *cli.Command) error {
	initLog(cmd.Bool("dev"))
	ctx = log.Logger.WithContext(ctx)

	srv, err := server.Listen(cmd.String("addr"), handshake.Options{
		Protocols: cmd.StringSlice("protocols"),
	})
	if err != nil {
		return err
	}
	log.Info().Stringer("addr", srv.Addr()).Msg("listening for WebSocket connections")

	for {
		sess, result, err := srv.Accept(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to accept WebSocket connection")
			continue
		}
		log.Info().Str("subprotocol", result.Protocol).Msg("accepted WebSocket connection")
		go echo(sess)
	}
}

// echo answers pings with pongs and reflects all data
// messages, until the peer closes or errors out.
func echo(sess *session.Session) {
	send, recv := sess.Split()
	defer send.ShutdownAll()

	for m, err := range recv.IncomingMessages() {
		if err != nil {
			status := message.StatusInternalError
			switch {
			case errors.Is(err, wserr.ErrUTF8):
				status = message.StatusInvalidData
			case errors.Is(err, wserr.ErrProtocol), errors.Is(err, wserr.ErrDataFrame):
				status = message.StatusProtocolError
			case errors.Is(err, wserr.ErrNoData):
				return // The peer is gone, nobody would read a close frame.
			}
			_ = send.SendClose(status, "")
			return
		}

		switch m.Opcode {
		case frame.OpcodePing:
			m = message.Pong(m.Data)
		case frame.OpcodePong:
			continue
		case frame.OpcodeClose:
			_ = send.SendMessage(m)
			return
		}

		if err := send.SendMessage(m); err != nil {
			log.Warn().Err(err).Msg("failed to echo WebSocket message")
			return
		}
	}
}

func connect(ctx context.Context, cmd *cli.Command) error {
	initLog(cmd.Bool("dev"))
	ctx = log.Logger.WithContext(ctx)

	url := cmd.Args().First()
	if url == "" {
		return fmt.Errorf("missing WebSocket URL argument")
	}

	opts := []client.Opt{
		client.WithProtocols(cmd.StringSlice("protocols")...),
		client.WithOrigin(cmd.String("origin")),
	}
	sess, result, err := client.Dial(ctx, url, opts...)
	if err != nil {
		return err
	}
	log.Info().Str("subprotocol", result.Protocol).Msg("connected")

	send, recv := sess.Split()

	// A session supports one concurrent writer, and both the stdin
	// loop and the receive goroutine (answering pings) need to send.
	var sendMu sync.Mutex
	sendMessage := func(m message.Message) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return send.SendMessage(m)
	}

	go func() {
		for m, err := range recv.IncomingMessages() {
			if err != nil {
				log.Err(err).Msg("receive error")
				return
			}
			switch m.Opcode {
			case frame.OpcodePing:
				_ = sendMessage(message.Pong(m.Data))
			case frame.OpcodeClose:
				return
			default:
				fmt.Printf("< %s\n", m.Data)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := sendMessage(message.Text(scanner.Text())); err != nil {
			return err
		}
	}

	if err := sendMessage(message.Close(message.StatusNormalClosure, "")); err != nil {
		return err
	}
	return send.ShutdownAll()
}
