// wstest runs this library's [WebSocket implementation]
// against the [Autobahn Testsuite] fuzzing server.
//
// [WebSocket implementation]: https://pkg.go.dev/github.com/tzrikka/duplex
// [Autobahn Testsuite]: https://github.com/crossbario/autobahn-testsuite
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tzrikka/duplex/pkg/client"
	"github.com/tzrikka/duplex/pkg/frame"
	"github.com/tzrikka/duplex/pkg/message"
	"github.com/tzrikka/duplex/pkg/session"
	"github.com/tzrikka/duplex/pkg/wserr"
)

const (
	base  = "ws://127.0.0.1:9001"
	agent = "duplex"
)

func main() {
	initZeroLog()

	n := getCaseCount()
	log.Logger.Info().Int("n", n).Msg("case count")

	// Not implemented (so excluded in "config/fuzzingserver.json"):
	// - 12.* and 13.*: WebSocket compression
	for i := range n {
		runCase(i + 1)
	}

	updateReports()
}

func initZeroLog() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05.000",
	}).With().Caller().Logger()
}

func dial(url string) (*session.Sender, *session.Receiver) {
	ctx := log.Logger.WithContext(context.Background())
	sess, _, err := client.Dial(ctx, url)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("client.Dial error")
	}
	return sess.Split()
}

func getCaseCount() (n int) {
	send, recv := dial(base + "/getCaseCount")
	defer send.ShutdownAll()

	m, err := recv.RecvMessage()
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("failed to receive test case count")
	}

	n, err = strconv.Atoi(string(m.Data))
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("invalid test case count")
	}
	return
}

func runCase(i int) {
	log.Logger.Info().Int("case", i).Msg("starting test")

	url := fmt.Sprintf("%s/runCase?case=%d&agent=%s", base, i, agent)
	send, recv := dial(url)
	defer send.ShutdownAll()

	// Echo loop.
	for m, err := range recv.IncomingMessages() {
		if err != nil {
			closeOnError(send, i, err)
			return
		}

		log.Logger.Info().Int("case", i).Str("opcode", m.Opcode.String()).
			Int("length", len(m.Data)).Msg("received message")

		switch m.Opcode {
		case frame.OpcodeText, frame.OpcodeBinary, frame.OpcodeClose:
			err = send.SendMessage(m)
		case frame.OpcodePing:
			err = send.SendMessage(message.Pong(m.Data))
		case frame.OpcodePong:
			continue
		}

		if err != nil {
			log.Logger.Err(err).Int("case", i).Str("opcode", m.Opcode.String()).Msg("echo error")
			return
		}
	}
}

// closeOnError answers a peer violation with the matching
// close status, per RFC 6455 sections 7.4.1 and 8.1.
func closeOnError(send *session.Sender, i int, err error) {
	log.Logger.Debug().Err(err).Int("case", i).Msg("connection error")

	status := message.StatusProtocolError
	switch {
	case errors.Is(err, wserr.ErrUTF8):
		status = message.StatusInvalidData
	case errors.Is(err, wserr.ErrNoData):
		return
	}
	_ = send.SendClose(status, "")
}

func updateReports() {
	log.Logger.Info().Msg("updating reports")

	url := fmt.Sprintf("%s/updateReports?agent=%s", base, agent)
	send, recv := dial(url)
	defer send.ShutdownAll()

	if _, err := recv.RecvMessage(); err != nil && !errors.Is(err, wserr.ErrNoData) {
		log.Logger.Debug().Err(err).Msg("connection closed")
	}
}
