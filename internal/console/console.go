// Package console runs a relay session over line-oriented streams,
// typically stdin and stdout. Every input line is one outbound message
// and every inbound message is written as one output line.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/philsphicas/wsport/internal/metrics"
	"github.com/philsphicas/wsport/internal/ports"
	"github.com/philsphicas/wsport/internal/relay"
)

// MaxLineSize is the longest input line accepted, in bytes.
const MaxLineSize = 1 << 20

// Config holds configuration for a console session.
type Config struct {
	Endpoint     string
	DialTimeout  time.Duration
	PingInterval time.Duration
	ReadLimit    int64
	In           io.Reader
	Out          io.Writer
	// Linger keeps the session receiving for this long after In reaches
	// EOF. Zero closes the connection immediately.
	Linger  time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics // optional; nil disables metrics
}

// Run connects to the endpoint and relays lines until In is exhausted
// (plus Linger), the remote side closes, or ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := relay.New(cfg.Metrics.Instrument(relay.Config{
		Endpoint:     cfg.Endpoint,
		DialTimeout:  cfg.DialTimeout,
		PingInterval: cfg.PingInterval,
		ReadLimit:    cfg.ReadLimit,
		Logger:       cfg.Logger,
	}))

	pub := make(chan string)
	sub := make(chan string)
	inputErr := make(chan error, 1)
	outputErr := make(chan error, 1)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-sub:
				if _, err := fmt.Fprintln(cfg.Out, msg); err != nil {
					outputErr <- err
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	go readLines(ctx, cfg.In, pub, cfg.Linger, inputErr)

	err := ports.Wire(ctx, r, pub, sub)
	cancel()
	<-writerDone

	select {
	case werr := <-outputErr:
		return fmt.Errorf("write output: %w", werr)
	default:
	}
	if err != nil {
		return err
	}
	select {
	case ierr := <-inputErr:
		return fmt.Errorf("read input: %w", ierr)
	default:
	}
	return nil
}

// readLines sends each line of in to pub and closes pub when in is
// exhausted and linger has elapsed.
func readLines(ctx context.Context, in io.Reader, pub chan<- string, linger time.Duration, errc chan<- error) {
	defer close(pub)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	for sc.Scan() {
		select {
		case pub <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		errc <- err
		return
	}
	if linger > 0 {
		t := time.NewTimer(linger)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
}
