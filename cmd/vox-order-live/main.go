//go:build cgo

// Command vox-order-live is an interactive harness for the voice ordering
// engine: microphone in, speaker out, push-to-talk on Enter.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/google/uuid"

	"github.com/tablevox/vox-order/internal/dotenv"
	"github.com/tablevox/vox-order/pkg/metrics"
	"github.com/tablevox/vox-order/pkg/order"
	"github.com/tablevox/vox-order/pkg/voice/audio"
	"github.com/tablevox/vox-order/pkg/voice/session"
	"github.com/tablevox/vox-order/pkg/voice/transport"
)

// outputSampleRate is the synthesized-speech PCM rate from the backend.
const outputSampleRate = 24000

type options struct {
	credentialURL string
	negotiateURL  string
	wsURL         string
	restaurantID  string
	mode          string
	transport     string
	metricsAddr   string
	verbose       bool
}

func parseFlags() options {
	var opt options
	flag.StringVar(&opt.credentialURL, "credential-url", os.Getenv("VOXORDER_CREDENTIAL_URL"), "credential endpoint")
	flag.StringVar(&opt.negotiateURL, "negotiate-url", os.Getenv("VOXORDER_NEGOTIATE_URL"), "peer offer/answer endpoint")
	flag.StringVar(&opt.wsURL, "ws-url", os.Getenv("VOXORDER_WS_URL"), "websocket endpoint (fallback transport)")
	flag.StringVar(&opt.restaurantID, "restaurant", os.Getenv("VOXORDER_RESTAURANT_ID"), "restaurant id")
	flag.StringVar(&opt.mode, "mode", "employee", "session mode: employee or customer")
	flag.StringVar(&opt.transport, "transport", "peer", "transport: peer or websocket")
	flag.StringVar(&opt.metricsAddr, "metrics-addr", "", "serve /metrics on this address")
	flag.BoolVar(&opt.verbose, "v", false, "debug logging")
	flag.Parse()
	return opt
}

func main() {
	if err := dotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	opt := parseFlags()

	level := slog.LevelInfo
	if opt.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(opt, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(opt options, logger *slog.Logger) error {
	if opt.credentialURL == "" {
		return fmt.Errorf("credential endpoint is required (-credential-url)")
	}
	if opt.restaurantID == "" {
		opt.restaurantID = uuid.NewString()
		logger.Info("no restaurant id given, using a throwaway one", "restaurant_id", opt.restaurantID)
	}

	m := metrics.New("")
	if opt.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(opt.metricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	mic, err := audio.OpenMic(audio.DefaultFormat())
	if err != nil {
		return err
	}

	speaker, err := newSpeaker()
	if err != nil {
		mic.Close()
		return err
	}
	defer speaker.Close()

	dial := func(secret string) transport.Conn {
		if opt.transport == "websocket" {
			return transport.NewSocketConn(transport.SocketConfig{
				URL:    opt.wsURL,
				Secret: secret,
				Logger: logger,
			})
		}
		return transport.NewPeerConn(transport.PeerConfig{
			NegotiateURL: opt.negotiateURL,
			Secret:       secret,
			Logger:       logger,
		})
	}

	sess, err := session.New(session.Options{
		RestaurantID: opt.restaurantID,
		Mode:         session.Mode(opt.mode),
		Credentials:  session.NewHTTPCredentialProvider(opt.credentialURL, nil),
		Dial:         dial,
		Orders:       &consoleOrderClient{logger: logger},
		Capture:      mic,
		Logger:       logger,
		Metrics:      m,
	})
	if err != nil {
		mic.Close()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = sess.Connect(ctx)
	cancel()
	if err != nil {
		mic.Close()
		return err
	}

	done := make(chan struct{})
	go consumeEvents(sess, speaker, done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	fmt.Println("press Enter to start/stop talking, Ctrl+C to quit")
	go togglesFromStdin(sess, logger)

	<-sigCh
	fmt.Println("\nshutting down")
	sess.Disconnect()
	<-done
	return nil
}

func togglesFromStdin(sess *session.Session, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	talking := false
	for scanner.Scan() {
		var err error
		if talking {
			err = sess.StopRecording()
			fmt.Println("-- stopped, waiting for reply --")
		} else {
			err = sess.StartRecording()
			fmt.Println("-- listening --")
		}
		if err != nil {
			logger.Warn("recording toggle failed", "error", err)
			continue
		}
		talking = !talking
	}
}

func consumeEvents(sess *session.Session, speaker *speaker, done chan<- struct{}) {
	defer close(done)
	for ev := range sess.Events() {
		switch e := ev.(type) {
		case *session.TranscriptEvent:
			if e.Final {
				fmt.Printf("[%s] %s\n", e.Role, e.Text)
			}
		case *session.ResponseTextDoneEvent:
			fmt.Printf("[assistant] %s\n", e.Text)
		case *session.AudioDeltaEvent:
			speaker.Write(e.Data)
		case *session.InterruptedEvent:
			speaker.Flush()
		case *session.OrderSubmittedEvent:
			fmt.Printf("** order submitted: %s **\n", e.OrderID)
		case *session.OrderSummaryEvent:
			fmt.Printf("** cart: %d items, total %.2f **\n", e.Summary.ItemCount, e.Summary.Total)
		case *session.CartClearedEvent:
			fmt.Println("** cart cleared **")
		case *session.OrderFailedEvent:
			fmt.Printf("** order %s failed: %v **\n", e.Action, e.Err)
		case *session.ReconnectingEvent:
			fmt.Printf("-- reconnecting (attempt %d) --\n", e.Attempt)
		case *session.ReconnectedEvent:
			fmt.Println("-- reconnected --")
		case *session.ErrorEvent:
			if e.Terminal {
				fmt.Printf("!! session error: %v\n", e.Err)
			}
		case *session.ClosedEvent:
			return
		}
	}
}

// speaker plays backend PCM16 through the default output device.
type speaker struct {
	ctx    *oto.Context
	player *oto.Player
	buf    *pcmBuffer
}

func newSpeaker() (*speaker, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   outputSampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio output: %w", err)
	}
	<-ready

	buf := &pcmBuffer{}
	player := ctx.NewPlayer(buf)
	player.Play()
	return &speaker{ctx: ctx, player: player, buf: buf}, nil
}

func (s *speaker) Write(pcm []byte) { s.buf.push(pcm) }

// Flush drops queued audio, for barge-in.
func (s *speaker) Flush() { s.buf.reset() }

func (s *speaker) Close() { s.player.Close() }

// pcmBuffer adapts pushed chunks to the pull-based io.Reader the player
// wants. Reads return silence while the queue is empty so the player never
// treats an idle stretch as end of stream.
type pcmBuffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *pcmBuffer) push(pcm []byte) {
	b.mu.Lock()
	b.data = append(b.data, pcm...)
	b.mu.Unlock()
}

func (b *pcmBuffer) reset() {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
}

func (b *pcmBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

// consoleOrderClient is the harness's stand-in order system: every call
// succeeds and is printed. The last submitted batch doubles as the cart
// for review.
type consoleOrderClient struct {
	logger *slog.Logger

	mu   sync.Mutex
	cart []order.Item
}

var _ order.Client = (*consoleOrderClient)(nil)

func (c *consoleOrderClient) SubmitOrder(_ context.Context, items []order.Item) (order.SubmitResult, error) {
	c.mu.Lock()
	c.cart = items
	c.mu.Unlock()
	id := uuid.NewString()
	c.logger.Info("submit order", "order_id", id, "items", len(items))
	return order.SubmitResult{Success: true, OrderID: id}, nil
}

func (c *consoleOrderClient) ClearCart(_ context.Context) error {
	c.mu.Lock()
	c.cart = nil
	c.mu.Unlock()
	return nil
}

func (c *consoleOrderClient) CartSummary(_ context.Context) (order.Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total float64
	for _, it := range c.cart {
		total += it.Price * float64(it.Quantity)
	}
	return order.Summary{ItemCount: len(c.cart), Total: total}, nil
}

var _ io.Reader = (*pcmBuffer)(nil)
