// Command trigger sends start and target triggers to a running pedflow
// service and tails its event stream.
//
//	trigger [-server URL] start [-extent minx,miny,maxx,maxy] [-peds N] [-arm]
//	trigger [-server URL] target X Y
//	trigger [-server URL] cancel | disarm | session | stats | runs [-limit N]
//	trigger [-server URL] watch [-grpc addr] [topic ...]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/pedflow/internal/httputil"
	"github.com/banshee-data/pedflow/internal/notify"
)

// client talks to one pedflow server.
type client struct {
	base string
	http httputil.HTTPClient
	out  io.Writer
}

func main() {
	server := flag.String("server", "http://localhost:8080", "pedflow server URL")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout (not applied to watch)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-server URL] start|target|cancel|disarm|session|stats|runs|watch [args]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &client{
		base: strings.TrimRight(*server, "/"),
		http: httputil.NewStandardClient(&http.Client{Timeout: *timeout}),
		out:  os.Stdout,
	}
	if flag.Arg(0) == "watch" {
		c.http = httputil.NewStandardClient(&http.Client{})
	}
	if err := c.dispatch(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		var apiErr *httputil.APIError
		if errors.As(err, &apiErr) {
			log.Fatalf("server rejected %s: %v", flag.Arg(0), apiErr)
		}
		log.Fatal(err)
	}
}

func (c *client) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "start":
		return c.start(ctx, args)
	case "target":
		return c.target(ctx, args)
	case "cancel":
		return c.call(ctx, http.MethodPost, "/api/cancel", nil)
	case "disarm":
		return c.call(ctx, http.MethodPost, "/api/disarm", nil)
	case "session":
		return c.call(ctx, http.MethodGet, "/api/session", nil)
	case "stats":
		return c.call(ctx, http.MethodGet, "/api/runs/stats", nil)
	case "runs":
		fs := flag.NewFlagSet("runs", flag.ContinueOnError)
		limit := fs.Int("limit", 10, "Number of runs to list")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return c.call(ctx, http.MethodGet, "/api/runs?limit="+strconv.Itoa(*limit), nil)
	case "watch":
		return c.watch(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// startBody mirrors the start trigger; nil fields take the server defaults.
type startBody struct {
	Extent []float64 `json:"extent,omitempty"`
	Peds   *int      `json:"peds,omitempty"`
	Type   int       `json:"type"`
}

func (c *client) start(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	extent := fs.String("extent", "", "Region as minx,miny,maxx,maxy in the client CRS")
	peds := fs.Int("peds", 0, "Number of pedestrians (0: server default)")
	arm := fs.Bool("arm", false, "Arm target mode instead of starting a random-wander run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var body startBody
	if *extent != "" {
		for _, p := range strings.Split(*extent, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return fmt.Errorf("-extent: invalid number %q", p)
			}
			body.Extent = append(body.Extent, v)
		}
	}
	if *peds != 0 {
		body.Peds = peds
	}
	if *arm {
		body.Type = 1
	}
	return c.call(ctx, http.MethodPost, "/api/start", body)
}

func (c *client) target(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("target needs X and Y")
	}
	point := make([]float64, 2)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("invalid coordinate %q", a)
		}
		point[i] = v
	}
	return c.call(ctx, http.MethodPost, "/api/target", map[string][]float64{"point": point})
}

// call sends one request and prints the JSON response indented.
func (c *client) call(ctx context.Context, method, path string, body any) error {
	var resp json.RawMessage
	if _, err := httputil.DoJSON(ctx, c.http, method, c.base+path, body, &resp); err != nil {
		return err
	}
	if len(resp) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(resp, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// watch prints stream messages until ctx ends or the server closes the
// stream. Topics filter the stream; none means every topic. With -grpc the
// messages come from the gRPC event stream instead of the WebSocket.
func (c *client) watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	grpcAddr := fs.String("grpc", "", "gRPC event stream address (host:port)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	topics := fs.Args()
	if *grpcAddr != "" {
		return c.watchGRPC(ctx, *grpcAddr, topics)
	}

	u, err := url.Parse(c.base + "/api/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if len(topics) > 0 {
		u.RawQuery = url.Values{"topic": {strings.Join(topics, ",")}}.Encode()
	}

	opts := &websocket.DialOptions{}
	if sc, ok := c.http.(*httputil.StandardClient); ok {
		opts.HTTPClient = sc.Client
	}
	conn, _, err := websocket.Dial(ctx, u.String(), opts)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.CloseNow()

	for {
		var msg notify.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			return err
		}
		c.printMessage(msg)
	}
}

func (c *client) watchGRPC(ctx context.Context, addr string, topics []string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	err = notify.WatchGRPC(ctx, conn, topics, c.printMessage)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *client) printMessage(msg notify.Message) {
	fmt.Fprintf(c.out, "%s %-8s %s\n", msg.Time.Format(time.TimeOnly), msg.Topic, msg.Payload)
}
