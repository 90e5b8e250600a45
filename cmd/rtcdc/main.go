// Command rtcdc is a text chat over a data channel.
//
// This tool opens a WebRTC-style data channel session between two peers and
// runs a line-based text chat over it. Signaling (offer/answer) happens over
// a PIN-protected WebSocket, which then carries the association's datagrams.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (--role, --listen, --ws-url, --pin, --label, --compression, --config,
// --log-level and the channel reliability flags).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/rtcdc/internal/compress"
	"github.com/1ureka/rtcdc/internal/config"
	"github.com/1ureka/rtcdc/internal/datachannel"
	"github.com/1ureka/rtcdc/internal/rtc"
	"github.com/1ureka/rtcdc/internal/sdp"
	"github.com/1ureka/rtcdc/internal/signaling"
	"github.com/1ureka/rtcdc/internal/transport"
	"github.com/1ureka/rtcdc/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	cfgPath := pflag.StringP("config", "c", "", "TOML configuration file")
	role := pflag.StringP("role", "r", "", "Role: host (offerer) or client (answerer)")
	listen := pflag.String("listen", "", "Signaling listen address (host only)")
	wsURL := pflag.String("ws-url", "", "Signaling WebSocket URL (client only)")
	pin := pflag.String("pin", "", "Signaling PIN (host: fixed PIN, client: PIN to present)")
	label := pflag.StringP("label", "l", "", "Label of the channel the host opens")
	compression := pflag.String("compression", "", "Message compression: none, lz4 or zstd")
	unordered := pflag.Bool("unordered", false, "Open the channel unordered (host only)")
	maxRetransmits := pflag.Uint16("max-retransmits", 0, "Partial reliability: retransmission limit (host only)")
	maxLifetime := pflag.Uint16("max-packet-lifetime", 0, "Partial reliability: lifetime in ms (host only)")
	subprotocol := pflag.String("protocol", "", "Channel sub-protocol (host only)")
	debugMode := pflag.Bool("debug", false, "Enable debug logging")
	traceMode := pflag.Bool("trace", false, "Enable trace logging (chunk level)")
	logLevel := pflag.String("log-level", "", "Log level: trace, debug, info, warn or error")
	pflag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	flags := pflag.CommandLine
	if flags.Changed("role") {
		r, err := config.ParseRole(*role)
		if err != nil {
			util.LogError("invalid --role: must be 'host' or 'client'")
			os.Exit(1)
		}
		cfg.Role = r
	}
	if flags.Changed("listen") {
		cfg.Listen = *listen
	}
	if flags.Changed("ws-url") {
		cfg.WSURL = *wsURL
	}
	if flags.Changed("label") {
		cfg.Label = *label
	}
	if flags.Changed("compression") {
		alg, err := compress.ParseAlgorithm(*compression)
		if err != nil {
			util.LogError("invalid --compression: %v", err)
			os.Exit(1)
		}
		cfg.Compression = alg
	}
	cfg.Debug = cfg.Debug || *debugMode

	switch {
	case *logLevel != "":
		if err := util.SetLevel(*logLevel); err != nil {
			util.LogError("invalid --log-level: %v", err)
			os.Exit(1)
		}
	case *traceMode:
		util.EnableTrace()
	case cfg.Debug:
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("rtcdc v%s", version))
	pterm.Println()

	// No role from flags or file → interactive mode.
	if !flags.Changed("role") && *cfgPath == "" {
		cfg = askConfig(cfg)
	}

	if cfg.Role == config.RoleAnswerer && cfg.WSURL != "" {
		u, err := normalizeWSURL(cfg.WSURL, *pin)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg.WSURL = u
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	chInit := &webrtc.DataChannelInit{}
	if *unordered {
		ordered := false
		chInit.Ordered = &ordered
	}
	if flags.Changed("max-retransmits") {
		chInit.MaxRetransmits = maxRetransmits
	}
	if flags.Changed("max-packet-lifetime") {
		chInit.MaxPacketLifeTime = maxLifetime
	}
	if *subprotocol != "" {
		chInit.Protocol = subprotocol
	}

	var err error
	switch cfg.Role {
	case config.RoleOfferer:
		err = runOfferer(ctx, cfg, *pin, chInit)
	case config.RoleAnswerer:
		err = runAnswerer(ctx, cfg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("session closed")
}

// runOfferer hosts the signaling server, waits for a client, offers, and
// opens cfg.Label, described by chInit, once the association is up.
func runOfferer(ctx context.Context, cfg config.Config, pin string, chInit *webrtc.DataChannelInit) error {
	srv := signaling.NewServer(pin)
	defer srv.Close()

	port, err := srv.Start(cfg.Listen)
	if err != nil {
		return fmt.Errorf("start signaling server: %w", err)
	}

	pterm.DefaultBox.WithTitle("Signaling").Println(
		fmt.Sprintf("Port: %d\nPIN:  %s\n\nClient URL: ws://<this host>:%d/ws?pin=%s", port, srv.PIN(), port, srv.PIN()),
	)
	pterm.Println()
	util.LogInfo("waiting for a client to connect...")

	ws, err := srv.WaitForClient(ctx)
	if err != nil {
		return fmt.Errorf("wait for client: %w", err)
	}

	local, err := localParams(cfg, ws)
	if err != nil {
		ws.Close()
		return err
	}
	remote, err := signaling.ExchangeAsOfferer(ctx, signaling.NewPeer(ws), local)
	if err != nil {
		ws.Close()
		return fmt.Errorf("exchange: %w", err)
	}
	return runSession(ctx, cfg, ws, remote, rtc.ChannelOptions(chInit))
}

// runAnswerer dials the host, answers its offer, and chats on the first
// channel the host opens.
func runAnswerer(ctx context.Context, cfg config.Config) error {
	ws, err := signaling.Connect(ctx, cfg.WSURL)
	if err != nil {
		return fmt.Errorf("connect to signaling server: %w", err)
	}

	local, err := localParams(cfg, ws)
	if err != nil {
		ws.Close()
		return err
	}
	remote, err := signaling.ExchangeAsAnswerer(ctx, signaling.NewPeer(ws), local)
	if err != nil {
		ws.Close()
		return fmt.Errorf("exchange: %w", err)
	}
	return runSession(ctx, cfg, ws, remote, nil)
}

// runSession runs the association over ws until ctx is cancelled, the user
// quits, or the peer goes away.
func runSession(ctx context.Context, cfg config.Config, ws *websocket.Conn, remote sdp.Params, opts []datachannel.ChannelOption) error {
	cfg.Association = remote.AssociationConfig(cfg.Association)
	util.LogDebug("remote: sctp-port=%d max-message-size=%d fingerprint=%s",
		remote.SCTPPort, remote.MaxMessageSize, remote.Fingerprint)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr, err := transport.New(ctx, signaling.NewDatagramConn(ws), cfg)
	if err != nil {
		ws.Close()
		return err
	}
	defer tr.Close()

	chat := make(chan datachannel.Channel, 1)
	tr.OnEvent(func(e datachannel.Event) {
		switch e := e.(type) {
		case datachannel.ChannelOpen:
			util.LogSuccess("channel %q open on stream %d", e.Channel.Label, e.Channel.ID)
			select {
			case chat <- e.Channel:
			default:
			}
		case datachannel.ChannelClosed:
			util.LogInfo("channel %q closed", e.Channel.Label)
		case datachannel.MessageReceived:
			printMessage(e)
		}
	})

	select {
	case <-tr.Ready():
	case <-tr.Done():
		return fmt.Errorf("association failed: %w", tr.Err())
	case <-ctx.Done():
		return ctx.Err()
	}
	util.LogSuccess("association established")
	util.StartStatsReporter(ctx, util.Stats, cfg.StatsInterval)

	if cfg.Role == config.RoleOfferer {
		if _, err := tr.CreateChannel(ctx, cfg.Label, opts...); err != nil {
			return fmt.Errorf("create channel %q: %w", cfg.Label, err)
		}
	}

	var ch datachannel.Channel
	select {
	case ch = <-chat:
		if init, err := rtc.InitFor(ch); err != nil {
			util.LogWarning("channel %q has no pion equivalent: %v", ch.Label, err)
		} else {
			util.LogDebug("channel init: %s", describeInit(init))
		}
	case <-tr.Done():
		return tr.Err()
	case <-ctx.Done():
		return ctx.Err()
	}

	pterm.Println()
	util.LogInfo("type a message and press Enter (/status, /quit)")

	lines := readLines(ctx)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := handleLine(tr, ch.ID, line); done {
				return nil
			}
		case <-tr.Done():
			return tr.Err()
		case <-ctx.Done():
			return nil
		}
	}
}

// handleLine sends line on channel id, or runs it as a command. It reports
// whether the user asked to quit.
func handleLine(tr *transport.Transport, id uint16, line string) bool {
	switch strings.TrimSpace(line) {
	case "":
		return false
	case "/quit":
		return true
	case "/status":
		out, err := json.MarshalIndent(tr.Status(), "", "  ")
		if err != nil {
			util.LogError("status: %v", err)
			return false
		}
		pterm.Println(string(out))
		return false
	}

	if err := tr.SendText(id, line); err != nil {
		util.LogWarning("send failed: %v", err)
	}
	return false
}

// localParams describes this peer for the offer or answer. The signaling
// socket's local address doubles as the host candidate.
func localParams(cfg config.Config, ws *websocket.Conn) (sdp.Params, error) {
	id := uuid.New()
	p, err := sdp.NewParams(cfg.Association, sdp.NewFingerprint(id[:]))
	if err != nil {
		return sdp.Params{}, fmt.Errorf("local description: %w", err)
	}
	if addr, ok := ws.LocalAddr().(*net.TCPAddr); ok {
		if c, err := sdp.NewHostCandidate(addr.IP.String(), addr.Port); err == nil {
			p.Candidates = append(p.Candidates, c)
		}
	}
	return p, nil
}

// readLines scans stdin on its own goroutine. The channel closes on EOF.
func readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// describeInit renders the pion view of a channel for debug output.
func describeInit(init *webrtc.DataChannelInit) string {
	parts := []string{fmt.Sprintf("ordered=%t", init.Ordered == nil || *init.Ordered)}
	if init.MaxRetransmits != nil {
		parts = append(parts, fmt.Sprintf("maxRetransmits=%d", *init.MaxRetransmits))
	}
	if init.MaxPacketLifeTime != nil {
		parts = append(parts, fmt.Sprintf("maxPacketLifeTime=%dms", *init.MaxPacketLifeTime))
	}
	if init.Protocol != nil {
		parts = append(parts, fmt.Sprintf("protocol=%q", *init.Protocol))
	}
	if init.Negotiated != nil && *init.Negotiated {
		parts = append(parts, fmt.Sprintf("negotiated id=%d", *init.ID))
	}
	return strings.Join(parts, " ")
}

func printMessage(m datachannel.MessageReceived) {
	if m.Text {
		pterm.Printf("%s %s\n", pterm.FgCyan.Sprintf("[%s]", m.Label), string(m.Data))
		return
	}
	pterm.Printf("%s <%d bytes of binary data>\n", pterm.FgCyan.Sprintf("[%s]", m.Label), len(m.Data))
}

// normalizeWSURL validates a raw WebSocket URL and rewrites it to the
// signaling endpoint, carrying pin when the URL has none.
func normalizeWSURL(raw, pin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	if p := u.Query().Get("pin"); p != "" && pin == "" {
		pin = p
	}
	if pin == "" {
		return "", fmt.Errorf("missing signaling PIN for %s", raw)
	}
	return fmt.Sprintf("%s://%s/ws?pin=%s", scheme, u.Host, url.QueryEscape(pin)), nil
}

// askConfig prompts for the role and whatever that role needs.
func askConfig(cfg config.Config) config.Config {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host:   wait for a peer and open a channel", "Client: join a host"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Host") {
		cfg.Role = config.RoleOfferer
		cfg.Listen = fmt.Sprintf(":%d", askPort("Signaling port (0 = any free port)"))
		return cfg
	}

	cfg.Role = config.RoleAnswerer
	cfg.WSURL = askURL()
	return cfg
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 0 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 0 ~ 65535")
		pterm.Println()
	}
}

// askURL prompts for the signaling URL and PIN until a valid pair is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL (e.g. ws://192.168.1.20:8080/ws)").
			Show()
		pin, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("PIN").
			Show()

		wsURL, err := normalizeWSURL(raw, strings.TrimSpace(pin))
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: %v", err)
	}
}
