package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/meshctl/internal/config"
	"github.com/danmuck/meshctl/internal/connector"
	"github.com/danmuck/meshctl/internal/contacts"
	"github.com/danmuck/meshctl/internal/delivery"
	"github.com/danmuck/meshctl/internal/logging"
	"github.com/danmuck/meshctl/internal/storage/queuebolt"
	"github.com/danmuck/meshctl/internal/transport/tcpbridge"
)

const usage = `usage: meshctl [-config path] <command> [args]

commands:
  listen                      run the connector and collect adverts until interrupted
  contacts [-wait seconds]    print the known contact list after a listen window
  send -to <pubkey> -msg <text>
  channel -index <n> -msg <text>
  route -to <pubkey> -mode auto|flood|fixed [-path <hex hop bytes>]
  login -to <pubkey> [-password <pw>] [-save]
  trace -path <pubkey,pubkey,...>
  cli -to <pubkey> -cmd <text>
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "meshctl: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg   config.Config
	store *queuebolt.Store
	cache *contacts.Cache
	conn  *connector.Connector
	log   zerolog.Logger
}

func run() error {
	configPath := flag.String("config", "", "path to meshctl.toml")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		return errors.New("missing command")
	}
	command := flag.Arg(0)
	args := flag.Args()[1:]

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := logging.New(cfg.Name)

	store, err := queuebolt.Open(filepath.Join(cfg.DataDir, "meshctl.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge, err := tcpbridge.Dial(ctx, cfg.BridgeConfig(), logger)
	if err != nil {
		return err
	}
	defer bridge.Close()

	cache := contacts.NewCache(logger)
	conn := connector.New(bridge, cache, cfg.ConnectorConfig(), logger)

	if err := applyStoredOverrides(store, cache, logger); err != nil {
		return err
	}

	runDone := make(chan error, 1)
	go func() { runDone <- conn.Run(ctx) }()

	if err := conn.Start(ctx); err != nil {
		return err
	}

	a := &app{cfg: cfg, store: store, cache: cache, conn: conn, log: logger}

	var cmdErr error
	switch command {
	case "listen":
		cmdErr = a.listen(ctx)
	case "contacts":
		cmdErr = a.printContacts(ctx, args)
	case "send":
		cmdErr = a.send(ctx, args)
	case "channel":
		cmdErr = a.sendChannel(ctx, args)
	case "route":
		cmdErr = a.route(args)
	case "login":
		cmdErr = a.login(ctx, args)
	case "trace":
		cmdErr = a.trace(ctx, args)
	case "cli":
		cmdErr = a.cli(ctx, args)
	default:
		flag.Usage()
		cmdErr = fmt.Errorf("unknown command %q", command)
	}

	stop()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
	}
	return cmdErr
}

func (a *app) listen(ctx context.Context) error {
	a.log.Info().Msg("listening for mesh traffic, interrupt to stop")
	<-ctx.Done()
	printContactTable(a.cache.Contacts())
	return nil
}

func (a *app) printContacts(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("contacts", flag.ContinueOnError)
	wait := fs.Int("wait", 10, "seconds to collect adverts before printing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(*wait) * time.Second):
	}
	printContactTable(a.cache.Contacts())
	return nil
}

func (a *app) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	to := fs.String("to", "", "destination public key (hex)")
	msg := fs.String("msg", "", "message text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := parsePublicKey(*to)
	if err != nil {
		return err
	}
	if *msg == "" {
		return errors.New("send: -msg is required")
	}

	svc := delivery.NewService(a.store, a.conn, a.cfg.DeliveryServiceConfig(), a.log)
	resumed, err := svc.Restore(ctx)
	if err != nil {
		return err
	}
	if len(resumed) > 0 {
		a.log.Info().Int("count", len(resumed)).Msg("resuming undelivered messages")
	}

	item, err := svc.Deliver(ctx, delivery.Item{
		ID:       fmt.Sprintf("msg.%d", time.Now().UnixNano()),
		Kind:     delivery.TargetContact,
		To:       key,
		Text:     *msg,
		Status:   delivery.StatusPending,
		QueuedAt: time.Now(),
	})
	svc.Wait()
	if err != nil {
		return fmt.Errorf("delivery %s after %d attempt(s): %w", item.Status, item.Attempts, err)
	}
	fmt.Printf("delivered after %d attempt(s)\n", item.Attempts)
	return nil
}

func (a *app) sendChannel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("channel", flag.ContinueOnError)
	index := fs.Int("index", 0, "channel index")
	msg := fs.String("msg", "", "message text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *msg == "" {
		return errors.New("channel: -msg is required")
	}
	if *index < 0 || *index > 255 {
		return fmt.Errorf("channel: index %d out of range", *index)
	}
	if err := a.conn.SendChannelText(ctx, uint8(*index), *msg); err != nil {
		return err
	}
	fmt.Println("sent")
	return nil
}

func (a *app) route(args []string) error {
	fs := flag.NewFlagSet("route", flag.ContinueOnError)
	to := fs.String("to", "", "contact public key (hex)")
	mode := fs.String("mode", "", "auto, flood, or fixed")
	path := fs.String("path", "", "hop bytes (hex) for fixed mode")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := parsePublicKey(*to)
	if err != nil {
		return err
	}
	return setRouteOverride(a.store, a.cache, key, *mode, *path)
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	to := fs.String("to", "", "repeater public key (hex)")
	password := fs.String("password", "", "password (empty for guest, stored value if saved)")
	save := fs.Bool("save", false, "remember the password for this repeater")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := parsePublicKey(*to)
	if err != nil {
		return err
	}

	pw := *password
	if pw == "" {
		if stored, ok, err := loadCredential(a.store, key); err != nil {
			return err
		} else if ok {
			pw = stored
			a.log.Debug().Msg("using saved credential")
		}
	}

	res, err := a.conn.Login(ctx, key, pw)
	if err != nil {
		return err
	}
	if *save && pw != "" {
		if err := saveCredential(a.store, key, pw); err != nil {
			return err
		}
	}
	if res.HasACL {
		fmt.Printf("logged in (keepalive %ds, acl %d)\n", res.KeepaliveSecs, res.ACL)
	} else {
		fmt.Printf("logged in (keepalive %ds)\n", res.KeepaliveSecs)
	}
	return nil
}

func (a *app) trace(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("trace", flag.ContinueOnError)
	path := fs.String("path", "", "comma-separated hop public keys (hex)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	hops, err := parsePath(*path)
	if err != nil {
		return err
	}
	tr, err := a.conn.TracePath(ctx, hops)
	if err != nil {
		return err
	}
	fmt.Printf("probe tag %d on the air, waiting for result\n", tr.Tag)
	res, err := tr.Wait(ctx)
	if err != nil {
		tr.Cancel()
		return err
	}
	fmt.Printf("trace complete: %d hop(s) reported\n", res.HopCount)
	for i, snr := range res.SNRs {
		fmt.Printf("  hop %d: snr %.2f dB\n", i+1, snr)
	}
	return nil
}

func (a *app) cli(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cli", flag.ContinueOnError)
	to := fs.String("to", "", "repeater public key (hex)")
	cmd := fs.String("cmd", "", "command line to send")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := parsePublicKey(*to)
	if err != nil {
		return err
	}
	if *cmd == "" {
		return errors.New("cli: -cmd is required")
	}
	reply, err := a.conn.SendCLI(ctx, key, *cmd)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}
