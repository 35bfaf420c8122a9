// Command viewer follows a game on the relay server and prints the visible
// cards of each state with their chosen artwork.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/mtg_board_viewer/internal/artwork"
	"example.com/mtg_board_viewer/internal/game"
	"example.com/mtg_board_viewer/internal/platform/config"
	"example.com/mtg_board_viewer/internal/platform/otel"
	"example.com/mtg_board_viewer/internal/scryfall"
	"example.com/mtg_board_viewer/internal/session"
	"example.com/mtg_board_viewer/internal/ws"
	"golang.org/x/sync/errgroup"
)

type viewerConfig struct {
	ServerURL   string        `env:"MTG_SERVER_URL" envDefault:"http://localhost:8000"`
	CatalogURL  string        `env:"SCRYFALL_BASE_URL" envDefault:"https://api.scryfall.com"`
	Preferences string        `env:"MTG_ARTWORK_PREFERENCES"`
	HTTPTimeout time.Duration `env:"MTG_HTTP_TIMEOUT" envDefault:"10s"`
	Concurrency int           `env:"MTG_RESOLVE_CONCURRENCY" envDefault:"4"`

	GameID   string
	Snapshot bool
	Create   bool
}

func main() {
	var cfg viewerConfig
	if err := config.ParseEnv(&cfg); err != nil {
		config.Exitf("viewer: %v", err)
	}
	fs := flag.NewFlagSet("viewer", flag.ExitOnError)
	fs.StringVar(&cfg.GameID, "game", "", "game id to follow")
	fs.BoolVar(&cfg.Snapshot, "snapshot", false, "read the current state once instead of streaming")
	fs.BoolVar(&cfg.Create, "create", false, "create a new game on the server and follow it")
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "relay server base URL")
	fs.StringVar(&cfg.Preferences, "preferences", cfg.Preferences, "artwork preferences file (.json or .lua)")
	_ = fs.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, "mtg-viewer")
	if err != nil {
		config.Exitf("viewer: otel: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Printf("viewer: otel shutdown: %v", err)
		}
	}()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		config.Exitf("viewer: %v", err)
	}
}

func run(ctx context.Context, cfg viewerConfig, out io.Writer) error {
	prefs, err := artwork.LoadPreferences(cfg.Preferences)
	if err != nil {
		return err
	}
	catalog := scryfall.NewClient(cfg.CatalogURL, scryfall.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))

	// The websocket dialer rejects clients with a Timeout; requests are
	// bounded by their contexts instead.
	remote, err := ws.NewRemote(cfg.ServerURL, &http.Client{})
	if err != nil {
		return err
	}

	gameID := cfg.GameID
	if cfg.Create {
		if gameID, err = remote.CreateGame(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "created game %s\n", gameID)
	}
	if gameID == "" {
		return fmt.Errorf("a game id is required (-game or -create)")
	}

	v := newViewer(catalog, artwork.NewResolver(catalog, prefs), cfg.Concurrency, out)
	client := session.NewClient(remote, remote)
	defer client.Shutdown()

	if cfg.Snapshot {
		if err := client.Open(ctx, gameID, session.Snapshot); err != nil {
			return err
		}
		state, _ := client.Latest(gameID)
		return v.render(ctx, state)
	}

	events, cancel := client.Subscribe(gameID)
	defer cancel()
	if err := client.Open(ctx, gameID, session.Streaming); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch ev.Kind {
			case session.EventState:
				if err := v.render(ctx, ev.State); err != nil {
					log.Printf("viewer: %v", err)
				}
			case session.EventConnectionFailed, session.EventDisconnected:
				return ev.Err
			}
		}
	}
}

type cardLine struct {
	name  string
	cmc   string
	image string
}

type viewer struct {
	catalog  *scryfall.Client
	artwork  *artwork.Resolver
	parallel int
	out      io.Writer
}

func newViewer(catalog *scryfall.Client, resolver *artwork.Resolver, parallel int, out io.Writer) *viewer {
	if parallel <= 0 {
		parallel = 1
	}
	return &viewer{
		catalog:  catalog,
		artwork:  resolver,
		parallel: parallel,
		out:      out,
	}
}

func (v *viewer) render(ctx context.Context, raw []byte) error {
	m, err := game.Decode(raw)
	if err != nil {
		return err
	}
	s := m.GameState
	names := s.VisibleCardNames()
	lines := make([]cardLine, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.parallel)
	for i, name := range names {
		g.Go(func() error {
			line := cardLine{name: name, cmc: "?", image: "(no artwork)"}
			if summary, err := v.catalog.FindPrinting(gctx, name); err == nil {
				line.cmc = fmt.Sprintf("%g", summary.CMC)
			}
			if url, ok := v.artwork.Image(gctx, name); ok {
				line.image = url
			}
			lines[i] = line
			return nil
		})
	}
	_ = g.Wait()

	fmt.Fprintf(v.out, "turn %d %s, player %d active\n", s.TurnNumber, s.TurnStep, s.ActivePlayerIndex+1)
	if m.Winner != nil {
		fmt.Fprintf(v.out, "winner: player %d\n", *m.Winner+1)
	}
	for _, l := range lines {
		fmt.Fprintf(v.out, "  %s\tcmc=%s\t%s\n", l.name, l.cmc, l.image)
	}
	return nil
}
