// Copyright 2024-2026 Aiku AI

// Command twitdm-sessionctl manages the session store of a Matrix-Twitter DM
// bridge: it migrates the database schema, lists linked accounts with stored
// credentials and probes whether an account's credentials are still valid.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	_ "go.mau.fi/util/dbutil/litestream"
	flag "maunium.net/go/mauflag"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-twitdm/pkg/connector"
	"github.com/aiku/mautrix-twitdm/pkg/store"
	"github.com/aiku/mautrix-twitdm/pkg/twitdm"
)

var (
	configPath  = flag.MakeFull("c", "config", "Path to the config file.", "config.yaml").String()
	migrate     = flag.MakeFull("m", "migrate", "Run database schema migrations and exit.", "false").Bool()
	list        = flag.MakeFull("l", "list", "List sessions with stored credentials and exit.", "false").Bool()
	probe       = flag.MakeFull("p", "probe", "Probe whether the given user's stored credentials still work.", "").String()
	wantHelp, _ = flag.MakeHelpFlag()
)

func main() {
	flag.SetHelpTitles(
		"twitdm-sessionctl - Manage mautrix-twitdm session state.",
		"twitdm-sessionctl [-c <path>] (--migrate | --list | --probe <mxid>)",
	)
	if err := flag.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	}

	cfg, err := connector.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(2)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to configure logging:", err)
		os.Exit(2)
	}
	ctx := log.WithContext(context.Background())

	db, err := dbutil.NewFromConfig("mautrix-twitdm", cfg.Database, dbutil.ZeroLogger(*log))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	container := store.New(db)
	defer func() {
		if err := container.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}()

	switch {
	case *migrate:
		if err = container.Upgrade(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to upgrade database schema")
		}
		log.Info().Msg("Database schema is up to date")
	case *list:
		listSessions(ctx, log, container)
	case *probe != "":
		probeSession(ctx, log, cfg, container, id.UserID(*probe))
	default:
		flag.PrintHelp()
		os.Exit(1)
	}
}

func listSessions(ctx context.Context, log *zerolog.Logger, container *store.Container) {
	users, err := container.User.AllWithCredentials(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list sessions")
	}
	for _, user := range users {
		twid := "<unbound>"
		if user.TWID != 0 {
			twid = strconv.FormatInt(user.TWID, 10)
		}
		fmt.Printf("%s\ttwid=%s\tcursor=%q\n", user.MXID, twid, user.PollCursor)
	}
	log.Info().Int("count", len(users)).Msg("Listed sessions with credentials")
}

func probeSession(ctx context.Context, log *zerolog.Logger, cfg *connector.Config, container *store.Container, mxid id.UserID) {
	rec, err := container.User.GetByMXID(ctx, mxid)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get session")
	}
	if rec == nil {
		log.Fatal().Str("user_mxid", string(mxid)).Msg("No session found")
	}
	if rec.AuthToken == "" {
		log.Fatal().Str("user_mxid", string(mxid)).Msg("Session has no stored credentials")
	}

	client := twitdm.NewPollClient(
		log.With().Str("component", "twitter_client").Logger(),
		cfg.Twitter.BaseURL, cfg.Twitter.PollInterval(),
	)
	client.SetCredentials(twitdm.CredentialPair{AuthToken: rec.AuthToken, CSRFToken: rec.CSRFToken})

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	twid, err := client.IdentityProbe(probeCtx)
	if err != nil {
		log.Error().Err(err).Msg("Identity probe failed")
		os.Exit(1)
	}
	log.Info().Int64("twid", twid).Msg("Credentials are valid")
}
