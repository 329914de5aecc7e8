package main

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/badger-finance/sett-keeper/keeper/pkg/distributor"
	"github.com/badger-finance/sett-keeper/keeper/pkg/history"
	"github.com/badger-finance/sett-keeper/keeper/pkg/notify"
)

const pushJobName = "sett_keeper_rapid_harvest"

// reporter fans a finished cycle out to the configured sinks. Sink failures are logged and never
// change the cycle outcome.
type reporter struct {
	log             *slog.Logger
	chainID         *big.Int
	network         string
	postgresURL     string
	postgresMigrate bool
	slackWebhookURL string
	pushgatewayURL  string
	sentryEnabled   bool
}

func (r *reporter) report(ctx context.Context, res *distributor.CycleResult, cycleErr error) {
	logCycleSummary(r.log, res)

	if r.postgresURL != "" {
		if err := r.recordHistory(ctx, res); err != nil {
			r.log.Error("rapid-harvest: failed to record cycle history", "error", err)
		}
	}

	if r.slackWebhookURL != "" {
		if err := r.notifySlack(ctx, res); err != nil {
			r.log.Error("rapid-harvest: failed to notify slack", "error", err)
		}
	}

	if r.pushgatewayURL != "" {
		err := push.New(r.pushgatewayURL, pushJobName).
			Gatherer(prometheus.DefaultGatherer).
			Grouping("network", r.network).
			PushContext(ctx)
		if err != nil {
			r.log.Error("rapid-harvest: failed to push metrics", "error", err)
		}
	}

	if r.sentryEnabled && cycleErr != nil {
		hub := sentry.CurrentHub().Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("network", r.network)
			scope.SetTag("cycle", res.ID.String())
			if res.Failure != nil {
				scope.SetTag("failed_key", res.Failure.Entry.Key)
			}
		})
		hub.CaptureException(cycleErr)
	}
}

func (r *reporter) recordHistory(ctx context.Context, res *distributor.CycleResult) error {
	if r.postgresMigrate {
		if err := history.Migrate(ctx, r.log, r.postgresURL); err != nil {
			return err
		}
	}

	pool, err := pgxpool.New(ctx, r.postgresURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := history.NewStore(history.StoreConfig{
		Logger:  r.log,
		Pool:    pool,
		ChainID: r.chainID.Int64(),
	})
	if err != nil {
		return err
	}
	return store.RecordCycle(ctx, res)
}

func (r *reporter) notifySlack(ctx context.Context, res *distributor.CycleResult) error {
	n, err := notify.NewSlack(notify.SlackConfig{
		Logger:     r.log,
		WebhookURL: r.slackWebhookURL,
		Network:    r.network,
	})
	if err != nil {
		return err
	}
	return n.NotifyCycle(ctx, res)
}
