package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/badger-finance/sett-keeper/keeper/pkg/distributor"
	"github.com/slack-go/slack"
)

type SlackConfig struct {
	Logger     *slog.Logger
	WebhookURL string
	// Network labels the message, e.g. "mainnet" or "fork".
	Network string
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.WebhookURL == "" {
		return errors.New("webhook url is required")
	}
	if cfg.Network == "" {
		cfg.Network = "mainnet"
	}
	return nil
}

// Slack posts distribution cycle summaries to an incoming webhook.
type Slack struct {
	log *slog.Logger
	cfg SlackConfig
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Slack{log: cfg.Logger, cfg: cfg}, nil
}

func (s *Slack) NotifyCycle(ctx context.Context, res *distributor.CycleResult) error {
	if res == nil {
		return errors.New("cycle result is required")
	}
	if err := slack.PostWebhookContext(ctx, s.cfg.WebhookURL, CycleMessage(s.cfg.Network, res)); err != nil {
		return fmt.Errorf("failed to post slack webhook: %w", err)
	}
	s.log.Info("notify: posted cycle summary to slack", "cycle", res.ID.String(), "completed", res.Completed())
	return nil
}

// CycleMessage renders a cycle as a webhook message: a header, one line per completed transfer, the
// failing entry with its error and the skipped keys.
func CycleMessage(network string, res *distributor.CycleResult) *slack.WebhookMessage {
	title := fmt.Sprintf("Rapid harvest on %s: %d transfers", network, len(res.Transfers))
	if !res.Completed() {
		title = fmt.Sprintf("Rapid harvest on %s halted after %d transfers", network, len(res.Transfers))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
	}

	if len(res.Transfers) > 0 {
		lines := make([]string, 0, len(res.Transfers))
		for _, t := range res.Transfers {
			lines = append(lines, fmt.Sprintf("• `%s` %s to `%s` (tx `%s`)",
				t.Key, distributor.FormatUnits(t.Amount, t.Decimals), t.Strategy.Hex(), t.TxHash.Hex()))
		}
		blocks = append(blocks, markdownSection(strings.Join(lines, "\n")))
	}

	if f := res.Failure; f != nil {
		key := f.Entry.Key
		if f.Index < 0 {
			key = "preflight"
		}
		text := fmt.Sprintf(":x: *Failed at* `%s`: %v", key, f.Err)
		if f.Submitted {
			text += fmt.Sprintf("\n_Transfer `%s` was broadcast; verify balances manually before re-running._", f.TxHash.Hex())
		}
		blocks = append(blocks, slack.NewDividerBlock(), markdownSection(text))

		if len(res.Skipped) > 0 {
			keys := make([]string, len(res.Skipped))
			for i, e := range res.Skipped {
				keys[i] = "`" + e.Key + "`"
			}
			blocks = append(blocks, markdownSection("*Skipped:* "+strings.Join(keys, ", ")))
		}
	}

	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("cycle `%s` · %s", res.ID, res.Duration().Round(time.Second)), false, false),
	))

	return &slack.WebhookMessage{
		Text:   title,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}

func markdownSection(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}
