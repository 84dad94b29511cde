package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/honganh1206/streamchat/api"
	"github.com/honganh1206/streamchat/config"
	"github.com/honganh1206/streamchat/controller"
	"github.com/honganh1206/streamchat/conversation"
	"github.com/honganh1206/streamchat/normalize"
	"github.com/honganh1206/streamchat/store"
	"github.com/honganh1206/streamchat/ui"
)

const feedSize = 64

func newController(cfg *config.Config, backend controller.Backend, st store.Store, feed *ui.Feed) *controller.Controller {
	normalizer := normalize.New(normalize.Policy{
		MinHeading:  cfg.Normalize.MinHeading,
		MaxHeading:  cfg.Normalize.MaxHeading,
		Disclaimers: cfg.Normalize.Disclaimers,
	})

	return controller.New(backend, conversation.New(),
		controller.WithStore(st),
		controller.WithFeed(feed),
		controller.WithNormalizer(normalizer),
		controller.WithIntroText(cfg.Chat.IntroText),
		controller.WithFailureText(cfg.Chat.FailureText),
	)
}

// interactive wires the controller to the terminal. With restore set it
// reloads id, or the last active conversation when id is empty.
func interactive(ctx context.Context, cfg *config.Config, st store.Store, restore bool, id string, in io.Reader, out io.Writer) error {
	feed := ui.NewFeed(feedSize)
	ctrl := newController(cfg, api.NewClient(cfg.Server), st, feed)

	if restore {
		err := ctrl.Restore(id)
		switch {
		case err == nil:
		case id == "" && errors.Is(err, conversation.ErrConversationNotFound):
			// The active pointer outlived its record; start fresh.
		default:
			return fmt.Errorf("restoring conversation: %w", err)
		}
	}

	return cli(ctx, ctrl, feed, in, out)
}
