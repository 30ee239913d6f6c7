// Package play handles in-session actions: moves, draw offers, resignation
// and flag (clock timeout). Legality and terminal outcomes are delegated to
// the rules engine; this package owns clock accounting and event fanout.
package play

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wortley/unichess/internal/broker"
	"github.com/wortley/unichess/internal/game"
	"github.com/wortley/unichess/internal/registry"
	"github.com/wortley/unichess/internal/rules"
	"github.com/wortley/unichess/internal/store"
)

// Controller applies in-game actions to the shared session state and
// publishes the resulting events.
type Controller struct {
	store    store.Store
	gateway  broker.Gateway
	registry *registry.Registry
	engine   rules.Engine
}

func NewController(st store.Store, gw broker.Gateway, reg *registry.Registry, en rules.Engine) *Controller {
	return &Controller{
		store:    st,
		gateway:  gw,
		registry: reg,
		engine:   en,
	}
}

func (c *Controller) sessionFor(ctx context.Context, connID string) (*game.Session, error) {
	gameID, ok := c.registry.Game(connID)
	if !ok {
		return nil, game.NewError(game.KindSessionNotFound, "You are not in a game", connID)
	}
	sess, err := c.store.Get(ctx, gameID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, game.NewError(game.KindSessionNotFound, "Game not found", connID)
		}
		return nil, game.NewError(game.KindStoreUnavailable, "Server error, please try again later", connID)
	}
	return sess, nil
}

// Move applies a UCI move from connID, charges the elapsed turn time to the
// mover's clock and broadcasts the new position. A terminal position
// additionally broadcasts "gameOver".
func (c *Controller) Move(ctx context.Context, connID, uci string) error {
	sess, err := c.sessionFor(ctx, connID)
	if err != nil {
		return err
	}

	mover, ok := sess.ColourOf(connID)
	if !ok {
		return game.NewError(game.KindBadRequest, "The game has not started yet", connID)
	}
	turn, err := c.engine.SideToMove(sess.FEN)
	if err != nil {
		return fmt.Errorf("read position of game %s: %w", sess.ID, err)
	}
	if mover != turn {
		return game.NewError(game.KindIllegalMove, "It is not your turn", connID)
	}

	next, err := c.engine.ApplyMove(sess.FEN, uci)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			return game.NewError(game.KindIllegalMove, "Illegal move", connID)
		}
		return fmt.Errorf("apply move in game %s: %w", sess.ID, err)
	}

	now := time.Now().UnixMilli()
	if sess.TurnStartedAt != game.TurnNotStarted {
		remaining := sess.Clock(mover) - (now - sess.TurnStartedAt)
		if remaining < 0 {
			remaining = 0
		}
		sess.SetClock(mover, remaining)
	}
	sess.FEN = next
	sess.TurnStartedAt = now

	if err := c.store.Save(ctx, sess); err != nil {
		return game.NewBroadcastError(game.KindStoreUnavailable, "Server error, please try again later", connID, sess.ID)
	}

	ev := game.Event{Name: "move", Data: game.MoveData{
		UCI:     uci,
		FEN:     sess.FEN,
		Turn:    mover.Other(),
		WhiteMs: sess.WhiteMs,
		BlackMs: sess.BlackMs,
	}}
	if err := c.gateway.Publish(ctx, sess.ID, ev, game.BroadcastKey); err != nil {
		return fmt.Errorf("publish move in game %s: %w", sess.ID, err)
	}

	if outcome := c.engine.Outcome(sess.FEN); outcome != rules.OutcomeNone {
		winner := game.Colour("")
		if outcome == rules.OutcomeCheckmate {
			winner = mover
		}
		return c.publishGameOver(ctx, sess.ID, outcome.ReasonCode(), winner)
	}
	return nil
}

// OfferDraw notifies the opponent, and only the opponent.
func (c *Controller) OfferDraw(ctx context.Context, connID string) error {
	sess, err := c.sessionFor(ctx, connID)
	if err != nil {
		return err
	}
	opponent := sess.Opponent(connID)
	if opponent == "" {
		return game.NewError(game.KindBadRequest, "No opponent to offer a draw to", connID)
	}
	return c.gateway.Publish(ctx, sess.ID, game.Event{Name: "drawOffer", Data: 1}, opponent)
}

// AcceptDraw ends the game by agreement.
func (c *Controller) AcceptDraw(ctx context.Context, connID string) error {
	sess, err := c.sessionFor(ctx, connID)
	if err != nil {
		return err
	}
	return c.publishGameOver(ctx, sess.ID, game.ReasonAgreement, "")
}

// Resign ends the game with the resigner's opponent as winner.
func (c *Controller) Resign(ctx context.Context, connID string) error {
	sess, err := c.sessionFor(ctx, connID)
	if err != nil {
		return err
	}
	resigner, ok := sess.ColourOf(connID)
	if !ok {
		return game.NewError(game.KindBadRequest, "The game has not started yet", connID)
	}
	return c.publishGameOver(ctx, sess.ID, game.ReasonResign, resigner.Other())
}

// Flag ends the game because the flagged colour ran out of clock time.
// Clients report the flag; the flagged clock is zeroed in the stored state so
// a rejoining client cannot observe leftover time.
func (c *Controller) Flag(ctx context.Context, connID string, flagged game.Colour) error {
	sess, err := c.sessionFor(ctx, connID)
	if err != nil {
		return err
	}
	sess.SetClock(flagged, 0)
	if err := c.store.Save(ctx, sess); err != nil {
		return game.NewBroadcastError(game.KindStoreUnavailable, "Server error, please try again later", connID, sess.ID)
	}
	return c.publishGameOver(ctx, sess.ID, game.ReasonTimeout, flagged.Other())
}

func (c *Controller) publishGameOver(ctx context.Context, gameID string, reason int, winner game.Colour) error {
	ev := game.Event{Name: "gameOver", Data: game.GameOverData{Reason: reason, Winner: winner}}
	if err := c.gateway.Publish(ctx, gameID, ev, game.BroadcastKey); err != nil {
		return fmt.Errorf("publish gameOver in game %s: %w", gameID, err)
	}
	slog.Info("Game over", "gameID", gameID, "reason", reason, "winner", winner)
	return nil
}
