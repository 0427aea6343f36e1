package gateway

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/palee/roulette39/internal/engine"
	"github.com/palee/roulette39/internal/store"
)

// Service is the transport-independent request handler. The websocket hub,
// the NATS gateway and the HTTP API all dispatch into it, so every transport
// gets identical admission rules and reason strings.
type Service struct {
	manager *engine.Manager
	logger  *log.Logger
}

func NewService(manager *engine.Manager, logger *log.Logger) *Service {
	return &Service{manager: manager, logger: logger.WithPrefix("gateway")}
}

// Connect resolves the channel (creating it on first reference), registers
// presence and returns the channel for state replay.
func (s *Service) Connect(channelID string) *engine.Channel {
	ch := s.manager.Channel(channelID)
	ch.Connect()
	return ch
}

// Disconnect drops presence and any session bound to the transport.
func (s *Service) Disconnect(channelID, transportID string) {
	if ch, ok := s.manager.Lookup(channelID); ok {
		ch.DisconnectTransport(transportID)
	}
}

// Login authenticates against the channel and answers with a reason string on
// failure rather than an error.
func (s *Service) Login(ctx context.Context, channelID, username, password, transportID string) LoginResponse {
	ch := s.manager.Channel(channelID)
	acct, err := ch.Login(ctx, username, password, transportID)
	if err != nil {
		return LoginResponse{Success: false, Reason: reasonFor(err)}
	}
	return LoginResponse{
		Success: true,
		Account: &acct,
		Balance: acct.Balance,
		Channel: ch.ID(),
	}
}

// PlaceBet admits a wager for the transport's logged-in account.
func (s *Service) PlaceBet(ctx context.Context, channelID string, accountID int64, data BetData) BetResponse {
	ch, ok := s.manager.Lookup(channelID)
	if !ok || accountID == 0 {
		return BetResponse{Success: false, Reason: reasonFor(engine.ErrNotLoggedIn)}
	}
	balance, err := ch.PlaceBet(ctx, accountID, engine.Family(data.Family), data.Target, data.Amount)
	if err != nil {
		return BetResponse{Success: false, Reason: reasonFor(err)}
	}
	return BetResponse{Success: true, Balance: balance}
}

// Recharge applies an operator credit.
func (s *Service) Recharge(ctx context.Context, channelID string, data RechargeData) RechargeResponse {
	operator := data.Operator
	if operator == "" {
		operator = "admin"
	}
	if !data.Amount.IsPositive() {
		return RechargeResponse{Success: false, Reason: "recharge amount must be positive"}
	}
	ch := s.manager.Channel(channelID)
	receipt, err := ch.Recharge(ctx, data.AccountID, data.Amount, operator, data.Remark)
	if err != nil {
		return RechargeResponse{Success: false, Reason: reasonFor(err)}
	}
	return RechargeResponse{Success: true, Receipt: &receipt}
}

// Query answers an admin console query.
func (s *Service) Query(ctx context.Context, channelID string, data QueryData) QueryResponse {
	ch := s.manager.Channel(channelID)
	return QueryResponse{
		QueryType: data.QueryType,
		Result:    ch.AdminQuery(ctx, data.QueryType, data.Params),
	}
}

// reasonFor maps engine and store errors to the one-line reason strings sent
// to clients. Unknown errors collapse to a generic message so internals never
// leak to the wire.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotLoggedIn),
		errors.Is(err, engine.ErrAlreadyLoggedIn),
		errors.Is(err, engine.ErrStopPhase),
		errors.Is(err, engine.ErrSpinningPhase),
		errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, engine.ErrInvalidBet),
		errors.Is(err, store.ErrInvalidCredentials),
		errors.Is(err, store.ErrAccountInactive),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrInsufficientFunds):
		return err.Error()
	default:
		return "internal error"
	}
}
