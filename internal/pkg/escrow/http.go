package escrow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPService is a client for a remote escrow service.
type HTTPService struct {
	client *resty.Client
}

func NewHTTPService(baseURL, token string) *HTTPService {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second). //nolint:mnd
		SetHeader("Accept", "application/json")

	if token != "" {
		client.SetAuthToken(token)
	}

	return &HTTPService{client: client}
}

func checkResponse(resp *resty.Response, err error, action string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}

	if resp.IsError() {
		return fmt.Errorf("%w: %s returned %d: %s", ErrRemote, action, resp.StatusCode(), resp.String())
	}

	return nil
}

func (s *HTTPService) CreateWallet(ctx context.Context) (string, error) {
	var result walletResponse

	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&result).
		Post("/wallets")

	err = checkResponse(resp, err, "create wallet")
	if err != nil {
		return "", err
	}

	if result.WalletRef == "" {
		return "", fmt.Errorf("%w: create wallet returned no wallet ref", ErrRemote)
	}

	return result.WalletRef, nil
}

func (s *HTTPService) ValidateFunds(ctx context.Context, playerID string, amount int64) (FundsCheck, error) {
	var result FundsCheck

	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("player", playerID).
		SetQueryParam("amount", strconv.FormatInt(amount, 10)).
		SetResult(&result).
		Get("/players/{player}/funds")

	err = checkResponse(resp, err, "validate funds")
	if err != nil {
		return FundsCheck{}, err
	}

	return result, nil
}

func (s *HTTPService) post(ctx context.Context, path, walletRef, playerID string, amount int64, action string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("wallet", walletRef).
		SetBody(transferRequest{PlayerID: playerID, Amount: amount}).
		Post(path)

	return checkResponse(resp, err, action)
}

func (s *HTTPService) TransferIn(ctx context.Context, playerID, walletRef string, amount int64) error {
	return s.post(ctx, "/wallets/{wallet}/deposits", walletRef, playerID, amount, "transfer in")
}

func (s *HTTPService) PayoutWinner(ctx context.Context, walletRef, winnerID string, total int64) error {
	return s.post(ctx, "/wallets/{wallet}/payouts", walletRef, winnerID, total, "pay out winner")
}

func (s *HTTPService) Refund(ctx context.Context, walletRef, playerID string, amount int64) error {
	return s.post(ctx, "/wallets/{wallet}/refunds", walletRef, playerID, amount, "refund")
}
