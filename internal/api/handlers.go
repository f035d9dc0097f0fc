package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/IlyasAtabaev731/onlyfrens/internal/domain/models"
	"github.com/IlyasAtabaev731/onlyfrens/internal/ledger"
	"github.com/IlyasAtabaev731/onlyfrens/internal/lib/jwt"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
}

type UserResponse struct {
	ID                string                `json:"id"`
	Username          string                `json:"username"`
	WalletAddress     string                `json:"smartWalletAddress"`
	PlatformBalance   string                `json:"platformBalance"`
	Subscriptions     []models.Subscription `json:"subscriptions"`
	OwnedCollectibles []models.Collectible  `json:"ownedNfts"`
	ActionHistory     []models.Action       `json:"actionHistory"`
	CreatedAt         time.Time             `json:"createdAt"`
}

func newUserResponse(acc *models.Account) UserResponse {
	return UserResponse{
		ID:                acc.ID,
		Username:          acc.Username,
		WalletAddress:     acc.WalletAddress,
		PlatformBalance:   models.FormatAmount(acc.Balance),
		Subscriptions:     acc.Subscriptions,
		OwnedCollectibles: acc.OwnedCollectibles,
		ActionHistory:     acc.ActionHistory,
		CreatedAt:         acc.CreatedAt,
	}
}

type AuthResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    UserResponse `json:"user"`
}

type RegisterRequest struct {
	Username     string `json:"username"`
	CredentialID string `json:"credentialId"`
	PublicKey    string `json:"publicKey"`
}

type LoginRequest struct {
	CredentialID string `json:"credentialId"`
}

type DemoLoginRequest struct {
	Username string `json:"username"`
}

func (s *APIServer) registerHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if !s.decode(w, r, &req) {
			return
		}

		acc, err := s.ledger.Register(r.Context(), req.Username, req.CredentialID, req.PublicKey)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}

		s.writeSession(w, http.StatusCreated, acc)
	}
}

func (s *APIServer) loginHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !s.decode(w, r, &req) {
			return
		}

		acc, err := s.ledger.Login(r.Context(), req.CredentialID)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}

		s.logger.Info("Login", slog.String("account", acc.ID))
		s.writeSession(w, http.StatusOK, acc)
	}
}

func (s *APIServer) demoLoginHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.config.Auth.DemoLogin {
			writeError(w, http.StatusNotFound, ledger.KindAccountNotFound, "demo login is disabled")
			return
		}

		var req DemoLoginRequest
		if !s.decode(w, r, &req) {
			return
		}

		acc, err := s.ledger.DemoLogin(r.Context(), req.Username)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}

		s.logger.Info("Demo login", slog.String("account", acc.ID), slog.String("username", acc.Username))
		s.writeSession(w, http.StatusOK, acc)
	}
}

// logoutHandler has nothing to revoke: tokens are stateless and expire on their own.
func (s *APIServer) logoutHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
	}
}

func (s *APIServer) meHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := s.ledger.Account(r.Context(), principalFrom(r).AccountID)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": newUserResponse(acc)})
	}
}

type BalanceResponse struct {
	PlatformBalance string `json:"platformBalance"`
	WalletAddress   string `json:"smartWalletAddress"`
}

func (s *APIServer) balanceHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := s.ledger.Account(r.Context(), principalFrom(r).AccountID)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, BalanceResponse{
			PlatformBalance: models.FormatAmount(acc.Balance),
			WalletAddress:   acc.WalletAddress,
		})
	}
}

func (s *APIServer) actionsHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, ledger.KindInvalidAmount, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		actions, err := s.ledger.History(r.Context(), principalFrom(r).AccountID, models.ActionKind(q.Get("kind")), limit)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
	}
}

type AmountRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type TipRequest struct {
	CreatorID string           `json:"creatorId"`
	Amount    *decimal.Decimal `json:"amount"`
}

type SubscribeRequest struct {
	CreatorID string           `json:"creatorId"`
	Price     *decimal.Decimal `json:"price"`
}

type BuyNftRequest struct {
	PremiumContentID     string                     `json:"premiumContentId"`
	CreatorID            string                     `json:"creatorId"`
	Price                *decimal.Decimal           `json:"price"`
	NftDetailsForMinting *models.CollectibleMetadata `json:"nftDetailsForMinting"`
}

type ActionResponse struct {
	Message    string         `json:"message"`
	NewBalance string         `json:"newBalance"`
	Action     *models.Action `json:"action,omitempty"`
}

type SubscribeResponse struct {
	ActionResponse
	Subscription      models.Subscription `json:"subscription"`
	AlreadySubscribed bool                `json:"alreadySubscribed"`
}

type BuyNftResponse struct {
	ActionResponse
	Nft          models.Collectible `json:"nft"`
	AlreadyOwned bool               `json:"alreadyOwned"`
}

func (s *APIServer) depositHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AmountRequest
		if !s.decode(w, r, &req) || !requireAmount(w, req.Amount, "amount") {
			return
		}

		receipt, err := s.ledger.Deposit(r.Context(), principalFrom(r).AccountID, *req.Amount)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, actionResponse("Deposit successful", receipt))
	}
}

func (s *APIServer) withdrawHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AmountRequest
		if !s.decode(w, r, &req) || !requireAmount(w, req.Amount, "amount") {
			return
		}

		receipt, err := s.ledger.Withdraw(r.Context(), principalFrom(r).AccountID, *req.Amount)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, actionResponse("Withdrawal successful", receipt))
	}
}

func (s *APIServer) tipHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TipRequest
		if !s.decode(w, r, &req) || !requireAmount(w, req.Amount, "amount") {
			return
		}

		receipt, err := s.ledger.Tip(r.Context(), principalFrom(r).AccountID, req.CreatorID, *req.Amount)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}

		msg := fmt.Sprintf("Successfully tipped %s to %s", models.FormatAmount(*req.Amount), req.CreatorID)
		writeJSON(w, http.StatusOK, actionResponse(msg, receipt))
	}
}

func (s *APIServer) subscribeHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubscribeRequest
		if !s.decode(w, r, &req) || !requireAmount(w, req.Price, "price") {
			return
		}

		res, err := s.ledger.Subscribe(r.Context(), principalFrom(r).AccountID, req.CreatorID, *req.Price)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}

		msg := "Successfully subscribed to " + req.CreatorID
		if res.AlreadySubscribed {
			msg = "Already subscribed to this creator."
		}
		writeJSON(w, http.StatusOK, SubscribeResponse{
			ActionResponse:    actionResponse(msg, &res.Receipt),
			Subscription:      res.Subscription,
			AlreadySubscribed: res.AlreadySubscribed,
		})
	}
}

func (s *APIServer) buyNftHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BuyNftRequest
		if !s.decode(w, r, &req) || !requireAmount(w, req.Price, "price") {
			return
		}
		if req.NftDetailsForMinting == nil {
			writeError(w, http.StatusBadRequest, ledger.KindInvalidAmount, "nftDetailsForMinting is required")
			return
		}

		res, err := s.ledger.BuyCollectible(r.Context(), principalFrom(r).AccountID, ledger.PurchaseRequest{
			CollectibleID: req.PremiumContentID,
			CreatorID:     req.CreatorID,
			Price:         *req.Price,
			Metadata:      *req.NftDetailsForMinting,
		})
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}

		msg := "Successfully purchased NFT: " + res.Collectible.Name
		if res.AlreadyOwned {
			msg = "NFT already owned."
		}
		writeJSON(w, http.StatusOK, BuyNftResponse{
			ActionResponse: actionResponse(msg, &res.Receipt),
			Nft:            res.Collectible,
			AlreadyOwned:   res.AlreadyOwned,
		})
	}
}

type VerifyNftRequest struct {
	NftID string `json:"nftId"`
}

type VerifyNftResponse struct {
	Success     bool    `json:"success"`
	HasAccess   bool    `json:"hasAccess"`
	AccessToken *string `json:"accessToken"`
}

func (s *APIServer) verifyNftHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyNftRequest
		if !s.decode(w, r, &req) {
			return
		}

		access, err := s.ledger.VerifyAccess(r.Context(), principalFrom(r).AccountID, req.NftID)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}

		resp := VerifyNftResponse{Success: true, HasAccess: access.HasAccess}
		if access.HasAccess {
			resp.AccessToken = &access.AccessToken
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func actionResponse(msg string, receipt *ledger.Receipt) ActionResponse {
	return ActionResponse{
		Message:    msg,
		NewBalance: models.FormatAmount(receipt.Account.Balance),
		Action:     receipt.Action,
	}
}

func (s *APIServer) writeSession(w http.ResponseWriter, status int, acc *models.Account) {
	token, err := jwt.NewToken(acc, string(s.jwtSecret), s.config.Auth.TokenTTL)
	if err != nil {
		s.logger.Error("Failed to issue token", slog.String("account", acc.ID), "error", err)
		writeError(w, http.StatusInternalServerError, ledger.KindInternal, "could not issue session token")
		return
	}
	writeJSON(w, status, AuthResponse{Success: true, Token: token, User: newUserResponse(acc)})
}

func (s *APIServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.logger.Debug("Malformed request body", slog.String("path", r.URL.Path), "error", err)
		writeError(w, http.StatusBadRequest, ledger.KindInvalidAmount, "malformed request body")
		return false
	}
	return true
}

func requireAmount(w http.ResponseWriter, d *decimal.Decimal, field string) bool {
	if d == nil {
		writeError(w, http.StatusBadRequest, ledger.KindInvalidAmount, field+" is required")
		return false
	}
	return true
}

func (s *APIServer) writeLedgerError(w http.ResponseWriter, err error) {
	kind := ledger.ErrorKind(err)
	status := http.StatusInternalServerError
	msg := "internal error"

	switch kind {
	case ledger.KindAccountNotFound:
		status, msg = http.StatusNotFound, "account not found"
	case ledger.KindInsufficientBalance:
		status, msg = http.StatusPaymentRequired, "insufficient platform balance"
	case ledger.KindInvalidAmount:
		status, msg = http.StatusBadRequest, validationMessage(err)
	case ledger.KindUsernameTaken:
		status, msg = http.StatusConflict, "username already taken"
	default:
		s.logger.Error("Request failed", "error", err)
	}

	writeError(w, status, kind, msg)
}

// validationMessage drops the operation prefixes wrapped around a validation error.
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ledger.ErrInvalidAmount.Error()); i >= 0 {
		return msg[i:]
	}
	return msg
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, ErrorResponse{ErrorKind: kind, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
