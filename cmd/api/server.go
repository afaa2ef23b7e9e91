package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/registry"
	"escrowflow/session"
	"escrowflow/view"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyWallet ctxKey = "wallet"
)

type sessionService interface {
	Register(ctx context.Context, req session.RegisterRequest) (*session.User, error)
	Login(ctx context.Context, req session.LoginRequest) (session.LoginResult, error)
	VerifyToken(token string) (string, common.Address, error)
}

type escrowService interface {
	OpenCase(ctx context.Context, params escrow.OpenCaseParams) (ledger.Instance, error)
	Reclaim(ctx context.Context, instance, from common.Address) (ledger.Receipt, error)
	Release(ctx context.Context, instance, from common.Address) (ledger.Receipt, error)
	DepositArbitrationFee(ctx context.Context, instance, from common.Address) (ledger.Receipt, error)
	Timeout(ctx context.Context, instance, from common.Address) (ledger.Receipt, error)
	SubmitEvidence(ctx context.Context, params escrow.EvidenceParams) (escrow.EvidenceReceipt, error)
	Affordances(ctx context.Context, instance, identity common.Address) (escrow.Affordances, error)
}

type registryService interface {
	Track(ctx context.Context, params registry.CreateParams) (registry.Record, error)
	List(ctx context.Context, ownerID string) ([]registry.Record, error)
	GetByAddress(ctx context.Context, ownerID string, address common.Address) (registry.Record, error)
	UpdateStatus(ctx context.Context, ownerID string, address common.Address, status ledger.Status) (registry.Record, error)
	AppendEvidence(ctx context.Context, params registry.AppendEvidenceParams) (registry.EvidenceEntry, error)
	ListEvidence(ctx context.Context, ownerID, instanceID string) ([]registry.EvidenceEntry, error)
}

type snapshotter interface {
	Refresh(ctx context.Context, instance common.Address) view.Snapshot
}

// Server exposes the escrow coordinator over HTTP. Ledger writes are
// attributed to the wallet bound to the caller's session token.
type Server struct {
	sessionService  sessionService
	escrowService   escrowService
	registryService registryService
	snapshots       snapshotter
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/escrows", s.requireAuth(s.handleEscrows))
	mux.HandleFunc("/api/escrows/", s.requireAuth(s.handleEscrowDetail))
	return logRequests(mux)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s %s", id, r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, wallet, err := s.sessionService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyWallet, wallet)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req session.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.sessionService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrWeakPassword), errors.Is(err, session.ErrInvalidWallet):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "email already registered")
		default:
			log.Printf("register: %v", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{
		ID:            user.ID,
		Email:         user.Email,
		FullName:      user.FullName,
		WalletAddress: user.WalletAddress.Hex(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req session.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.sessionService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		log.Printf("login: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User: userResponse{
			ID:            result.User.ID,
			Email:         result.User.Email,
			FullName:      result.User.FullName,
			WalletAddress: result.User.WalletAddress.Hex(),
		},
	})
}

func (s *Server) handleEscrows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListEscrows(w, r)
	case http.MethodPost:
		s.handleOpenEscrow(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListEscrows(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(ctxKeyUserID).(string)

	records, err := s.registryService.List(r.Context(), userID)
	if err != nil {
		log.Printf("list escrows: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]escrowResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toEscrowResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleOpenEscrow(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(ctxKeyUserID).(string)
	wallet := r.Context().Value(ctxKeyWallet).(common.Address)

	var req openEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Payee) || !common.IsHexAddress(req.Arbitrator) {
		writeError(w, http.StatusBadRequest, "payee and arbitrator must be hex addresses")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal string")
		return
	}

	inst, err := s.escrowService.OpenCase(r.Context(), escrow.OpenCaseParams{
		Payer:                       wallet,
		Payee:                       common.HexToAddress(req.Payee),
		Arbitrator:                  common.HexToAddress(req.Arbitrator),
		Amount:                      amount,
		Title:                       req.Title,
		Description:                 req.Description,
		ReclamationPeriod:           time.Duration(req.ReclamationPeriodSeconds) * time.Second,
		ArbitrationFeeDepositPeriod: time.Duration(req.ArbitrationFeeDepositPeriodSeconds) * time.Second,
	})
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	rec, err := s.registryService.Track(r.Context(), registry.CreateParams{
		OwnerUserID:       userID,
		Address:           inst.Address,
		Payer:             inst.Payer,
		Payee:             inst.Payee,
		Arbitrator:        inst.Arbitrator,
		Amount:            inst.Amount,
		DescriptorLocator: inst.DescriptorLocator,
	})
	if err != nil {
		// the escrow exists on ledger even if journaling failed
		log.Printf("track escrow %s: %v", inst.Address.Hex(), err)
		writeError(w, http.StatusInternalServerError, "escrow deployed but not journaled")
		return
	}

	writeJSON(w, http.StatusCreated, toEscrowResponse(rec))
}

func (s *Server) handleEscrowDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/escrows/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" || !common.IsHexAddress(parts[0]) {
		writeError(w, http.StatusBadRequest, "invalid escrow address")
		return
	}
	address := common.HexToAddress(parts[0])

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleEscrowSnapshot(w, r, address)
		return
	}

	switch parts[1] {
	case "reclaim", "release", "deposit-fee", "timeout":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleEscrowAction(w, r, address, parts[1])
	case "evidence":
		s.handleEvidence(w, r, address)
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func (s *Server) handleEscrowSnapshot(w http.ResponseWriter, r *http.Request, address common.Address) {
	userID := r.Context().Value(ctxKeyUserID).(string)
	wallet := r.Context().Value(ctxKeyWallet).(common.Address)

	rec, err := s.registryService.GetByAddress(r.Context(), userID, address)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "escrow not found")
			return
		}
		log.Printf("get escrow: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	snap := s.snapshots.Refresh(r.Context(), address)
	affordances, err := s.escrowService.Affordances(r.Context(), address, wallet)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	resp := snapshotResponse{
		Escrow:      toEscrowResponse(rec),
		Affordances: affordances,
	}
	if snap.Status.OK() {
		resp.LedgerStatus = snap.Status.Value().String()
	}
	if snap.Value.OK() {
		resp.LedgerValue = snap.Value.Value().String()
	}
	if snap.RemainingTimeToReclaim.OK() {
		secs := int64(snap.RemainingTimeToReclaim.Value() / time.Second)
		resp.RemainingToReclaimSeconds = &secs
	}
	if snap.RemainingTimeToDepositArbitrationFee.OK() {
		secs := int64(snap.RemainingTimeToDepositArbitrationFee.Value() / time.Second)
		resp.RemainingToDepositFeeSeconds = &secs
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEscrowAction(w http.ResponseWriter, r *http.Request, address common.Address, action string) {
	userID := r.Context().Value(ctxKeyUserID).(string)
	wallet := r.Context().Value(ctxKeyWallet).(common.Address)

	var (
		receipt ledger.Receipt
		err     error
	)
	switch action {
	case "reclaim":
		receipt, err = s.escrowService.Reclaim(r.Context(), address, wallet)
	case "release":
		receipt, err = s.escrowService.Release(r.Context(), address, wallet)
	case "deposit-fee":
		receipt, err = s.escrowService.DepositArbitrationFee(r.Context(), address, wallet)
	case "timeout":
		receipt, err = s.escrowService.Timeout(r.Context(), address, wallet)
	}
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	snap := s.snapshots.Refresh(r.Context(), address)
	status := ""
	if snap.Status.OK() {
		status = snap.Status.Value().String()
		if _, err := s.registryService.UpdateStatus(r.Context(), userID, address, snap.Status.Value()); err != nil && !errors.Is(err, registry.ErrNotFound) {
			log.Printf("journal status %s: %v", address.Hex(), err)
		}
	}

	writeJSON(w, http.StatusOK, actionResponse{
		TxHash: receipt.TxHash.Hex(),
		Status: status,
	})
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request, address common.Address) {
	switch r.Method {
	case http.MethodGet:
		s.handleListEvidence(w, r, address)
	case http.MethodPost:
		s.handleSubmitEvidence(w, r, address)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListEvidence(w http.ResponseWriter, r *http.Request, address common.Address) {
	userID := r.Context().Value(ctxKeyUserID).(string)

	rec, err := s.registryService.GetByAddress(r.Context(), userID, address)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "escrow not found")
			return
		}
		log.Printf("get escrow: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	entries, err := s.registryService.ListEvidence(r.Context(), userID, rec.ID)
	if err != nil {
		log.Printf("list evidence: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]evidenceResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, evidenceResponse{
			ID:             e.ID,
			SubmittedBy:    e.SubmittedBy.Hex(),
			Name:           e.Name,
			Description:    e.Description,
			PayloadLocator: e.PayloadLocator,
			RecordLocator:  e.RecordLocator,
			Linked:         e.Linked,
			FailedStep:     e.FailedStep,
			CreatedAt:      e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleSubmitEvidence(w http.ResponseWriter, r *http.Request, address common.Address) {
	userID := r.Context().Value(ctxKeyUserID).(string)
	wallet := r.Context().Value(ctxKeyWallet).(common.Address)

	rec, err := s.registryService.GetByAddress(r.Context(), userID, address)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "escrow not found")
			return
		}
		log.Printf("get escrow: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req submitEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil || len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload must be non-empty base64")
		return
	}

	receipt, submitErr := s.escrowService.SubmitEvidence(r.Context(), escrow.EvidenceParams{
		Instance:    address,
		From:        wallet,
		Payload:     payload,
		PayloadName: req.FileName,
		Name:        req.Name,
		Description: req.Description,
	})

	// journal every attempt so partially published locators stay discoverable
	journal := registry.AppendEvidenceParams{
		InstanceID:  rec.ID,
		SubmittedBy: wallet,
		Name:        req.Name,
		Description: req.Description,
	}
	var step *escrow.StepError
	switch {
	case submitErr == nil:
		journal.PayloadLocator = receipt.PayloadLocator
		journal.RecordLocator = receipt.RecordLocator
		journal.Linked = true
	case errors.As(submitErr, &step):
		journal.PayloadLocator = step.PayloadLocator
		journal.RecordLocator = step.RecordLocator
		journal.FailedStep = string(step.Step)
	}
	if submitErr == nil || step != nil {
		if _, err := s.registryService.AppendEvidence(r.Context(), journal); err != nil {
			log.Printf("journal evidence %s: %v", address.Hex(), err)
		}
	}

	if submitErr != nil {
		writeCoordinatorError(w, submitErr)
		return
	}

	writeJSON(w, http.StatusCreated, evidenceResponse{
		SubmittedBy:    wallet.Hex(),
		Name:           req.Name,
		Description:    req.Description,
		PayloadLocator: receipt.PayloadLocator,
		RecordLocator:  receipt.RecordLocator,
		Linked:         true,
	})
}

// writeCoordinatorError maps coordinator and ledger failures onto HTTP codes.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "caller is not permitted to perform this action")
	case errors.Is(err, ledger.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "action is not valid in the current escrow status")
	case errors.Is(err, ledger.ErrStaleQuote):
		writeError(w, http.StatusConflict, "arbitration fee quote is stale, retry")
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "escrow not found on ledger")
	case errors.Is(err, escrow.ErrEvidenceNotSupported):
		writeError(w, http.StatusUnprocessableEntity, "this escrow does not support evidence exchange")
	case errors.Is(err, ledger.ErrTransport):
		writeError(w, http.StatusBadGateway, "ledger unreachable")
	default:
		log.Printf("coordinator: %v", err)
		writeError(w, http.StatusBadGateway, "upstream failure")
	}
}

type userResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FullName      string `json:"fullName"`
	WalletAddress string `json:"walletAddress"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type openEscrowRequest struct {
	Payee                              string `json:"payee"`
	Arbitrator                         string `json:"arbitrator"`
	Amount                             string `json:"amount"`
	Title                              string `json:"title"`
	Description                        string `json:"description"`
	ReclamationPeriodSeconds           int64  `json:"reclamationPeriodSeconds"`
	ArbitrationFeeDepositPeriodSeconds int64  `json:"arbitrationFeeDepositPeriodSeconds"`
}

type escrowResponse struct {
	ID                string `json:"id"`
	Address           string `json:"address"`
	Payer             string `json:"payer"`
	Payee             string `json:"payee"`
	Arbitrator        string `json:"arbitrator"`
	Amount            string `json:"amount"`
	Status            string `json:"status"`
	DescriptorLocator string `json:"descriptorLocator"`
	CreatedAt         string `json:"createdAt"`
}

func toEscrowResponse(rec registry.Record) escrowResponse {
	return escrowResponse{
		ID:                rec.ID,
		Address:           rec.Address.Hex(),
		Payer:             rec.Payer.Hex(),
		Payee:             rec.Payee.Hex(),
		Arbitrator:        rec.Arbitrator.Hex(),
		Amount:            rec.Amount.String(),
		Status:            rec.Status.String(),
		DescriptorLocator: rec.DescriptorLocator,
		CreatedAt:         rec.CreatedAt.Format(time.RFC3339),
	}
}

type snapshotResponse struct {
	Escrow                       escrowResponse     `json:"escrow"`
	LedgerStatus                 string             `json:"ledgerStatus,omitempty"`
	LedgerValue                  string             `json:"ledgerValue,omitempty"`
	RemainingToReclaimSeconds    *int64             `json:"remainingToReclaimSeconds,omitempty"`
	RemainingToDepositFeeSeconds *int64             `json:"remainingToDepositFeeSeconds,omitempty"`
	Affordances                  escrow.Affordances `json:"affordances"`
}

type actionResponse struct {
	TxHash string `json:"txHash"`
	Status string `json:"status,omitempty"`
}

type submitEvidenceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	FileName    string `json:"fileName"`
	Payload     string `json:"payload"`
}

type evidenceResponse struct {
	ID             string `json:"id,omitempty"`
	SubmittedBy    string `json:"submittedBy"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	PayloadLocator string `json:"payloadLocator"`
	RecordLocator  string `json:"recordLocator"`
	Linked         bool   `json:"linked"`
	FailedStep     string `json:"failedStep,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
