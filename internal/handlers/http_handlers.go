package handlers

import (
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"charitylottery/internal/identity"
	"charitylottery/internal/ledger"
	"charitylottery/internal/models"
	"charitylottery/internal/oracle"
	"charitylottery/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
)

// HTTPHandler holds the dependencies for the HTTP handlers, like the lottery service.
type HTTPHandler struct {
	service         *services.LotteryService
	oracleKey       string
	faucet          bool
	signatureWindow uint64
	clock           func() time.Time
}

// NewHTTPHandler creates a new HTTPHandler. oracleKey is published on
// GET /oracle so clients can check reveal proofs themselves. The deposit
// endpoint is only registered when faucet is set. Signed requests must carry
// a timestamp within signatureWindow seconds of the server clock.
func NewHTTPHandler(service *services.LotteryService, oracleKey string, faucet bool, signatureWindow uint64) *HTTPHandler {
	return &HTTPHandler{
		service:         service,
		oracleKey:       oracleKey,
		faucet:          faucet,
		signatureWindow: signatureWindow,
		clock:           time.Now,
	}
}

// SetClock replaces the wall clock the current slot is read from.
func (h *HTTPHandler) SetClock(clock func() time.Time) { h.clock = clock }

// now is the current slot: Unix seconds.
func (h *HTTPHandler) now() uint64 {
	return uint64(h.clock().Unix())
}

// scoped returns the service bound to the nonce of the signed request, so
// the request executes at most once.
func (h *HTTPHandler) scoped(c *gin.Context) *services.LotteryService {
	return h.service.WithNonce(callerOf(c), c.GetString(nonceKey), uint64(c.GetInt64(issuedKey)))
}

// RegisterRoutes registers all the application routes.
func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	h.RegisterPublicRoutes(router)

	signed := router.Group("/")
	signed.Use(h.IdentityMiddleware())
	h.RegisterSignedRoutes(signed)
}

// RegisterPublicRoutes registers the read-only routes. They need no identity.
func (h *HTTPHandler) RegisterPublicRoutes(router gin.IRouter) {
	router.GET("/round", h.GetRoundState)
	router.GET("/rounds", h.ListRounds)
	router.GET("/rounds/:id", h.GetRound)
	router.GET("/rounds/:id/tickets.csv", h.ExportTicketsCSV)
	router.GET("/charities", h.ListCharities)
	router.GET("/tickets/:round/:index", h.GetTicket)
	router.GET("/accounts/:identity/balance", h.GetBalance)
	router.GET("/accounts/:identity/stats", h.GetStats)
	router.GET("/oracle", h.GetOracle)
}

// RegisterSignedRoutes registers the routes that act on behalf of the
// caller. The group must run IdentityMiddleware.
func (h *HTTPHandler) RegisterSignedRoutes(router gin.IRouter) {
	router.POST("/rounds", h.InitializeRound)
	router.POST("/round/lock", h.LockRound)
	router.POST("/tickets", h.BuyTickets)
	router.POST("/tickets/transfer", h.TransferTicket)
	router.POST("/votes", h.Vote)
	router.POST("/randomness/commit", h.CommitRandomness)
	router.POST("/randomness/reveal", h.RevealRandomness)
	router.POST("/randomness/recommit", h.Recommit)
	router.POST("/claims", h.ClaimPrize)
	router.POST("/charities", h.RegisterCharity)
	router.POST("/charities/csv", h.UploadCharitiesCSV)
	if h.faucet {
		router.POST("/accounts/deposit", h.Deposit)
	}
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrReplayedRequest):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrStageViolation),
		errors.Is(err, models.ErrAlreadySettled),
		errors.Is(err, models.ErrRoundInProgress),
		errors.Is(err, models.ErrNoCharities):
		return http.StatusConflict
	case errors.Is(err, models.ErrWindowViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, models.ErrResource):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrNoRound),
		errors.Is(err, models.ErrRoundNotFound),
		errors.Is(err, models.ErrTicketNotFound),
		errors.Is(err, models.ErrCharityNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidArgument),
		errors.Is(err, models.ErrInvalidIdentity),
		errors.Is(err, ledger.ErrBalanceOverflow):
		return http.StatusBadRequest
	case errors.Is(err, oracle.ErrUnknownHandle),
		errors.Is(err, oracle.ErrEmptySeed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func uintParam(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

// GetRoundState returns the live round as seen at the current slot.
func (h *HTTPHandler) GetRoundState(c *gin.Context) {
	st, err := h.service.GetRoundState(h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListRounds returns every round, newest first.
func (h *HTTPHandler) ListRounds(c *gin.Context) {
	rounds, err := h.service.Rounds()
	if err != nil {
		h.fail(c, err)
		return
	}
	if rounds == nil {
		rounds = []*models.Round{}
	}
	c.JSON(http.StatusOK, rounds)
}

// GetRound returns the stored record of a round, past or live.
func (h *HTTPHandler) GetRound(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	r, err := h.service.GetRound(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ListCharities returns every registered charity.
func (h *HTTPHandler) ListCharities(c *gin.Context) {
	charities, err := h.service.Charities()
	if err != nil {
		h.fail(c, err)
		return
	}
	if charities == nil {
		charities = []*models.CharityEntry{}
	}
	c.JSON(http.StatusOK, charities)
}

// GetTicket returns the mint record of a ticket and its current holder.
func (h *HTTPHandler) GetTicket(c *gin.Context) {
	roundID, ok := uintParam(c, "round")
	if !ok {
		return
	}
	index, ok := uintParam(c, "index")
	if !ok {
		return
	}
	tk, err := h.service.Ticket(roundID, index)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tk)
}

func identityParam(c *gin.Context) (string, bool) {
	id, err := identity.Parse(c.Param("identity"))
	if err != nil {
		badRequest(c, err.Error())
		return "", false
	}
	return id, true
}

// GetBalance returns the funds held by an identity.
func (h *HTTPHandler) GetBalance(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	bal, err := h.service.Balance(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": id, "balance": bal})
}

// GetStats returns the lifetime lottery totals of an identity.
func (h *HTTPHandler) GetStats(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	st, err := h.service.Stats(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetOracle publishes the beacon key and the protocol parameters.
func (h *HTTPHandler) GetOracle(c *gin.Context) {
	p := h.service.Params()
	c.JSON(http.StatusOK, gin.H{
		"publicKey":      h.oracleKey,
		"programId":      p.ProgramID,
		"minRevealDelay": p.MinRevealDelay,
		"revealWindow":   p.RevealWindow,
	})
}

// ExportTicketsCSV handles the request to download a round's tickets as a CSV file.
func (h *HTTPHandler) ExportTicketsCSV(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	tickets, err := h.service.Tickets(id)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment;filename=round_"+strconv.FormatUint(id, 10)+"_tickets.csv")

	// BOM so spreadsheet tools read the file as UTF-8.
	c.Writer.Write([]byte("\xef\xbb\xbf"))

	w := csv.NewWriter(c.Writer)
	if err := w.Write([]string{"index", "address", "minter", "holder", "minted_at"}); err != nil {
		logger.Errorf("Error writing CSV header: %v", err)
		return
	}
	for _, tk := range tickets {
		row := []string{
			strconv.FormatUint(tk.Index, 10),
			tk.Address,
			tk.Minter,
			tk.Holder,
			strconv.FormatUint(tk.MintedAt, 10),
		}
		if err := w.Write(row); err != nil {
			logger.Errorf("Error writing CSV row: %v", err)
			return
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		logger.Errorf("Error flushing CSV writer: %v", err)
	}
}

type initializeRoundRequest struct {
	TicketPrice uint64 `json:"ticketPrice" binding:"required"`
	WindowStart uint64 `json:"windowStart"`
	WindowEnd   uint64 `json:"windowEnd" binding:"required"`
}

// InitializeRound opens a new round. Admin only.
func (h *HTTPHandler) InitializeRound(c *gin.Context) {
	var req initializeRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	r, err := h.scoped(c).InitializeRound(callerOf(c), req.TicketPrice, req.WindowStart, req.WindowEnd)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// LockRound persists the lock of a round whose window has ended.
func (h *HTTPHandler) LockRound(c *gin.Context) {
	r, err := h.scoped(c).Lock(h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type buyTicketsRequest struct {
	Count uint64 `json:"count" binding:"required"`
}

// BuyTickets sells tickets of the live round to the caller.
func (h *HTTPHandler) BuyTickets(c *gin.Context) {
	var req buyTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	indices, err := h.scoped(c).BuyTickets(callerOf(c), req.Count, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"indices": indices})
}

type transferTicketRequest struct {
	RoundID uint64 `json:"roundId" binding:"required"`
	Index   uint64 `json:"index"`
	To      string `json:"to" binding:"required"`
}

// TransferTicket hands a ticket the caller holds to another identity.
func (h *HTTPHandler) TransferTicket(c *gin.Context) {
	var req transferTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.scoped(c).TransferTicket(callerOf(c), req.RoundID, req.Index, req.To); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type voteRequest struct {
	CharityID uint64 `json:"charityId" binding:"required"`
}

// Vote casts the caller's vote of the live round.
func (h *HTTPHandler) Vote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.scoped(c).Vote(callerOf(c), req.CharityID, h.now()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CommitRandomness requests the randomness for the live round. Authority only.
func (h *HTTPHandler) CommitRandomness(c *gin.Context) {
	res, err := h.scoped(c).CommitRandomness(c.Request.Context(), callerOf(c), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type revealRequest struct {
	Handle string `json:"handle" binding:"required"`
}

// RevealRandomness reveals the pending randomness request. Anyone may call it.
func (h *HTTPHandler) RevealRandomness(c *gin.Context) {
	var req revealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.scoped(c).RevealRandomness(c.Request.Context(), req.Handle, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Recommit replaces an expired randomness request. Authority only.
func (h *HTTPHandler) Recommit(c *gin.Context) {
	req, err := h.scoped(c).Recommit(c.Request.Context(), callerOf(c), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type claimRequest struct {
	TicketIndex uint64 `json:"ticketIndex"`
}

// ClaimPrize settles the round if the caller holds the winning ticket.
func (h *HTTPHandler) ClaimPrize(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	receipt, err := h.scoped(c).ClaimPrize(callerOf(c), req.TicketIndex, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

type registerCharityRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Treasury    string `json:"treasury" binding:"required"`
}

// RegisterCharity adds a donation recipient. Admin only.
func (h *HTTPHandler) RegisterCharity(c *gin.Context) {
	var req registerCharityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	entry, err := h.scoped(c).RegisterCharity(callerOf(c), req.Name, req.Description, req.Treasury)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// UploadCharitiesCSV handles the CSV upload for charities. Each row is
// name, description, treasury. Malformed rows are skipped; the rest are
// registered together.
func (h *HTTPHandler) UploadCharitiesCSV(c *gin.Context) {
	file, _, err := c.Request.FormFile("charityCSV")
	if err != nil {
		badRequest(c, "error retrieving file: "+err.Error())
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var batch []services.CharityInput
	malformed := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			badRequest(c, "error reading CSV: "+err.Error())
			return
		}

		if len(record) != 3 {
			logger.Infof("Skipping malformed charity CSV record: %v", record)
			malformed++
			continue
		}
		batch = append(batch, services.CharityInput{Name: record[0], Description: record[1], Treasury: record[2]})
	}

	registered, skipped, err := h.scoped(c).RegisterCharities(callerOf(c), batch)
	if err != nil {
		h.fail(c, err)
		return
	}
	if registered == nil {
		registered = []*models.CharityEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"registered": registered, "skipped": malformed + skipped})
}

type depositRequest struct {
	To     string `json:"to" binding:"required"`
	Amount uint64 `json:"amount" binding:"required"`
}

// Deposit funds an account. Admin only, and only with the faucet enabled.
func (h *HTTPHandler) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.scoped(c).Deposit(callerOf(c), req.To, req.Amount); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
