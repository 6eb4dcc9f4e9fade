// Package gallery holds the client-side state of the CampusGallery: the
// artwork list, the per-session liked/voted bookkeeping, the upload form and
// the user actions that write to the contract or decrypt its counters.
//
// Only one action runs at a time. An action moves the controller from idle
// to pending and then to confirmed or failed; a second action started while
// one is pending is rejected with errors.ErrBusy. Reads never take the busy
// flag.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"campusgallery/chain"
	gerrors "campusgallery/errors"
	"campusgallery/fhe"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePending   Phase = "pending"
	PhaseConfirmed Phase = "confirmed"
	PhaseFailed    Phase = "failed"
)

// Authorizer issues decryption signatures. *fhe.Authorizer implements it.
type Authorizer interface {
	Authorize(ctx context.Context, signer fhe.Signer, contracts []common.Address) (*fhe.DecryptionSignature, error)
}

// ArtworkSink receives every successfully refreshed artwork list.
type ArtworkSink interface {
	IndexArtworks(artworks []chain.Artwork)
}

// Binding is the chain specific part of the controller. A nil Gallery means
// the selected chain has no deployed contract.
type Binding struct {
	Gallery    chain.Gallery
	Authorizer Authorizer
	Decryptor  fhe.Decryptor
}

type Options struct {
	Session *Session
	Binding Binding
	Signer  fhe.Signer
	Sink    ArtworkSink
	Logger  *slog.Logger
}

// State is a point-in-time view of the controller.
type State struct {
	Busy         bool            `json:"busy"`
	Phase        Phase           `json:"phase"`
	Action       string          `json:"action,omitempty"`
	ActionID     string          `json:"actionId,omitempty"`
	Message      string          `json:"message"`
	Contract     *common.Address `json:"contract"`
	ArtworkCount int             `json:"artworkCount"`
	Draft        Draft           `json:"draft"`
	SessionSnapshot
}

// LikeResult is the outcome of decrypting one artwork's like counter.
type LikeResult struct {
	ID     uint64     `json:"id"`
	Handle fhe.Handle `json:"handle"`
	Value  *big.Int   `json:"value,omitempty"`
	NoData bool       `json:"noData"`
}

// RankRow is one artwork competing in a category.
type RankRow struct {
	ID     uint64         `json:"id"`
	Title  string         `json:"title"`
	Artist common.Address `json:"artist"`
	Handle fhe.Handle     `json:"handle"`
	Value  *big.Int       `json:"value,omitempty"`
}

type RankResult struct {
	Category string    `json:"category"`
	Rows     []RankRow `json:"rows"`
	NoData   bool      `json:"noData"`
}

var noDataMessage = gerrors.Message(gerrors.WrapError("decrypt", gerrors.ErrNoData, nil))

type Controller struct {
	mu      sync.Mutex
	session *Session
	binding Binding
	signer  fhe.Signer
	sink    ArtworkSink
	logger  *slog.Logger

	// generation counts SetNetwork calls.
	generation uint64

	busy     bool
	phase    Phase
	action   string
	actionID string
	message  string
	mockSeq  int

	artworks  []chain.Artwork
	draft     Draft
	listeners []func(State)
}

func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	session := opts.Session
	if session == nil {
		var account common.Address
		if opts.Signer != nil {
			account = opts.Signer.Address()
		}
		session = NewSession(account, 0)
	}
	return &Controller{
		session: session.WithLogger(logger),
		binding: opts.Binding,
		signer:  opts.Signer,
		sink:    opts.Sink,
		logger:  logger,
		phase:   PhaseIdle,
	}
}

// OnChange registers fn to be called with the new state after every change.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) Session() *Session {
	return c.session
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	st := State{
		Busy:            c.busy,
		Phase:           c.phase,
		Action:          c.action,
		ActionID:        c.actionID,
		Message:         c.message,
		ArtworkCount:    len(c.artworks),
		Draft:           c.draft,
		SessionSnapshot: c.session.Snapshot(),
	}
	if c.binding.Gallery != nil {
		addr := c.binding.Gallery.Address()
		st.Contract = &addr
	}
	return st
}

func (c *Controller) notify() {
	c.mu.Lock()
	st := c.stateLocked()
	listeners := append([]func(State){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}

// MutationsEnabled reports whether the selected chain has a contract.
func (c *Controller) MutationsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding.Gallery != nil
}

func (c *Controller) gallery() chain.Gallery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding.Gallery
}

// begin marks the controller busy for action.
func (c *Controller) begin(action string) (Binding, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return Binding{}, gerrors.WrapError(action, gerrors.ErrBusy, nil)
	}
	b := c.binding
	if b.Gallery == nil {
		c.mu.Unlock()
		return Binding{}, c.reject(gerrors.WrapError(action, gerrors.ErrUnsupportedNetwork, nil))
	}
	c.busy = true
	c.phase = PhasePending
	c.action = action
	c.actionID = uuid.NewString()
	c.message = "Waiting for " + action + " to complete..."
	id := c.actionID
	c.mu.Unlock()

	c.logger.Info("action started", "action", action, "actionId", id)
	c.notify()
	return b, nil
}

func (c *Controller) finish(message string, err error) error {
	c.mu.Lock()
	c.busy = false
	if err != nil {
		c.phase = PhaseFailed
		c.message = gerrors.Message(err)
	} else {
		c.phase = PhaseConfirmed
		c.message = message
	}
	action, id := c.action, c.actionID
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("action failed", "action", action, "actionId", id, "error", err)
	} else {
		c.logger.Info("action confirmed", "action", action, "actionId", id, "message", message)
	}
	c.notify()
	return err
}

// reject records a failure decided before any action started. c.mu must
// not be held.
func (c *Controller) reject(err error) error {
	if gerrors.IsLocalRejection(err) {
		c.logger.Debug("action rejected", "error", err)
	} else {
		c.logger.Info("action rejected", "error", err)
	}
	c.setMessage(gerrors.Message(err))
	return err
}

func (c *Controller) setMessage(msg string) {
	c.mu.Lock()
	c.message = msg
	c.mu.Unlock()
	c.notify()
}

// classify wraps err as kind for op unless it is already classified.
func classify(op string, kind error, err error) error {
	var e *gerrors.Error
	if errors.As(err, &e) {
		return err
	}
	return gerrors.WrapError(op, kind, err)
}

// loadArtworks reads every artwork once, newest first.
func loadArtworks(ctx context.Context, g chain.Gallery) ([]chain.Artwork, error) {
	ids, err := g.GetAllArtworks(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[uint64]bool, len(ids))
	list := make([]chain.Artwork, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		a, err := g.GetArtwork(ctx, id)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Timestamp != list[j].Timestamp {
			return list[i].Timestamp > list[j].Timestamp
		}
		return list[i].ID > list[j].ID
	})
	return list, nil
}

// Refresh reloads all artworks from the contract. On failure the list is
// emptied and the failure becomes the status message.
func (c *Controller) Refresh(ctx context.Context) ([]chain.Artwork, error) {
	c.mu.Lock()
	g, gen := c.binding.Gallery, c.generation
	c.mu.Unlock()
	if g == nil {
		err := gerrors.WrapError("load artworks", gerrors.ErrUnsupportedNetwork, nil)
		c.setArtworks(gen, nil, gerrors.Message(err))
		return []chain.Artwork{}, err
	}

	list, err := loadArtworks(ctx, g)
	if err != nil {
		err = classify("load artworks", gerrors.ErrReadFailed, err)
		c.logger.Error("failed to load artworks", "error", err)
		c.setArtworks(gen, nil, gerrors.Message(err))
		return []chain.Artwork{}, err
	}

	if !c.setArtworks(gen, list, "") {
		c.logger.Info("network changed during refresh, dropping artworks", "count", len(list))
		return []chain.Artwork{}, gerrors.Wrapf("load artworks", gerrors.ErrWrongNetwork, "network changed while loading")
	}
	c.logger.Info("artworks loaded", "count", len(list))
	if c.sink != nil {
		c.sink.IndexArtworks(list)
	}
	return append([]chain.Artwork{}, list...), nil
}

// setArtworks stores a refresh result read under binding generation gen.
// It reports false, and stores nothing, when the binding has changed since.
func (c *Controller) setArtworks(gen uint64, list []chain.Artwork, msg string) bool {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return false
	}
	c.artworks = list
	if msg != "" {
		c.message = msg
	}
	c.mu.Unlock()
	c.notify()
	return true
}

// Artworks returns the list loaded by the last Refresh.
func (c *Controller) Artworks() []chain.Artwork {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chain.Artwork{}, c.artworks...)
}

// Like sends likeArtwork once per session and artwork. Repeated calls for
// an artwork already liked do nothing.
func (c *Controller) Like(ctx context.Context, id uint64) error {
	if c.session.HasLiked(id) {
		c.logger.Debug("artwork already liked", "artworkId", id)
		return nil
	}
	b, err := c.begin("like")
	if err != nil {
		return err
	}

	tx, err := b.Gallery.Like(ctx, id)
	if err != nil {
		return c.finish("", classify("like", gerrors.ErrWriteFailed, err))
	}
	c.session.MarkLiked(ctx, id)
	c.logger.Info("transaction sent", "action", "like", "artworkId", id, "tx", tx.Hash().Hex())

	if err := tx.Wait(ctx); err != nil {
		return c.finish("", classify("like", gerrors.ErrWriteFailed, err))
	}
	c.logger.Info("transaction confirmed", "action", "like", "artworkId", id, "tx", tx.Hash().Hex())
	return c.finish(fmt.Sprintf("Liked artwork #%d", id), nil)
}

// Vote endorses artwork id in category, once per session and artwork.
func (c *Controller) Vote(ctx context.Context, id uint64, category string) error {
	if !IsKnownCategory(category) {
		return c.reject(gerrors.Wrapf("vote", gerrors.ErrValidation, "unknown category %q", category))
	}
	if c.session.HasVoted(id) {
		c.logger.Debug("artwork already voted", "artworkId", id)
		return nil
	}
	b, err := c.begin("vote")
	if err != nil {
		return err
	}

	tx, err := b.Gallery.Vote(ctx, id, category)
	if err != nil {
		return c.finish("", classify("vote", gerrors.ErrWriteFailed, err))
	}
	c.session.MarkVoted(ctx, id)
	c.logger.Info("transaction sent", "action", "vote", "artworkId", id, "category", category, "tx", tx.Hash().Hex())

	if err := tx.Wait(ctx); err != nil {
		return c.finish("", classify("vote", gerrors.ErrWriteFailed, err))
	}
	c.logger.Info("transaction confirmed", "action", "vote", "artworkId", id, "category", category, "tx", tx.Hash().Hex())
	name, _ := CategoryName(category)
	return c.finish(fmt.Sprintf("Voted for artwork #%d in %s", id, name), nil)
}

func (c *Controller) authorize(ctx context.Context, op string, b Binding) (*fhe.DecryptionSignature, error) {
	c.mu.Lock()
	signer := c.signer
	c.mu.Unlock()
	if signer == nil {
		return nil, gerrors.WrapError(op, gerrors.ErrProviderAbsent, nil)
	}
	if b.Authorizer == nil || b.Decryptor == nil {
		return nil, gerrors.Wrapf(op, gerrors.ErrDecryptFailed, "no decryption service configured")
	}
	sig, err := b.Authorizer.Authorize(ctx, signer, []common.Address{b.Gallery.Address()})
	if err != nil {
		return nil, classify(op, gerrors.ErrDecryptFailed, err)
	}
	return sig, nil
}

// DecryptLikes decrypts the like counter of artwork id. A counter that was
// never written is reported as NoData without contacting the decryptor.
func (c *Controller) DecryptLikes(ctx context.Context, id uint64) (LikeResult, error) {
	const op = "decrypt likes"
	b, err := c.begin(op)
	if err != nil {
		return LikeResult{}, err
	}

	h, err := b.Gallery.GetLikes(ctx, id)
	if err != nil {
		return LikeResult{}, c.finish("", classify(op, gerrors.ErrReadFailed, err))
	}
	if fhe.IsZero(h) {
		return LikeResult{ID: id, Handle: h, NoData: true}, c.finish(noDataMessage, nil)
	}

	sig, err := c.authorize(ctx, op, b)
	if err != nil {
		return LikeResult{}, c.finish("", err)
	}
	res, err := fhe.DecryptNonZero(ctx, b.Decryptor, []fhe.HandleContractPair{{Handle: h, ContractAddress: b.Gallery.Address()}}, sig)
	if err != nil {
		return LikeResult{}, c.finish("", err)
	}

	v := res[h]
	c.session.SetDecrypted(h, v)
	c.session.SetLikeCount(id, v)
	c.logger.Info("decrypted likes", "artworkId", id, "handle", h.Hex())
	return LikeResult{ID: id, Handle: h, Value: v}, c.finish(fmt.Sprintf("Artwork #%d has %s likes", id, v), nil)
}

// RankRows lists the artworks competing in category with their encrypted
// vote counters, newest first.
func (c *Controller) RankRows(ctx context.Context, category string) ([]RankRow, error) {
	if !IsKnownCategory(category) {
		return nil, gerrors.Wrapf("load ranking", gerrors.ErrValidation, "unknown category %q", category)
	}
	g := c.gallery()
	if g == nil {
		return nil, gerrors.WrapError("load ranking", gerrors.ErrUnsupportedNetwork, nil)
	}
	rows, err := rankRows(ctx, g, category)
	if err != nil {
		return nil, classify("load ranking", gerrors.ErrReadFailed, err)
	}
	return rows, nil
}

func rankRows(ctx context.Context, g chain.Gallery, category string) ([]RankRow, error) {
	list, err := loadArtworks(ctx, g)
	if err != nil {
		return nil, err
	}
	rows := []RankRow{}
	for _, a := range list {
		if !a.HasCategory(category) {
			continue
		}
		h, err := g.GetVotes(ctx, a.ID, category)
		if err != nil {
			return nil, err
		}
		rows = append(rows, RankRow{ID: a.ID, Title: a.Title, Artist: a.Artist, Handle: h})
	}
	return rows, nil
}

// DecryptRank decrypts every vote counter of category in one request and
// orders the rows by votes, highest first. Counters never written count as 0.
func (c *Controller) DecryptRank(ctx context.Context, category string) (RankResult, error) {
	const op = "decrypt ranking"
	if !IsKnownCategory(category) {
		return RankResult{}, c.reject(gerrors.Wrapf(op, gerrors.ErrValidation, "unknown category %q", category))
	}
	b, err := c.begin(op)
	if err != nil {
		return RankResult{}, err
	}

	rows, err := rankRows(ctx, b.Gallery, category)
	if err != nil {
		return RankResult{}, c.finish("", classify(op, gerrors.ErrReadFailed, err))
	}
	result := RankResult{Category: category, Rows: rows}

	pairs := make([]fhe.HandleContractPair, len(rows))
	for i, r := range rows {
		pairs[i] = fhe.HandleContractPair{Handle: r.Handle, ContractAddress: b.Gallery.Address()}
	}
	if len(fhe.NonZero(pairs)) == 0 {
		result.NoData = true
		return result, c.finish(noDataMessage, nil)
	}

	sig, err := c.authorize(ctx, op, b)
	if err != nil {
		return RankResult{}, c.finish("", err)
	}
	res, err := fhe.DecryptNonZero(ctx, b.Decryptor, pairs, sig)
	if err != nil {
		return RankResult{}, c.finish("", err)
	}

	for i := range rows {
		v, _ := res.Value(rows[i].Handle)
		rows[i].Value = v
		if !fhe.IsZero(rows[i].Handle) {
			c.session.SetDecrypted(rows[i].Handle, v)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if cmp := rows[i].Value.Cmp(rows[j].Value); cmp != 0 {
			return cmp > 0
		}
		return rows[i].ID < rows[j].ID
	})

	c.logger.Info("decrypted ranking", "category", category, "rows", len(rows))
	name, _ := CategoryName(category)
	return result, c.finish(fmt.Sprintf("Ranking for %s decrypted", name), nil)
}

// Mine lists the artworks submitted by the session account, newest first.
func (c *Controller) Mine(ctx context.Context) ([]chain.Artwork, error) {
	account := c.session.Account()
	if account == (common.Address{}) {
		return nil, gerrors.WrapError("load my artworks", gerrors.ErrProviderAbsent, nil)
	}
	g := c.gallery()
	if g == nil {
		return nil, gerrors.WrapError("load my artworks", gerrors.ErrUnsupportedNetwork, nil)
	}
	list, err := loadArtworks(ctx, g)
	if err != nil {
		return nil, classify("load my artworks", gerrors.ErrReadFailed, err)
	}
	mine := []chain.Artwork{}
	for _, a := range list {
		if a.IsBy(account.Hex()) {
			mine = append(mine, a)
		}
	}
	return mine, nil
}

func (c *Controller) SetDraft(d Draft) {
	c.mu.Lock()
	c.draft = d
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// FillExample replaces the form with the sample artwork.
func (c *Controller) FillExample() Draft {
	d := ExampleDraft()
	c.SetDraft(d)
	return d
}

// Submit validates d locally and sends submitPainting. The form is cleared
// once the transaction is mined.
func (c *Controller) Submit(ctx context.Context, d Draft) error {
	s, err := d.Submission()
	if err != nil {
		return c.reject(err)
	}
	return c.submit(ctx, "submit", s, true)
}

// MockUpload submits a generated sample artwork.
func (c *Controller) MockUpload(ctx context.Context) (chain.Submission, error) {
	c.mu.Lock()
	category := categories[c.mockSeq%len(categories)].ID
	c.mockSeq++
	c.mu.Unlock()

	d, err := mockDraft(category)
	if err != nil {
		return chain.Submission{}, c.reject(gerrors.WrapError("mock upload", gerrors.ErrValidation, err))
	}
	s, err := d.Submission()
	if err != nil {
		return chain.Submission{}, c.reject(err)
	}
	return s, c.submit(ctx, "mock upload", s, false)
}

func (c *Controller) submit(ctx context.Context, op string, s chain.Submission, clearDraft bool) error {
	b, err := c.begin(op)
	if err != nil {
		return err
	}

	tx, err := b.Gallery.SubmitPainting(ctx, s)
	if err != nil {
		return c.finish("", classify(op, gerrors.ErrWriteFailed, err))
	}
	c.logger.Info("transaction sent", "action", op, "title", s.Title, "tx", tx.Hash().Hex())
	if err := tx.Wait(ctx); err != nil {
		return c.finish("", classify(op, gerrors.ErrWriteFailed, err))
	}
	c.logger.Info("transaction confirmed", "action", op, "title", s.Title, "tx", tx.Hash().Hex())

	if clearDraft {
		c.mu.Lock()
		c.draft = Draft{}
		c.mu.Unlock()
	}
	return c.finish(fmt.Sprintf("Artwork %q submitted", s.Title), nil)
}

// SetNetwork selects chainID. A binding without a gallery disables every
// action until a supported chain is selected.
func (c *Controller) SetNetwork(ctx context.Context, chainID uint64, b Binding) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return gerrors.WrapError("switch network", gerrors.ErrBusy, nil)
	}
	c.binding = b
	c.generation++
	c.artworks = nil
	c.phase = PhaseIdle
	c.action, c.actionID = "", ""
	if b.Gallery == nil {
		c.message = fmt.Sprintf("No CampusGallery contract on chain %d", chainID)
	} else {
		c.message = ""
	}
	c.mu.Unlock()

	err := c.session.Reset(ctx, c.session.Account(), chainID)
	c.logger.Info("network selected", "chainId", chainID, "supported", b.Gallery != nil)
	c.notify()
	return err
}

// ForgetMarks clears the session's liked and voted bookkeeping so the
// account can like and vote again from this node. The contract still
// decides whether a repeated vote is accepted.
func (c *Controller) ForgetMarks(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return gerrors.WrapError("forget marks", gerrors.ErrBusy, nil)
	}
	c.mu.Unlock()

	if err := c.session.ForgetMarks(ctx); err != nil {
		return c.reject(gerrors.WrapError("forget marks", gerrors.ErrWriteFailed, err))
	}
	c.logger.Info("session marks cleared", "account", c.session.Account().Hex(), "chainId", c.session.ChainID())
	c.setMessage("Liked and voted marks cleared")
	return nil
}

// SetSigner switches the connected account and starts a fresh session.
func (c *Controller) SetSigner(ctx context.Context, signer fhe.Signer) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return gerrors.WrapError("switch account", gerrors.ErrBusy, nil)
	}
	c.signer = signer
	c.mu.Unlock()

	var account common.Address
	if signer != nil {
		account = signer.Address()
	}
	err := c.session.Reset(ctx, account, c.session.ChainID())
	c.notify()
	return err
}
