// internal/domain/coordinator/coordinator.go

// Package coordinator drives one authentication flow. It feeds intents
// through the flow reducer, runs the side effects each step needs and
// resolves the welcome step into settings, a session and a destination.
package coordinator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/internal/domain/discovery"
	"auth-flow-server/internal/domain/flow"
	"auth-flow-server/internal/domain/linking"
	"auth-flow-server/internal/domain/signin"
	"auth-flow-server/internal/metrics"
	"auth-flow-server/pkg/errors"
)

type Discoverer interface {
	Discover(ctx context.Context, session auth.LegacySession, isNewUser bool) discovery.Result
	Refresh(ctx context.Context, session auth.LegacySession) discovery.Result
}

type Linker interface {
	Link(ctx context.Context, session auth.LegacySession, keyID string) error
}

type Accounts interface {
	Create(ctx context.Context, sel flow.Signup) (auth.Identity, error)
	CreateForLegacy(ctx context.Context, profile *auth.LegacyProfile) (auth.Identity, error)
	LinkBackup(ctx context.Context, creds auth.Credentials, id auth.Identity) (auth.LegacySession, error)
}

type SettingsResolver interface {
	Settings(ctx context.Context, keyID auth.KeyID) (*auth.Settings, error)
	EnsureSettings(ctx context.Context, keyID auth.KeyID, existing *auth.Settings, d signin.Designation) (auth.Settings, error)
	StartProbe(ctx context.Context, keyID auth.KeyID) *signin.Probe
}

type SessionOpener interface {
	Open(ctx context.Context, id auth.Identity, isCreator bool) (*auth.AppSession, error)
}

// Destinations are where a completed flow sends the user.
type Destinations struct {
	Creator string
	General string
}

type Options struct {
	Initial      flow.State
	Machine      *flow.Machine
	Discovery    Discoverer
	Linker       Linker
	Accounts     Accounts
	Settings     SettingsResolver
	Legacy       auth.LegacyProvider
	Sessions     SessionOpener
	Validator    auth.Validator
	Destinations Destinations
	Logger       *zap.Logger
}

type Coordinator struct {
	machine      *flow.Machine
	discovery    Discoverer
	linker       Linker
	accounts     Accounts
	settings     SettingsResolver
	legacy       auth.LegacyProvider
	sessions     SessionOpener
	validator    auth.Validator
	destinations Destinations
	logger       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	mu          sync.Mutex
	flow        flow.Flow
	gen         uint64
	stateCtx    context.Context
	stateCancel context.CancelFunc
	inflight    map[string]bool
	message     string
	warning     string
	discovered  discovery.Result
	generated   *auth.Identity
	created     *bool
	probe       *signin.Probe
	destination string
	session     *auth.AppSession
	version     uint64
	closed      bool

	pubMu  sync.Mutex
	subMu  sync.Mutex
	subs   map[uint64]func(Snapshot)
	nextID uint64
}

func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	machine := opts.Machine
	if machine == nil {
		machine = flow.NewMachine(logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	stateCtx, stateCancel := context.WithCancel(ctx)
	c := &Coordinator{
		machine:      machine,
		discovery:    opts.Discovery,
		linker:       opts.Linker,
		accounts:     opts.Accounts,
		settings:     opts.Settings,
		legacy:       opts.Legacy,
		sessions:     opts.Sessions,
		validator:    opts.Validator,
		destinations: opts.Destinations,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		flow:         flow.New(opts.Initial),
		stateCtx:     stateCtx,
		stateCancel:  stateCancel,
		inflight:     make(map[string]bool),
		subs:         make(map[uint64]func(Snapshot)),
	}
	return c
}

// Snapshot returns the current view without publishing it.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for every published snapshot. fn runs on the
// publishing goroutine and must not call back into the Coordinator.
func (c *Coordinator) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// Close cancels everything in flight and waits for background work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stateCancel()
	c.cancel()
	c.mu.Unlock()
	c.tasks.Wait()
}

// Dispatch handles one intent and returns the resulting snapshot. Side
// effects run on the caller's goroutine and are bounded by ctx.
func (c *Coordinator) Dispatch(ctx context.Context, in Intent) Snapshot {
	if in == nil {
		return c.Snapshot()
	}
	c.mu.Lock()
	if c.closed {
		defer c.mu.Unlock()
		return c.snapshotLocked()
	}
	c.message, c.warning = "", ""
	from := c.flow.State.Step()
	c.mu.Unlock()

	c.logger.Debug("dispatch intent", zap.String("intent", in.Name()), zap.String("step", string(from)))

	switch in := in.(type) {
	case ChooseMethod:
		c.send(flow.SelectMethod{Method: in.Method, SignerMethod: in.SignerMethod})
	case AuthenticateKeyIdentity:
		c.authenticateKeyIdentity(ctx, in.Signer)
	case ContinueWithKeyIdentity:
		c.send(flow.ContinueWithKeyIdentity{})
	case MigrateLegacyAccount:
		c.send(flow.StartLegacyMigration{})
	case SwitchLegacyMode:
		c.send(flow.SwitchLegacyMode{Mode: in.Mode})
	case SubmitLegacyCredentials:
		c.submitLegacyCredentials(ctx, in.Credentials)
	case RefreshDiscovery:
		c.refreshDiscovery(ctx)
	case ChooseLinkedAccount:
		c.chooseLinkedAccount(in.KeyID)
	case GenerateKeyIdentity:
		c.generateKeyIdentity(ctx)
	case ConfirmLink:
		c.confirmLink(ctx)
	case UseDifferentIdentity:
		c.send(flow.UseDifferentIdentity{})
	case ChooseUserType:
		c.send(flow.SelectUserType{Artist: in.Artist})
		c.createAccount(ctx)
	case ChooseArtistType:
		c.send(flow.SelectArtistType{Solo: in.Solo})
		c.createAccount(ctx)
	case SaveProfile:
		c.send(flow.ProfileSaved{})
	case SubmitBackupEmail:
		c.submitBackupEmail(ctx, in.Credentials)
	case SkipBackupEmail:
		c.send(flow.SkipBackupEmail{})
	case CompleteWelcome:
		c.completeWelcome(ctx)
	case GoBack:
		c.send(flow.GoBack{})
	case Retry:
		c.send(flow.Retry{})
	default:
		c.logger.Warn("unknown intent", zap.String("intent", in.Name()))
	}

	c.publish()
	return c.Snapshot()
}

// OnAccountLinked refreshes discovery when another flow linked an account
// to the legacy identity this flow is looking at.
func (c *Coordinator) OnAccountLinked(e linking.Event) {
	c.mu.Lock()
	s, ok := c.flow.State.(flow.AccountDiscovery)
	if !ok || !s.Loaded || s.Session == nil || s.Session.ID() != e.SessionID {
		c.mu.Unlock()
		return
	}
	c.startDiscovery(s)
	c.mu.Unlock()
}

func (c *Coordinator) send(e flow.Event) {
	c.mu.Lock()
	c.apply(e)
	c.mu.Unlock()
}

// apply must be called with c.mu held. Entering a new step bumps the
// generation and cancels the work of the step being left.
func (c *Coordinator) apply(e flow.Event) {
	prev := c.flow.State.Step()
	c.flow = c.machine.Transition(c.flow, e)
	if c.flow.State.Step() == prev {
		return
	}
	c.gen++
	c.stateCancel()
	c.stateCtx, c.stateCancel = context.WithCancel(c.ctx)

	if s, ok := c.flow.State.(flow.AccountDiscovery); ok {
		c.discovered = discovery.Result{}
		c.startDiscovery(s)
	}
}

// turn is the context of one side effect: the generation it started in
// and a context that ends with the request or with the state.
type turn struct {
	op     string
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// begin must be called with c.mu held. ok is false when op is already
// running, in which case the user is told to wait.
func (c *Coordinator) begin(ctx context.Context, op string) (t turn, ok bool) {
	if c.inflight[op] {
		c.message = errors.UserMessage(errors.NewInProgressError(op))
		return turn{}, false
	}
	c.inflight[op] = true
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.stateCtx, cancel)
	return turn{
		op:  op,
		gen: c.gen,
		ctx: ctx,
		cancel: func() {
			stop()
			cancel()
		},
	}, true
}

// finish must be called with c.mu held. It reports whether the result of
// t may still be applied.
func (c *Coordinator) finish(t turn) bool {
	t.cancel()
	delete(c.inflight, t.op)
	if c.gen != t.gen {
		c.logger.Debug("discarding stale result",
			zap.String("op", t.op),
			zap.String("step", string(c.flow.State.Step())),
		)
		return false
	}
	return true
}

// fail must be called with c.mu held.
func (c *Coordinator) fail(op string, err error) {
	if errors.Is(err, context.Canceled) {
		c.logger.Debug("flow operation cancelled", zap.String("op", op))
		return
	}
	c.logger.Warn("flow operation failed",
		zap.String("op", op),
		zap.String("step", string(c.flow.State.Step())),
		zap.String("kind", string(errors.KindOf(err))),
		zap.Error(err),
	)
	msg := errors.UserMessage(err)
	switch errors.KindOf(err) {
	case errors.KindAuthentication:
		c.message = msg
		switch c.flow.State.(type) {
		case flow.AccountDiscovery, flow.AccountLinking:
			c.apply(flow.GoBack{})
		}
	case errors.KindUnknown, errors.KindAuthorization:
		c.apply(flow.Fail{Reason: msg})
		c.message = msg
	default:
		c.message = msg
	}
}

func (c *Coordinator) authenticateKeyIdentity(ctx context.Context, signer auth.KeySigner) {
	c.mu.Lock()
	if _, ok := c.flow.State.(flow.KeyIdentityAuth); !ok || signer == nil {
		c.mu.Unlock()
		return
	}
	t, ok := c.begin(ctx, "authenticate key identity")
	c.mu.Unlock()
	if !ok {
		return
	}

	ks, err := signer.Authenticate(t.ctx)
	var keyID auth.KeyID
	if err == nil {
		keyID, err = auth.ParseKeyID(string(ks.KeyID))
	}
	err = errors.FromContext(t.op, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(t) {
		return
	}
	if err != nil {
		c.fail(t.op, err)
		return
	}
	c.apply(flow.KeyIdentityConnected{Identity: auth.Identity{KeyID: keyID, SessionHandle: ks.SessionHandle}})
	c.ensureProbe(keyID)
}

func (c *Coordinator) submitLegacyCredentials(ctx context.Context, creds auth.Credentials) {
	c.mu.Lock()
	s, ok := c.flow.State.(flow.LegacyAuth)
	if !ok {
		c.mu.Unlock()
		return
	}
	if c.validator != nil {
		if err := c.validator.Validate(creds); err != nil {
			c.message = errors.UserMessage(errors.NewValidationError("Enter a valid email address and a password of at least 6 characters."))
			c.mu.Unlock()
			return
		}
	}
	t, ok := c.begin(ctx, "legacy "+string(s.Mode))
	c.mu.Unlock()
	if !ok {
		return
	}

	var (
		session auth.LegacySession
		err     error
	)
	if s.Mode == flow.LegacySignUp {
		session, err = c.legacy.SignUp(t.ctx, creds)
	} else {
		session, err = c.legacy.SignIn(t.ctx, creds)
	}
	err = errors.FromContext(t.op, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(t) {
		return
	}
	if err != nil {
		c.fail(t.op, err)
		return
	}
	c.apply(flow.LegacyAuthenticated{Session: session, IsNewUser: s.Mode == flow.LegacySignUp})
}

// startDiscovery must be called with c.mu held. The lookup runs in the
// background and is bound to the current state.
func (c *Coordinator) startDiscovery(s flow.AccountDiscovery) {
	if c.closed || c.discovery == nil {
		return
	}
	gen, ctx := c.gen, c.stateCtx
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		res := c.discovery.Discover(ctx, s.Session, s.IsNewUser)
		c.mu.Lock()
		applied := c.applyDiscovery(gen, res)
		c.mu.Unlock()
		if applied {
			c.publish()
		}
	}()
}

func (c *Coordinator) refreshDiscovery(ctx context.Context) {
	c.mu.Lock()
	s, ok := c.flow.State.(flow.AccountDiscovery)
	if !ok {
		c.mu.Unlock()
		return
	}
	t, ok := c.begin(ctx, "refresh discovery")
	c.mu.Unlock()
	if !ok {
		return
	}

	var res discovery.Result
	if s.IsNewUser {
		res = c.discovery.Discover(t.ctx, s.Session, true)
	} else {
		res = c.discovery.Refresh(t.ctx, s.Session)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(t) {
		return
	}
	c.applyDiscovery(t.gen, res)
}

// applyDiscovery must be called with c.mu held. Partial results are kept
// alongside the error message.
func (c *Coordinator) applyDiscovery(gen uint64, res discovery.Result) bool {
	if c.gen != gen {
		c.logger.Debug("discarding stale discovery result", zap.Int("accounts", len(res.LinkedAccounts)))
		return false
	}
	if errors.Is(res.Err, context.Canceled) {
		return false
	}
	c.discovered = res
	c.apply(flow.DiscoveryLoaded{Accounts: res.LinkedAccounts})
	if res.Err != nil {
		c.fail("discover accounts", res.Err)
	}
	return true
}

func (c *Coordinator) chooseLinkedAccount(raw string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.flow.State.(flow.AccountDiscovery); !ok {
		return
	}
	keyID, err := auth.ParseKeyID(raw)
	if err != nil {
		c.message = errors.UserMessage(err)
		return
	}
	c.apply(flow.SelectKeyIdentity{KeyID: keyID})
	if _, still := c.flow.State.(flow.AccountDiscovery); still {
		c.message = errors.UserMessage(errors.NewValidationError("Choose one of the accounts linked to your email."))
	}
}

func (c *Coordinator) generateKeyIdentity(ctx context.Context) {
	c.mu.Lock()
	if _, ok := c.flow.State.(flow.AccountDiscovery); !ok {
		c.mu.Unlock()
		return
	}
	profile := c.discovered.LegacyProfile
	t, ok := c.begin(ctx, "generate key identity")
	c.mu.Unlock()
	if !ok {
		return
	}

	id, err := c.accounts.CreateForLegacy(t.ctx, profile)
	err = errors.FromContext(t.op, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(t) {
		return
	}
	if err != nil {
		c.fail(t.op, err)
		return
	}
	c.generated = &id
	c.apply(flow.KeyIdentityGenerated{KeyID: id.KeyID})
}

func (c *Coordinator) confirmLink(ctx context.Context) {
	c.mu.Lock()
	s, ok := c.flow.State.(flow.AccountLinking)
	if !ok {
		c.mu.Unlock()
		return
	}
	t, ok := c.begin(ctx, "link account")
	c.mu.Unlock()
	if !ok {
		return
	}

	err := errors.FromContext(t.op, c.linker.Link(t.ctx, s.Session, string(s.Selected)))

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(t) {
		return
	}
	if err != nil && !errors.IsWarning(err) {
		c.fail(t.op, err)
		return
	}
	if err != nil {
		c.warning = errors.UserMessage(err)
	}
	c.apply(flow.AccountLinked{Identity: c.linkedIdentity(s)})
	c.ensureProbe(s.Selected)
}

// linkedIdentity must be called with c.mu held.
func (c *Coordinator) linkedIdentity(s flow.AccountLinking) auth.Identity {
	if s.Generated && c.generated != nil && c.generated.KeyID == s.Selected {
		return *c.generated
	}
	id := auth.Identity{KeyID: s.Selected}
	for _, acct := range c.discovered.LinkedAccounts {
		if acct.KeyID == s.Selected && acct.Profile != nil {
			id.DisplayName = acct.Profile.DisplayName
			if id.DisplayName == "" {
				id.DisplayName = acct.Profile.Name
			}
		}
	}
	return id
}

// createAccount runs once every selection that shapes the account has been
// made. A failure leaves the user on the selection they made.
func (c *Coordinator) createAccount(ctx context.Context) {
	c.mu.Lock()
	s, ok := c.flow.State.(flow.Signup)
	if !ok || !s.ReadyToCreate() || c.flow.Outcome != flow.OutcomeNone {
		c.mu.Unlock()
		return
	}
	t, ok := c.begin(ctx, "create account")
	c.mu.Unlock()
	if !ok {
		return
	}

	id, err := c.accounts.Create(t.ctx, s)
	err = errors.FromContext(t.op, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(t) {
		return
	}
	if err != nil {
		c.logger.Warn("account creation failed", zap.Bool("artist", s.IsArtist), zap.Error(err))
		c.message = errors.UserMessage(err)
		return
	}
	isArtist := s.IsArtist
	c.created = &isArtist
	c.apply(flow.AccountCreated{Identity: id})
}

func (c *Coordinator) submitBackupEmail(ctx context.Context, creds auth.Credentials) {
	c.mu.Lock()
	if _, ok := c.flow.State.(flow.BackupEmailSetup); !ok || c.flow.Identity == nil {
		c.mu.Unlock()
		return
	}
	id := *c.flow.Identity
	t, ok := c.begin(ctx, "link backup email")
	c.mu.Unlock()
	if !ok {
		return
	}

	session, err := c.accounts.LinkBackup(t.ctx, creds, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(t) {
		return
	}
	switch {
	case errors.KindOf(err) == errors.KindValidation:
		c.message = errors.UserMessage(err)
		return
	case err != nil:
		c.logger.Warn("backup email not linked", zap.String("key", id.KeyID.Short()), zap.Error(err))
		c.warning = "We couldn't link your backup email. You can add it later from your settings."
		session = nil
	}
	c.apply(flow.BackupEmailDone{Legacy: session})
}

func (c *Coordinator) completeWelcome(ctx context.Context) {
	c.mu.Lock()
	if _, ok := c.flow.State.(flow.Welcome); !ok || c.flow.Identity == nil {
		c.mu.Unlock()
		return
	}
	id := *c.flow.Identity
	probe, created := c.probe, c.created
	t, ok := c.begin(ctx, "complete welcome")
	c.mu.Unlock()
	if !ok {
		return
	}

	settings, err := c.resolveSettings(t.ctx, id, probe, created)
	var session *auth.AppSession
	if err == nil {
		session, err = c.sessions.Open(t.ctx, id, settings.IsCreator)
	}
	err = errors.FromContext(t.op, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(t) {
		return
	}
	if err != nil {
		c.fail(t.op, err)
		if created == nil {
			c.ensureProbe(id.KeyID)
		}
		return
	}

	c.session = session
	c.destination = c.destinations.General
	if settings.IsCreator {
		c.destination = c.destinations.Creator
	}
	outcome := c.flow.Outcome
	c.apply(flow.Complete{})
	metrics.FlowCompletions.WithLabelValues(string(outcome)).Inc()
	c.logger.Info("flow completed",
		zap.String("key", id.KeyID.Short()),
		zap.String("outcome", string(outcome)),
		zap.Bool("creator", settings.IsCreator),
	)
}

// resolveSettings decides the creator designation and makes sure it is
// persisted. It never guesses while the legacy artist lookup is pending.
func (c *Coordinator) resolveSettings(ctx context.Context, id auth.Identity, probe *signin.Probe, created *bool) (auth.Settings, error) {
	existing, err := c.settings.Settings(ctx, id.KeyID)
	if err != nil {
		return auth.Settings{}, err
	}
	var d signin.Designation
	switch {
	case existing != nil:
		return *existing, nil
	case created != nil:
		d = signin.FromSignup(*created)
	case probe == nil || probe.KeyID() != id.KeyID:
		return auth.Settings{}, errors.NewCheckingSettingsError()
	default:
		artists, err := probe.Result()
		if err != nil {
			return auth.Settings{}, err
		}
		d = signin.ResolveDesignation(nil, artists)
	}
	return c.settings.EnsureSettings(ctx, id.KeyID, nil, d)
}

// ensureProbe must be called with c.mu held. It starts the legacy artist
// lookup for keyID unless one is already running or has succeeded.
func (c *Coordinator) ensureProbe(keyID auth.KeyID) {
	if c.closed || c.settings == nil {
		return
	}
	if p := c.probe; p != nil && p.KeyID() == keyID {
		if _, err := p.Result(); err == nil || p.Pending() {
			return
		}
	}
	if c.probe != nil {
		c.probe.Cancel()
	}
	p := c.settings.StartProbe(c.ctx, keyID)
	c.probe = p
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		select {
		case <-p.Done():
			c.publish()
		case <-c.ctx.Done():
		}
	}()
}

func (c *Coordinator) publish() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	c.version++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
