package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auth-flow-server/internal/domain/auth"
)

type fakeSession struct {
	id string
}

func (s *fakeSession) ID() string                              { return s.id }
func (s *fakeSession) Email() string                           { return s.id + "@example.com" }
func (s *fakeSession) Token(ctx context.Context) (string, error) { return "token-" + s.id, nil }

var (
	keyA = auth.KeyID(strings.Repeat("a", 64))
	keyB = auth.KeyID(strings.Repeat("b", 64))
)

func identity(k auth.KeyID) auth.Identity {
	return auth.Identity{KeyID: k, SessionHandle: "handle"}
}

func sampleFlows(sess auth.LegacySession) []Flow {
	connected := identity(keyA)
	established := identity(keyA)
	return []Flow{
		New(nil),
		New(KeyIdentityAuth{}),
		New(KeyIdentityAuth{Connected: &connected}),
		New(LegacyAuth{Mode: LegacySignIn}),
		New(LegacyAuth{Mode: LegacySignUp, FromKeyIdentity: true}),
		New(AccountDiscovery{Session: sess, Discovered: []auth.KeyID{keyA}, Loaded: true}),
		New(AccountLinking{Session: sess, Selected: keyA}),
		New(Signup{Stage: StageUserType}),
		New(Signup{Stage: StageUserType, UserTypeChosen: true}),
		New(Signup{Stage: StageArtistType, UserTypeChosen: true, IsArtist: true, Kind: ArtistKindSolo}),
		{State: ProfileSetup{IsArtist: true}, Outcome: OutcomeKeyIdentity, Identity: &established},
		{State: BackupEmailSetup{}, Outcome: OutcomeKeyIdentity, Identity: &established},
		{State: Welcome{}, Outcome: OutcomeKeyIdentity, Identity: &established},
		{State: Completed{Identity: established}, Outcome: OutcomeKeyIdentity, Identity: &established},
		New(Error{Reason: "boom", Previous: Welcome{}}),
	}
}

func sampleEvents(sess auth.LegacySession) []Event {
	return []Event{
		SelectMethod{Method: MethodLegacySignIn},
		KeyIdentityConnected{Identity: identity(keyB)},
		ContinueWithKeyIdentity{},
		StartLegacyMigration{},
		SwitchLegacyMode{Mode: LegacySignUp},
		LegacyAuthenticated{Session: sess},
		DiscoveryLoaded{Accounts: []auth.LinkedAccount{{KeyID: keyB}}},
		SelectKeyIdentity{KeyID: keyA},
		KeyIdentityGenerated{KeyID: keyB},
		UseDifferentIdentity{},
		AccountLinked{Identity: identity(keyA)},
		SelectUserType{Artist: true},
		SelectArtistType{Solo: false},
		AccountCreated{Identity: identity(keyB)},
		ProfileSaved{},
		BackupEmailDone{},
		SkipBackupEmail{},
		Complete{},
		Fail{Reason: "network"},
		Retry{},
		GoBack{},
	}
}

// handled lists the only (step, event) pairs that may change a flow.
var handled = map[Step]map[EventType]bool{
	StepMethodSelection: {EventSelectMethod: true, EventFail: true},
	StepKeyIdentityAuth: {EventKeyIdentityConnected: true, EventContinueWithKeyIdentity: true,
		EventStartLegacyMigration: true, EventGoBack: true, EventFail: true},
	StepLegacyAuth: {EventSwitchLegacyMode: true, EventLegacyAuthenticated: true,
		EventGoBack: true, EventFail: true},
	StepAccountDiscovery: {EventDiscoveryLoaded: true, EventSelectKeyIdentity: true,
		EventKeyIdentityGenerated: true, EventUseDifferentIdentity: true, EventGoBack: true, EventFail: true},
	StepAccountLinking: {EventAccountLinked: true, EventUseDifferentIdentity: true,
		EventGoBack: true, EventFail: true},
	StepSignupUserType: {EventSelectUserType: true, EventAccountCreated: true,
		EventGoBack: true, EventFail: true},
	StepSignupArtistType: {EventSelectArtistType: true, EventAccountCreated: true,
		EventGoBack: true, EventFail: true},
	StepProfileSetup:     {EventProfileSaved: true, EventFail: true},
	StepBackupEmailSetup: {EventBackupEmailDone: true, EventSkipBackupEmail: true, EventGoBack: true, EventFail: true},
	StepWelcome:          {EventComplete: true, EventFail: true},
	StepCompleted:        {EventFail: true},
	StepError:            {EventRetry: true, EventGoBack: true},
}

func TestReduceIsNoOpForUnhandledPairs(t *testing.T) {
	sess := &fakeSession{id: "legacy-1"}
	for _, f := range sampleFlows(sess) {
		for _, e := range sampleEvents(sess) {
			step := f.State.Step()
			var next Flow
			require.NotPanics(t, func() { next = Reduce(f, e) }, "%s + %s", step, e.Type())
			if !handled[step][e.Type()] {
				assert.Equal(t, f, next, "%s + %s should be a no-op", step, e.Type())
			}
		}
	}
}

func TestReduceNilEventAndNilState(t *testing.T) {
	f := Reduce(Flow{}, nil)
	assert.Equal(t, MethodSelection{}, f.State)
}

func TestReduceDoesNotAliasHistory(t *testing.T) {
	base := Flow{State: LegacyAuth{Mode: LegacySignIn}, History: make([]Step, 1, 8)}
	base.History[0] = StepMethodSelection

	sess := &fakeSession{id: "s"}
	a := Reduce(base, LegacyAuthenticated{Session: sess})
	b := Reduce(base, Fail{Reason: "x"})
	c := Reduce(Flow{State: a.State, History: base.History}, UseDifferentIdentity{})

	assert.Equal(t, []Step{StepMethodSelection}, base.History)
	assert.Equal(t, []Step{StepMethodSelection, StepLegacyAuth}, a.History)
	assert.Equal(t, []Step{StepMethodSelection}, b.History)
	assert.Equal(t, []Step{StepMethodSelection, StepAccountDiscovery}, c.History)
}

func TestListenerSignupScenario(t *testing.T) {
	f := New(nil)
	f = Reduce(f, SelectMethod{Method: MethodSignup})
	require.Equal(t, StepSignupUserType, f.State.Step())

	f = Reduce(f, SelectUserType{Artist: false})
	require.Equal(t, StepSignupUserType, f.State.Step())
	assert.True(t, f.State.(Signup).ReadyToCreate())

	f = Reduce(f, AccountCreated{Identity: identity(keyA)})
	require.Equal(t, ProfileSetup{IsArtist: false}, f.State)
	assert.Equal(t, OutcomeKeyIdentity, f.Outcome)

	f = Reduce(f, ProfileSaved{})
	require.Equal(t, Welcome{}, f.State)

	f = Reduce(f, Complete{})
	require.Equal(t, Completed{Identity: identity(keyA)}, f.State)
	assert.Equal(t, TypeSignUp, FlowType(f))
	assert.Equal(t, []Step{
		StepMethodSelection, StepSignupUserType, StepProfileSetup, StepWelcome,
	}, f.History)
}

func TestArtistSoloSignupScenario(t *testing.T) {
	f := New(nil)
	f = Reduce(f, SelectMethod{Method: MethodSignup})
	f = Reduce(f, SelectUserType{Artist: true})
	require.Equal(t, StepSignupArtistType, f.State.Step())

	// creation before the sub-choice is ignored
	early := Reduce(f, AccountCreated{Identity: identity(keyA)})
	assert.Equal(t, f, early)

	f = Reduce(f, SelectArtistType{Solo: true})
	assert.True(t, f.State.(Signup).IsSoloArtist())

	f = Reduce(f, AccountCreated{Identity: identity(keyA)})
	require.Equal(t, ProfileSetup{IsArtist: true}, f.State)
	f = Reduce(f, ProfileSaved{})
	require.Equal(t, BackupEmailSetup{}, f.State)

	sess := &fakeSession{id: "backup"}
	f = Reduce(f, BackupEmailDone{Legacy: sess})
	require.Equal(t, Welcome{}, f.State)
	assert.Equal(t, "backup", f.Identity.LegacyID)
	assert.Equal(t, OutcomeKeyIdentity, f.Outcome)
}

func TestLegacyLinkScenario(t *testing.T) {
	sess := &fakeSession{id: "legacy-7"}
	f := New(InitialState("legacy-auth"))
	f = Reduce(f, LegacyAuthenticated{Session: sess})
	disc := f.State.(AccountDiscovery)
	assert.False(t, disc.IsNewUser)
	assert.False(t, disc.Loaded)

	f = Reduce(f, DiscoveryLoaded{Accounts: []auth.LinkedAccount{{KeyID: keyA}}})

	// key ids that were not discovered are never selectable
	assert.Equal(t, f, Reduce(f, SelectKeyIdentity{KeyID: keyB}))

	f = Reduce(f, SelectKeyIdentity{KeyID: keyA})
	require.Equal(t, AccountLinking{Session: sess, Selected: keyA}, f.State)

	// a link for another key does not complete the selection
	assert.Equal(t, f, Reduce(f, AccountLinked{Identity: identity(keyB)}))

	f = Reduce(f, AccountLinked{Identity: identity(keyA)})
	require.Equal(t, Welcome{}, f.State)
	assert.Equal(t, OutcomeLinked, f.Outcome)
	assert.Equal(t, "legacy-7", f.Identity.LegacyID)

	f = Reduce(f, Complete{})
	assert.Equal(t, StepCompleted, f.State.Step())
	assert.Equal(t, TypeLinking, FlowType(f))
}

func TestGeneratedKeyIdentityCanBeLinked(t *testing.T) {
	sess := &fakeSession{id: "legacy-new"}
	f := New(LegacyAuth{Mode: LegacySignUp})
	f = Reduce(f, LegacyAuthenticated{Session: sess})
	assert.True(t, f.State.(AccountDiscovery).IsNewUser)

	f = Reduce(f, KeyIdentityGenerated{KeyID: keyB})
	linking := f.State.(AccountLinking)
	assert.True(t, linking.Generated)
	assert.True(t, linking.IsNewUser)
	assert.Equal(t, keyB, linking.Selected)
}

func TestGeneratedKeyIdentityMustBeWellFormed(t *testing.T) {
	f := New(LegacyAuth{Mode: LegacySignUp})
	f = Reduce(f, LegacyAuthenticated{Session: &fakeSession{id: "legacy-new"}})

	for _, raw := range []auth.KeyID{"", "not-a-key", keyB[:63], auth.KeyID(strings.Repeat("z", 64))} {
		assert.Equal(t, f, Reduce(f, KeyIdentityGenerated{KeyID: raw}), "%q", raw)
	}

	next := Reduce(f, KeyIdentityGenerated{KeyID: auth.KeyID(strings.ToUpper(string(keyB)))})
	assert.Equal(t, keyB, next.State.(AccountLinking).Selected)
}

func TestIsNewUserIsImmutableAfterDiscovery(t *testing.T) {
	sess := &fakeSession{id: "x"}
	f := New(LegacyAuth{Mode: LegacySignIn})
	f = Reduce(f, LegacyAuthenticated{Session: sess, IsNewUser: true})
	f = Reduce(f, DiscoveryLoaded{Accounts: []auth.LinkedAccount{{KeyID: keyA}}})
	assert.True(t, f.State.(AccountDiscovery).IsNewUser)
	f = Reduce(f, SelectKeyIdentity{KeyID: keyA})
	assert.True(t, f.State.(AccountLinking).IsNewUser)
}

func TestKeyIdentityScenario(t *testing.T) {
	f := New(nil)
	f = Reduce(f, SelectMethod{Method: MethodKeyIdentity, SignerMethod: "extension"})
	assert.Equal(t, KeyIdentityAuth{Method: "extension"}, f.State)

	// continuing without a connected signer is ignored
	assert.Equal(t, f, Reduce(f, ContinueWithKeyIdentity{}))

	f = Reduce(f, KeyIdentityConnected{Identity: identity(keyA)})
	f = Reduce(f, ContinueWithKeyIdentity{})
	require.Equal(t, Welcome{}, f.State)
	assert.Equal(t, OutcomeKeyIdentity, f.Outcome)
	assert.Equal(t, TypeSignIn, FlowType(f))
}

func TestOutcomeIsEstablishedOnce(t *testing.T) {
	id := identity(keyA)
	sess := &fakeSession{id: "s"}
	f := Flow{
		State:    AccountLinking{Session: sess, Selected: keyA},
		Outcome:  OutcomeKeyIdentity,
		Identity: &id,
	}
	assert.Equal(t, f, Reduce(f, AccountLinked{Identity: id}))
}

func TestCompleteRequiresOutcome(t *testing.T) {
	f := New(Welcome{})
	assert.Equal(t, f, Reduce(f, Complete{}))
}

func TestGoBackTargets(t *testing.T) {
	sess := &fakeSession{id: "s"}
	cases := []struct {
		name string
		from State
		want State
	}{
		{"key identity", KeyIdentityAuth{Method: "remote"}, MethodSelection{}},
		{"legacy from selection", LegacyAuth{Mode: LegacySignUp}, MethodSelection{}},
		{"legacy from migration", LegacyAuth{Mode: LegacySignIn, FromKeyIdentity: true}, KeyIdentityAuth{}},
		{"discovery", AccountDiscovery{Session: sess, Loaded: true}, LegacyAuth{Mode: LegacySignIn}},
		{"discovery new user", AccountDiscovery{Session: sess, IsNewUser: true}, LegacyAuth{Mode: LegacySignUp}},
		{"linking", AccountLinking{Session: sess, Selected: keyA}, LegacyAuth{Mode: LegacySignIn}},
		{"artist type", Signup{Stage: StageArtistType, UserTypeChosen: true, IsArtist: true}, Signup{Stage: StageUserType}},
		{"user type", Signup{Stage: StageUserType}, MethodSelection{}},
		{"backup email", BackupEmailSetup{}, ProfileSetup{IsArtist: true}},
		{"error", Error{Reason: "x", Previous: LegacyAuth{Mode: LegacySignIn}}, LegacyAuth{Mode: LegacySignIn}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.True(t, CanGoBack(tc.from))
			f := Reduce(New(tc.from), GoBack{})
			assert.Equal(t, tc.want, f.State)
			assert.Empty(t, f.History)
		})
	}
}

func TestGoBackRejected(t *testing.T) {
	for _, s := range []State{MethodSelection{}, ProfileSetup{}, Welcome{}, Completed{}} {
		assert.False(t, CanGoBack(s), s.Step())
		f := New(s)
		assert.Equal(t, f, Reduce(f, GoBack{}))
	}
}

func TestErrorRestoresPreviousState(t *testing.T) {
	sess := &fakeSession{id: "s"}
	prev := AccountDiscovery{Session: sess, Discovered: []auth.KeyID{keyA}, Loaded: true}
	f := Reduce(New(prev), Fail{Reason: "network"})
	require.Equal(t, Error{Reason: "network", Previous: prev}, f.State)

	// a second failure keeps the original previous state
	assert.Equal(t, f, Reduce(f, Fail{Reason: "again"}))
	// other events are ignored while in error
	assert.Equal(t, f, Reduce(f, SelectKeyIdentity{KeyID: keyA}))

	assert.Equal(t, prev, Reduce(f, Retry{}).State)
	assert.Equal(t, prev, Reduce(f, GoBack{}).State)
	assert.Equal(t, 40, Progress(f.State))
}

func TestHistoryHasNoAdjacentDuplicates(t *testing.T) {
	f := New(nil)
	f = Reduce(f, SelectMethod{Method: MethodLegacySignIn})
	f = Reduce(f, GoBack{})
	f = Reduce(f, SelectMethod{Method: MethodLegacySignIn})
	f = Reduce(f, SwitchLegacyMode{Mode: LegacySignUp})
	assert.Equal(t, []Step{StepMethodSelection}, f.History)
}

func TestMigrationOfferPath(t *testing.T) {
	f := New(KeyIdentityAuth{})
	f = Reduce(f, KeyIdentityConnected{Identity: identity(keyA)})
	f = Reduce(f, StartLegacyMigration{})
	require.Equal(t, LegacyAuth{Mode: LegacySignIn, FromKeyIdentity: true}, f.State)
	assert.Equal(t, OutcomeNone, f.Outcome)

	f = Reduce(f, GoBack{})
	assert.Equal(t, KeyIdentityAuth{}, f.State)
}

func TestUseDifferentIdentityLeavesLegacyPath(t *testing.T) {
	sess := &fakeSession{id: "s"}
	f := New(AccountLinking{Session: sess, Selected: keyA})
	f = Reduce(f, UseDifferentIdentity{})
	assert.Equal(t, KeyIdentityAuth{}, f.State)
	assert.Equal(t, TypeSignIn, FlowType(f))
}

func TestInitialState(t *testing.T) {
	assert.Equal(t, LegacyAuth{Mode: LegacySignIn}, InitialState("legacy-auth"))
	assert.Equal(t, LegacyAuth{Mode: LegacySignUp}, InitialState("legacy-signup"))
	assert.Equal(t, KeyIdentityAuth{}, InitialState("key-identity-auth"))
	assert.Equal(t, MethodSelection{}, InitialState(""))
	assert.Equal(t, MethodSelection{}, InitialState("welcome"))
}

func TestProgressIsMonotonicAlongSignup(t *testing.T) {
	steps := []State{
		MethodSelection{}, Signup{Stage: StageUserType}, Signup{Stage: StageArtistType},
		ProfileSetup{}, BackupEmailSetup{}, Welcome{}, Completed{},
	}
	last := -1
	for _, s := range steps {
		p := Progress(s)
		assert.Greater(t, p, last, s.Step())
		last = p
	}
	assert.Equal(t, 100, last)
}

func TestMachineTransitionMatchesReduce(t *testing.T) {
	m := NewMachine(zap.NewNop())
	f := New(nil)
	e := SelectMethod{Method: MethodSignup}
	assert.Equal(t, Reduce(f, e), m.Transition(f, e))
	assert.Equal(t, f, m.Transition(f, nil))
}
