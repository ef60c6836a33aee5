package runloop

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/push-signer-node/signerClient/tss"
	"github.com/pushchain/push-signer-node/signerClient/tss/board"
	"github.com/pushchain/push-signer-node/signerClient/tss/engine"
	"github.com/pushchain/push-signer-node/signerClient/tss/wire"
)

// MockSigner is a mock implementation of engine.ParticipantEngine
type MockSigner struct {
	mock.Mock
	id uint32
}

func (m *MockSigner) SignerID() uint32 { return m.id }

func (m *MockSigner) ProcessInboundMessages(msgs []wire.Packet) ([]wire.Packet, error) {
	args := m.Called(msgs)
	out, _ := args.Get(0).([]wire.Packet)
	return out, args.Error(1)
}

// MockCoordinator is a mock implementation of engine.CoordinatorEngine. The
// aggregate key is plain state so tests can change it mid-round.
type MockCoordinator struct {
	mock.Mock
	key []byte
}

func (m *MockCoordinator) StartDkg() (wire.Packet, error) {
	args := m.Called()
	return args.Get(0).(wire.Packet), args.Error(1)
}

func (m *MockCoordinator) StartSigning(message []byte, isTaproot bool, merkleRoot *[32]byte) (wire.Packet, error) {
	args := m.Called(message, isTaproot, merkleRoot)
	return args.Get(0).(wire.Packet), args.Error(1)
}

func (m *MockCoordinator) ProcessInboundMessages(msgs []wire.Packet) ([]wire.Packet, []engine.OperationResult, error) {
	args := m.Called(msgs)
	out, _ := args.Get(0).([]wire.Packet)
	res, _ := args.Get(1).([]engine.OperationResult)
	return out, res, args.Error(2)
}

func (m *MockCoordinator) AggregatePublicKey() []byte { return m.key }

func (m *MockCoordinator) SetAggregatePublicKey(key []byte) { m.key = key }

func (m *MockCoordinator) Reset() { m.Called() }

// MockBoard is a mock implementation of Sender
type MockBoard struct {
	mock.Mock
}

func (m *MockBoard) SendMessage(ctx context.Context, signerID uint32, pkt wire.Packet) (board.Ack, error) {
	args := m.Called(ctx, signerID, pkt)
	return args.Get(0).(board.Ack), args.Error(1)
}

// MockLedger is a mock implementation of KeyFetcher
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) GetAggregatePublicKey(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	key, _ := args.Get(0).([]byte)
	return key, args.Error(1)
}

// MockVotes is a mock implementation of VoteEnsurer
type MockVotes struct {
	mock.Mock
}

func (m *MockVotes) Ensure(ctx context.Context, key []byte) error {
	return m.Called(ctx, key).Error(0)
}

type fakeRecorder struct {
	queued    []string
	attempted map[string]int
	started   map[string]int
	completed map[string][]engine.OperationResult
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		attempted: map[string]int{},
		started:   map[string]int{},
		completed: map[string][]engine.OperationResult{},
	}
}

func (f *fakeRecorder) RoundQueued(id string, _ Command)     { f.queued = append(f.queued, id) }
func (f *fakeRecorder) RoundAttempted(id string, n int)      { f.attempted[id] = n }
func (f *fakeRecorder) RoundStarted(id string, attempts int) { f.started[id] = attempts }
func (f *fakeRecorder) RoundCompleted(id string, res []engine.OperationResult) {
	f.completed[id] = res
}

type fixture struct {
	privs    []*secp256k1.PrivateKey
	keys     *tss.PublicKeys
	groupKey []byte

	signer   *MockSigner
	coord    *MockCoordinator
	board    *MockBoard
	ledger   *MockLedger
	votes    *MockVotes
	recorder *fakeRecorder
}

func newFixture(t *testing.T, signerID uint32, groupKey []byte) *fixture {
	t.Helper()
	f := &fixture{groupKey: groupKey}
	hexKeys := map[uint32]string{}
	keyIDs := map[uint32][]uint32{}
	for i := uint32(0); i < 3; i++ {
		priv, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)
		f.privs = append(f.privs, priv)
		hexKeys[i] = hex.EncodeToString(priv.PubKey().SerializeCompressed())
		keyIDs[i] = []uint32{i + 1}
	}
	keys, err := tss.ParsePublicKeys(hexKeys, keyIDs)
	require.NoError(t, err)
	f.keys = keys

	f.signer = &MockSigner{id: signerID}
	f.coord = &MockCoordinator{}
	f.board = &MockBoard{}
	f.board.On("SendMessage", mock.Anything, signerID, mock.Anything).Return(board.Ack{Accepted: true}, nil).Maybe()
	f.ledger = &MockLedger{}
	f.ledger.On("GetAggregatePublicKey", mock.Anything).Return(groupKey, nil).Maybe()
	f.votes = &MockVotes{}
	f.recorder = newFakeRecorder()
	return f
}

func (f *fixture) config() Config {
	return Config{
		Keys:           f.keys,
		Signer:         f.signer,
		Coordinator:    f.coord,
		Board:          f.board,
		Ledger:         f.ledger,
		Votes:          f.votes,
		Recorder:       f.recorder,
		StartRetryBase: time.Millisecond,
		StartRetryMax:  time.Millisecond,
		Logger:         zerolog.Nop(),
	}
}

func (f *fixture) runLoop(t *testing.T, opts ...func(*Config)) *RunLoop {
	t.Helper()
	cfg := f.config()
	for _, opt := range opts {
		opt(&cfg)
	}
	r, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return r
}

// chunk signs msg with signer by's key and encodes it as a board write.
func (f *fixture) chunk(t *testing.T, msg wire.Message, by int) board.Chunk {
	t.Helper()
	pkt, err := wire.SignPacket(msg, f.privs[by])
	require.NoError(t, err)
	data, err := pkt.Encode()
	require.NoError(t, err)
	return board.Chunk{SlotID: uint32(by), Version: 1, Data: data}
}

func kinds(pkts []wire.Packet) []wire.Kind {
	out := make([]wire.Kind, len(pkts))
	for i, p := range pkts {
		out[i] = p.Msg.Kind()
	}
	return out
}

func startPacket() wire.Packet {
	return wire.Packet{Msg: &wire.DkgBegin{DkgID: 1}, Sig: []byte{1}}
}

func TestNewStartupErrors(t *testing.T) {
	t.Run("ledger unavailable", func(t *testing.T) {
		f := newFixture(t, 0, nil)
		f.ledger = &MockLedger{}
		f.ledger.On("GetAggregatePublicKey", mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := New(context.Background(), f.config())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStartup)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("no coordinator key", func(t *testing.T) {
		f := newFixture(t, 1, nil)
		delete(f.keys.Signers, 0)
		_, err := New(context.Background(), f.config())
		assert.ErrorIs(t, err, ErrStartup)
	})

	t.Run("missing engine", func(t *testing.T) {
		f := newFixture(t, 1, nil)
		cfg := f.config()
		cfg.Coordinator = nil
		_, err := New(context.Background(), cfg)
		assert.ErrorIs(t, err, ErrStartup)
	})
}

func TestNewLoadsAggregateKey(t *testing.T) {
	key := []byte{0x02, 0x09}
	f := newFixture(t, 1, key)
	r := f.runLoop(t)

	assert.Equal(t, key, f.coord.key)
	assert.Equal(t, hex.EncodeToString(key), r.Status().AggregatePublicKey)
	assert.Equal(t, "idle", r.Status().State)
}

func TestEventTimeout(t *testing.T) {
	f := newFixture(t, 1, nil)
	r := f.runLoop(t, func(c *Config) { c.EventTimeout = 3 * time.Second })
	assert.Equal(t, 3*time.Second, r.EventTimeout())

	r.SetEventTimeout(time.Second)
	assert.Equal(t, time.Second, r.EventTimeout())
	assert.Equal(t, time.Second, r.Status().EventTimeout)
}

func TestInvalidSignaturesNeverReachEngines(t *testing.T) {
	f := newFixture(t, 0, []byte{1})
	f.votes.On("Ensure", mock.Anything, mock.Anything).Return(nil).Maybe()
	r := f.runLoop(t)

	event := &board.Event{ModifiedSlots: []board.Chunk{
		f.chunk(t, &wire.DkgBegin{DkgID: 1}, 2),               // coordinator kind, wrong key
		f.chunk(t, &wire.NonceResponse{SignerID: 1}, 2),       // claims 1, signed by 2
		f.chunk(t, &wire.DkgEnd{SignerID: 9}, 1),              // unknown signer
		{SlotID: 1, Version: 2, Data: []byte("not a packet")}, // undecodable
	}}

	out, res := r.processEvent(event)
	assert.Empty(t, out)
	assert.Empty(t, res)

	results := make(chan []engine.OperationResult, 1)
	r.RunOnePass(context.Background(), event, nil, results)
	assert.Equal(t, StateIdle, r.state)
	assert.Empty(t, results)
	f.signer.AssertNotCalled(t, "ProcessInboundMessages", mock.Anything)
	f.coord.AssertNotCalled(t, "ProcessInboundMessages", mock.Anything)
	f.board.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestMixedBatchIsFilteredBeforeEngines(t *testing.T) {
	onlyDkgBegin := mock.MatchedBy(func(pkts []wire.Packet) bool {
		return assert.ObjectsAreEqual([]wire.Kind{wire.KindDkgBegin}, kinds(pkts))
	})

	for _, tc := range []struct {
		name          string
		signerID      uint32
		isCoordinator bool
	}{
		{name: "coordinator", signerID: 0, isCoordinator: true},
		{name: "participant", signerID: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.signerID, []byte{1})
			f.votes.On("Ensure", mock.Anything, mock.Anything).Return(nil).Maybe()
			publicShares := wire.Packet{Msg: &wire.DkgPublicShares{DkgID: 1, SignerID: tc.signerID}}
			privateBegin := wire.Packet{Msg: &wire.DkgPrivateBegin{DkgID: 1}}
			f.signer.On("ProcessInboundMessages", onlyDkgBegin).Return([]wire.Packet{publicShares}, nil).Once()
			if tc.isCoordinator {
				f.coord.On("ProcessInboundMessages", onlyDkgBegin).Return([]wire.Packet{privateBegin}, nil, nil).Once()
			}
			r := f.runLoop(t)

			out, res := r.processEvent(&board.Event{ModifiedSlots: []board.Chunk{
				f.chunk(t, &wire.DkgBegin{DkgID: 1}, 0),
				f.chunk(t, &wire.NonceResponse{SignerID: 1}, 2),
			}})

			assert.Empty(t, res)
			if tc.isCoordinator {
				assert.Equal(t, []wire.Kind{wire.KindDkgPublicShares, wire.KindDkgPrivateBegin}, kinds(out))
			} else {
				assert.Equal(t, []wire.Kind{wire.KindDkgPublicShares}, kinds(out))
				f.coord.AssertNotCalled(t, "ProcessInboundMessages", mock.Anything)
			}
			f.signer.AssertExpectations(t)
			f.coord.AssertExpectations(t)
		})
	}
}

func TestEngineFailuresAreAbsorbed(t *testing.T) {
	f := newFixture(t, 0, []byte{1})
	f.votes.On("Ensure", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.signer.On("ProcessInboundMessages", mock.Anything).Return(nil, errors.New("bad state"))
	f.coord.On("ProcessInboundMessages", mock.Anything).
		Return([]wire.Packet{startPacket()}, nil, nil)
	r := f.runLoop(t)

	out, _ := r.processEvent(&board.Event{ModifiedSlots: []board.Chunk{f.chunk(t, &wire.DkgBegin{DkgID: 1}, 0)}})
	assert.Equal(t, []wire.Kind{wire.KindDkgBegin}, kinds(out), "coordinator output survives a participant failure")

	f2 := newFixture(t, 0, []byte{1})
	f2.signer.On("ProcessInboundMessages", mock.Anything).Return(nil, nil)
	f2.coord.On("ProcessInboundMessages", mock.Anything).Return(nil, nil, errors.New("boom"))
	r2 := f2.runLoop(t)
	out, res := r2.processEvent(&board.Event{ModifiedSlots: []board.Chunk{f2.chunk(t, &wire.DkgBegin{DkgID: 1}, 0)}})
	assert.Empty(t, out)
	assert.Empty(t, res)
}

func TestSignWaitsForRunningDkg(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, nil)
	f.coord.On("StartDkg").Return(startPacket(), nil).Once()
	r := f.runLoop(t)

	r.RunOnePass(ctx, nil, DkgCommand{}, nil)
	require.Equal(t, StateDkg, r.state)

	r.RunOnePass(ctx, nil, SignCommand{Message: []byte("msg")}, nil)
	assert.Equal(t, StateDkg, r.state)
	assert.Equal(t, 1, r.commands.len())

	// Passes without results keep waiting.
	r.RunOnePass(ctx, &board.Event{}, nil, nil)
	r.RunOnePass(ctx, nil, nil, nil)
	assert.Equal(t, 1, r.commands.len())
	f.coord.AssertNotCalled(t, "StartSigning", mock.Anything, mock.Anything, mock.Anything)
	f.coord.AssertNumberOfCalls(t, "StartDkg", 1)
}

func TestResultsReturnNodeToIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, nil)
	f.coord.On("StartDkg").Return(startPacket(), nil).Once()
	dkgResult := []engine.OperationResult{{Kind: tss.ProtocolDkg, DkgID: 1, GroupKey: []byte{2}}}
	f.signer.On("ProcessInboundMessages", mock.Anything).Return(nil, nil)
	f.coord.On("ProcessInboundMessages", mock.Anything).Return(nil, dkgResult, nil).Once().
		Run(func(mock.Arguments) { f.coord.key = dkgResult[0].GroupKey })
	f.votes.On("Ensure", mock.Anything, dkgResult[0].GroupKey).Return(nil).Maybe()
	sign := SignCommand{Message: []byte("after dkg"), IsTaproot: true}
	f.coord.On("StartSigning", sign.Message, true, (*[32]byte)(nil)).
		Return(wire.Packet{Msg: &wire.NonceRequest{SignID: 1}}, nil).Once()
	r := f.runLoop(t)
	results := make(chan []engine.OperationResult, 1)

	// No group key and coordinator: the DKG is queued and started locally.
	r.RunOnePass(ctx, nil, nil, results)
	require.Equal(t, StateDkg, r.state)
	dkgRound := r.current
	require.NotEmpty(t, dkgRound)

	r.RunOnePass(ctx, nil, sign, results)
	require.Equal(t, 1, r.commands.len())

	event := &board.Event{ModifiedSlots: []board.Chunk{f.chunk(t, &wire.DkgEnd{DkgID: 1, SignerID: 1}, 1)}}
	r.RunOnePass(ctx, event, nil, results)

	select {
	case got := <-results:
		assert.Equal(t, dkgResult, got)
	default:
		t.Fatal("expected results on the channel")
	}
	assert.Equal(t, StateSign, r.state, "the queued sign starts once idle")
	assert.Zero(t, r.commands.len(), "no second DKG once the group key exists")
	assert.Equal(t, dkgResult, f.recorder.completed[dkgRound])
	assert.Equal(t, 1, f.recorder.started[dkgRound])
	assert.Len(t, f.recorder.queued, 2)
}

func TestStartRetriesUntilSuccess(t *testing.T) {
	const failures = 3
	f := newFixture(t, 1, nil)
	f.coord.On("StartDkg").Return(wire.Packet{}, errors.New("not ready")).Times(failures)
	f.coord.On("StartDkg").Return(startPacket(), nil).Once()
	f.coord.On("Reset").Return()
	r := f.runLoop(t)

	r.RunOnePass(context.Background(), nil, DkgCommand{}, nil)

	f.coord.AssertNumberOfCalls(t, "StartDkg", failures+1)
	f.coord.AssertNumberOfCalls(t, "Reset", failures)
	assert.Equal(t, StateDkg, r.state)
	assert.Zero(t, r.commands.len())
	assert.Nil(t, r.Status().Stuck)
	for id, attempts := range f.recorder.started {
		assert.Equal(t, failures+1, attempts, id)
	}
}

func TestBoundedStartRetryReportsStuck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, nil)
	f.coord.On("StartDkg").Return(wire.Packet{}, errors.New("not ready")).Times(3)
	f.coord.On("StartDkg").Return(startPacket(), nil).Once()
	f.coord.On("Reset").Return()
	r := f.runLoop(t, func(c *Config) { c.MaxStartAttempts = 2 })

	r.RunOnePass(ctx, nil, DkgCommand{}, nil)
	f.coord.AssertNumberOfCalls(t, "StartDkg", 2)
	assert.Equal(t, StateIdle, r.state)
	require.Equal(t, 1, r.commands.len(), "the command stays queued")
	stuck := r.Status().Stuck
	require.NotNil(t, stuck)
	assert.Equal(t, 2, stuck.Attempts)
	assert.Equal(t, "not ready", stuck.LastError)
	assert.Equal(t, 2, f.recorder.attempted[stuck.RoundID])

	// An operator command behind it waits its turn.
	sign := SignCommand{Message: []byte("later")}
	r.RunOnePass(ctx, nil, sign, nil)
	f.coord.AssertNumberOfCalls(t, "StartDkg", 4)
	f.coord.AssertNotCalled(t, "StartSigning", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, StateDkg, r.state)
	assert.Nil(t, r.Status().Stuck)
	assert.Equal(t, 4, f.recorder.started[stuck.RoundID])

	front, ok := r.commands.front()
	require.True(t, ok)
	assert.True(t, CommandsEqual(sign, front.cmd))
}

func TestCancelledRetryKeepsCommand(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.coord.On("StartDkg").Return(wire.Packet{}, errors.New("not ready"))
	f.coord.On("Reset").Return()
	r := f.runLoop(t, func(c *Config) { c.StartRetryBase = 5 * time.Millisecond })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	r.RunOnePass(ctx, nil, DkgCommand{}, nil)

	assert.Equal(t, 1, r.commands.len())
	assert.Equal(t, StateIdle, r.state)
	assert.NotNil(t, r.Status().Stuck)
}

func TestDkgIsNotQueuedTwice(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.coord.On("StartDkg").Return(wire.Packet{}, errors.New("signers offline"))
	f.coord.On("Reset").Return()
	r := f.runLoop(t, func(c *Config) { c.MaxStartAttempts = 1 })

	assert.True(t, r.shouldRunDkg(context.Background()))
	for i := 0; i < 3; i++ {
		r.RunOnePass(context.Background(), nil, nil, nil)
		assert.Equal(t, 1, r.commands.len())
		assert.False(t, r.shouldRunDkg(context.Background()), "a DKG is already at the front")
	}
	assert.Len(t, f.recorder.queued, 1)
}

func TestShouldRunDkg(t *testing.T) {
	ctx := context.Background()

	t.Run("participant never triggers", func(t *testing.T) {
		r := newFixture(t, 2, nil).runLoop(t)
		assert.False(t, r.shouldRunDkg(ctx))
	})

	t.Run("not while a round runs", func(t *testing.T) {
		r := newFixture(t, 0, nil).runLoop(t)
		r.state = StateSign
		assert.False(t, r.shouldRunDkg(ctx))
	})

	t.Run("a sign at the front does not block", func(t *testing.T) {
		r := newFixture(t, 0, nil).runLoop(t)
		r.commands.pushBack(&queued{id: "s", cmd: SignCommand{Message: []byte{1}}})
		assert.True(t, r.shouldRunDkg(ctx))
	})

	t.Run("group key triggers the vote instead", func(t *testing.T) {
		key := []byte{0x03, 0x01}
		f := newFixture(t, 0, key)
		f.votes.On("Ensure", ctx, key).Return(errors.New("ledger down")).Once()
		f.votes.On("Ensure", ctx, key).Return(nil).Once()
		r := f.runLoop(t)

		assert.False(t, r.shouldRunDkg(ctx))
		assert.False(t, r.shouldRunDkg(ctx))
		f.votes.AssertNumberOfCalls(t, "Ensure", 2)
	})

	t.Run("participant with group key does not vote", func(t *testing.T) {
		f := newFixture(t, 1, []byte{1})
		r := f.runLoop(t)
		assert.False(t, r.shouldRunDkg(ctx))
		f.votes.AssertNotCalled(t, "Ensure", mock.Anything, mock.Anything)
	})
}

func TestSendFailureDoesNotStopPass(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.board = &MockBoard{}
	f.board.On("SendMessage", mock.Anything, uint32(1), mock.Anything).Return(board.Ack{}, errors.New("board unreachable"))
	f.coord.On("StartDkg").Return(startPacket(), nil).Once()
	r := f.runLoop(t)

	r.RunOnePass(context.Background(), nil, DkgCommand{}, nil)
	assert.Equal(t, StateDkg, r.state)
	f.board.AssertNumberOfCalls(t, "SendMessage", 1)
}

func TestRestoreKeepsRoundID(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.coord.On("StartDkg").Return(startPacket(), nil).Once()
	r := f.runLoop(t)

	r.Restore("round-from-disk", DkgCommand{})
	assert.Equal(t, 1, r.Status().PendingCommands)
	r.RunOnePass(context.Background(), nil, nil, nil)

	assert.Equal(t, "round-from-disk", r.Status().CurrentRound)
	assert.Empty(t, f.recorder.queued)
	assert.Equal(t, 1, f.recorder.started["round-from-disk"])
}
