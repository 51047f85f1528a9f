package counting

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andino-erp/andino-erp/internal/shared"
)

type memorySessionRepo struct {
	sessions map[int64]Session
	lines    map[int64]map[int64]Line
	nextID   int64
}

type memorySessionTx struct {
	repo *memorySessionRepo
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{
		sessions: make(map[int64]Session),
		lines:    make(map[int64]map[int64]Line),
	}
}

func (r *memorySessionRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memorySessionTx{repo: r})
}

func (r *memorySessionRepo) GetSession(ctx context.Context, id int64) (Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *memorySessionRepo) SessionByUser(ctx context.Context, userID int64) (Session, error) {
	for _, s := range r.sessions {
		if s.UserID == userID {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

func (r *memorySessionRepo) GetLines(ctx context.Context, sessionID int64) ([]Line, error) {
	var out []Line
	for _, l := range r.lines[sessionID] {
		out = append(out, l)
	}
	return out, nil
}

func (t *memorySessionTx) SessionByAgreement(ctx context.Context, agreementID int64) (Session, error) {
	for _, s := range t.repo.sessions {
		if s.AgreementID == agreementID {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

func (t *memorySessionTx) SessionByUser(ctx context.Context, userID int64) (Session, error) {
	return t.repo.SessionByUser(ctx, userID)
}

func (t *memorySessionTx) InsertSession(ctx context.Context, s Session) (int64, error) {
	for _, existing := range t.repo.sessions {
		if existing.AgreementID == s.AgreementID || existing.UserID == s.UserID {
			return 0, errSessionExists
		}
	}
	t.repo.nextID++
	s.ID = t.repo.nextID
	t.repo.sessions[s.ID] = s
	return s.ID, nil
}

func (t *memorySessionTx) UpsertLine(ctx context.Context, line Line) error {
	if _, ok := t.repo.sessions[line.SessionID]; !ok {
		return ErrNotFound
	}
	if t.repo.lines[line.SessionID] == nil {
		t.repo.lines[line.SessionID] = make(map[int64]Line)
	}
	t.repo.lines[line.SessionID][line.ProductID] = line
	return nil
}

func (t *memorySessionTx) DeleteSession(ctx context.Context, sessionID int64) error {
	if _, ok := t.repo.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(t.repo.sessions, sessionID)
	delete(t.repo.lines, sessionID)
	return nil
}

type staticDirectory struct {
	names map[int64]string
}

func (d *staticDirectory) UserName(ctx context.Context, userID int64) (string, error) {
	name, ok := d.names[userID]
	if !ok {
		return "", errors.New("unknown user")
	}
	return name, nil
}

type captureAudit struct {
	logs []shared.AuditLog
}

func (a *captureAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type captureNotifier struct {
	events []ForceReleaseEvent
}

func (n *captureNotifier) SessionForceReleased(ctx context.Context, evt ForceReleaseEvent) error {
	n.events = append(n.events, evt)
	return nil
}

func newTestService(repo *memorySessionRepo) *Service {
	dir := &staticDirectory{names: map[int64]string{1: "Marta Reyes", 2: "Diego Soto"}}
	return NewService(repo, dir, nil, nil, nil)
}

func TestAcquireCreatesSession(t *testing.T) {
	repo := newMemorySessionRepo()
	svc := newTestService(repo)

	got, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)
	require.NotZero(t, got.Session.ID)
	require.Equal(t, int64(10), got.Session.AgreementID)
	require.Equal(t, int64(1), got.Session.UserID)
	require.Empty(t, got.Lines)
}

func TestAcquireContentionNamesHolder(t *testing.T) {
	repo := newMemorySessionRepo()
	svc := newTestService(repo)

	_, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)

	_, err = svc.AcquireOrResume(context.Background(), 10, 2)
	require.ErrorIs(t, err, ErrLocked)

	var lockErr *LockedError
	require.ErrorAs(t, err, &lockErr)
	require.Equal(t, int64(1), lockErr.HolderID)
	require.Equal(t, "Marta Reyes", lockErr.HolderName)
	require.Contains(t, err.Error(), "Marta Reyes")
}

func TestAcquireResumesOwnSession(t *testing.T) {
	repo := newMemorySessionRepo()
	svc := newTestService(repo)

	first, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)
	require.NoError(t, svc.RecordCount(context.Background(), first.Session.ID, 1, 100, 7))

	second, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)
	require.Equal(t, first.Session.ID, second.Session.ID)
	require.Len(t, second.Lines, 1)
	require.Equal(t, float64(7), second.Lines[0].Qty)
	require.Len(t, repo.sessions, 1)
}

// racingSessionRepo simulates losing the insert race: the in-tx existence
// checks see no session, the insert hits the unique index, and the re-read
// surfaces the row the concurrent transaction committed.
type racingSessionRepo struct {
	winner Session
}

type racingSessionTx struct {
	repo  *racingSessionRepo
	reads int
}

func (r *racingSessionRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &racingSessionTx{repo: r})
}

func (r *racingSessionRepo) GetSession(ctx context.Context, id int64) (Session, error) {
	return Session{}, ErrNotFound
}

func (r *racingSessionRepo) SessionByUser(ctx context.Context, userID int64) (Session, error) {
	return Session{}, ErrNotFound
}

func (r *racingSessionRepo) GetLines(ctx context.Context, sessionID int64) ([]Line, error) {
	return nil, nil
}

func (t *racingSessionTx) SessionByAgreement(ctx context.Context, agreementID int64) (Session, error) {
	t.reads++
	if t.reads == 1 {
		return Session{}, ErrNotFound
	}
	return t.repo.winner, nil
}

func (t *racingSessionTx) SessionByUser(ctx context.Context, userID int64) (Session, error) {
	return Session{}, ErrNotFound
}

func (t *racingSessionTx) InsertSession(ctx context.Context, s Session) (int64, error) {
	return 0, errSessionExists
}

func (t *racingSessionTx) UpsertLine(ctx context.Context, line Line) error {
	return nil
}

func (t *racingSessionTx) DeleteSession(ctx context.Context, sessionID int64) error {
	return nil
}

func TestAcquireLostInsertRaceNamesWinner(t *testing.T) {
	repo := &racingSessionRepo{
		winner: Session{ID: 5, AgreementID: 10, UserID: 2},
	}
	dir := &staticDirectory{names: map[int64]string{2: "Diego Soto"}}
	svc := NewService(repo, dir, nil, nil, nil)

	_, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.ErrorIs(t, err, ErrLocked)

	var lockErr *LockedError
	require.ErrorAs(t, err, &lockErr)
	require.Equal(t, int64(2), lockErr.HolderID)
	require.Equal(t, "Diego Soto", lockErr.HolderName)
}

func TestAcquireLostInsertRaceOwnRow(t *testing.T) {
	// The unique index on user_id can also reject the insert; the winner row
	// then belongs to the caller and the conflict is theirs to resolve.
	repo := &racingSessionRepo{
		winner: Session{ID: 5, AgreementID: 10, UserID: 1},
	}
	svc := newTestServiceWith(repo)

	_, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.ErrorIs(t, err, ErrUserBusy)
}

func newTestServiceWith(repo RepositoryPort) *Service {
	dir := &staticDirectory{names: map[int64]string{1: "Marta Reyes", 2: "Diego Soto"}}
	return NewService(repo, dir, nil, nil, nil)
}

func TestAcquireRejectsSecondAgreementPerUser(t *testing.T) {
	repo := newMemorySessionRepo()
	svc := newTestService(repo)

	_, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)

	_, err = svc.AcquireOrResume(context.Background(), 20, 1)
	require.ErrorIs(t, err, ErrUserBusy)
	require.Len(t, repo.sessions, 1)
}

func TestAcquireValidatesInput(t *testing.T) {
	svc := newTestService(newMemorySessionRepo())

	_, err := svc.AcquireOrResume(context.Background(), 0, 1)
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.AcquireOrResume(context.Background(), 10, 0)
	require.ErrorIs(t, err, ErrValidation)
}

func TestRecordCountOverwrites(t *testing.T) {
	repo := newMemorySessionRepo()
	svc := newTestService(repo)

	got, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)

	require.NoError(t, svc.RecordCount(context.Background(), got.Session.ID, 1, 100, 5))
	require.NoError(t, svc.RecordCount(context.Background(), got.Session.ID, 1, 100, 12))

	lines, err := svc.repo.GetLines(context.Background(), got.Session.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, float64(12), lines[0].Qty)
}

func TestRecordCountRejectsNonOwner(t *testing.T) {
	repo := newMemorySessionRepo()
	svc := newTestService(repo)

	got, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)

	err = svc.RecordCount(context.Background(), got.Session.ID, 2, 100, 5)
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestRecordCountRejectsNegativeQty(t *testing.T) {
	repo := newMemorySessionRepo()
	svc := newTestService(repo)

	got, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)

	err = svc.RecordCount(context.Background(), got.Session.ID, 1, 100, -1)
	require.ErrorIs(t, err, ErrValidation)
}

func TestAbandonDeletesSessionAndLines(t *testing.T) {
	repo := newMemorySessionRepo()
	svc := newTestService(repo)

	got, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)
	require.NoError(t, svc.RecordCount(context.Background(), got.Session.ID, 1, 100, 5))

	require.NoError(t, svc.Abandon(context.Background(), got.Session.ID, 1))
	require.Empty(t, repo.sessions)
	require.Empty(t, repo.lines)

	// The agreement is free again for anyone.
	_, err = svc.AcquireOrResume(context.Background(), 10, 2)
	require.NoError(t, err)
}

func TestAbandonRejectsNonOwner(t *testing.T) {
	repo := newMemorySessionRepo()
	svc := newTestService(repo)

	got, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)

	err = svc.Abandon(context.Background(), got.Session.ID, 2)
	require.ErrorIs(t, err, ErrNotOwner)
	require.Len(t, repo.sessions, 1)
}

func TestActiveForUser(t *testing.T) {
	repo := newMemorySessionRepo()
	svc := newTestService(repo)

	active, err := svc.ActiveForUser(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, active)

	got, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)
	require.NoError(t, svc.RecordCount(context.Background(), got.Session.ID, 1, 100, 3))

	active, err = svc.ActiveForUser(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, got.Session.ID, active.Session.ID)
	require.Len(t, active.Lines, 1)
}

func TestForceReleaseByAnyActor(t *testing.T) {
	repo := newMemorySessionRepo()
	audit := &captureAudit{}
	notifier := &captureNotifier{}
	dir := &staticDirectory{names: map[int64]string{1: "Marta Reyes"}}
	svc := NewService(repo, dir, audit, notifier, nil)

	got, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)
	require.NoError(t, svc.RecordCount(context.Background(), got.Session.ID, 1, 100, 5))

	require.NoError(t, svc.ForceRelease(context.Background(), got.Session.ID, 99))
	require.Empty(t, repo.sessions)
	require.Empty(t, repo.lines)

	require.Len(t, audit.logs, 1)
	require.Equal(t, "SESSION_FORCE_RELEASE", audit.logs[0].Action)
	require.Equal(t, int64(99), audit.logs[0].ActorID)

	require.Len(t, notifier.events, 1)
	require.Equal(t, int64(1), notifier.events[0].OwnerID)
	require.Equal(t, int64(99), notifier.events[0].ActorID)
}

func TestForceReleaseMissingSession(t *testing.T) {
	svc := newTestService(newMemorySessionRepo())

	err := svc.ForceRelease(context.Background(), 123, 99)
	require.ErrorIs(t, err, ErrNotFound)
}
