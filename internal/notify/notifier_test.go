package notify

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/andino-erp/andino-erp/internal/boleta"
	"github.com/andino-erp/andino-erp/internal/counting"
	"github.com/andino-erp/andino-erp/jobs"
)

type captureMail struct {
	sent []jobs.SendEmailPayload
}

func (m *captureMail) EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error) {
	m.sent = append(m.sent, payload)
	return &asynq.TaskInfo{}, nil
}

type staticEmails struct {
	emails map[int64]string
}

func (s *staticEmails) UserEmail(ctx context.Context, userID int64) (string, error) {
	email, ok := s.emails[userID]
	if !ok {
		return "", counting.ErrNotFound
	}
	return email, nil
}

func newTestNotifier(mail *captureMail) *Notifier {
	dir := &staticEmails{emails: map[int64]string{7: "marta@andino.local"}}
	return NewNotifier(mail, dir, "aprobaciones@andino.local", nil)
}

func TestPendingGoesToApproverInbox(t *testing.T) {
	mail := &captureMail{}
	n := newTestNotifier(mail)

	err := n.DocumentStatusChanged(context.Background(), boleta.StatusChangedEvent{
		Code: "ACME-0001", Status: boleta.StatusPending, CreatedBy: 7,
	})
	require.NoError(t, err)
	require.Len(t, mail.sent, 1)
	require.Equal(t, "aprobaciones@andino.local", mail.sent[0].To)
	require.Contains(t, mail.sent[0].Subject, "ACME-0001")
}

func TestApprovedGoesToCreator(t *testing.T) {
	mail := &captureMail{}
	n := newTestNotifier(mail)

	err := n.DocumentStatusChanged(context.Background(), boleta.StatusChangedEvent{
		Code: "ACME-0001", Status: boleta.StatusApproved, CreatedBy: 7,
	})
	require.NoError(t, err)
	require.Len(t, mail.sent, 1)
	require.Equal(t, "marta@andino.local", mail.sent[0].To)
}

func TestIntermediateStatusesStaySilent(t *testing.T) {
	mail := &captureMail{}
	n := newTestNotifier(mail)

	for _, status := range []boleta.Status{boleta.StatusReview, boleta.StatusSent, boleta.StatusCanceled} {
		err := n.DocumentStatusChanged(context.Background(), boleta.StatusChangedEvent{
			Code: "ACME-0001", Status: status, CreatedBy: 7,
		})
		require.NoError(t, err)
	}
	require.Empty(t, mail.sent)
}

func TestForceReleaseMailsOwner(t *testing.T) {
	mail := &captureMail{}
	n := newTestNotifier(mail)

	err := n.SessionForceReleased(context.Background(), counting.ForceReleaseEvent{
		SessionID: 3, AgreementID: 10, OwnerID: 7, ActorID: 99,
	})
	require.NoError(t, err)
	require.Len(t, mail.sent, 1)
	require.Equal(t, "marta@andino.local", mail.sent[0].To)
}

func TestUnknownOwnerEmailFails(t *testing.T) {
	mail := &captureMail{}
	n := newTestNotifier(mail)

	err := n.SessionForceReleased(context.Background(), counting.ForceReleaseEvent{
		SessionID: 3, AgreementID: 10, OwnerID: 404, ActorID: 99,
	})
	require.Error(t, err)
	require.Empty(t, mail.sent)
}
