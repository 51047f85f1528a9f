package counting

import (
	"context"
	"time"
)

// ForceReleaseEvent describes an administrative session release so the
// displaced counter can be told their session is gone.
type ForceReleaseEvent struct {
	SessionID   int64
	AgreementID int64
	OwnerID     int64
	ActorID     int64
	At          time.Time
}

// NotifierPort receives force-release events. Delivery is the collaborator's
// concern; failures are logged, never propagated.
type NotifierPort interface {
	SessionForceReleased(ctx context.Context, evt ForceReleaseEvent) error
}
