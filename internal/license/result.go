package license

import (
	"math"
	"time"

	apierrors "licensetrust/internal/errors"
)

// State is the outcome class of an engine operation.
type State string

const (
	StateUnactivated      State = "unactivated"
	StateOnline           State = "online"
	StateOfflineGrace     State = "offline_grace"
	StateGraceExpired     State = "grace_expired"
	StateRevoked          State = "revoked"
	StateExpired          State = "expired"
	StateTimeTamper       State = "time_tamper"
	StateHardwareMismatch State = "hardware_mismatch"
	StateRateLimited      State = "rate_limited"
	StateRejected         State = "rejected"
	StateTransferred      State = "transferred"
	StateTransferDenied   State = "transfer_denied"
	StateError            State = "error"
)

// Mode names the operation that produced a result.
type Mode string

const (
	ModeStartup    Mode = "startup"
	ModeBackground Mode = "background"
	ModeManual     Mode = "manual"
	ModeActivation Mode = "activation"
	ModeTransfer   Mode = "transfer"
)

// User-facing messages.
const (
	MsgLicenseValid       = "License valid"
	MsgActivated          = "License activated successfully"
	MsgRecovered          = "License restored from server"
	MsgRevoked            = "License revoked"
	MsgExpired            = "License expired"
	MsgUnableToVerify     = "Unable to verify license"
	MsgGraceExpired       = "Offline grace period expired. Connect to the internet to verify your license."
	MsgNotActivated       = "No license is activated on this machine"
	MsgHardwareMismatch   = "This license is registered to different hardware. Request a transfer to use it on this machine."
	MsgNetwork            = "Unable to reach the license server. Check your connection and try again."
	MsgTransferred        = "License transferred to this machine"
	MsgTransferDenied     = "Transfer denied: the email does not match the license owner"
	MsgKeyMismatch        = "Transfer denied: the license key does not match the activated license"
	MsgHardwareUnreadable = "Unable to read hardware identifiers of this machine"
)

// Result is what callers see from every engine operation. Collaborator
// errors never escape; Kind carries the classified failure.
type Result struct {
	Valid         bool       `json:"valid"`
	State         State      `json:"state"`
	Message       string     `json:"message"`
	Mode          Mode       `json:"mode,omitempty"`
	ExpiryHint    *time.Time `json:"expiry_hint,omitempty"`
	DaysRemaining int        `json:"days_remaining,omitempty"`
	RetryAt       *time.Time `json:"retry_at,omitempty"`
	Kind          error      `json:"-"`

	// verdict marks a result that judged the stored license itself, as
	// opposed to a failed side operation such as a denied transfer.
	verdict bool
}

// Blocked reports whether the result denies use of the application.
func (r Result) Blocked() bool { return !r.Valid }

// Err returns the classified error of a blocked result, or nil.
func (r Result) Err() error {
	if r.Valid || r.Kind == nil {
		return nil
	}
	le := apierrors.NewLicenseError(r.Kind, r.Message, nil)
	if r.RetryAt != nil {
		le.RetryAfter = time.Until(*r.RetryAt)
	}
	return le
}

func valid(state State, msg string) Result {
	return Result{Valid: true, State: state, Message: msg}
}

func blocked(state State, kind error, msg string) Result {
	return Result{State: state, Message: msg, Kind: kind}
}

// ceilDays rounds a duration up to whole days.
func ceilDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(24*time.Hour)))
}
