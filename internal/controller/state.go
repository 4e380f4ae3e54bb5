package controller

import (
	"time"

	"github.com/MrWong99/moodlens/internal/capture"
	"github.com/MrWong99/moodlens/pkg/types"
)

// CaptureStatus is the capture status exposed to the presentation layer.
type CaptureStatus string

const (
	CaptureNoPermission     CaptureStatus = "no_permission"
	CaptureRequesting       CaptureStatus = "requesting"
	CaptureActive           CaptureStatus = "active"
	CapturePermissionDenied CaptureStatus = "permission_denied"
)

// captureStatusOf maps a session status onto the exposed capture status.
// Idle and Stopped both read as NoPermission.
func captureStatusOf(s capture.Status) CaptureStatus {
	switch s {
	case capture.StatusRequesting:
		return CaptureRequesting
	case capture.StatusActive:
		return CaptureActive
	case capture.StatusDenied:
		return CapturePermissionDenied
	default:
		return CaptureNoPermission
	}
}

// Phase is the controller's externally observable state machine position.
type Phase string

const (
	PhaseNoPermission     Phase = "no_permission"
	PhaseRequesting       Phase = "requesting"
	PhaseCameraActive     Phase = "camera_active"
	PhaseDetecting        Phase = "detecting"
	PhasePermissionDenied Phase = "permission_denied"
)

// State is an immutable snapshot of everything the presentation layer may
// observe. A new State is built for every change and swapped in whole, so
// readers never see a half-applied update. Treat the pointer fields as
// read-only.
type State struct {
	Phase           Phase                       `json:"phase"`
	CaptureStatus   CaptureStatus               `json:"captureStatus"`
	DetectionActive bool                        `json:"detectionActive"`
	LastResult      *types.ClassificationResult `json:"lastResult"`
	LastFeatures    *types.FeatureVector        `json:"lastFeatures"`
	ErrorMessage    string                      `json:"errorMessage,omitempty"`

	// SessionID identifies the live capture session.
	SessionID string `json:"sessionId,omitempty"`

	// Cycles counts results published since the last StartDetection.
	Cycles    uint64    `json:"cycles"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// phaseOf derives the phase from the capture status and detection flag.
func phaseOf(c CaptureStatus, detecting bool) Phase {
	switch c {
	case CaptureRequesting:
		return PhaseRequesting
	case CaptureActive:
		if detecting {
			return PhaseDetecting
		}
		return PhaseCameraActive
	case CapturePermissionDenied:
		return PhasePermissionDenied
	default:
		return PhaseNoPermission
	}
}
