// Package launcher reduces component status to the one action the user is
// offered next and carries that action out.
package launcher

// State is the action the launcher recommends.
type State string

const (
	StateRunnerInstallationRequired        State = "runner-installation-required"
	StateDXVKInstallationRequired          State = "dxvk-installation-required"
	StateGameInstallationAvailable         State = "game-installation-available"
	StateGameUpdateAvailable               State = "game-update-available"
	StateGameVoiceUpdateRequired           State = "game-voice-update-required"
	StatePatchUnavailable                  State = "patch-unavailable"
	StateTestPatchAvailable                State = "test-patch-available"
	StatePatchAvailable                    State = "patch-available"
	StateGamePreInstallationAvailable      State = "game-pre-installation-available"
	StateGameVoicePreInstallationAvailable State = "game-voice-pre-installation-available"
	StateGameLaunchAvailable               State = "game-launch-available"
)

// States lists every state in rule order.
var States = []State{
	StateRunnerInstallationRequired,
	StateDXVKInstallationRequired,
	StateGameInstallationAvailable,
	StateGameUpdateAvailable,
	StateGameVoiceUpdateRequired,
	StatePatchUnavailable,
	StateTestPatchAvailable,
	StatePatchAvailable,
	StateGamePreInstallationAvailable,
	StateGameVoicePreInstallationAvailable,
	StateGameLaunchAvailable,
}

func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// Predownloadable reports whether s offers a predownload next to launching.
func (s State) Predownloadable() bool {
	return s == StateGamePreInstallationAvailable || s == StateGameVoicePreInstallationAvailable
}

// Title is a short label for the primary action of s.
func (s State) Title() string {
	switch s {
	case StateRunnerInstallationRequired:
		return "Install wine"
	case StateDXVKInstallationRequired:
		return "Install DXVK"
	case StateGameInstallationAvailable:
		return "Install"
	case StateGameUpdateAvailable:
		return "Update"
	case StateGameVoiceUpdateRequired:
		return "Install voice pack"
	case StatePatchUnavailable:
		return "Patch unavailable"
	case StateTestPatchAvailable:
		return "Apply test patch"
	case StatePatchAvailable:
		return "Apply patch"
	default:
		return "Launch"
	}
}
