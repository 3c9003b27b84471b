package consensus

import "fmt"

// FeatureBitState is a deployment's position in the BIP9-style activation
// state machine: DEFINED -> STARTED -> LOCKED_IN -> ACTIVE, with STARTED
// able to fall to FAILED on timeout instead of locking in.
type FeatureBitState string

const (
	FEATUREBIT_DEFINED   FeatureBitState = "DEFINED"
	FEATUREBIT_STARTED   FeatureBitState = "STARTED"
	FEATUREBIT_LOCKED_IN FeatureBitState = "LOCKED_IN"
	FEATUREBIT_ACTIVE    FeatureBitState = "ACTIVE"
	FEATUREBIT_FAILED    FeatureBitState = "FAILED"
)

// FeatureBitDeployment names one signal bit and the height range over which
// it may lock in.
type FeatureBitDeployment struct {
	Name          string
	Bit           uint8
	StartHeight   uint64
	TimeoutHeight uint64
}

// FeatureBitEval is the evaluated state of a deployment at some height,
// along with the window bookkeeping that produced it.
type FeatureBitEval struct {
	State               FeatureBitState
	BoundaryHeight      uint64
	PrevWindowSignalCnt uint32
	SignalWindow        uint64
	SignalThreshold     uint32
}

func (d FeatureBitDeployment) Validate() error {
	if d.Bit > 31 {
		return fmt.Errorf("featurebits: bit out of range: %d", d.Bit)
	}
	if d.Name == "" {
		return fmt.Errorf("featurebits: name required")
	}
	if d.TimeoutHeight < d.StartHeight {
		return fmt.Errorf("featurebits: timeout_height < start_height")
	}
	return nil
}

// evalFeatureBitsNextState advances prev one signal-window boundary,
// consulting the deployment's start/timeout heights and the signal count
// observed in the window immediately before boundaryHeight.
func evalFeatureBitsNextState(
	prev FeatureBitState,
	boundaryHeight uint64,
	prevWindowSignalCount uint32,
	d FeatureBitDeployment,
) FeatureBitState {
	switch prev {
	case FEATUREBIT_DEFINED:
		if boundaryHeight >= d.StartHeight {
			return FEATUREBIT_STARTED
		}
		return FEATUREBIT_DEFINED
	case FEATUREBIT_STARTED:
		if prevWindowSignalCount >= SIGNAL_THRESHOLD {
			return FEATUREBIT_LOCKED_IN
		}
		if boundaryHeight >= d.TimeoutHeight {
			return FEATUREBIT_FAILED
		}
		return FEATUREBIT_STARTED
	case FEATUREBIT_LOCKED_IN:
		return FEATUREBIT_ACTIVE
	case FEATUREBIT_ACTIVE, FEATUREBIT_FAILED:
		return prev
	default:
		return prev
	}
}

// windowSignalCountBefore returns the signal count recorded for the window
// immediately preceding boundaryHeight, or 0 for the genesis window.
func windowSignalCountBefore(boundaryHeight uint64, boundaryIndex uint64, windowSignalCounts []uint32) uint32 {
	if boundaryHeight < SIGNAL_WINDOW {
		return 0
	}
	return windowSignalCounts[boundaryIndex-1]
}

// FeatureBitStateAtHeightFromWindowCounts replays evalFeatureBitsNextState
// across every signal-window boundary up to and including the one
// containing height, returning the resulting state and the bookkeeping
// that produced it.
func FeatureBitStateAtHeightFromWindowCounts(
	d FeatureBitDeployment,
	height uint64,
	windowSignalCounts []uint32,
) (FeatureBitEval, error) {
	if err := d.Validate(); err != nil {
		return FeatureBitEval{}, err
	}

	boundaryHeight := height - (height % SIGNAL_WINDOW)
	targetBoundaryIndex := boundaryHeight / SIGNAL_WINDOW

	needWindows := int(targetBoundaryIndex)
	if len(windowSignalCounts) < needWindows {
		return FeatureBitEval{}, fmt.Errorf(
			"featurebits: need %d window_signal_counts entries, got %d",
			needWindows,
			len(windowSignalCounts),
		)
	}

	state := FEATUREBIT_DEFINED
	for boundaryIndex := uint64(0); boundaryIndex <= targetBoundaryIndex; boundaryIndex++ {
		bh := boundaryIndex * SIGNAL_WINDOW
		prevCnt := windowSignalCountBefore(bh, boundaryIndex, windowSignalCounts)
		state = evalFeatureBitsNextState(state, bh, prevCnt, d)
	}

	return FeatureBitEval{
		State:               state,
		BoundaryHeight:      boundaryHeight,
		PrevWindowSignalCnt: windowSignalCountBefore(boundaryHeight, targetBoundaryIndex, windowSignalCounts),
		SignalWindow:        SIGNAL_WINDOW,
		SignalThreshold:     SIGNAL_THRESHOLD,
	}, nil
}
