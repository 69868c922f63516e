package cts

import "fmt"

// Firmware registers. Addresses above 0x8000 are the firmware
// parameter area.
const (
	regWorkMode     = 0x0000
	regSysBusy      = 0x0001
	regCommand      = 0x0002
	regPowerMode    = 0x0005
	regChipID       = 0x000a
	regCurrWorkMode = 0x003f

	regShortTest = 0x5000

	regAutoCompensate = 0x8000 + 276
	regESDProtection  = 0x8000 + 342
	regMonitorMode    = 0x8000 + 344
	regCNEGEnable     = 0x8000 + 346
	regOpenShortMode  = 0x8000 + 348
	regIntTest        = 0x8000 + 350
	regIntPin         = 0x8000 + 351
	regIntDataMethod  = 0x8000 + 352
	regIntDataTypes   = 0x8000 + 353 // 16-bit little endian
	regDataReady      = 0x8000 + 356

	regTestData = 0xa000
)

// Commands written to regCommand.
const (
	cmdQuitGestureMonitor = 0x1d
)

const (
	sysBusy = 0x01
	// shortTestParamSize is the size of the short test parameter
	// block: type followed by two column and two row pattern words.
	shortTestParamSize = 1 + 4*4
)

// ChipID is the identification register value of a responsive
// controller.
const ChipID = 0x99

// WorkMode is the firmware operating mode.
type WorkMode uint8

const (
	ModeNormal          WorkMode = 0x00
	ModeFactory         WorkMode = 0x01
	ModeConfig          WorkMode = 0x02
	ModeTest            WorkMode = 0x03
	ModeOpenShortDetect WorkMode = 0x05
	// ModeUntracked is reported by firmware that doesn't track its
	// work mode.
	ModeUntracked WorkMode = 0xff
)

func (m WorkMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeFactory:
		return "factory"
	case ModeConfig:
		return "config"
	case ModeTest:
		return "test"
	case ModeOpenShortDetect:
		return "open-short-detect"
	case ModeUntracked:
		return "untracked"
	default:
		return fmt.Sprintf("WorkMode(%#x)", uint8(m))
	}
}

// PowerMode is the firmware power state.
type PowerMode uint8

const (
	PowerActive  PowerMode = 0
	PowerGesture PowerMode = 1
)

// Detection selects the open/short detection sub-mode.
type Detection uint8

const (
	DetectShort Detection = 1
	DetectOpen  Detection = 2
)

func (d Detection) String() string {
	switch d {
	case DetectShort:
		return "short"
	case DetectOpen:
		return "open"
	default:
		return fmt.Sprintf("Detection(%d)", uint8(d))
	}
}

// ShortType selects the short-circuit probe pattern.
type ShortType uint8

const (
	ShortUndefined   ShortType = 0
	ShortBetweenCols ShortType = 1
	ShortBetweenRows ShortType = 2
	ShortToGND       ShortType = 3
)

// IntDataMethod is the delivery method of diagnostic data.
type IntDataMethod uint8

const (
	IntDataMethodNone    IntDataMethod = 0
	IntDataMethodHost    IntDataMethod = 1
	IntDataMethodPolling IntDataMethod = 2
	IntDataMethodDebug   IntDataMethod = 3
)

// IntDataType is a mask of diagnostic data types.
type IntDataType uint16

const (
	IntDataNone     IntDataType = 0
	IntDataRawdata  IntDataType = 1 << 0
	IntDataDiffdata IntDataType = 1 << 1
	IntDataBasedata IntDataType = 1 << 2
	IntDataCNEGdata IntDataType = 1 << 4
)

// IntData is the diagnostic data delivery configuration.
type IntData struct {
	Method IntDataMethod
	Types  IntDataType
}
