//go:build linux

package input

// Linux input-event-codes.h constants.
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03

	synReport = 0

	relX      = 0x00
	relY      = 0x01
	relHWheel = 0x06
	relWheel  = 0x08

	absX = 0x00
	absY = 0x01

	btnLeft   = 0x110
	btnRight  = 0x111
	btnMiddle = 0x112
	btnSide   = 0x113
	btnExtra  = 0x114

	keyMax = 0x2ff
)

var evdevKeys = map[uint16]Key{
	1:   KeyEscape,
	2:   KeyNum1,
	3:   KeyNum2,
	4:   KeyNum3,
	5:   KeyNum4,
	6:   KeyNum5,
	7:   KeyNum6,
	8:   KeyNum7,
	9:   KeyNum8,
	10:  KeyNum9,
	11:  KeyNum0,
	12:  KeyMinus,
	13:  KeyEqual,
	14:  KeyBackspace,
	15:  KeyTab,
	16:  KeyQ,
	17:  KeyW,
	18:  KeyE,
	19:  KeyR,
	20:  KeyT,
	21:  KeyY,
	22:  KeyU,
	23:  KeyI,
	24:  KeyO,
	25:  KeyP,
	26:  KeyLeftBracket,
	27:  KeyRightBracket,
	28:  KeyReturn,
	29:  KeyControlLeft,
	30:  KeyA,
	31:  KeyS,
	32:  KeyD,
	33:  KeyF,
	34:  KeyG,
	35:  KeyH,
	36:  KeyJ,
	37:  KeyK,
	38:  KeyL,
	39:  KeySemiColon,
	40:  KeyQuote,
	41:  KeyBackQuote,
	42:  KeyShiftLeft,
	43:  KeyBackSlash,
	44:  KeyZ,
	45:  KeyX,
	46:  KeyC,
	47:  KeyV,
	48:  KeyB,
	49:  KeyN,
	50:  KeyM,
	51:  KeyComma,
	52:  KeyDot,
	53:  KeySlash,
	54:  KeyShiftRight,
	56:  KeyAlt,
	57:  KeySpace,
	58:  KeyCapsLock,
	59:  KeyF1,
	60:  KeyF2,
	61:  KeyF3,
	62:  KeyF4,
	63:  KeyF5,
	64:  KeyF6,
	65:  KeyF7,
	66:  KeyF8,
	67:  KeyF9,
	68:  KeyF10,
	87:  KeyF11,
	88:  KeyF12,
	97:  KeyControlRight,
	100: KeyAltGr,
	102: KeyHome,
	103: KeyUpArrow,
	104: KeyPageUp,
	105: KeyLeftArrow,
	106: KeyRightArrow,
	107: KeyEnd,
	108: KeyDownArrow,
	109: KeyPageDown,
	110: KeyInsert,
	111: KeyDelete,
	125: KeyMetaLeft,
	126: KeyMetaRight,
}

var evdevCodes = func() map[Key]uint16 {
	m := make(map[Key]uint16, len(evdevKeys))
	for code, k := range evdevKeys {
		m[k] = code
	}
	return m
}()

var evdevButtons = map[uint16]Button{
	btnLeft:   ButtonLeft,
	btnRight:  ButtonRight,
	btnMiddle: ButtonMiddle,
	btnSide:   ButtonSide,
	btnExtra:  ButtonExtra,
}

func keyFromEvdev(code uint16) Key {
	if k, ok := evdevKeys[code]; ok {
		return k
	}
	return RawKey(code)
}

func evdevFromKey(k Key) (uint16, bool) {
	if code, ok := k.Raw(); ok {
		return code, code <= keyMax
	}
	code, ok := evdevCodes[k]
	return code, ok
}

func evdevFromButton(b Button) (uint16, bool) {
	for code, btn := range evdevButtons {
		if btn == b {
			return code, true
		}
	}
	return 0, false
}
