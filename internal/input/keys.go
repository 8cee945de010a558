package input

import "fmt"

// Key identifies a keyboard key independently of the platform keycode.
// Keys the table below does not name are carried as raw platform codes
// (see RawKey) so they still round-trip through capture, storage and
// injection on the same machine.
type Key uint16

const (
	KeyUnknown Key = iota
	KeyA
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
	KeyG
	KeyH
	KeyI
	KeyJ
	KeyK
	KeyL
	KeyM
	KeyN
	KeyO
	KeyP
	KeyQ
	KeyR
	KeyS
	KeyT
	KeyU
	KeyV
	KeyW
	KeyX
	KeyY
	KeyZ
	KeyNum0
	KeyNum1
	KeyNum2
	KeyNum3
	KeyNum4
	KeyNum5
	KeyNum6
	KeyNum7
	KeyNum8
	KeyNum9
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
	KeyEscape
	KeyTab
	KeyCapsLock
	KeyShiftLeft
	KeyShiftRight
	KeyControlLeft
	KeyControlRight
	KeyAlt
	KeyAltGr
	KeyMetaLeft
	KeyMetaRight
	KeySpace
	KeyReturn
	KeyBackspace
	KeyDelete
	KeyInsert
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyUpArrow
	KeyDownArrow
	KeyLeftArrow
	KeyRightArrow
	KeyComma
	KeyDot
	KeySlash
	KeySemiColon
	KeyQuote
	KeyLeftBracket
	KeyRightBracket
	KeyBackSlash
	KeyMinus
	KeyEqual
	KeyBackQuote

	keyNamedEnd
)

// rawKeyFlag marks a Key that carries an unmapped platform keycode.
const rawKeyFlag Key = 0x8000

var keyNames = [...]string{
	KeyUnknown:      "unknown",
	KeyA:            "a",
	KeyB:            "b",
	KeyC:            "c",
	KeyD:            "d",
	KeyE:            "e",
	KeyF:            "f",
	KeyG:            "g",
	KeyH:            "h",
	KeyI:            "i",
	KeyJ:            "j",
	KeyK:            "k",
	KeyL:            "l",
	KeyM:            "m",
	KeyN:            "n",
	KeyO:            "o",
	KeyP:            "p",
	KeyQ:            "q",
	KeyR:            "r",
	KeyS:            "s",
	KeyT:            "t",
	KeyU:            "u",
	KeyV:            "v",
	KeyW:            "w",
	KeyX:            "x",
	KeyY:            "y",
	KeyZ:            "z",
	KeyNum0:         "0",
	KeyNum1:         "1",
	KeyNum2:         "2",
	KeyNum3:         "3",
	KeyNum4:         "4",
	KeyNum5:         "5",
	KeyNum6:         "6",
	KeyNum7:         "7",
	KeyNum8:         "8",
	KeyNum9:         "9",
	KeyF1:           "f1",
	KeyF2:           "f2",
	KeyF3:           "f3",
	KeyF4:           "f4",
	KeyF5:           "f5",
	KeyF6:           "f6",
	KeyF7:           "f7",
	KeyF8:           "f8",
	KeyF9:           "f9",
	KeyF10:          "f10",
	KeyF11:          "f11",
	KeyF12:          "f12",
	KeyEscape:       "escape",
	KeyTab:          "tab",
	KeyCapsLock:     "capslock",
	KeyShiftLeft:    "shift_left",
	KeyShiftRight:   "shift_right",
	KeyControlLeft:  "control_left",
	KeyControlRight: "control_right",
	KeyAlt:          "alt",
	KeyAltGr:        "altgr",
	KeyMetaLeft:     "meta_left",
	KeyMetaRight:    "meta_right",
	KeySpace:        "space",
	KeyReturn:       "return",
	KeyBackspace:    "backspace",
	KeyDelete:       "delete",
	KeyInsert:       "insert",
	KeyHome:         "home",
	KeyEnd:          "end",
	KeyPageUp:       "page_up",
	KeyPageDown:     "page_down",
	KeyUpArrow:      "up",
	KeyDownArrow:    "down",
	KeyLeftArrow:    "left",
	KeyRightArrow:   "right",
	KeyComma:        ",",
	KeyDot:          ".",
	KeySlash:        "/",
	KeySemiColon:    ";",
	KeyQuote:        "'",
	KeyLeftBracket:  "[",
	KeyRightBracket: "]",
	KeyBackSlash:    "\\",
	KeyMinus:        "-",
	KeyEqual:        "=",
	KeyBackQuote:    "`",
}

// RawKey wraps a platform keycode that has no named Key.
func RawKey(code uint16) Key {
	return rawKeyFlag | Key(code&^uint16(rawKeyFlag))
}

// Raw returns the platform keycode carried by a raw key.
func (k Key) Raw() (uint16, bool) {
	if k&rawKeyFlag == 0 {
		return 0, false
	}
	return uint16(k &^ rawKeyFlag), true
}

// String returns the key name.
func (k Key) String() string {
	if code, ok := k.Raw(); ok {
		return fmt.Sprintf("raw(%d)", code)
	}
	if k < keyNamedEnd {
		return keyNames[k]
	}
	return fmt.Sprintf("key(%d)", uint16(k))
}

// ParseKey looks a key up by the name String returns.
func ParseKey(name string) (Key, bool) {
	for k := KeyUnknown + 1; k < keyNamedEnd; k++ {
		if keyNames[k] == name {
			return k, true
		}
	}
	return KeyUnknown, false
}
